package tenancy

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// IDClaims are the JWT claims IDIS expects from the identity provider.
type IDClaims struct {
	jwt.RegisteredClaims
	TenantID   string   `json:"tenant_id"`
	Roles      []string `json:"roles"`
	DataRegion string   `json:"data_region,omitempty"`
}

// KeySource resolves verification keys for bearer tokens. The kid
// header selects the key.
type KeySource interface {
	KeyFunc() jwt.Keyfunc
}

// StaticKeySource verifies HMAC-signed tokens with one shared secret.
// Used in tests and single-box deployments.
type StaticKeySource struct {
	secret []byte
}

// NewStaticKeySource wraps an HMAC secret.
func NewStaticKeySource(secret []byte) *StaticKeySource {
	return &StaticKeySource{secret: secret}
}

// KeyFunc returns the shared secret for HS256 tokens.
func (s *StaticKeySource) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}
}

// JWKSCache fetches and caches the identity provider's JWKS document.
// Keys are cached for the TTL; an unknown kid triggers a refresh that
// is rate limited so a flood of bad tokens cannot hammer the IdP.
type JWKSCache struct {
	url     string
	ttl     time.Duration
	client  *http.Client
	limiter *rate.Limiter

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSCache creates a cache over the given JWKS URL.
func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWKSCache{
		url:     url,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute), 2),
		keys:    map[string]*rsa.PublicKey{},
	}
}

type jwksDoc struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch failed: %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks decode failed: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := decodeRSAKey(k)
		if err != nil {
			return fmt.Errorf("jwks key %s: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func decodeRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func (c *JWKSCache) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	pub, ok := c.keys[kid]
	stale := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !stale {
		return pub, nil
	}
	if c.limiter.Allow() {
		if err := c.refresh(ctx); err != nil && !ok {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if pub, ok := c.keys[kid]; ok {
		return pub, nil
	}
	return nil, fmt.Errorf("unknown key id %q", kid)
}

// KeyFunc resolves RS256 keys by kid through the cache.
func (c *JWKSCache) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid in header")
		}
		return c.key(context.Background(), kid)
	}
}

// OIDCVerifier validates bearer tokens and maps them to tenant
// identities. Issuer and audience are enforced on every token.
type OIDCVerifier struct {
	issuer   string
	audience string
	keys     KeySource
}

// NewOIDCVerifier builds a verifier for one trusted issuer/audience pair.
func NewOIDCVerifier(issuer, audience string, keys KeySource) *OIDCVerifier {
	return &OIDCVerifier{issuer: issuer, audience: audience, keys: keys}
}

// VerifyBearer validates the token and returns the identity it
// asserts. All failures collapse to UNAUTHENTICATED.
func (v *OIDCVerifier) VerifyBearer(_ context.Context, tokenString, requestID string) (TenantContext, error) {
	if v.keys == nil {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: no key source configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &IDClaims{}, v.keys.KeyFunc(),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return TenantContext{}, idiserr.Wrap(idiserr.KindUnauthenticated, err, "tenancy: bearer token rejected")
	}
	claims, ok := token.Claims.(*IDClaims)
	if !ok || !token.Valid {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: bearer token invalid")
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: token missing tenant_id or subject")
	}

	roles := make([]Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		role := Role(r)
		if !ValidRole(role) {
			return TenantContext{}, idiserr.Newf(idiserr.KindUnauthenticated, "tenancy: token carries unknown role %q", r)
		}
		roles = append(roles, role)
	}

	return TenantContext{
		TenantID:   claims.TenantID,
		ActorID:    claims.Subject,
		ActorType:  "user",
		Roles:      roles,
		DataRegion: claims.DataRegion,
		RequestID:  requestID,
	}, nil
}
