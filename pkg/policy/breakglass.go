package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// MaxBreakGlassLifetime bounds every break-glass token.
const MaxBreakGlassLifetime = 15 * time.Minute

// MinJustificationChars is the minimum number of non-whitespace
// characters a justification must carry.
const MinJustificationChars = 20

// breakGlassClaims is the signed token body. The raw justification is
// never embedded; only its hash and length travel with the token.
type breakGlassClaims struct {
	jwt.RegisteredClaims
	TenantID          string `json:"tenant_id"`
	DealID            string `json:"deal_id,omitempty"`
	Scope             string `json:"scope"`
	JustificationHash string `json:"justification_sha256"`
	JustificationLen  int    `json:"justification_len"`
}

const breakGlassScope = "break_glass"

// BreakGlass mints and validates emergency elevation tokens. Every use
// emits exactly one CRITICAL audit event; if that emission fails the
// elevation is denied.
type BreakGlass struct {
	secret []byte
	sink   audit.Sink
	clock  func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewBreakGlass creates the manager with the process-wide HMAC secret.
func NewBreakGlass(secret []byte, sink audit.Sink) *BreakGlass {
	return &BreakGlass{
		secret:   secret,
		sink:     sink,
		clock:    time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the clock for testing.
func (b *BreakGlass) WithClock(clock func() time.Time) *BreakGlass {
	b.clock = clock
	return b
}

// limiter returns the per-actor issue limiter: 3 tokens per hour.
func (b *BreakGlass) limiter(tenantID, actorID string) *rate.Limiter {
	key := tenantID + "|" + actorID
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(20*time.Minute), 3)
		b.limiters[key] = l
	}
	return l
}

// JustificationOK reports whether the justification meets the minimum
// substance requirement.
func JustificationOK(justification string) bool {
	n := 0
	for _, r := range justification {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n >= MinJustificationChars
}

// Issue mints a break-glass token for the acting admin. dealID may be
// empty for tenant-wide scope. ttl is clamped to the 15 minute maximum.
func (b *BreakGlass) Issue(tc tenancy.TenantContext, dealID, justification string, ttl time.Duration) (string, error) {
	if len(b.secret) == 0 {
		return "", idiserr.New(idiserr.KindInvalidInput, "policy: break-glass secret not configured")
	}
	if !tc.HasRole(tenancy.RoleAdmin) {
		return "", idiserr.New(idiserr.KindRBACDenied, "policy: break-glass requires ADMIN")
	}
	if !JustificationOK(justification) {
		return "", idiserr.Newf(idiserr.KindInvalidInput,
			"policy: justification needs at least %d non-whitespace characters", MinJustificationChars)
	}
	if ttl <= 0 || ttl > MaxBreakGlassLifetime {
		ttl = MaxBreakGlassLifetime
	}
	if !b.limiter(tc.TenantID, tc.ActorID).Allow() {
		return "", idiserr.New(idiserr.KindConflict, "policy: break-glass issue rate exceeded")
	}

	now := b.clock().UTC()
	jh := sha256.Sum256([]byte(justification))
	claims := breakGlassClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   tc.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID:          tc.TenantID,
		DealID:            dealID,
		Scope:             breakGlassScope,
		JustificationHash: hex.EncodeToString(jh[:]),
		JustificationLen:  len(justification),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("policy: sign break-glass token: %w", err)
	}
	return token, nil
}

// Use validates a break-glass token against the authenticated caller
// and emits the mandatory break_glass.used CRITICAL event. On success
// it returns the elevated context. Audit emission failure denies the
// elevation.
func (b *BreakGlass) Use(ctx context.Context, tc tenancy.TenantContext, tokenString, dealID string) (tenancy.TenantContext, error) {
	claims, err := b.parse(tokenString)
	if err != nil {
		return tenancy.TenantContext{}, err
	}
	if claims.TenantID != tc.TenantID {
		return tenancy.TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "policy: break-glass token tenant mismatch")
	}
	if claims.Subject != tc.ActorID {
		return tenancy.TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "policy: break-glass token actor mismatch")
	}
	if claims.DealID != "" && claims.DealID != dealID {
		return tenancy.TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "policy: break-glass token deal mismatch")
	}

	scope := "tenant"
	resourceID := tc.TenantID
	if claims.DealID != "" {
		scope = "deal"
		resourceID = claims.DealID
	}
	th := sha256.Sum256([]byte(tokenString))

	e := audit.NewEvent(tc.TenantID, "break_glass.used", audit.SeverityCritical).
		WithActor(audit.Actor{ActorType: tc.ActorType, ActorID: tc.ActorID, Roles: tc.RoleStrings(), IP: tc.IP, UserAgent: tc.UserAgent}).
		WithRequest(audit.Request{RequestID: tc.RequestID, Method: "POST", Path: "/v1/break-glass/use", IdempotencyKey: claims.ID}).
		WithResource(scope, resourceID).
		WithSummary("break-glass token used").
		WithSafe("scope", scope).
		WithSafe("expires_at", claims.ExpiresAt.UTC().Format(time.RFC3339)).
		WithSafe("justification_len", claims.JustificationLen).
		WithHash("token_sha256", hex.EncodeToString(th[:])).
		WithHash("justification_sha256", claims.JustificationHash)

	if err := audit.Emit(ctx, b.sink, e); err != nil {
		return tenancy.TenantContext{}, idiserr.Wrap(idiserr.KindAuditEmitFailed, err,
			"policy: break-glass use could not be audited; access denied")
	}
	return tc.WithBreakGlass(), nil
}

func (b *BreakGlass) parse(tokenString string) (*breakGlassClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &breakGlassClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return b.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time { return b.clock() }))
	if err != nil {
		return nil, idiserr.Wrap(idiserr.KindUnauthenticated, err, "policy: break-glass token rejected")
	}
	claims, ok := token.Claims.(*breakGlassClaims)
	if !ok || !token.Valid || claims.Scope != breakGlassScope {
		return nil, idiserr.New(idiserr.KindUnauthenticated, "policy: break-glass token invalid")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil ||
		claims.ExpiresAt.Sub(claims.IssuedAt.Time) > MaxBreakGlassLifetime {
		return nil, idiserr.New(idiserr.KindUnauthenticated, "policy: break-glass token lifetime exceeds maximum")
	}
	return claims, nil
}
