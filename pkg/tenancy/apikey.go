package tenancy

import (
	"encoding/json"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// API keys have the form "idis_<key_id>.<secret>". Only the bcrypt
// hash of the secret is ever stored or configured; the raw secret is
// shown once at issue time and never again.
const apiKeyPrefix = "idis_"

// APIKeyRecord is one configured key, keyed by its public key id.
type APIKeyRecord struct {
	TenantID   string   `json:"tenant_id"`
	ActorID    string   `json:"actor_id"`
	Roles      []string `json:"roles"`
	SecretHash string   `json:"secret_hash"`
	DataRegion string   `json:"data_region,omitempty"`
	Disabled   bool     `json:"disabled,omitempty"`
}

// APIKeyAuthenticator resolves raw API keys to tenant identities.
type APIKeyAuthenticator struct {
	mu   sync.RWMutex
	keys map[string]APIKeyRecord
}

// NewAPIKeyAuthenticator creates an authenticator over a parsed key set.
func NewAPIKeyAuthenticator(keys map[string]APIKeyRecord) *APIKeyAuthenticator {
	if keys == nil {
		keys = map[string]APIKeyRecord{}
	}
	return &APIKeyAuthenticator{keys: keys}
}

// ParseAPIKeySet decodes the IDIS_API_KEYS_JSON document: an object
// mapping key_id to APIKeyRecord.
func ParseAPIKeySet(raw []byte) (map[string]APIKeyRecord, error) {
	var keys map[string]APIKeyRecord
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, idiserr.Wrap(idiserr.KindInvalidInput, err, "tenancy: malformed API key set")
	}
	for id, rec := range keys {
		if rec.TenantID == "" || rec.ActorID == "" || rec.SecretHash == "" {
			return nil, idiserr.Newf(idiserr.KindInvalidInput, "tenancy: API key %q missing tenant_id, actor_id or secret_hash", id)
		}
		for _, r := range rec.Roles {
			if !ValidRole(Role(r)) {
				return nil, idiserr.Newf(idiserr.KindInvalidInput, "tenancy: API key %q carries unknown role %q", id, r)
			}
		}
	}
	return keys, nil
}

// Authenticate verifies a raw key and returns the identity it maps to.
// All failure modes collapse to UNAUTHENTICATED so callers cannot
// distinguish unknown ids from wrong secrets.
func (a *APIKeyAuthenticator) Authenticate(rawKey, requestID string) (TenantContext, error) {
	keyID, secret, ok := splitAPIKey(rawKey)
	if !ok {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: malformed API key")
	}

	a.mu.RLock()
	rec, found := a.keys[keyID]
	a.mu.RUnlock()

	if !found || rec.Disabled {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: unknown or disabled API key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.SecretHash), []byte(secret)); err != nil {
		return TenantContext{}, idiserr.New(idiserr.KindUnauthenticated, "tenancy: API key verification failed")
	}

	roles := make([]Role, len(rec.Roles))
	for i, r := range rec.Roles {
		roles[i] = Role(r)
	}
	return TenantContext{
		TenantID:   rec.TenantID,
		ActorID:    rec.ActorID,
		ActorType:  "service",
		Roles:      roles,
		DataRegion: rec.DataRegion,
		RequestID:  requestID,
	}, nil
}

// Revoke disables a key id at runtime.
func (a *APIKeyAuthenticator) Revoke(keyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.keys[keyID]; ok {
		rec.Disabled = true
		a.keys[keyID] = rec
	}
}

// HashSecret produces the bcrypt hash stored in APIKeyRecord for a
// freshly minted secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func splitAPIKey(raw string) (keyID, secret string, ok bool) {
	if !strings.HasPrefix(raw, apiKeyPrefix) {
		return "", "", false
	}
	body := strings.TrimPrefix(raw, apiKeyPrefix)
	dot := strings.IndexByte(body, '.')
	if dot <= 0 || dot == len(body)-1 {
		return "", "", false
	}
	return body[:dot], body[dot+1:], true
}
