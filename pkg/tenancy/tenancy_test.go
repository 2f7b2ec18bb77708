package tenancy_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

func TestTenantContext_Validate(t *testing.T) {
	tc := tenancy.TenantContext{
		TenantID:  "tenant-1",
		ActorID:   "user-1",
		ActorType: "user",
		Roles:     []tenancy.Role{tenancy.RoleAnalyst},
		RequestID: "req-1",
	}
	require.NoError(t, tc.Validate())

	missing := tc
	missing.TenantID = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))

	badRole := tc
	badRole.Roles = []tenancy.Role{"SUPERUSER"}
	assert.Error(t, badRole.Validate())
}

func TestFromContext_MissingIsUnauthenticated(t *testing.T) {
	_, err := tenancy.FromContext(context.Background())
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))
}

func TestFromContext_RoundTrip(t *testing.T) {
	tc := tenancy.TenantContext{TenantID: "tenant-1", ActorID: "a", ActorType: "user", RequestID: "r"}
	ctx := tenancy.NewContext(context.Background(), tc)
	got, err := tenancy.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, tc, got)
}

func TestAPIKeyAuthenticator_Authenticate(t *testing.T) {
	hash, err := tenancy.HashSecret("s3cret-value")
	require.NoError(t, err)

	auth := tenancy.NewAPIKeyAuthenticator(map[string]tenancy.APIKeyRecord{
		"key1": {TenantID: "tenant-1", ActorID: "ingest-bot", Roles: []string{"INGEST"}, SecretHash: hash},
	})

	tc, err := auth.Authenticate("idis_key1.s3cret-value", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tc.TenantID)
	assert.Equal(t, "ingest-bot", tc.ActorID)
	assert.True(t, tc.HasRole(tenancy.RoleIngest))
	assert.Equal(t, "service", tc.ActorType)
}

func TestAPIKeyAuthenticator_FailureModesCollapse(t *testing.T) {
	hash, err := tenancy.HashSecret("right")
	require.NoError(t, err)
	auth := tenancy.NewAPIKeyAuthenticator(map[string]tenancy.APIKeyRecord{
		"key1": {TenantID: "tenant-1", ActorID: "svc", Roles: []string{"INGEST"}, SecretHash: hash},
	})

	for _, raw := range []string{
		"idis_key1.wrong",    // bad secret
		"idis_unknown.right", // unknown id
		"key1.right",         // missing prefix
		"idis_key1",          // no secret
		"",
	} {
		_, err := auth.Authenticate(raw, "req-1")
		require.Error(t, err, "key %q", raw)
		assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated), "key %q", raw)
	}
}

func TestAPIKeyAuthenticator_Revoke(t *testing.T) {
	hash, err := tenancy.HashSecret("right")
	require.NoError(t, err)
	auth := tenancy.NewAPIKeyAuthenticator(map[string]tenancy.APIKeyRecord{
		"key1": {TenantID: "tenant-1", ActorID: "svc", Roles: []string{"INGEST"}, SecretHash: hash},
	})

	_, err = auth.Authenticate("idis_key1.right", "req-1")
	require.NoError(t, err)

	auth.Revoke("key1")
	_, err = auth.Authenticate("idis_key1.right", "req-2")
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))
}

func TestParseAPIKeySet_RejectsUnknownRole(t *testing.T) {
	_, err := tenancy.ParseAPIKeySet([]byte(`{"k":{"tenant_id":"t","actor_id":"a","secret_hash":"h","roles":["ROOT"]}}`))
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestOIDCVerifier_VerifyBearer(t *testing.T) {
	secret := []byte("test-oidc-secret")
	verifier := tenancy.NewOIDCVerifier("https://idp.example.com", "idis-core", tenancy.NewStaticKeySource(secret))

	mint := func(mutate func(*tenancy.IDClaims)) string {
		claims := &tenancy.IDClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-7",
				Issuer:    "https://idp.example.com",
				Audience:  jwt.ClaimStrings{"idis-core"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
			TenantID: "tenant-1",
			Roles:    []string{"ANALYST", "REVIEWER"},
		}
		if mutate != nil {
			mutate(claims)
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return token
	}

	tc, err := verifier.VerifyBearer(context.Background(), mint(nil), "req-9")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tc.TenantID)
	assert.Equal(t, "user-7", tc.ActorID)
	assert.ElementsMatch(t, []tenancy.Role{tenancy.RoleAnalyst, tenancy.RoleReviewer}, tc.Roles)

	// Wrong issuer.
	_, err = verifier.VerifyBearer(context.Background(), mint(func(c *tenancy.IDClaims) {
		c.Issuer = "https://evil.example.com"
	}), "req-9")
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))

	// Expired.
	_, err = verifier.VerifyBearer(context.Background(), mint(func(c *tenancy.IDClaims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	}), "req-9")
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))

	// Missing tenant.
	_, err = verifier.VerifyBearer(context.Background(), mint(func(c *tenancy.IDClaims) {
		c.TenantID = ""
	}), "req-9")
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))

	// Tampered signature.
	_, err = verifier.VerifyBearer(context.Background(), mint(nil)+"x", "req-9")
	assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated))
}

func TestIsolationChecker_DetectsCrossTenantAccess(t *testing.T) {
	checker := tenancy.NewIsolationChecker().WithClock(func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	})
	checker.RegisterResource("tenant-a", "claim-1")
	checker.RegisterResource("tenant-b", "claim-2")

	receipt := checker.CheckAccess("tenant-a", []string{"claim-1", "claim-2"})
	assert.False(t, receipt.Isolated)
	assert.Equal(t, 1, receipt.ChecksPassed)
	assert.Equal(t, 1, receipt.ChecksFailed)
	require.Len(t, receipt.Violations, 1)
	assert.Contains(t, receipt.Violations[0], "tenant-b")

	clean := checker.CheckAccess("tenant-a", []string{"claim-1"})
	assert.True(t, clean.Isolated)
	assert.NotEmpty(t, clean.ContentHash)
}

func TestIsolationChecker_FirstRegistrationWins(t *testing.T) {
	checker := tenancy.NewIsolationChecker()
	checker.RegisterResource("tenant-a", "claim-1")
	checker.RegisterResource("tenant-b", "claim-1")

	receipt := checker.CheckAccess("tenant-a", []string{"claim-1"})
	assert.True(t, receipt.Isolated)

	ok, violations := checker.VerifyIsolation()
	assert.True(t, ok)
	assert.Empty(t, violations)
}
