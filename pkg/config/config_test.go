package config_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/config"
	"github.com/idis-platform/idis/pkg/idiserr"
)

// clearEnv blanks the whole IDIS_* surface so each test starts from an
// empty environment regardless of the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"IDIS_LOG_LEVEL", "IDIS_LOG_FORMAT",
		"IDIS_DATABASE_URL", "IDIS_DATABASE_ADMIN_URL",
		"IDIS_GRAPH_REDIS_ADDR", "IDIS_GRAPH_REDIS_DB",
		"IDIS_AUDIT_LOG_PATH", "IDIS_OBJECT_STORE_BASE_DIR",
		"IDIS_PROMPTS_ROOT", "IDIS_PROFILES_DIR",
		"IDIS_API_KEYS_JSON",
		"IDIS_OIDC_ISSUER", "IDIS_OIDC_AUDIENCE", "IDIS_OIDC_JWKS_URI", "IDIS_OIDC_JWKS_CACHE_TTL",
		"IDIS_BREAK_GLASS_SECRET", "IDIS_MAX_DEBATE_ROUNDS", "IDIS_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.OIDC, "bearer path must be disabled with no OIDC vars")
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 5, cfg.MaxDebateRounds)
	assert.Equal(t, "idis_objects", filepath.Base(cfg.ObjectStoreBaseDir))
}

func TestLoad_RejectsUnknownLogFormat(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_LOG_FORMAT", "xml")

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, idiserr.KindInvalidInput, idiserr.KindOf(err))
}

func TestLoad_ParsesAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_API_KEYS_JSON", `{
		"k1": {
			"tenant_id": "11111111-1111-1111-1111-111111111111",
			"actor_id": "svc-extract",
			"roles": ["INGEST"],
			"secret_hash": "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
			"data_region": "us"
		}
	}`)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Len(t, cfg.APIKeys, 1)
	rec := cfg.APIKeys["k1"]
	assert.Equal(t, "svc-extract", rec.ActorID)
}

func TestLoad_RejectsMalformedAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_API_KEYS_JSON", `{"broken":`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, idiserr.KindInvalidInput, idiserr.KindOf(err))
}

func TestLoad_OIDCRequiresAllFourVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_OIDC_ISSUER", "https://issuer.example")
	t.Setenv("IDIS_OIDC_AUDIENCE", "idis")
	t.Setenv("IDIS_OIDC_JWKS_URI", "https://issuer.example/jwks")
	// TTL missing: the whole path stays disabled.

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.OIDC)
}

func TestLoad_OIDCEnabledWithDurationAndSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_OIDC_ISSUER", "https://issuer.example")
	t.Setenv("IDIS_OIDC_AUDIENCE", "idis")
	t.Setenv("IDIS_OIDC_JWKS_URI", "https://issuer.example/jwks")

	t.Setenv("IDIS_OIDC_JWKS_CACHE_TTL", "5m")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.OIDC)
	assert.Equal(t, "5m0s", cfg.OIDC.JWKSCacheTTL.String())

	t.Setenv("IDIS_OIDC_JWKS_CACHE_TTL", "300")
	cfg, err = config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.OIDC)
	assert.Equal(t, "5m0s", cfg.OIDC.JWKSCacheTTL.String())
}

func TestLoad_OIDCRejectsMalformedTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_OIDC_ISSUER", "https://issuer.example")
	t.Setenv("IDIS_OIDC_AUDIENCE", "idis")
	t.Setenv("IDIS_OIDC_JWKS_URI", "https://issuer.example/jwks")
	t.Setenv("IDIS_OIDC_JWKS_CACHE_TTL", "soon")

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, idiserr.KindInvalidInput, idiserr.KindOf(err))
}

func TestLoad_MaxDebateRoundsHardCap(t *testing.T) {
	clearEnv(t)

	t.Setenv("IDIS_MAX_DEBATE_ROUNDS", "3")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxDebateRounds)

	// Values above the hard cap are rejected at the config layer, not
	// silently clamped.
	t.Setenv("IDIS_MAX_DEBATE_ROUNDS", "6")
	_, err = config.Load()
	require.Error(t, err)
	assert.Equal(t, idiserr.KindInvalidInput, idiserr.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "outside 1..5"))

	t.Setenv("IDIS_MAX_DEBATE_ROUNDS", "0")
	_, err = config.Load()
	require.Error(t, err)
}

func TestLoad_GraphRedisDB(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDIS_GRAPH_REDIS_ADDR", "localhost:6379")
	t.Setenv("IDIS_GRAPH_REDIS_DB", "2")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.GraphRedisDB)

	t.Setenv("IDIS_GRAPH_REDIS_DB", "-1")
	_, err = config.Load()
	require.Error(t, err)
}
