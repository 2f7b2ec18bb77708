// Package config loads the IDIS_* environment surface and the
// per-data-region YAML profiles. Loading is strict: a malformed value
// is an error at startup, never a silent default, because every
// downstream component treats its configuration as already validated.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/idis-platform/idis/pkg/debate"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// OIDC holds the bearer-token verification settings. The path is
// enabled only when all four variables are present; anything less and
// bearer tokens are rejected outright.
type OIDC struct {
	Issuer       string
	Audience     string
	JWKSURI      string
	JWKSCacheTTL time.Duration
}

// Config is the resolved environment surface.
type Config struct {
	LogLevel  string
	LogFormat string

	DatabaseURL      string
	DatabaseAdminURL string
	GraphRedisAddr   string
	GraphRedisDB     int

	AuditLogPath       string
	ObjectStoreBaseDir string
	PromptsRoot        string
	ProfilesDir        string

	// APIKeys is the parsed IDIS_API_KEYS_JSON key set; empty when the
	// variable is unset.
	APIKeys map[string]tenancy.APIKeyRecord

	// OIDC is nil when the bearer path is disabled.
	OIDC *OIDC

	// BreakGlassSecret signs break-glass tokens. Empty means every
	// break-glass validation denies.
	BreakGlassSecret string

	MaxDebateRounds int

	OTLPEndpoint string
}

// Load reads the environment. It returns an error on the first
// malformed value.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:           envOr("IDIS_LOG_LEVEL", "INFO"),
		LogFormat:          envOr("IDIS_LOG_FORMAT", "json"),
		DatabaseURL:        os.Getenv("IDIS_DATABASE_URL"),
		DatabaseAdminURL:   os.Getenv("IDIS_DATABASE_ADMIN_URL"),
		GraphRedisAddr:     os.Getenv("IDIS_GRAPH_REDIS_ADDR"),
		AuditLogPath:       os.Getenv("IDIS_AUDIT_LOG_PATH"),
		ObjectStoreBaseDir: envOr("IDIS_OBJECT_STORE_BASE_DIR", filepath.Join(os.TempDir(), "idis_objects")),
		PromptsRoot:        os.Getenv("IDIS_PROMPTS_ROOT"),
		ProfilesDir:        os.Getenv("IDIS_PROFILES_DIR"),
		BreakGlassSecret:   os.Getenv("IDIS_BREAK_GLASS_SECRET"),
		OTLPEndpoint:       os.Getenv("IDIS_OTLP_ENDPOINT"),
		MaxDebateRounds:    debate.MaxRoundsCap,
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "config: IDIS_LOG_FORMAT %q is not json or text", cfg.LogFormat)
	}

	if raw := os.Getenv("IDIS_GRAPH_REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return nil, idiserr.Newf(idiserr.KindInvalidInput, "config: IDIS_GRAPH_REDIS_DB %q is not a non-negative integer", raw)
		}
		cfg.GraphRedisDB = db
	}

	if raw := os.Getenv("IDIS_API_KEYS_JSON"); raw != "" {
		keys, err := tenancy.ParseAPIKeySet([]byte(raw))
		if err != nil {
			return nil, err
		}
		cfg.APIKeys = keys
	}

	oidc, err := loadOIDC()
	if err != nil {
		return nil, err
	}
	cfg.OIDC = oidc

	if raw := os.Getenv("IDIS_MAX_DEBATE_ROUNDS"); raw != "" {
		rounds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, idiserr.Newf(idiserr.KindInvalidInput, "config: IDIS_MAX_DEBATE_ROUNDS %q is not an integer", raw)
		}
		if rounds < 1 || rounds > debate.MaxRoundsCap {
			return nil, idiserr.Newf(idiserr.KindInvalidInput,
				"config: IDIS_MAX_DEBATE_ROUNDS %d is outside 1..%d", rounds, debate.MaxRoundsCap)
		}
		cfg.MaxDebateRounds = rounds
	}

	return cfg, nil
}

// loadOIDC resolves the four IDIS_OIDC_* variables. Any of them
// missing disables the bearer path; a present-but-malformed TTL is an
// error rather than a silent disable.
func loadOIDC() (*OIDC, error) {
	issuer := os.Getenv("IDIS_OIDC_ISSUER")
	audience := os.Getenv("IDIS_OIDC_AUDIENCE")
	jwksURI := os.Getenv("IDIS_OIDC_JWKS_URI")
	rawTTL := os.Getenv("IDIS_OIDC_JWKS_CACHE_TTL")

	if issuer == "" || audience == "" || jwksURI == "" || rawTTL == "" {
		return nil, nil
	}
	ttl, err := time.ParseDuration(rawTTL)
	if err != nil {
		seconds, secErr := strconv.Atoi(rawTTL)
		if secErr != nil || seconds <= 0 {
			return nil, idiserr.Newf(idiserr.KindInvalidInput, "config: IDIS_OIDC_JWKS_CACHE_TTL %q is not a duration", rawTTL)
		}
		ttl = time.Duration(seconds) * time.Second
	}
	if ttl <= 0 {
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "config: IDIS_OIDC_JWKS_CACHE_TTL must be positive")
	}
	return &OIDC{Issuer: issuer, Audience: audience, JWKSURI: jwksURI, JWKSCacheTTL: ttl}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
