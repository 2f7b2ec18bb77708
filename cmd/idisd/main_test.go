package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"idisd", "version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "idisd") {
		t.Errorf("expected version banner, got %q", stdout.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"idisd", "help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "doctor") {
		t.Errorf("expected command list, got %q", stdout.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"idisd", "frobnicate"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Errorf("expected unknown-command error, got %q", stderr.String())
	}
}

func TestRun_DoctorInMemory(t *testing.T) {
	t.Setenv("IDIS_DATABASE_URL", "")
	t.Setenv("IDIS_AUDIT_LOG_PATH", "")
	t.Setenv("IDIS_GRAPH_REDIS_ADDR", "")
	t.Setenv("IDIS_OBJECT_STORE_BACKEND", "")
	t.Setenv("IDIS_OBJECT_STORE_BASE_DIR", t.TempDir())
	t.Setenv("IDIS_PROMPTS_ROOT", "")
	t.Setenv("IDIS_PROFILES_DIR", "")
	t.Setenv("IDIS_API_KEYS_JSON", "")
	t.Setenv("IDIS_OIDC_ISSUER", "")
	t.Setenv("IDIS_OIDC_AUDIENCE", "")
	t.Setenv("IDIS_OIDC_JWKS_URI", "")
	t.Setenv("IDIS_OIDC_JWKS_CACHE_TTL", "")
	t.Setenv("IDIS_OTLP_ENDPOINT", "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"idisd", "doctor"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d\nstdout: %s\nstderr: %s", code, stdout.String(), stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "database") {
		t.Errorf("expected database check, got %q", out)
	}
	if !strings.Contains(out, "warn") {
		t.Errorf("expected in-memory warning, got %q", out)
	}
}
