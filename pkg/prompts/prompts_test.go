package prompts_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/prompts"
	"github.com/idis-platform/idis/pkg/tenancy"
)

const testTenant = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"

var testNow = time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC)

func testCtx() tenancy.TenantContext {
	return tenancy.TenantContext{
		TenantID:  testTenant,
		ActorID:   "platform-admin-1",
		ActorType: "user",
		Roles:     []tenancy.Role{tenancy.RoleAdmin},
		RequestID: "req-1",
	}
}

func newStore(t *testing.T, opts ...prompts.StoreOption) (*prompts.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := prompts.NewStore(root, opts...)
	require.NoError(t, err)
	return store, root
}

// defaultMetadata builds a mutable metadata document so failure cases
// can corrupt individual fields.
func defaultMetadata(id, version string) map[string]any {
	return map[string]any{
		"prompt_id":                 id,
		"version":                   version,
		"status":                    "STAGING",
		"risk_class":                "MEDIUM",
		"validation_gates_required": []int{},
		"evaluation_results_ref":    "eval://runs/2026-04-01/" + id,
	}
}

// writeArtifact lays a version down directly on disk, bypassing the
// store, so tests control exactly what the loader sees. Empty body or
// nil metadata skips that file.
func writeArtifact(t *testing.T, root, id, version string, meta map[string]any, body string) {
	t.Helper()
	dir := filepath.Join(root, id, version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if body != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.md"), []byte(body), 0o644))
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), raw, 0o644))
	}
}

func saveArtifact(t *testing.T, store *prompts.Store, id, version string, rc prompts.RiskClass) {
	t.Helper()
	require.NoError(t, store.SaveVersion(&prompts.Artifact{
		Metadata: prompts.Metadata{
			PromptID:             id,
			Version:              version,
			Status:               prompts.StatusStaging,
			RiskClass:            rc,
			EvaluationResultsRef: "eval://runs/2026-04-01/" + id,
		},
		Body: "You are the screening analyst. Ground every assertion.\n",
	}))
}

func passing(gates ...int) []prompts.GateResult {
	out := make([]prompts.GateResult, len(gates))
	for i, g := range gates {
		out[i] = prompts.GateResult{Gate: g, Passed: true}
	}
	return out
}

func newService(t *testing.T) (*prompts.Service, *prompts.Store, *audit.MemorySink, string) {
	t.Helper()
	store, root := newStore(t)
	sink := audit.NewMemorySink()
	svc := prompts.NewService(store, sink, prompts.WithClock(func() time.Time { return testNow }))
	return svc, store, sink, root
}

func TestRequiredGates(t *testing.T) {
	assert.Equal(t, []int{1}, prompts.RequiredGates(prompts.RiskLow))
	assert.Equal(t, []int{1, 2}, prompts.RequiredGates(prompts.RiskMedium))
	assert.Equal(t, []int{1, 2, 3, 4}, prompts.RequiredGates(prompts.RiskHigh))
	assert.Nil(t, prompts.RequiredGates(prompts.RiskClass("EXTREME")))
}

func TestParseVersion(t *testing.T) {
	_, err := prompts.ParseVersion("1.2.3")
	require.NoError(t, err)

	for _, v := range []string{"", "1", "1.2", "v1.2.3", "1.2.3-rc.1", "1.2.3+build.7", "01.2.3"} {
		_, err := prompts.ParseVersion(v)
		assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput), "version %q", v)
	}
}

func TestStore_LoadVersion_RoundTrip(t *testing.T) {
	store, root := newStore(t)
	meta := defaultMetadata("deal_screening", "1.0.0")
	meta["validation_gates_required"] = []int{1, 2}
	meta["description"] = "first-pass screening prompt"
	writeArtifact(t, root, "deal_screening", "1.0.0", meta, "Screen the deal.\n")

	art, err := store.LoadVersion("deal_screening", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "deal_screening", art.PromptID)
	assert.Equal(t, "1.0.0", art.Version)
	assert.Equal(t, prompts.StatusStaging, art.Status)
	assert.Equal(t, prompts.RiskMedium, art.RiskClass)
	assert.Equal(t, []int{1, 2}, art.GatesRequired)
	assert.Equal(t, "eval://runs/2026-04-01/deal_screening", art.EvaluationResultsRef)
	assert.Equal(t, "Screen the deal.\n", art.Body)
}

func TestStore_LoadVersion_Failures(t *testing.T) {
	tests := []struct {
		name    string
		arrange func(t *testing.T, root string) (id, version string)
		kind    idiserr.Kind
		msg     string
	}{
		{
			name: "missing prompt body",
			arrange: func(t *testing.T, root string) (string, string) {
				writeArtifact(t, root, "p", "1.0.0", defaultMetadata("p", "1.0.0"), "")
				return "p", "1.0.0"
			},
			kind: idiserr.KindNotFound,
			msg:  "has no prompt.md",
		},
		{
			name: "missing metadata",
			arrange: func(t *testing.T, root string) (string, string) {
				writeArtifact(t, root, "p", "1.0.0", nil, "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindNotFound,
			msg:  "has no metadata.json",
		},
		{
			name: "metadata is not json",
			arrange: func(t *testing.T, root string) (string, string) {
				writeArtifact(t, root, "p", "1.0.0", nil, "body\n")
				path := filepath.Join(root, "p", "1.0.0", "metadata.json")
				require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
				return "p", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "not valid JSON",
		},
		{
			name: "missing evaluation results ref",
			arrange: func(t *testing.T, root string) (string, string) {
				meta := defaultMetadata("p", "1.0.0")
				delete(meta, "evaluation_results_ref")
				writeArtifact(t, root, "p", "1.0.0", meta, "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "rejected by schema",
		},
		{
			name: "empty evaluation results ref",
			arrange: func(t *testing.T, root string) (string, string) {
				meta := defaultMetadata("p", "1.0.0")
				meta["evaluation_results_ref"] = ""
				writeArtifact(t, root, "p", "1.0.0", meta, "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "rejected by schema",
		},
		{
			name: "gate number out of range",
			arrange: func(t *testing.T, root string) (string, string) {
				meta := defaultMetadata("p", "1.0.0")
				meta["validation_gates_required"] = []int{1, 5}
				writeArtifact(t, root, "p", "1.0.0", meta, "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "rejected by schema",
		},
		{
			name: "unknown status",
			arrange: func(t *testing.T, root string) (string, string) {
				meta := defaultMetadata("p", "1.0.0")
				meta["status"] = "LIVE"
				writeArtifact(t, root, "p", "1.0.0", meta, "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "rejected by schema",
		},
		{
			name: "prompt id mismatch",
			arrange: func(t *testing.T, root string) (string, string) {
				writeArtifact(t, root, "p", "1.0.0", defaultMetadata("other", "1.0.0"), "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindConflict,
			msg:  `names prompt "other"`,
		},
		{
			name: "version mismatch",
			arrange: func(t *testing.T, root string) (string, string) {
				writeArtifact(t, root, "p", "1.0.0", defaultMetadata("p", "9.9.9"), "body\n")
				return "p", "1.0.0"
			},
			kind: idiserr.KindConflict,
			msg:  `names version "9.9.9"`,
		},
		{
			name: "partial version argument",
			arrange: func(t *testing.T, root string) (string, string) {
				return "p", "1.2"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "not MAJOR.MINOR.PATCH",
		},
		{
			name: "prerelease version argument",
			arrange: func(t *testing.T, root string) (string, string) {
				return "p", "1.2.3-rc.1"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "not MAJOR.MINOR.PATCH",
		},
		{
			name: "traversal in prompt id",
			arrange: func(t *testing.T, root string) (string, string) {
				return "../escape", "1.0.0"
			},
			kind: idiserr.KindInvalidInput,
			msg:  "invalid prompt id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, root := newStore(t)
			id, version := tt.arrange(t, root)

			_, err := store.LoadVersion(id, version)
			require.Error(t, err)
			assert.True(t, idiserr.IsKind(err, tt.kind), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestStore_SchemaRef(t *testing.T) {
	writeWithRef := func(t *testing.T, root, ref string) {
		meta := defaultMetadata("p", "1.0.0")
		meta["schema_ref"] = ref
		writeArtifact(t, root, "p", "1.0.0", meta, "body\n")
	}

	t.Run("resolves under schema root", func(t *testing.T) {
		schemaRoot := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(schemaRoot, "deal"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(schemaRoot, "deal", "extraction.schema.json"), []byte(`{"type":"object"}`), 0o644))

		store, root := newStore(t, prompts.WithSchemaRoot(schemaRoot))
		writeWithRef(t, root, "deal/extraction.schema.json")

		art, err := store.LoadVersion("p", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "deal/extraction.schema.json", art.SchemaRef)
	})

	t.Run("missing schema file fails", func(t *testing.T) {
		store, root := newStore(t, prompts.WithSchemaRoot(t.TempDir()))
		writeWithRef(t, root, "deal/extraction.schema.json")

		_, err := store.LoadVersion("p", "1.0.0")
		assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
		assert.Contains(t, err.Error(), "not found under schema root")
	})

	t.Run("ref without schema root fails closed", func(t *testing.T) {
		store, root := newStore(t)
		writeWithRef(t, root, "deal/extraction.schema.json")

		_, err := store.LoadVersion("p", "1.0.0")
		assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
		assert.Contains(t, err.Error(), "no schema root is configured")
	})

	t.Run("traversal ref rejected", func(t *testing.T) {
		store, root := newStore(t, prompts.WithSchemaRoot(t.TempDir()))
		writeWithRef(t, root, "../outside.schema.json")

		_, err := store.LoadVersion("p", "1.0.0")
		assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
		assert.Contains(t, err.Error(), "attempts traversal")
	})
}

func TestStore_WriteRegistry_ExactFormat(t *testing.T) {
	store, root := newStore(t)
	require.NoError(t, store.WriteRegistry(prompts.Pointer{
		Env: prompts.EnvDev,
		Prompts: map[string]string{
			"ic_memo":        "2.1.0",
			"deal_screening": "1.0.0",
		},
		UpdatedAt: testNow,
	}))

	raw, err := os.ReadFile(filepath.Join(root, "registry.dev.json"))
	require.NoError(t, err)
	want := `{
  "env": "dev",
  "prompts": {
    "deal_screening": "1.0.0",
    "ic_memo": "2.1.0"
  },
  "updated_at": "2026-04-05T10:00:00Z"
}
`
	assert.Equal(t, want, string(raw))

	ptr, err := store.Registry(prompts.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, []string{"deal_screening", "ic_memo"}, ptr.PromptIDs())
	assert.Equal(t, "1.0.0", ptr.Prompts["deal_screening"])
}

func TestStore_Registry_Failures(t *testing.T) {
	store, root := newStore(t)

	_, err := store.Registry(prompts.EnvProd)
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))

	_, err = store.Registry(prompts.Env("qa"))
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	require.NoError(t, os.WriteFile(filepath.Join(root, "registry.dev.json"), []byte("{"), 0o644))
	_, err = store.Registry(prompts.EnvDev)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	mismatched := `{"env": "prod", "prompts": {}, "updated_at": "2026-04-05T10:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "registry.staging.json"), []byte(mismatched), 0o644))
	_, err = store.Registry(prompts.EnvStaging)
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))
	assert.Contains(t, err.Error(), `declares env "prod"`)
}

func TestStore_Load_ResolvesPointer(t *testing.T) {
	store, root := newStore(t)
	writeArtifact(t, root, "deal_screening", "1.0.0", defaultMetadata("deal_screening", "1.0.0"), "body\n")
	require.NoError(t, store.WriteRegistry(prompts.Pointer{
		Env:       prompts.EnvDev,
		Prompts:   map[string]string{"deal_screening": "1.0.0", "ic_memo": "2.0.0"},
		UpdatedAt: testNow,
	}))

	art, err := store.Load(prompts.EnvDev, "deal_screening")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", art.Version)

	_, err = store.Load(prompts.EnvDev, "unknown_prompt")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
	assert.Contains(t, err.Error(), "not registered in dev")

	// Pointer names a version that has no artifact on disk.
	_, err = store.Load(prompts.EnvDev, "ic_memo")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestStore_SaveVersion(t *testing.T) {
	store, _ := newStore(t)
	saveArtifact(t, store, "deal_screening", "1.0.0", prompts.RiskLow)

	art, err := store.LoadVersion("deal_screening", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, prompts.RiskLow, art.RiskClass)
	assert.NotEmpty(t, art.Body)

	err = store.SaveVersion(&prompts.Artifact{
		Metadata: prompts.Metadata{
			PromptID:             "deal_screening",
			Version:              "1.0.0",
			Status:               prompts.StatusStaging,
			RiskClass:            prompts.RiskLow,
			EvaluationResultsRef: "eval://runs/2026-04-01/deal_screening",
		},
		Body: "rewrite attempt\n",
	})
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))

	err = store.SaveVersion(&prompts.Artifact{
		Metadata: prompts.Metadata{
			PromptID:             "p2",
			Version:              "1.0.0",
			Status:               prompts.StatusStaging,
			RiskClass:            prompts.RiskClass("EXTREME"),
			EvaluationResultsRef: "eval://runs/2026-04-01/p2",
		},
		Body: "body\n",
	})
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	err = store.SaveVersion(&prompts.Artifact{
		Metadata: prompts.Metadata{
			PromptID:             "p3",
			Version:              "1.0.0",
			Status:               prompts.StatusStaging,
			RiskClass:            prompts.RiskLow,
			EvaluationResultsRef: "eval://runs/2026-04-01/p3",
		},
	})
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "empty body")
}

func TestService_Promote(t *testing.T) {
	svc, store, sink, _ := newService(t)
	saveArtifact(t, store, "deal_screening", "1.0.0", prompts.RiskMedium)

	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "deal_screening", "1.0.0", passing(1, 2)))

	ptr, err := store.Registry(prompts.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", ptr.Prompts["deal_screening"])
	assert.Equal(t, testNow, ptr.UpdatedAt)

	events := sink.EventsOfType("prompt.version.promoted")
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, audit.SeverityMedium, e.Severity)
	assert.Equal(t, "prompt", e.Resource.ResourceType)
	assert.Equal(t, "deal_screening", e.Resource.ResourceID)
	assert.Equal(t, "dev", e.Payload.Safe["env"])
	assert.Equal(t, "1.0.0", e.Payload.Safe["version"])
	assert.Equal(t, "MEDIUM", e.Payload.Safe["risk_class"])
	assert.Equal(t, "1,2", e.Payload.Safe["gates_passed"])
	_, hasPrior := e.Payload.Safe["prior_version"]
	assert.False(t, hasPrior)

	// Second promotion records the version it displaced.
	saveArtifact(t, store, "deal_screening", "1.1.0", prompts.RiskMedium)
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "deal_screening", "1.1.0", passing(1, 2)))

	ptr, err = store.Registry(prompts.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", ptr.Prompts["deal_screening"])

	events = sink.EventsOfType("prompt.version.promoted")
	require.Len(t, events, 2)
	assert.Equal(t, "1.0.0", events[1].Payload.Safe["prior_version"])
}

func TestService_Promote_GateEnforcement(t *testing.T) {
	tests := []struct {
		name       string
		riskClass  prompts.RiskClass
		extraGates []int
		results    []prompts.GateResult
		msg        string
	}{
		{
			name:      "high risk missing gate four",
			riskClass: prompts.RiskHigh,
			results:   passing(1, 2, 3),
			msg:       "gate 4 missing",
		},
		{
			name:      "medium risk failed gate two",
			riskClass: prompts.RiskMedium,
			results: []prompts.GateResult{
				{Gate: 1, Passed: true},
				{Gate: 2, Passed: false, Details: "eval regression"},
			},
			msg: "gate 2 failed",
		},
		{
			name:      "low risk with no evidence",
			riskClass: prompts.RiskLow,
			results:   nil,
			msg:       "gate 1 missing",
		},
		{
			name:       "artifact demands more than its class",
			riskClass:  prompts.RiskLow,
			extraGates: []int{1, 2, 3},
			results:    passing(1),
			msg:        "gate 2 missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, sink, _ := newService(t)
			require.NoError(t, store.SaveVersion(&prompts.Artifact{
				Metadata: prompts.Metadata{
					PromptID:             "p",
					Version:              "1.0.0",
					Status:               prompts.StatusStaging,
					RiskClass:            tt.riskClass,
					GatesRequired:        tt.extraGates,
					EvaluationResultsRef: "eval://runs/2026-04-01/p",
				},
				Body: "body\n",
			}))

			err := svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", tt.results)
			require.Error(t, err)
			assert.True(t, idiserr.IsKind(err, idiserr.KindBlocked), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)

			_, rerr := store.Registry(prompts.EnvDev)
			assert.True(t, idiserr.IsKind(rerr, idiserr.KindNotFound))
			assert.Zero(t, sink.Len())
		})
	}
}

func TestService_Promote_SameVersionConflict(t *testing.T) {
	svc, store, sink, _ := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)

	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1)))
	err := svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1))
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))
	assert.Equal(t, 1, sink.Len())
}

func TestService_Promote_CompensatesWhenAuditFails(t *testing.T) {
	t.Run("first promotion removes the file", func(t *testing.T) {
		svc, store, sink, root := newService(t)
		saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)
		sink.FailWith(errors.New("sink down"))

		err := svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1))
		assert.True(t, idiserr.IsKind(err, idiserr.KindAuditEmitFailed))

		_, serr := os.Stat(filepath.Join(root, "registry.dev.json"))
		assert.True(t, os.IsNotExist(serr))
	})

	t.Run("later promotion restores prior bytes", func(t *testing.T) {
		svc, store, sink, root := newService(t)
		saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)
		saveArtifact(t, store, "p", "1.1.0", prompts.RiskLow)
		require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1)))

		before, err := os.ReadFile(filepath.Join(root, "registry.dev.json"))
		require.NoError(t, err)

		sink.FailWith(errors.New("sink down"))
		perr := svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.1.0", passing(1))
		assert.True(t, idiserr.IsKind(perr, idiserr.KindAuditEmitFailed))

		after, err := os.ReadFile(filepath.Join(root, "registry.dev.json"))
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})
}

func TestService_Rollback(t *testing.T) {
	svc, store, sink, _ := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskMedium)
	saveArtifact(t, store, "p", "1.1.0", prompts.RiskMedium)
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvProd, "p", "1.0.0", passing(1, 2)))
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvProd, "p", "1.1.0", passing(1, 2)))

	require.NoError(t, svc.Rollback(context.Background(), testCtx(), prompts.EnvProd, "p", "1.0.0"))

	ptr, err := store.Registry(prompts.EnvProd)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", ptr.Prompts["p"])

	events := sink.EventsOfType("prompt.version.rolledback")
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, "1.1.0", events[0].Payload.Safe["from_version"])
	assert.Equal(t, "1.0.0", events[0].Payload.Safe["to_version"])

	err = svc.Rollback(context.Background(), testCtx(), prompts.EnvProd, "unregistered", "1.0.0")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))

	err = svc.Rollback(context.Background(), testCtx(), prompts.EnvProd, "p", "1.0.0")
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))

	err = svc.Rollback(context.Background(), testCtx(), prompts.EnvProd, "p", "3.0.0")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestService_Rollback_CompensatesWhenAuditFails(t *testing.T) {
	svc, store, sink, root := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)
	saveArtifact(t, store, "p", "1.1.0", prompts.RiskLow)
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1)))
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.1.0", passing(1)))

	before, err := os.ReadFile(filepath.Join(root, "registry.dev.json"))
	require.NoError(t, err)

	sink.FailWith(errors.New("sink down"))
	rerr := svc.Rollback(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0")
	assert.True(t, idiserr.IsKind(rerr, idiserr.KindAuditEmitFailed))

	after, err := os.ReadFile(filepath.Join(root, "registry.dev.json"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	ptr, err := store.Registry(prompts.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", ptr.Prompts["p"])
}

func TestService_Retire(t *testing.T) {
	svc, store, sink, root := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1)))

	require.NoError(t, svc.Retire(context.Background(), testCtx(), prompts.EnvDev, "p"))

	ptr, err := store.Registry(prompts.EnvDev)
	require.NoError(t, err)
	assert.Empty(t, ptr.PromptIDs())

	// Artifact content survives retirement.
	assert.FileExists(t, filepath.Join(root, "p", "1.0.0", "prompt.md"))
	assert.FileExists(t, filepath.Join(root, "p", "1.0.0", "metadata.json"))
	_, lerr := store.LoadVersion("p", "1.0.0")
	assert.NoError(t, lerr)

	events := sink.EventsOfType("prompt.version.retired")
	require.Len(t, events, 1)
	assert.Equal(t, "1.0.0", events[0].Payload.Safe["version"])

	err = svc.Retire(context.Background(), testCtx(), prompts.EnvDev, "p")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestService_Retire_CompensatesWhenAuditFails(t *testing.T) {
	svc, store, sink, _ := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)
	require.NoError(t, svc.Promote(context.Background(), testCtx(), prompts.EnvDev, "p", "1.0.0", passing(1)))

	sink.FailWith(errors.New("sink down"))
	err := svc.Retire(context.Background(), testCtx(), prompts.EnvDev, "p")
	assert.True(t, idiserr.IsKind(err, idiserr.KindAuditEmitFailed))

	ptr, rerr := store.Registry(prompts.EnvDev)
	require.NoError(t, rerr)
	assert.Equal(t, "1.0.0", ptr.Prompts["p"])
}

func TestService_RequiresTenantContext(t *testing.T) {
	svc, store, sink, _ := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)

	anonymous := testCtx()
	anonymous.ActorID = ""

	ops := map[string]func() error{
		"promote":  func() error { return svc.Promote(context.Background(), anonymous, prompts.EnvDev, "p", "1.0.0", passing(1)) },
		"rollback": func() error { return svc.Rollback(context.Background(), anonymous, prompts.EnvDev, "p", "1.0.0") },
		"retire":   func() error { return svc.Retire(context.Background(), anonymous, prompts.EnvDev, "p") },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.True(t, idiserr.IsKind(err, idiserr.KindUnauthenticated), "got %v", err)
		})
	}

	_, err := store.Registry(prompts.EnvDev)
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
	assert.Zero(t, sink.Len())
}

func TestService_UnknownEnvRejected(t *testing.T) {
	svc, store, _, _ := newService(t)
	saveArtifact(t, store, "p", "1.0.0", prompts.RiskLow)

	err := svc.Promote(context.Background(), testCtx(), prompts.Env("qa"), "p", "1.0.0", passing(1))
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), `unknown environment "qa"`)
}
