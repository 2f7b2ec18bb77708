// Package services wires the IDIS core into a single Registry. The
// registry is built once at startup from configuration: stores first,
// then sinks, then the engines and orchestrators that depend on them.
// Nothing in here is a package-level global; tests construct fresh
// registries against in-memory SQLite and throw them away.
package services

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/boundary"
	"github.com/idis-platform/idis/pkg/calc"
	"github.com/idis-platform/idis/pkg/claims"
	"github.com/idis-platform/idis/pkg/config"
	"github.com/idis-platform/idis/pkg/debate"
	"github.com/idis-platform/idis/pkg/deliverables"
	"github.com/idis-platform/idis/pkg/graph"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/objectstore"
	"github.com/idis-platform/idis/pkg/observability"
	"github.com/idis-platform/idis/pkg/policy"
	"github.com/idis-platform/idis/pkg/prompts"
	"github.com/idis-platform/idis/pkg/run"
	"github.com/idis-platform/idis/pkg/saga"
	"github.com/idis-platform/idis/pkg/sanad"
	"github.com/idis-platform/idis/pkg/storage"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Options tunes registry construction.
type Options struct {
	// RunHandlers binds orchestrator steps to implementations. Steps
	// in the implemented set without a handler fail their runs with
	// INVALID_INPUT at execution time.
	RunHandlers run.Handlers

	// ImplementedSteps overrides the default implemented step set.
	ImplementedSteps []run.Step

	// Logger replaces slog.Default for registry components.
	Logger *slog.Logger
}

// Registry holds every wired service. Fields are never reassigned
// after NewRegistry returns.
type Registry struct {
	Config   *config.Config
	Logger   *slog.Logger
	Profiles map[string]*config.DataRegionProfile

	// Storage layer.
	DB          *storage.TenantDB
	ClaimStore  claims.Store
	SanadStore  *storage.SQLSanadStore
	DefectStore *storage.SQLDefectStore
	Directory   policy.DealDirectory
	Graph       *graph.Projection

	// Audit and write discipline.
	Audit audit.Sink
	Sagas *saga.Executor

	// Engines.
	Grader       *sanad.Engine
	CalcRegistry *calc.Registry
	Calc         *calc.Engine
	Claims       *claims.Service

	// Orchestration.
	RunStore     run.RunStore
	Ledger       run.StepLedger
	Orchestrator *run.Orchestrator
	Runs         *run.Service
	DebateConfig debate.Config

	// Output boundary.
	Muhasabah    boundary.MuhasabahGate
	Deliverables *deliverables.Generator

	// Supporting stores.
	Prompts *prompts.Service
	Objects *objectstore.Store

	// Policy and identity.
	BreakGlass *policy.BreakGlass
	Tags       *policy.TagEvaluator
	APIKeys    *tenancy.APIKeyAuthenticator
	OIDC       *tenancy.OIDCVerifier

	Telemetry *observability.Provider
}

// claimChecker adapts the claim store to the calc engine's strict
// extraction gate.
type claimChecker struct {
	store claims.Store
}

func (c claimChecker) HasClaim(ctx context.Context, tenantID, dealID, claimID string) (bool, error) {
	cl, err := c.store.Get(ctx, tenantID, claimID)
	if err != nil {
		if idiserr.IsKind(err, idiserr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return cl.DealID == dealID, nil
}

// NewRegistry builds the platform from configuration. A nil cfg loads
// the environment. An empty database URL wires in-memory SQLite, which
// keeps the SQL stores on their real code paths in tests and single-box
// runs.
func NewRegistry(ctx context.Context, cfg *config.Config, opts Options) (*Registry, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		Config: cfg,
		Logger: logger.With("component", "services"),
	}

	ok := false
	defer func() {
		if !ok {
			_ = r.Close(context.Background())
		}
	}()

	// Storage.
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		dbURL = ":memory:"
	}
	db, err := storage.Open(dbURL)
	if err != nil {
		return nil, err
	}
	r.DB = db
	if err := db.Init(ctx); err != nil {
		return nil, err
	}

	claimStore := storage.NewSQLClaimStore(db)
	r.ClaimStore = claimStore
	r.SanadStore = storage.NewSQLSanadStore(db)
	r.DefectStore = storage.NewSQLDefectStore(db)
	r.Directory = storage.NewSQLDirectory(db)

	// Audit sinks. The SQL sink is always present; a file sink mirrors
	// events to the append-only log when a path is configured. The
	// idempotent wrapper sits outermost so retried emissions dedupe
	// across every backend at once.
	sqlSink := audit.NewSQLSink(db.DB())
	if err := sqlSink.Init(ctx); err != nil {
		return nil, err
	}
	var sink audit.Sink = sqlSink
	if cfg.AuditLogPath != "" {
		fileSink, err := audit.NewFileSink(cfg.AuditLogPath)
		if err != nil {
			return nil, err
		}
		sink = audit.NewMultiSink(fileSink, sqlSink)
	}
	r.Audit = audit.NewIdempotentSink(sink)

	// Graph projection. nil when unconfigured; the claim service
	// treats a missing projector as snapshot-only.
	var projector claims.GraphProjector
	if cfg.GraphRedisAddr != "" {
		r.Graph = graph.NewProjection(graph.Options{
			Addr: cfg.GraphRedisAddr,
			DB:   cfg.GraphRedisDB,
		})
		projector = r.Graph
	}

	r.Sagas = saga.NewExecutor(r.Audit)

	// Engines.
	r.Grader = sanad.NewEngine()
	r.CalcRegistry = calc.Builtins()
	r.Calc = calc.NewEngine(r.CalcRegistry,
		calc.WithStrictExtraction(claimChecker{store: claimStore}))
	r.Claims = claims.NewService(claimStore, projector, r.Sagas, r.Audit)

	// Orchestration.
	runStore := run.NewSQLRunStore(db.DB())
	if err := runStore.Init(ctx); err != nil {
		return nil, err
	}
	ledger := run.NewSQLLedger(db.DB())
	if err := ledger.Init(ctx); err != nil {
		return nil, err
	}
	r.RunStore = runStore
	r.Ledger = ledger

	var orchOpts []run.OrchestratorOption
	if len(opts.ImplementedSteps) > 0 {
		orchOpts = append(orchOpts, run.WithImplementedSteps(opts.ImplementedSteps...))
	}
	r.Orchestrator = run.NewOrchestrator(ledger, r.Audit, opts.RunHandlers, orchOpts...)
	r.Runs = run.NewService(runStore, r.Orchestrator, r.Audit)

	r.DebateConfig = debate.DefaultConfig()
	if cfg.MaxDebateRounds > 0 {
		r.DebateConfig.MaxRounds = cfg.MaxDebateRounds
	}

	// Output boundary.
	r.Muhasabah = boundary.MuhasabahGate{}
	r.Deliverables = deliverables.NewGenerator(r.Audit)

	// Supporting stores.
	if cfg.PromptsRoot != "" {
		store, err := prompts.NewStore(cfg.PromptsRoot)
		if err != nil {
			return nil, err
		}
		r.Prompts = prompts.NewService(store, r.Audit)
	}

	if backend := os.Getenv("IDIS_OBJECT_STORE_BACKEND"); backend != "" && backend != string(objectstore.BackendFS) {
		store, err := objectstore.NewStoreFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		r.Objects = store
	} else {
		blobs, err := objectstore.NewFSBlobStore(cfg.ObjectStoreBaseDir)
		if err != nil {
			return nil, err
		}
		r.Objects = objectstore.New(blobs)
	}

	// Policy and identity.
	if cfg.BreakGlassSecret != "" {
		r.BreakGlass = policy.NewBreakGlass([]byte(cfg.BreakGlassSecret), r.Audit)
	}
	tags, err := policy.NewTagEvaluator(policy.DefaultTagRules())
	if err != nil {
		return nil, err
	}
	r.Tags = tags

	if len(cfg.APIKeys) > 0 {
		r.APIKeys = tenancy.NewAPIKeyAuthenticator(cfg.APIKeys)
	}
	if cfg.OIDC != nil {
		keys := tenancy.NewJWKSCache(cfg.OIDC.JWKSURI, cfg.OIDC.JWKSCacheTTL)
		r.OIDC = tenancy.NewOIDCVerifier(cfg.OIDC.Issuer, cfg.OIDC.Audience, keys)
	}

	if cfg.ProfilesDir != "" {
		profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
		if err != nil {
			return nil, err
		}
		r.Profiles = profiles
	}

	// Telemetry. Disabled entirely when no collector endpoint is
	// configured; the SLO tracker still works in that mode.
	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		return nil, err
	}
	r.Telemetry = telemetry
	for _, step := range run.DefaultImplementedSteps {
		telemetry.SLOs().SetTarget(&observability.SLOTarget{
			SLOID:       "slo-run-step-" + string(step),
			Name:        "run step " + string(step),
			Operation:   "run.step." + string(step),
			LatencyP99:  5 * time.Minute,
			SuccessRate: 0.99,
			WindowHours: 24,
		})
	}

	r.Logger.InfoContext(ctx, "registry wired",
		"database", db.Dialect(),
		"graph", cfg.GraphRedisAddr != "",
		"audit_log", cfg.AuditLogPath != "",
		"prompts", cfg.PromptsRoot != "",
		"profiles", len(r.Profiles),
	)

	ok = true
	return r, nil
}

// Health probes the registry's external dependencies. The returned map
// is keyed by dependency name; a nil value means healthy.
func (r *Registry) Health(ctx context.Context) map[string]error {
	checks := make(map[string]error, 2)
	if r.DB != nil {
		checks["database"] = r.DB.DB().PingContext(ctx)
	}
	if r.Graph != nil {
		checks["graph"] = r.Graph.Ping(ctx)
	}
	return checks
}

// Close releases the registry's resources in reverse dependency order.
func (r *Registry) Close(ctx context.Context) error {
	var first error
	if r.Telemetry != nil {
		if err := r.Telemetry.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if r.Graph != nil {
		if err := r.Graph.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
