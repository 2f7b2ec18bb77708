package prompts

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Service applies the only three state transitions the registry knows:
// promote, rollback, retire. Each one writes the pointer file durably
// first and emits exactly one audit event second; if emission fails the
// prior pointer is restored before the failure propagates, so the
// registry never reflects an unaudited change.
type Service struct {
	store *Store
	sink  audit.Sink
	clock func() time.Time
}

// ServiceOption adjusts a Service at construction.
type ServiceOption func(*Service)

// WithClock overrides the time source for pointer updates and events.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService wires the versioning service to its store and audit sink.
func NewService(store *Store, sink audit.Sink, opts ...ServiceOption) *Service {
	s := &Service{store: store, sink: sink, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Promote points env at promptID/version. The artifact must load
// cleanly and every gate demanded by its risk class (plus any extras
// its metadata lists) must have a passing result; a missing or failed
// gate blocks the promotion before the pointer is touched.
func (s *Service) Promote(ctx context.Context, tctx tenancy.TenantContext, env Env, promptID, version string, gates []GateResult) error {
	if err := tctx.Validate(); err != nil {
		return err
	}
	if !ValidEnv(env) {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}

	art, err := s.store.LoadVersion(promptID, version)
	if err != nil {
		return err
	}
	passed, err := verifyGates(art, gates)
	if err != nil {
		return err
	}

	ptr, snapshot, existed, err := s.pointerForUpdate(env)
	if err != nil {
		return err
	}
	prior := ptr.Prompts[promptID]
	if prior == version {
		return idiserr.Newf(idiserr.KindConflict, "prompts: %s already serves %s in %s", promptID, version, env)
	}
	ptr.Prompts[promptID] = version
	ptr.UpdatedAt = s.clock().UTC()
	if err := s.store.WriteRegistry(ptr); err != nil {
		return err
	}

	e := s.event(tctx, "prompt.version.promoted", audit.SeverityMedium, env, promptID, "promote").
		WithSummary("prompt "+promptID+" promoted to "+version+" in "+string(env)).
		WithSafe("version", version).
		WithSafe("risk_class", string(art.RiskClass)).
		WithSafe("gates_passed", joinGates(passed))
	if prior != "" {
		e = e.WithSafe("prior_version", prior)
	}
	return s.emitOrRestore(ctx, env, snapshot, existed, e)
}

// Rollback repoints env at a version that served it before. The target
// artifact must still load cleanly; gate evidence is not re-checked,
// since the pointer only ever reaches versions that passed their gates.
func (s *Service) Rollback(ctx context.Context, tctx tenancy.TenantContext, env Env, promptID, toVersion string) error {
	if err := tctx.Validate(); err != nil {
		return err
	}
	if !ValidEnv(env) {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}

	art, err := s.store.LoadVersion(promptID, toVersion)
	if err != nil {
		return err
	}

	ptr, snapshot, existed, err := s.pointerForUpdate(env)
	if err != nil {
		return err
	}
	current, ok := ptr.Prompts[promptID]
	if !ok {
		return idiserr.Newf(idiserr.KindNotFound, "prompts: %s is not registered in %s", promptID, env)
	}
	if current == toVersion {
		return idiserr.Newf(idiserr.KindConflict, "prompts: %s already serves %s in %s", promptID, toVersion, env)
	}
	ptr.Prompts[promptID] = toVersion
	ptr.UpdatedAt = s.clock().UTC()
	if err := s.store.WriteRegistry(ptr); err != nil {
		return err
	}

	e := s.event(tctx, "prompt.version.rolledback", audit.SeverityHigh, env, promptID, "rollback").
		WithSummary("prompt "+promptID+" rolled back from "+current+" to "+toVersion+" in "+string(env)).
		WithSafe("from_version", current).
		WithSafe("to_version", toVersion).
		WithSafe("risk_class", string(art.RiskClass))
	return s.emitOrRestore(ctx, env, snapshot, existed, e)
}

// Retire removes promptID from env's pointer map. The artifact files
// stay on disk untouched so past deliverables remain reproducible.
func (s *Service) Retire(ctx context.Context, tctx tenancy.TenantContext, env Env, promptID string) error {
	if err := tctx.Validate(); err != nil {
		return err
	}
	if !ValidEnv(env) {
		return idiserr.Newf(idiserr.KindInvalidInput, "prompts: unknown environment %q", env)
	}
	if err := validatePromptID(promptID); err != nil {
		return err
	}

	ptr, snapshot, existed, err := s.pointerForUpdate(env)
	if err != nil {
		return err
	}
	version, ok := ptr.Prompts[promptID]
	if !ok {
		return idiserr.Newf(idiserr.KindNotFound, "prompts: %s is not registered in %s", promptID, env)
	}
	delete(ptr.Prompts, promptID)
	ptr.UpdatedAt = s.clock().UTC()
	if err := s.store.WriteRegistry(ptr); err != nil {
		return err
	}

	e := s.event(tctx, "prompt.version.retired", audit.SeverityMedium, env, promptID, "retire").
		WithSummary("prompt "+promptID+" retired from "+string(env)).
		WithSafe("version", version)
	return s.emitOrRestore(ctx, env, snapshot, existed, e)
}

// pointerForUpdate reads the current pointer plus the raw snapshot used
// for compensation. A registry that does not exist yet starts empty;
// the snapshot records the absence.
func (s *Service) pointerForUpdate(env Env) (Pointer, []byte, bool, error) {
	snapshot, existed, err := s.store.RegistrySnapshot(env)
	if err != nil {
		return Pointer{}, nil, false, err
	}
	if !existed {
		return Pointer{Env: env, Prompts: map[string]string{}}, nil, false, nil
	}
	ptr, err := s.store.Registry(env)
	if err != nil {
		return Pointer{}, nil, false, err
	}
	return ptr, snapshot, true, nil
}

func (s *Service) event(tctx tenancy.TenantContext, eventType string, severity audit.Severity, env Env, promptID, op string) audit.Event {
	e := audit.NewEvent(tctx.TenantID, eventType, severity).
		WithActor(audit.Actor{
			ActorType: tctx.ActorType,
			ActorID:   tctx.ActorID,
			Roles:     tctx.RoleStrings(),
			IP:        tctx.IP,
			UserAgent: tctx.UserAgent,
		}).
		WithRequest(audit.Request{
			RequestID:      tctx.RequestID,
			Method:         "POST",
			Path:           "/prompts/" + promptID + "/" + op,
			IdempotencyKey: tctx.IdempotencyKey,
		}).
		WithResource("prompt", promptID).
		WithSafe("env", string(env)).
		WithSafe("prompt_id", promptID)
	e.OccurredAt = s.clock().UTC()
	return e
}

// emitOrRestore is the compensation half of the pointer dual-write: the
// pointer is already durable, so a failed emit rewinds it to the
// snapshot before propagating. A rewind that itself fails is the
// operator-alert case and surfaces as SAGA_COMPENSATION_FAILED.
func (s *Service) emitOrRestore(ctx context.Context, env Env, snapshot []byte, existed bool, e audit.Event) error {
	err := audit.Emit(ctx, s.sink, e)
	if err == nil {
		return nil
	}
	if rerr := s.store.RestoreRegistry(env, snapshot, existed); rerr != nil {
		return idiserr.Wrapf(idiserr.KindSagaCompensationFail, rerr,
			"prompts: restore registry.%s.json after audit failure (%v)", env, err)
	}
	return err
}

// verifyGates checks that every required gate has a passing result and
// none has a failing one. It returns the required gate numbers in
// ascending order for the audit payload.
func verifyGates(art *Artifact, results []GateResult) ([]int, error) {
	required := map[int]bool{}
	for _, g := range RequiredGates(art.RiskClass) {
		required[g] = true
	}
	for _, g := range art.GatesRequired {
		required[g] = true
	}

	passed := map[int]bool{}
	failed := map[int]bool{}
	for _, r := range results {
		if r.Passed {
			passed[r.Gate] = true
		} else {
			failed[r.Gate] = true
		}
	}

	gates := make([]int, 0, len(required))
	for g := range required {
		gates = append(gates, g)
	}
	sort.Ints(gates)
	for _, g := range gates {
		switch {
		case failed[g]:
			return nil, idiserr.Newf(idiserr.KindBlocked, "prompts: gate %d failed for %s@%s", g, art.PromptID, art.Version)
		case !passed[g]:
			return nil, idiserr.Newf(idiserr.KindBlocked, "prompts: gate %d missing for %s@%s", g, art.PromptID, art.Version)
		}
	}
	return gates, nil
}

func joinGates(gates []int) string {
	parts := make([]string, len(gates))
	for i, g := range gates {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ",")
}
