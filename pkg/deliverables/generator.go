package deliverables

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/audit"
	"github.com/idis-platform/idis/pkg/boundary"
	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Generator validates analysis bundles and assembles deliverables.
type Generator struct {
	sink  audit.Sink
	clock func() time.Time
	newID func() string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the clock, pinning GeneratedAt for reproducible
// output bytes.
func WithClock(clock func() time.Time) GeneratorOption {
	return func(g *Generator) { g.clock = clock }
}

// WithIDFunc overrides bundle id generation.
func WithIDFunc(fn func() string) GeneratorOption {
	return func(g *Generator) { g.newID = fn }
}

// NewGenerator builds a generator emitting to the given audit sink.
func NewGenerator(sink audit.Sink, opts ...GeneratorOption) *Generator {
	g := &Generator{
		sink:  sink,
		clock: time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates the request fail-closed and assembles the bundle:
// ScreeningSnapshot, ICMemo, TruthDashboard, QABrief, and a DeclineLetter
// only when the scorecard routing is DECLINE. Validation failures emit
// deliverable.generation.failed and raise; nothing partial is returned.
func (g *Generator) Generate(ctx context.Context, tctx tenancy.TenantContext, req Request, registry boundary.RefRegistry) (*GeneratedBundle, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	bundleID := g.newID()

	if err := g.emit(ctx, tctx, req, bundleID, "deliverable.generation.started", 0, nil); err != nil {
		return nil, err
	}

	if err := g.validate(req, registry); err != nil {
		if emitErr := g.emit(ctx, tctx, req, bundleID, "deliverable.generation.failed", 0, err); emitErr != nil {
			return nil, emitErr
		}
		return nil, err
	}

	now := g.clock().UTC()
	byType := reportsByType(req.Bundle.Reports)

	out := &GeneratedBundle{DealID: req.Deal.DealID, GeneratedAt: now}
	out.Deliverables = append(out.Deliverables,
		g.screeningSnapshot(req, byType, now),
		g.icMemo(req, byType, now),
		g.truthDashboard(req, now),
		g.qaBrief(req, now),
	)
	if req.Scorecard.Routing == RoutingDecline {
		out.Deliverables = append(out.Deliverables, g.declineLetter(req, now))
	}

	if err := g.emit(ctx, tctx, req, bundleID, "deliverable.generation.completed", len(out.Deliverables), nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Export renders one deliverable to canonical JSON bytes with a stable
// content hash.
func Export(d Deliverable) (ExportResult, error) {
	data, err := canonical.Marshal(d)
	if err != nil {
		return ExportResult{}, idiserr.Wrap(idiserr.KindInvalidInput, err, "deliverables: export failed").WithPath(string(d.Kind))
	}
	return ExportResult{
		Kind:         d.Kind,
		ContentBytes: data,
		SHA256:       canonical.HashBytes(data),
		Length:       len(data),
	}, nil
}

// validate enforces the generation preconditions: a complete bundle, a
// known routing, and every fact past the output boundary.
func (g *Generator) validate(req Request, registry boundary.RefRegistry) error {
	if strings.TrimSpace(req.Deal.DealID) == "" {
		return idiserr.New(idiserr.KindInvalidInput, "deal_id required").WithPath("deal.deal_id")
	}
	if !ValidRouting(req.Scorecard.Routing) {
		return idiserr.Newf(idiserr.KindInvalidInput, "unknown routing %q", req.Scorecard.Routing).WithPath("scorecard.routing")
	}

	seen := make(map[AgentType]bool, len(req.Bundle.Reports))
	for _, report := range req.Bundle.Reports {
		if !ValidAgentType(report.AgentType) {
			return idiserr.Newf(idiserr.KindInvalidInput, "unknown agent type %q", report.AgentType).WithPath(string(report.AgentType))
		}
		if seen[report.AgentType] {
			return idiserr.Newf(idiserr.KindInvalidInput, "duplicate report for %s", report.AgentType).WithPath(string(report.AgentType))
		}
		seen[report.AgentType] = true
	}
	for _, required := range RequiredAgentTypes() {
		if !seen[required] {
			return idiserr.Newf(idiserr.KindInvalidInput, "bundle missing %s report", required).WithPath(string(required))
		}
	}

	if req.Scorecard.Routing == RoutingDecline && len(req.Scorecard.DeclineReasons) == 0 {
		return idiserr.New(idiserr.KindInvalidInput, "decline routing requires decline_reasons").WithPath("scorecard.decline_reasons")
	}

	for _, report := range req.Bundle.Reports {
		for _, q := range report.Questions {
			if strings.TrimSpace(q.Topic) == "" || strings.TrimSpace(q.Question) == "" {
				return idiserr.Newf(idiserr.KindInvalidInput, "%s question missing topic or text", report.AgentType).WithPath(string(report.AgentType))
			}
			if !ValidAgentType(q.AgentType) {
				return idiserr.Newf(idiserr.KindInvalidInput, "question carries unknown agent type %q", q.AgentType).WithPath(string(report.AgentType))
			}
		}
	}

	return boundary.NoFreeFacts(factSections(req), registry).Err()
}

// factSections flattens every fact in the request into boundary sections,
// in deterministic traversal order.
func factSections(req Request) []boundary.FactSection {
	var sections []boundary.FactSection
	for _, report := range req.Bundle.Reports {
		prefix := strings.ToLower(string(report.AgentType))
		sections = append(sections, report.Summary.section(prefix+".summary"))
		for i, sec := range report.Sections {
			for j, fact := range sec.Facts {
				sections = append(sections, fact.section(fmt.Sprintf("%s.sections[%d].facts[%d]", prefix, i, j)))
			}
		}
		for i, row := range report.TruthRows {
			sections = append(sections, row.section(fmt.Sprintf("%s.truth_rows[%d]", prefix, i)))
		}
	}
	for i, reason := range req.Scorecard.DeclineReasons {
		sections = append(sections, reason.section(fmt.Sprintf("scorecard.decline_reasons[%d]", i)))
	}
	return sections
}

func (g *Generator) screeningSnapshot(req Request, byType map[AgentType]AgentReport, now time.Time) Deliverable {
	sections := make([]Section, 0, len(RequiredAgentTypes()))
	for _, agent := range RequiredAgentTypes() {
		report := byType[agent]
		sections = append(sections, Section{
			Title: sectionTitle(agent),
			Facts: []Fact{sortedFact(report.Summary)},
		})
	}
	return Deliverable{
		Kind:        KindScreeningSnapshot,
		DealID:      req.Deal.DealID,
		Title:       "Screening Snapshot: " + req.Deal.CompanyName,
		Sections:    sections,
		Appendix:    appendixFor(sections, nil),
		GeneratedAt: now,
	}
}

func (g *Generator) icMemo(req Request, byType map[AgentType]AgentReport, now time.Time) Deliverable {
	var sections []Section
	for _, agent := range RequiredAgentTypes() {
		for _, sec := range byType[agent].Sections {
			facts := make([]Fact, 0, len(sec.Facts))
			for _, fact := range sec.Facts {
				facts = append(facts, sortedFact(fact))
			}
			sections = append(sections, Section{Title: sec.Title, Facts: facts})
		}
	}
	return Deliverable{
		Kind:        KindICMemo,
		DealID:      req.Deal.DealID,
		Title:       "Investment Committee Memo: " + req.Deal.CompanyName,
		Sections:    sections,
		Appendix:    appendixFor(sections, nil),
		GeneratedAt: now,
	}
}

func (g *Generator) truthDashboard(req Request, now time.Time) Deliverable {
	var rows []TruthRow
	for _, report := range req.Bundle.Reports {
		for _, row := range report.TruthRows {
			row.ClaimRefs = sortedRefs(row.ClaimRefs)
			row.CalcRefs = sortedRefs(row.CalcRefs)
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Dimension != rows[j].Dimension {
			return rows[i].Dimension < rows[j].Dimension
		}
		return rows[i].Assertion < rows[j].Assertion
	})
	return Deliverable{
		Kind:        KindTruthDashboard,
		DealID:      req.Deal.DealID,
		Title:       "Truth Dashboard: " + req.Deal.CompanyName,
		TruthRows:   rows,
		Appendix:    appendixFor(nil, rows),
		GeneratedAt: now,
	}
}

func (g *Generator) qaBrief(req Request, now time.Time) Deliverable {
	var items []QAItem
	for _, report := range req.Bundle.Reports {
		items = append(items, report.Questions...)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Topic != items[j].Topic {
			return items[i].Topic < items[j].Topic
		}
		if items[i].AgentType != items[j].AgentType {
			return items[i].AgentType < items[j].AgentType
		}
		return items[i].Question < items[j].Question
	})
	return Deliverable{
		Kind:        KindQABrief,
		DealID:      req.Deal.DealID,
		Title:       "Q&A Brief: " + req.Deal.CompanyName,
		QAItems:     items,
		Appendix:    []AppendixEntry{},
		GeneratedAt: now,
	}
}

func (g *Generator) declineLetter(req Request, now time.Time) Deliverable {
	grounds := make([]Fact, 0, len(req.Scorecard.DeclineReasons))
	for _, reason := range req.Scorecard.DeclineReasons {
		grounds = append(grounds, sortedFact(reason))
	}
	sections := []Section{
		{
			Title: "Decision",
			Facts: []Fact{{
				Text:         fmt.Sprintf("After review, we are passing on %s at this time.", req.Deal.CompanyName),
				IsSubjective: true,
			}},
		},
		{Title: "Grounds", Facts: grounds},
	}
	return Deliverable{
		Kind:        KindDeclineLetter,
		DealID:      req.Deal.DealID,
		Title:       "Decline Letter: " + req.Deal.CompanyName,
		Sections:    sections,
		Appendix:    appendixFor(sections, nil),
		GeneratedAt: now,
	}
}

func (g *Generator) emit(ctx context.Context, tctx tenancy.TenantContext, req Request, bundleID, eventType string, count int, cause error) error {
	severity := audit.SeverityLow
	if cause != nil {
		severity = audit.SeverityHigh
	}
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
			Path:           "/deals/" + req.Deal.DealID + "/deliverables",
			IdempotencyKey: tctx.IdempotencyKey,
		}).
		WithResource("deliverable_bundle", bundleID).
		WithSummary("deliverable generation " + strings.TrimPrefix(eventType, "deliverable.generation.")).
		WithSafe("deal_id", req.Deal.DealID).
		WithSafe("routing", string(req.Scorecard.Routing)).
		WithSafe("report_count", len(req.Bundle.Reports))
	if count > 0 {
		e = e.WithSafe("deliverable_count", count)
	}
	if cause != nil {
		e = e.WithSafe("error_code", errorCode(cause)).
			WithHash("error_sha256", canonical.HashString(cause.Error()))
	}
	e.OccurredAt = g.clock()
	return audit.Emit(ctx, g.sink, e)
}

func errorCode(err error) string {
	if kind := idiserr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "ERROR"
}

func reportsByType(reports []AgentReport) map[AgentType]AgentReport {
	byType := make(map[AgentType]AgentReport, len(reports))
	for _, report := range reports {
		byType[report.AgentType] = report
	}
	return byType
}

func sectionTitle(agent AgentType) string {
	words := strings.Split(strings.ToLower(string(agent)), "_")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// sortedFact copies the fact with its refs in lexicographic order.
func sortedFact(f Fact) Fact {
	f.ClaimRefs = sortedRefs(f.ClaimRefs)
	f.CalcRefs = sortedRefs(f.CalcRefs)
	return f
}

func sortedRefs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	copy(out, refs)
	sort.Strings(out)
	return out
}

// appendixFor enumerates the distinct refs across sections and rows,
// sorted by (ref_type, ref_id).
func appendixFor(sections []Section, rows []TruthRow) []AppendixEntry {
	type key struct{ refType, refID string }
	seen := make(map[key]struct{})
	add := func(refType string, ids []string) {
		for _, id := range ids {
			seen[key{refType, id}] = struct{}{}
		}
	}
	for _, sec := range sections {
		for _, fact := range sec.Facts {
			add("claim", fact.ClaimRefs)
			add("calc", fact.CalcRefs)
		}
	}
	for _, row := range rows {
		add("claim", row.ClaimRefs)
		add("calc", row.CalcRefs)
	}

	entries := make([]AppendixEntry, 0, len(seen))
	for k := range seen {
		entries = append(entries, AppendixEntry{RefType: k.refType, RefID: k.refID})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RefType != entries[j].RefType {
			return entries[i].RefType < entries[j].RefType
		}
		return entries[i].RefID < entries[j].RefID
	})
	return entries
}
