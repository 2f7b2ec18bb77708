// Package graph maintains the redis-backed projection of the
// provenance graph: deal → claim → sanad → evidence edges plus
// per-deal grade rollups. The relational store is the source of truth;
// this projection exists for traversal queries and is only ever
// written from inside a dual-write saga, so both stores move together
// or not at all.
package graph

import (
	"context"
	"regexp"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/idis-platform/idis/pkg/claims"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
)

var tenantRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Projection is the graph store client. Safe for concurrent use.
type Projection struct {
	client redis.UniversalClient
}

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewProjection connects to redis.
func NewProjection(opts Options) *Projection {
	return &Projection{client: redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

// NewProjectionFromClient adopts an existing client, for tests.
func NewProjectionFromClient(client redis.UniversalClient) *Projection {
	return &Projection{client: client}
}

// Close releases the connection pool.
func (p *Projection) Close() error { return p.client.Close() }

// Ping verifies connectivity.
func (p *Projection) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Key layout, all tenant-prefixed:
//
//	idis:<tenant>:deal:<deal>:claims    set of claim ids
//	idis:<tenant>:claim:<claim>         hash: deal_id, claim_class, grade, verdict, sanad_id, materiality
//	idis:<tenant>:sanad:<sanad>         hash: claim_id, deal_id, grade, corroboration_status, dhabt_score
//	idis:<tenant>:sanad:<sanad>:ev      set of evidence ids backing the sanad
func dealClaimsKey(tenant, deal string) string { return "idis:" + tenant + ":deal:" + deal + ":claims" }
func claimKey(tenant, claim string) string     { return "idis:" + tenant + ":claim:" + claim }
func sanadKey(tenant, s string) string         { return "idis:" + tenant + ":sanad:" + s }
func sanadEvidenceKey(tenant, s string) string { return "idis:" + tenant + ":sanad:" + s + ":ev" }

func validTenant(tenantID string) error {
	if !tenantRE.MatchString(tenantID) {
		return idiserr.Newf(idiserr.KindInvalidInput, "graph: tenant id %q is not UUID-shaped", tenantID).WithPath("tenant_id")
	}
	return nil
}

// ProjectClaim writes the claim node and its deal edge. Implements
// claims.GraphProjector; the write is atomic so a saga compensation
// never sees half a node.
func (p *Projection) ProjectClaim(ctx context.Context, c claims.Claim) error {
	if err := validTenant(c.TenantID); err != nil {
		return err
	}
	if c.ClaimID == "" || c.DealID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "graph: claim_id and deal_id are required")
	}
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, claimKey(c.TenantID, c.ClaimID), map[string]any{
			"deal_id":     c.DealID,
			"claim_class": c.ClaimClass,
			"grade":       string(c.Grade),
			"verdict":     string(c.Verdict),
			"sanad_id":    c.SanadID,
			"materiality": string(c.Materiality),
		})
		pipe.SAdd(ctx, dealClaimsKey(c.TenantID, c.DealID), c.ClaimID)
		return nil
	})
	if err != nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: project claim %s", c.ClaimID)
	}
	return nil
}

// RemoveClaim deletes the claim node and its deal edge. Used by saga
// compensation when the relational write must be unwound.
func (p *Projection) RemoveClaim(ctx context.Context, tenantID, claimID string) error {
	if err := validTenant(tenantID); err != nil {
		return err
	}
	dealID, err := p.client.HGet(ctx, claimKey(tenantID, claimID), "deal_id").Result()
	if err != nil && err != redis.Nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: read claim %s", claimID)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, claimKey(tenantID, claimID))
		if dealID != "" {
			pipe.SRem(ctx, dealClaimsKey(tenantID, dealID), claimID)
		}
		return nil
	})
	if err != nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: remove claim %s", claimID)
	}
	return nil
}

// ProjectSanad writes the sanad node, its evidence edges, and the
// claim → sanad edge.
func (p *Projection) ProjectSanad(ctx context.Context, sn sanad.Sanad) error {
	if err := validTenant(sn.TenantID); err != nil {
		return err
	}
	if sn.SanadID == "" || sn.ClaimID == "" {
		return idiserr.New(idiserr.KindInvalidInput, "graph: sanad_id and claim_id are required")
	}
	evidence := make([]any, 0, 1+len(sn.CorroboratingEvidenceIDs))
	if sn.PrimaryEvidenceID != "" {
		evidence = append(evidence, sn.PrimaryEvidenceID)
	}
	for _, id := range sn.CorroboratingEvidenceIDs {
		evidence = append(evidence, id)
	}
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sanadKey(sn.TenantID, sn.SanadID), map[string]any{
			"claim_id":             sn.ClaimID,
			"deal_id":              sn.DealID,
			"grade":                string(sn.SanadGrade),
			"corroboration_status": string(sn.CorroborationStatus),
			"dhabt_score":          strconv.FormatFloat(sn.DabtScore, 'f', -1, 64),
		})
		if len(evidence) > 0 {
			pipe.SAdd(ctx, sanadEvidenceKey(sn.TenantID, sn.SanadID), evidence...)
		}
		pipe.HSet(ctx, claimKey(sn.TenantID, sn.ClaimID), "sanad_id", sn.SanadID)
		return nil
	})
	if err != nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: project sanad %s", sn.SanadID)
	}
	return nil
}

// RemoveSanad deletes the sanad node and evidence edges, and clears
// the claim's sanad edge when it still points here.
func (p *Projection) RemoveSanad(ctx context.Context, tenantID, sanadID string) error {
	if err := validTenant(tenantID); err != nil {
		return err
	}
	claimID, err := p.client.HGet(ctx, sanadKey(tenantID, sanadID), "claim_id").Result()
	if err != nil && err != redis.Nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: read sanad %s", sanadID)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sanadKey(tenantID, sanadID), sanadEvidenceKey(tenantID, sanadID))
		if claimID != "" {
			pipe.HSet(ctx, claimKey(tenantID, claimID), "sanad_id", "")
		}
		return nil
	})
	if err != nil {
		return idiserr.Wrapf(idiserr.KindConflict, err, "graph: remove sanad %s", sanadID)
	}
	return nil
}

// ClaimNode is the projected view of one claim.
type ClaimNode struct {
	ClaimID     string `json:"claim_id"`
	DealID      string `json:"deal_id"`
	ClaimClass  string `json:"claim_class"`
	Grade       string `json:"grade"`
	Verdict     string `json:"verdict"`
	SanadID     string `json:"sanad_id,omitempty"`
	Materiality string `json:"materiality"`
}

// GetClaim reads one projected claim. Missing nodes are NOT_FOUND,
// cross-tenant reads included.
func (p *Projection) GetClaim(ctx context.Context, tenantID, claimID string) (ClaimNode, error) {
	if err := validTenant(tenantID); err != nil {
		return ClaimNode{}, err
	}
	fields, err := p.client.HGetAll(ctx, claimKey(tenantID, claimID)).Result()
	if err != nil {
		return ClaimNode{}, idiserr.Wrapf(idiserr.KindConflict, err, "graph: read claim %s", claimID)
	}
	if len(fields) == 0 {
		return ClaimNode{}, idiserr.Newf(idiserr.KindNotFound, "claim %s not found", claimID)
	}
	return ClaimNode{
		ClaimID:     claimID,
		DealID:      fields["deal_id"],
		ClaimClass:  fields["claim_class"],
		Grade:       fields["grade"],
		Verdict:     fields["verdict"],
		SanadID:     fields["sanad_id"],
		Materiality: fields["materiality"],
	}, nil
}

// EvidenceForSanad returns the evidence ids behind a sanad, sorted.
func (p *Projection) EvidenceForSanad(ctx context.Context, tenantID, sanadID string) ([]string, error) {
	if err := validTenant(tenantID); err != nil {
		return nil, err
	}
	ids, err := p.client.SMembers(ctx, sanadEvidenceKey(tenantID, sanadID)).Result()
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindConflict, err, "graph: evidence for sanad %s", sanadID)
	}
	sort.Strings(ids)
	return ids, nil
}

// DealRollup aggregates a deal's projected claims by grade and verdict.
type DealRollup struct {
	DealID     string         `json:"deal_id"`
	ClaimCount int            `json:"claim_count"`
	ByGrade    map[string]int `json:"by_grade"`
	ByVerdict  map[string]int `json:"by_verdict"`
}

// RollupDeal walks the deal's claim set and counts grades and
// verdicts. Reads are pipelined; the result is deterministic because
// counting is order-free.
func (p *Projection) RollupDeal(ctx context.Context, tenantID, dealID string) (DealRollup, error) {
	if err := validTenant(tenantID); err != nil {
		return DealRollup{}, err
	}
	claimIDs, err := p.client.SMembers(ctx, dealClaimsKey(tenantID, dealID)).Result()
	if err != nil {
		return DealRollup{}, idiserr.Wrapf(idiserr.KindConflict, err, "graph: claims for deal %s", dealID)
	}
	sort.Strings(claimIDs)

	rollup := DealRollup{
		DealID:     dealID,
		ClaimCount: len(claimIDs),
		ByGrade:    map[string]int{},
		ByVerdict:  map[string]int{},
	}
	if len(claimIDs) == 0 {
		return rollup, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(claimIDs))
	for i, id := range claimIDs {
		cmds[i] = pipe.HGetAll(ctx, claimKey(tenantID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return DealRollup{}, idiserr.Wrapf(idiserr.KindConflict, err, "graph: rollup deal %s", dealID)
	}
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rollup.ByGrade[fields["grade"]]++
		rollup.ByVerdict[fields["verdict"]]++
	}
	return rollup, nil
}
