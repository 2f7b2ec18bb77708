package debate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/boundary"
	"github.com/idis-platform/idis/pkg/debate"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/tenancy"
)

const (
	testTenant = "88888888-8888-4888-8888-888888888888"
	testDeal   = "deal-001"
)

var testBase = time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)

func testCtx() tenancy.TenantContext {
	return tenancy.TenantContext{
		TenantID:  testTenant,
		ActorID:   "analyst-1",
		ActorType: "user",
		Roles:     []tenancy.Role{tenancy.RoleAnalyst},
		RequestID: "req-1",
	}
}

func testTopic() debate.Topic {
	return debate.Topic{
		DealID:   testDeal,
		ClaimIDs: []string{"claim-1", "claim-2"},
		BaseTime: testBase,
	}
}

type agentFunc func(ctx context.Context, st *debate.State, turn debate.Turn) (boundary.AgentOutput, error)

func (f agentFunc) Respond(ctx context.Context, st *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
	return f(ctx, st, turn)
}

// respond builds a gate-clean output bound to the turn.
func respond(turn debate.Turn, confidence float64, content map[string]any) boundary.AgentOutput {
	if content == nil {
		content = map[string]any{"position": string(turn.Role)}
	}
	return boundary.AgentOutput{
		Content: content,
		Muhasabah: &boundary.MuhasabahRecord{
			OutputID:          turn.OutputID,
			SupportedClaimIDs: []string{"claim-1"},
			EvidenceSummary:   "grounded in claim-1",
			Uncertainties:     []string{"limited sample"},
			Confidence:        confidence,
		},
	}
}

// steady holds the same position every round.
func steady(confidence float64) debate.RoleAgent {
	return agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		return respond(turn, confidence, nil), nil
	})
}

// drifting shifts its position every round.
func drifting(confidence float64) debate.RoleAgent {
	return agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		content := map[string]any{"position": fmt.Sprintf("%s round %d", turn.Role, turn.Round)}
		return respond(turn, confidence, content), nil
	})
}

func steadyAgents(confidence float64) map[debate.Role]debate.RoleAgent {
	agents := make(map[debate.Role]debate.RoleAgent)
	for _, role := range debate.Roles() {
		agents[role] = steady(confidence)
	}
	return agents
}

// dissenting spreads confidences wide enough to defeat consensus.
func dissentingAgents(build func(float64) debate.RoleAgent) map[debate.Role]debate.RoleAgent {
	confs := map[debate.Role]float64{
		debate.RoleAdvocate:            0.90,
		debate.RoleSanadBreaker:        0.50,
		debate.RoleContradictionFinder: 0.70,
		debate.RoleRiskOfficer:         0.60,
		debate.RoleArbiter:             0.80,
	}
	agents := make(map[debate.Role]debate.RoleAgent)
	for role, c := range confs {
		agents[role] = build(c)
	}
	return agents
}

func mustOrchestrator(t *testing.T, agents map[debate.Role]debate.RoleAgent, cfg debate.Config, opts ...debate.Option) *debate.Orchestrator {
	t.Helper()
	o, err := debate.NewOrchestrator(agents, cfg, opts...)
	require.NoError(t, err)
	return o
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*debate.Config)
	}{
		{"zero rounds", func(c *debate.Config) { c.MaxRounds = 0 }},
		{"above hard cap", func(c *debate.Config) { c.MaxRounds = 6 }},
		{"zero spread", func(c *debate.Config) { c.ConsensusSpread = 0 }},
		{"spread of one", func(c *debate.Config) { c.ConsensusSpread = 1 }},
		{"dissent window of one", func(c *debate.Config) { c.StableDissentRounds = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := debate.DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

			_, err = debate.NewOrchestrator(steadyAgents(0.75), cfg)
			assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
		})
	}

	assert.NoError(t, debate.DefaultConfig().Validate())
}

func TestRun_ConsensusAfterOneRound(t *testing.T) {
	orch := mustOrchestrator(t, steadyAgents(0.75), debate.DefaultConfig())

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, debate.StopConsensus, res.StopReason)
	assert.Equal(t, 1, res.Rounds)
	require.Len(t, res.Outputs, 6)

	roles := make([]debate.Role, 0, 6)
	for _, out := range res.Outputs {
		roles = append(roles, debate.Role(out.Role))
		assert.Equal(t, 1, out.RoundNumber)
	}
	assert.Equal(t, []debate.Role{
		debate.RoleAdvocate, debate.RoleSanadBreaker,
		debate.RoleContradictionFinder, debate.RoleRiskOfficer,
		debate.RoleAdvocate, debate.RoleArbiter,
	}, roles)

	assert.True(t, res.Outputs[0].Timestamp.Equal(testBase))
	assert.True(t, res.Outputs[4].Timestamp.Equal(testBase.Add(4*time.Second)))
	assert.True(t, res.Outputs[5].Timestamp.Equal(testBase.Add(6*time.Second)), "arbiter keeps its slot even without an evidence call")

	nodes := make([]debate.Node, 0, len(res.Trace))
	for _, entry := range res.Trace {
		nodes = append(nodes, entry.Node)
	}
	assert.Equal(t, []debate.Node{
		debate.NodeAdvocateOpening, debate.NodeSanadBreakerChallenge,
		debate.NodeObserverCritiques, debate.NodeObserverCritiques,
		debate.NodeAdvocateRebuttal, debate.NodeArbiterClose,
		debate.NodeStopCheck, debate.NodeValidateAll, debate.NodeFinalize,
	}, nodes)

	seen := make(map[string]bool)
	for _, out := range res.Outputs {
		_, err := uuid.Parse(out.OutputID)
		assert.NoError(t, err)
		assert.False(t, seen[out.OutputID], "output ids are unique")
		seen[out.OutputID] = true
	}
	assert.Len(t, res.Positions, 5)
}

func TestRun_ObserversKeepFixedSubOrder(t *testing.T) {
	var order []debate.Role
	agents := steadyAgents(0.75)
	for _, role := range []debate.Role{debate.RoleContradictionFinder, debate.RoleRiskOfficer} {
		role := role
		agents[role] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
			order = append(order, role)
			return respond(turn, 0.75, nil), nil
		})
	}
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	_, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)
	assert.Equal(t, []debate.Role{debate.RoleContradictionFinder, debate.RoleRiskOfficer}, order)
}

func TestRun_GateDenialHaltsWithDetails(t *testing.T) {
	agents := steadyAgents(0.75)
	agents[debate.RoleSanadBreaker] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		out := respond(turn, 0.95, nil)
		out.Muhasabah.Uncertainties = nil
		return out, nil
	})
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, debate.StopCriticalDefect, res.StopReason)
	assert.Equal(t, 1, res.Rounds)
	require.NotNil(t, res.GateFailure)
	assert.Equal(t, debate.RoleSanadBreaker, res.GateFailure.Role)
	assert.Equal(t, debate.NodeSanadBreakerChallenge, res.GateFailure.Node)
	assert.Equal(t, boundary.DenyOverconfident, res.GateFailure.Decision.Code)

	require.Len(t, res.Outputs, 1, "the denied output never enters state")
	assert.Equal(t, string(debate.RoleAdvocate), res.Outputs[0].Role)
	for _, out := range res.Outputs {
		assert.NotEqual(t, res.GateFailure.Output.OutputID, out.OutputID)
	}
}

func TestRun_CriticalDefectFlagStops(t *testing.T) {
	agents := dissentingAgents(drifting)
	agents[debate.RoleSanadBreaker] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		content := map[string]any{
			"position":         "chain is broken",
			"critical_defects": []string{"ILAL_CHAIN_BREAK"},
		}
		return respond(turn, 0.50, content), nil
	})
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, debate.StopCriticalDefect, res.StopReason)
	assert.Equal(t, 1, res.Rounds)
	assert.Nil(t, res.GateFailure)
	assert.Equal(t, res.Outputs[1].OutputID, res.FlaggedOutputID, "the breaker's flag stopped the debate")
}

func TestRun_GradeDMaterialFlagStops(t *testing.T) {
	agents := dissentingAgents(drifting)
	agents[debate.RoleRiskOfficer] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		content := map[string]any{
			"position":                   "material claim failed grading",
			"grade_d_material_claim_ids": []any{"claim-2"},
		}
		return respond(turn, 0.60, content), nil
	})
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)
	assert.Equal(t, debate.StopCriticalDefect, res.StopReason)
	assert.Equal(t, res.Outputs[3].OutputID, res.FlaggedOutputID)
}

func TestRun_MaxRoundsCap(t *testing.T) {
	cfg := debate.DefaultConfig()
	cfg.MaxRounds = 2
	orch := mustOrchestrator(t, dissentingAgents(drifting), cfg)

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, debate.StopMaxRounds, res.StopReason)
	assert.Equal(t, 2, res.Rounds)
	assert.Len(t, res.Outputs, 12)
}

func TestRun_StableDissent(t *testing.T) {
	orch := mustOrchestrator(t, dissentingAgents(steady), debate.DefaultConfig())

	res, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, debate.StopStableDissent, res.StopReason)
	assert.Equal(t, 2, res.Rounds, "two identical snapshots end the standoff")
}

type fakeRetriever struct {
	items     []string
	err       error
	calls     int
	lastQuery string
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _, query string) ([]string, error) {
	f.calls++
	f.lastQuery = query
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

// evidenceAgents raise one evidence request in round one and keep an open
// question on the table.
func evidenceAgents() map[debate.Role]debate.RoleAgent {
	agents := dissentingAgents(drifting)
	agents[debate.RoleAdvocate] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		content := map[string]any{"position": fmt.Sprintf("thesis round %d", turn.Round)}
		if turn.Node == debate.NodeAdvocateOpening && turn.Round == 1 {
			content["evidence_request"] = "arr ledger history"
		}
		return respond(turn, 0.90, content), nil
	})
	agents[debate.RoleArbiter] = agentFunc(func(_ context.Context, _ *debate.State, turn debate.Turn) (boundary.AgentOutput, error) {
		content := map[string]any{
			"position":       fmt.Sprintf("undecided round %d", turn.Round),
			"open_questions": []string{"why did churn spike in q3"},
		}
		return respond(turn, 0.80, content), nil
	})
	return agents
}

func TestRun_EvidenceExhausted(t *testing.T) {
	retriever := &fakeRetriever{items: []string{"ev-1"}}
	topic := testTopic()
	topic.KnownEvidenceIDs = []string{"ev-1"}
	orch := mustOrchestrator(t, evidenceAgents(), debate.DefaultConfig(), debate.WithRetriever(retriever))

	res, err := orch.Run(context.Background(), testCtx(), topic)
	require.NoError(t, err)

	assert.Equal(t, debate.StopEvidenceExhausted, res.StopReason)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, "arr ledger history", retriever.lastQuery)
	assert.Equal(t, []string{"why did churn spike in q3"}, res.OpenQuestions)

	var sawRetrieval bool
	for _, entry := range res.Trace {
		if entry.Node == debate.NodeEvidenceCall {
			sawRetrieval = true
			assert.True(t, entry.At.Equal(testBase.Add(5*time.Second)))
		}
	}
	assert.True(t, sawRetrieval)
}

func TestRun_NewEvidenceKeepsDebating(t *testing.T) {
	retriever := &fakeRetriever{items: []string{"ev-2"}}
	topic := testTopic()
	topic.KnownEvidenceIDs = []string{"ev-1"}
	cfg := debate.DefaultConfig()
	cfg.MaxRounds = 2
	orch := mustOrchestrator(t, evidenceAgents(), cfg, debate.WithRetriever(retriever))

	res, err := orch.Run(context.Background(), testCtx(), topic)
	require.NoError(t, err)

	assert.Equal(t, debate.StopMaxRounds, res.StopReason, "fresh evidence defeats the exhaustion stop")
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, retriever.calls, "only round one raised a request")
}

func TestRun_RetrieverErrorPropagates(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("index offline")}
	orch := mustOrchestrator(t, evidenceAgents(), debate.DefaultConfig(), debate.WithRetriever(retriever))

	_, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index offline")
}

func TestRun_RequestWithoutRetrieverFailsClosed(t *testing.T) {
	orch := mustOrchestrator(t, evidenceAgents(), debate.DefaultConfig())

	_, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "no retriever configured")
}

func TestRun_MissingAgent(t *testing.T) {
	agents := steadyAgents(0.75)
	delete(agents, debate.RoleArbiter)
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	_, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "arbiter agent not provided")
}

func TestRun_InvalidTopic(t *testing.T) {
	orch := mustOrchestrator(t, steadyAgents(0.75), debate.DefaultConfig())

	topic := testTopic()
	topic.DealID = "  "
	_, err := orch.Run(context.Background(), testCtx(), topic)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	topic = testTopic()
	topic.BaseTime = time.Time{}
	_, err = orch.Run(context.Background(), testCtx(), topic)
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestRun_AgentErrorPropagates(t *testing.T) {
	agents := steadyAgents(0.75)
	agents[debate.RoleAdvocate] = agentFunc(func(_ context.Context, _ *debate.State, _ debate.Turn) (boundary.AgentOutput, error) {
		return boundary.AgentOutput{}, errors.New("model timeout")
	})
	orch := mustOrchestrator(t, agents, debate.DefaultConfig())

	_, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model timeout")
}

func TestRun_CancelledContext(t *testing.T) {
	orch := mustOrchestrator(t, steadyAgents(0.75), debate.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Run(ctx, testCtx(), testTopic())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))
}

func TestRun_IdenticalInputsIdenticalTrajectories(t *testing.T) {
	first := mustOrchestrator(t, dissentingAgents(steady), debate.DefaultConfig())
	second := mustOrchestrator(t, dissentingAgents(steady), debate.DefaultConfig())

	res1, err := first.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)
	res2, err := second.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	assert.Equal(t, res1, res2)
}

func TestRun_DistinctTenantsDistinctIDs(t *testing.T) {
	orch := mustOrchestrator(t, steadyAgents(0.75), debate.DefaultConfig())

	res1, err := orch.Run(context.Background(), testCtx(), testTopic())
	require.NoError(t, err)

	other := testCtx()
	other.TenantID = "99999999-9999-4999-8999-999999999999"
	res2, err := orch.Run(context.Background(), other, testTopic())
	require.NoError(t, err)

	assert.NotEqual(t, res1.DebateID, res2.DebateID)
	for i := range res1.Outputs {
		assert.NotEqual(t, res1.Outputs[i].OutputID, res2.Outputs[i].OutputID)
	}
}
