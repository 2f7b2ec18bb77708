//go:build property
// +build property

// Package debate_test contains property-based tests for the debate
// determinism contract.
package debate_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/idis-platform/idis/pkg/debate"
)

func propTopic(deal string, offsetSec int64) debate.Topic {
	return debate.Topic{
		DealID:   deal,
		ClaimIDs: []string{"claim-1"},
		BaseTime: testBase.Add(time.Duration(offsetSec) * time.Second),
	}
}

func TestTrajectoryDeterminism(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100

	properties := gopter.NewProperties(params)

	properties.Property("identical inputs produce identical results", prop.ForAll(
		func(tenantN uint32, deal string, offsetSec int64, confidence float64) bool {
			tctx := testCtx()
			tctx.TenantID = fmt.Sprintf("%08x-0000-4000-8000-000000000000", tenantN)
			topic := propTopic("deal-"+deal, offsetSec)

			first, err := debate.NewOrchestrator(steadyAgents(confidence), debate.DefaultConfig())
			if err != nil {
				return false
			}
			second, err := debate.NewOrchestrator(steadyAgents(confidence), debate.DefaultConfig())
			if err != nil {
				return false
			}

			res1, err := first.Run(context.Background(), tctx, topic)
			if err != nil {
				return false
			}
			res2, err := second.Run(context.Background(), tctx, topic)
			if err != nil {
				return false
			}

			if res1.DebateID != res2.DebateID || len(res1.Outputs) != len(res2.Outputs) {
				return false
			}
			for i := range res1.Outputs {
				a, b := res1.Outputs[i], res2.Outputs[i]
				if a.OutputID != b.OutputID || !a.Timestamp.Equal(b.Timestamp) {
					return false
				}
			}
			for role, hash := range res1.Positions {
				if res2.Positions[role] != hash {
					return false
				}
			}
			return res1.StopReason == res2.StopReason && res1.Rounds == res2.Rounds
		},
		gen.UInt32(),
		gen.Identifier(),
		gen.Int64Range(0, 1<<31),
		gen.Float64Range(0.05, 0.95),
	))

	properties.Property("distinct tenants never share output ids", prop.ForAll(
		func(tenantA, tenantB uint32, deal string) bool {
			if tenantA == tenantB {
				return true
			}
			topic := propTopic("deal-"+deal, 0)

			ctxA := testCtx()
			ctxA.TenantID = fmt.Sprintf("%08x-0000-4000-8000-000000000000", tenantA)
			ctxB := testCtx()
			ctxB.TenantID = fmt.Sprintf("%08x-0000-4000-8000-000000000000", tenantB)

			orch, err := debate.NewOrchestrator(steadyAgents(0.75), debate.DefaultConfig())
			if err != nil {
				return false
			}
			resA, err := orch.Run(context.Background(), ctxA, topic)
			if err != nil {
				return false
			}
			resB, err := orch.Run(context.Background(), ctxB, topic)
			if err != nil {
				return false
			}

			idsA := make(map[string]struct{}, len(resA.Outputs))
			for _, out := range resA.Outputs {
				idsA[out.OutputID] = struct{}{}
			}
			for _, out := range resB.Outputs {
				if _, clash := idsA[out.OutputID]; clash {
					return false
				}
			}
			return resA.DebateID != resB.DebateID
		},
		gen.UInt32(),
		gen.UInt32(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
