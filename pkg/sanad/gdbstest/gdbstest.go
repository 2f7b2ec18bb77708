// Package gdbstest carries the golden deal benchmark suite: benchmark
// deals with hand-verified grading outcomes, used by end-to-end tests
// across the pipeline. Each deal is a set of claim fixtures pairing the
// registration payload with the grading input that reproduces the
// deal's documented defects and grades. Fixtures are pure data; tests
// own the stores, services and assertions.
package gdbstest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/idis-platform/idis/pkg/claims"
	"github.com/idis-platform/idis/pkg/sanad"
)

// baseTime anchors every chain timestamp so fixtures are byte-stable
// across test runs.
var baseTime = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)

// ClaimFixture pairs one claim's registration payload with the grading
// input that produces its documented outcome. Grading carries no
// identity: tests stamp the tenant and the registered claim id through
// GradingInput.
type ClaimFixture struct {
	// Ref is the claim's stable label inside its deal (C1, C2, ...),
	// kept from the benchmark so tests can address the interesting
	// claim without depending on slice order.
	Ref      string
	Register claims.RegisterRequest
	Grading  sanad.Input
}

// GradingInput returns the grading input bound to the registered claim.
func (c ClaimFixture) GradingInput(tenantID, claimID string) sanad.Input {
	in := c.Grading
	in.TenantID = tenantID
	in.DealID = c.Register.DealID
	in.ClaimID = claimID
	return in
}

// Deal is one benchmark deal.
type Deal struct {
	DealID  string
	Company string
	Claims  []ClaimFixture
}

// Claim returns the fixture labelled ref.
func (d Deal) Claim(ref string) (ClaimFixture, bool) {
	for _, c := range d.Claims {
		if c.Ref == ref {
			return c, true
		}
	}
	return ClaimFixture{}, false
}

func fp(v float64) *float64 { return &v }

func strongDabt() sanad.DabtDimensions {
	return sanad.DabtDimensions{
		Documentation: fp(0.95),
		Transmission:  fp(0.90),
		Temporal:      fp(0.90),
		Cognitive:     fp(0.85),
	}
}

// twoHopChain is the canonical clean custody path: one ingest hop from
// the source system, one extract hop producing the claim.
func twoHopChain(slug, connector, origin string) []sanad.TransmissionNode {
	return []sanad.TransmissionNode{
		{
			NodeID:           "node-" + slug + "-ingest",
			NodeType:         "INGEST",
			ActorType:        "system",
			ActorID:          connector,
			OutputRefs:       []string{"doc-" + slug},
			Timestamp:        baseTime,
			UpstreamOriginID: origin,
		},
		{
			NodeID:           "node-" + slug + "-extract",
			NodeType:         "EXTRACT",
			ActorType:        "agent",
			ActorID:          "extractor-v2",
			InputRefs:        []string{"doc-" + slug},
			OutputRefs:       []string{"claim-" + slug},
			Timestamp:        baseTime.Add(time.Hour),
			PrevNodeID:       "node-" + slug + "-ingest",
			UpstreamOriginID: origin,
		},
	}
}

// Deal001 is the clean deal: seven claims, every sanad carrying a full
// custody chain, no defects, every grade at least B.
func Deal001() Deal {
	const dealID = "deal_001"
	fy25Start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fy25End := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	return Deal{
		DealID:  dealID,
		Company: "Meridian Analytics",
		Claims: []ClaimFixture{
			{
				Ref: "C1",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "FY2025 recognized ARR is USD 4,800,000.",
					Predicate:     "arr",
					Value:         "4800000",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-001-arr",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-audit",
						SourceType:       "audited_financials",
						SourceSystem:     "audit_portal",
						UpstreamOriginID: "origin-meridian-auditor",
						SpanID:           "span-001-arr",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-ledger", SourceType: "accounting_system", SourceSystem: "netsuite", UpstreamOriginID: "origin-meridian-erp"},
						{EvidenceID: "ev-001-bank", SourceType: "bank_statement", SourceSystem: "bank_feed", UpstreamOriginID: "origin-meridian-bank"},
					},
					Chain: twoHopChain("001-arr", "connector-audit", "origin-meridian-auditor"),
					Attestations: []sanad.ValueAttestation{
						{EvidenceID: "ev-001-audit", Tier: sanad.TierAthbatAlNas, Value: decimal.RequireFromString("4800000"), Unit: "USD", PeriodStart: fy25Start, PeriodEnd: fy25End},
						{EvidenceID: "ev-001-ledger", Tier: sanad.TierThiqahThabit, Value: decimal.RequireFromString("4812000"), Unit: "USD", PeriodStart: fy25Start, PeriodEnd: fy25End},
					},
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.94,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C2",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "Cash on hand of USD 2,300,000 as of 2026-01-31.",
					Predicate:     "cash_balance",
					Value:         "2300000",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-001-cash",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-cash-bank",
						SourceType:       "bank_statement",
						SourceSystem:     "bank_feed",
						UpstreamOriginID: "origin-meridian-bank",
						SpanID:           "span-001-cash",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-cash-ledger", SourceType: "accounting_system", SourceSystem: "netsuite", UpstreamOriginID: "origin-meridian-erp"},
					},
					Chain:                twoHopChain("001-cash", "connector-bank", "origin-meridian-bank"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.96,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C3",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "COMMERCIAL",
					ClaimText:     "42 enterprise customers under active contracts.",
					Predicate:     "customer_count",
					Value:         "42",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-001-customers",
				},
				Grading: sanad.Input{
					ClaimClass:  "COMMERCIAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-crm",
						SourceType:       "crm_system",
						SourceSystem:     "salesforce",
						UpstreamOriginID: "origin-meridian-crm",
						SpanID:           "span-001-customers",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-msa", SourceType: "contract_executed", SourceSystem: "docuvault", UpstreamOriginID: "origin-meridian-legal"},
					},
					Chain: twoHopChain("001-customers", "connector-crm", "origin-meridian-crm"),
					Attestations: []sanad.ValueAttestation{
						{EvidenceID: "ev-001-crm", Tier: sanad.TierThiqah, Value: decimal.RequireFromString("42"), Unit: "COUNT"},
						{EvidenceID: "ev-001-msa", Tier: sanad.TierThiqahThabit, Value: decimal.RequireFromString("42"), Unit: "COUNT"},
					},
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.91,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C4",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "LEGAL",
					ClaimText:     "Founders hold 62% of fully diluted equity.",
					Predicate:     "founder_ownership_pct",
					Value:         "62",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-001-captable",
				},
				Grading: sanad.Input{
					ClaimClass:  "LEGAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-carta",
						SourceType:       "cap_table_system",
						SourceSystem:     "carta",
						UpstreamOriginID: "origin-meridian-captable",
						SpanID:           "span-001-captable",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-filing", SourceType: "regulatory_filing", SourceSystem: "registry_feed", UpstreamOriginID: "origin-companies-house"},
					},
					Chain:                twoHopChain("001-captable", "connector-carta", "origin-meridian-captable"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.93,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C5",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "COMMERCIAL",
					ClaimText:     "Largest customer contract runs through 2027-12-31.",
					Predicate:     "top_contract_term_end",
					Value:         "2027-12-31",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-001-contract",
				},
				Grading: sanad.Input{
					ClaimClass:  "COMMERCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-contract",
						SourceType:       "contract_executed",
						SourceSystem:     "docuvault",
						UpstreamOriginID: "origin-meridian-legal",
						SpanID:           "span-001-contract",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-crm-renewal", SourceType: "crm_system", SourceSystem: "salesforce", UpstreamOriginID: "origin-meridian-crm"},
					},
					Chain:                twoHopChain("001-contract", "connector-docuvault", "origin-meridian-legal"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.92,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C6",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "Gross margin of 78% in FY2025.",
					Predicate:     "gross_margin_pct",
					Value:         "78",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-001-margin",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-margin-ledger",
						SourceType:       "accounting_system",
						SourceSystem:     "netsuite",
						UpstreamOriginID: "origin-meridian-erp",
						SpanID:           "span-001-margin",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-margin-audit", SourceType: "audited_financials", SourceSystem: "audit_portal", UpstreamOriginID: "origin-meridian-auditor"},
					},
					Chain: twoHopChain("001-margin", "connector-netsuite", "origin-meridian-erp"),
					Attestations: []sanad.ValueAttestation{
						{EvidenceID: "ev-001-margin-audit", Tier: sanad.TierAthbatAlNas, Value: decimal.RequireFromString("77.6"), Unit: "PCT"},
						{EvidenceID: "ev-001-margin-ledger", Tier: sanad.TierThiqahThabit, Value: decimal.RequireFromString("78"), Unit: "PCT"},
					},
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.95,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C7",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "Net revenue retention of 118% for FY2025.",
					Predicate:     "nrr_pct",
					Value:         "118",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-001-nrr",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-001-nrr-pack",
						SourceType:       "data_room_document",
						SourceSystem:     "dataroom",
						UpstreamOriginID: "origin-meridian-dataroom",
						SpanID:           "span-001-nrr",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-001-nrr-crm", SourceType: "crm_system", SourceSystem: "salesforce", UpstreamOriginID: "origin-meridian-crm"},
					},
					Chain:                twoHopChain("001-nrr", "connector-dataroom", "origin-meridian-dataroom"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.90,
					CollusionRisk:        0.05,
				},
			},
		},
	}
}

// Deal002 is the contradiction deal: the investor deck asserts ARR of
// 5,200,000 while the financial model carries 4,800,000, a gap past the
// FINANCIAL tolerance. C1 grades D with a SHUDHUDH_ANOMALY defect and a
// CONTRADICTED verdict; the other claims stay clean.
func Deal002() Deal {
	const dealID = "deal_002"
	return Deal{
		DealID:  dealID,
		Company: "Helios Logistics",
		Claims: []ClaimFixture{
			{
				Ref: "C1",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "ARR is USD 5,200,000 per the investor deck.",
					Predicate:     "arr",
					Value:         "5200000",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-002-arr",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-002-deck",
						SourceType:       "pitch_deck",
						SourceSystem:     "deck_vault",
						UpstreamOriginID: "origin-helios-founders",
						SpanID:           "span-002-arr",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-002-model", SourceType: "financial_model", SourceSystem: "model_vault", UpstreamOriginID: "origin-helios-finance"},
					},
					Chain: twoHopChain("002-arr", "connector-dataroom", "origin-helios-founders"),
					Attestations: []sanad.ValueAttestation{
						{EvidenceID: "ev-002-deck", Tier: sanad.TierShaykh, Value: decimal.RequireFromString("5200000"), Unit: "USD"},
						{EvidenceID: "ev-002-model", Tier: sanad.TierSaduq, Value: decimal.RequireFromString("4800000"), Unit: "USD"},
					},
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.90,
					CollusionRisk:        0.10,
				},
			},
			{
				Ref: "C2",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "OPERATIONAL",
					ClaimText:     "Fleet utilization of 84% in Q4 2025.",
					Predicate:     "fleet_utilization_pct",
					Value:         "84",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-002-fleet",
				},
				Grading: sanad.Input{
					ClaimClass:  "OPERATIONAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-002-ops",
						SourceType:       "data_room_document",
						SourceSystem:     "dataroom",
						UpstreamOriginID: "origin-helios-ops",
						SpanID:           "span-002-fleet",
					},
					Chain:                twoHopChain("002-fleet", "connector-dataroom", "origin-helios-ops"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.88,
					CollusionRisk:        0.10,
				},
			},
			{
				Ref: "C3",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "Cash runway of 14 months at current burn.",
					Predicate:     "runway_months",
					Value:         "14",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-002-runway",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-002-bank",
						SourceType:       "bank_statement",
						SourceSystem:     "bank_feed",
						UpstreamOriginID: "origin-helios-bank",
						SpanID:           "span-002-runway",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-002-burn-model", SourceType: "financial_model", SourceSystem: "model_vault", UpstreamOriginID: "origin-helios-finance"},
					},
					Chain:                twoHopChain("002-runway", "connector-bank", "origin-helios-bank"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.92,
					CollusionRisk:        0.10,
				},
			},
		},
	}
}

// Deal005 is the missing-evidence deal: C6 was extracted without a
// primary span, so grading raises NO_PRIMARY_EVIDENCE and the claim is
// BLOCKED with action REJECT_NO_FREE_FACTS. The fixture carries the two
// clean claims the deliverable tests cite alongside it.
func Deal005() Deal {
	const dealID = "deal_005"
	return Deal{
		DealID:  dealID,
		Company: "Atlas Biotech",
		Claims: []ClaimFixture{
			{
				Ref: "C1",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "LEGAL",
					ClaimText:     "Lead asset is licensed exclusively from Halvard University through 2040.",
					Predicate:     "license_term_end",
					Value:         "2040",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-005-license",
				},
				Grading: sanad.Input{
					ClaimClass:  "LEGAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-005-license",
						SourceType:       "contract_executed",
						SourceSystem:     "docuvault",
						UpstreamOriginID: "origin-atlas-legal",
						SpanID:           "span-005-license",
					},
					Chain:                twoHopChain("005-license", "connector-docuvault", "origin-atlas-legal"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.93,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C2",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "Grant income of USD 1,100,000 received in FY2025.",
					Predicate:     "grant_income",
					Value:         "1100000",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-005-grants",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-005-bank",
						SourceType:       "bank_statement",
						SourceSystem:     "bank_feed",
						UpstreamOriginID: "origin-atlas-bank",
						SpanID:           "span-005-grants",
					},
					Chain:                twoHopChain("005-grants", "connector-bank", "origin-atlas-bank"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.95,
					CollusionRisk:        0.05,
				},
			},
			{
				// The extractor produced this claim with no primary span,
				// so it registers as not IC-bound and grading has no
				// primary evidence to stand on.
				Ref: "C6",
				Register: claims.RegisterRequest{
					DealID:      dealID,
					ClaimClass:  "OPERATIONAL",
					ClaimText:   "Phase II trial enrollment of 240 patients.",
					Predicate:   "trial_enrollment",
					Value:       "240",
					Materiality: sanad.MaterialityHigh,
				},
				Grading: sanad.Input{
					ClaimClass:           "OPERATIONAL",
					Materiality:          sanad.MaterialityHigh,
					Chain:                twoHopChain("005-trial", "connector-dataroom", "origin-atlas-clinical"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.71,
					CollusionRisk:        0.05,
				},
			},
		},
	}
}

// Deal007 is the chain-break deal: C1's extract hop names a predecessor
// that never reached the chain, an ILAL_CHAIN_BREAK that forces D.
func Deal007() Deal {
	const dealID = "deal_007"
	brokenChain := []sanad.TransmissionNode{
		{
			NodeID:           "node-007-queue-ingest",
			NodeType:         "INGEST",
			ActorType:        "system",
			ActorID:          "connector-registry",
			OutputRefs:       []string{"doc-007-queue"},
			Timestamp:        baseTime,
			UpstreamOriginID: "origin-grid-operator",
		},
		{
			NodeID:           "node-007-queue-extract",
			NodeType:         "EXTRACT",
			ActorType:        "agent",
			ActorID:          "extractor-v2",
			InputRefs:        []string{"doc-007-queue"},
			OutputRefs:       []string{"claim-007-queue"},
			Timestamp:        baseTime.Add(time.Hour),
			PrevNodeID:       "node-007-queue-transform",
			UpstreamOriginID: "origin-grid-operator",
		},
	}
	return Deal{
		DealID:  dealID,
		Company: "Cobalt Grid",
		Claims: []ClaimFixture{
			{
				Ref: "C1",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "OPERATIONAL",
					ClaimText:     "Interconnection queue position 14 for the 200MW site.",
					Predicate:     "queue_position",
					Value:         "14",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-007-queue",
				},
				Grading: sanad.Input{
					ClaimClass:  "OPERATIONAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-007-filing",
						SourceType:       "regulatory_filing",
						SourceSystem:     "registry_feed",
						UpstreamOriginID: "origin-grid-operator",
						SpanID:           "span-007-queue",
					},
					Chain:                brokenChain,
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.90,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C2",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "COMMERCIAL",
					ClaimText:     "Offtake agreement signed for 60% of planned capacity.",
					Predicate:     "offtake_pct",
					Value:         "60",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-007-offtake",
				},
				Grading: sanad.Input{
					ClaimClass:  "COMMERCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-007-offtake",
						SourceType:       "contract_executed",
						SourceSystem:     "docuvault",
						UpstreamOriginID: "origin-cobalt-legal",
						SpanID:           "span-007-offtake",
					},
					Chain:                twoHopChain("007-offtake", "connector-docuvault", "origin-cobalt-legal"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.92,
					CollusionRisk:        0.05,
				},
			},
		},
	}
}

// Deal008 is the version-drift deal: C1 cites version 1 of the data
// room financial summary (ARR 5.5M) while version 2 (ARR 5.8M) exists.
// The MAJOR ILAL_VERSION_DRIFT downgrades one step and leaves the claim
// UNVERIFIED.
func Deal008() Deal {
	const dealID = "deal_008"
	return Deal{
		DealID:  dealID,
		Company: "Vega Systems",
		Claims: []ClaimFixture{
			{
				Ref: "C1",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "FINANCIAL",
					ClaimText:     "ARR of USD 5,500,000 per the data room financial summary.",
					Predicate:     "arr",
					Value:         "5500000",
					Materiality:   sanad.MaterialityHigh,
					ICBound:       true,
					PrimarySpanID: "span-008-arr",
				},
				Grading: sanad.Input{
					ClaimClass:  "FINANCIAL",
					Materiality: sanad.MaterialityHigh,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-008-summary",
						SourceType:       "data_room_document",
						SourceSystem:     "dataroom",
						UpstreamOriginID: "origin-vega-dataroom",
						SpanID:           "span-008-arr",
						CitedDocVersion:  1,
						LatestDocVersion: 2,
					},
					Chain: twoHopChain("008-arr", "connector-dataroom", "origin-vega-dataroom"),
					Attestations: []sanad.ValueAttestation{
						{EvidenceID: "ev-008-summary", Tier: sanad.TierThiqah, Value: decimal.RequireFromString("5500000"), Unit: "USD"},
					},
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.89,
					CollusionRisk:        0.05,
				},
			},
			{
				Ref: "C2",
				Register: claims.RegisterRequest{
					DealID:        dealID,
					ClaimClass:    "OPERATIONAL",
					ClaimText:     "SOC 2 Type II report issued 2025-11-14.",
					Predicate:     "soc2_issued",
					Value:         "2025-11-14",
					Materiality:   sanad.MaterialityMedium,
					ICBound:       true,
					PrimarySpanID: "span-008-soc2",
				},
				Grading: sanad.Input{
					ClaimClass:  "OPERATIONAL",
					Materiality: sanad.MaterialityMedium,
					Primary: sanad.Evidence{
						EvidenceID:       "ev-008-soc2",
						SourceType:       "data_room_document",
						SourceSystem:     "dataroom",
						UpstreamOriginID: "origin-vega-dataroom",
						SpanID:           "span-008-soc2",
					},
					Corroborating: []sanad.Evidence{
						{EvidenceID: "ev-008-attest", SourceType: "customer_reference", SourceSystem: "reference_calls", UpstreamOriginID: "origin-vega-customers"},
					},
					Chain:                twoHopChain("008-soc2", "connector-dataroom", "origin-vega-dataroom"),
					Dabt:                 strongDabt(),
					ExtractionConfidence: 0.90,
					CollusionRisk:        0.05,
				},
			},
		},
	}
}

// AllDeals returns every benchmark deal in id order.
func AllDeals() []Deal {
	return []Deal{Deal001(), Deal002(), Deal005(), Deal007(), Deal008()}
}
