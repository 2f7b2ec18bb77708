package calc

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/sanad"
	"github.com/idis-platform/idis/pkg/tenancy"
)

// Input is one named formula argument. ClaimID names the backing claim
// when the value was extracted from evidence; constants leave it empty.
type Input struct {
	Name     string
	Value    decimal.Decimal
	ClaimID  string
	Grade    sanad.Grade
	Material bool
}

// DeterministicCalculation is the stored result of one formula run.
// Re-executing the formula against Inputs must reproduce Output exactly,
// and ReproducibilityHash covers every field that determines it.
type DeterministicCalculation struct {
	CalcID              string                     `json:"calc_id"`
	TenantID            string                     `json:"tenant_id"`
	DealID              string                     `json:"deal_id"`
	CalcType            string                     `json:"calc_type"`
	Inputs              map[string]decimal.Decimal `json:"inputs"`
	FormulaHash         string                     `json:"formula_hash"`
	CodeVersion         string                     `json:"code_version"`
	Output              decimal.Decimal            `json:"output"`
	ReproducibilityHash string                     `json:"reproducibility_hash"`
	ComputedAt          time.Time                  `json:"computed_at"`
}

// CalcSanad binds a calculation to the grades of its input claims.
type CalcSanad struct {
	CalcSanadID   string                   `json:"calc_sanad_id"`
	TenantID      string                   `json:"tenant_id"`
	DealID        string                   `json:"deal_id"`
	CalcID        string                   `json:"calc_id"`
	InputClaimIDs []string                 `json:"input_claim_ids"`
	InputMinGrade sanad.Grade              `json:"input_min_sanad_grade"`
	CalcGrade     sanad.Grade              `json:"calc_grade"`
	Explanation   []sanad.ExplanationEntry `json:"explanation"`
	CreatedAt     time.Time                `json:"created_at"`
}

// ClaimChecker answers whether a cited claim exists in the deal's
// registry. Used by the strict extraction gate.
type ClaimChecker interface {
	HasClaim(ctx context.Context, tenantID, dealID, claimID string) (bool, error)
}

// Engine executes registered formulas deterministically.
type Engine struct {
	registry *Registry
	checker  ClaimChecker
	clock    func() time.Time
	newID    func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithIDFunc overrides id generation, for tests.
func WithIDFunc(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// WithStrictExtraction turns on the extraction gate: every input that
// cites a claim must resolve against the checker before execution.
func WithStrictExtraction(checker ClaimChecker) EngineOption {
	return func(e *Engine) { e.checker = checker }
}

// NewEngine wires an engine over a formula registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunRequest names the formula and supplies its inputs.
type RunRequest struct {
	DealID   string
	CalcType string
	Inputs   []Input
}

// Run executes the formula, rounds half-even at the formula's scale, and
// returns the stamped calculation with its grade-propagating sanad.
func (e *Engine) Run(ctx context.Context, tctx tenancy.TenantContext, req RunRequest) (*DeterministicCalculation, *CalcSanad, error) {
	if err := tctx.Validate(); err != nil {
		return nil, nil, err
	}
	formula, ok := e.registry.Get(req.CalcType)
	if !ok {
		return nil, nil, idiserr.New(idiserr.KindNotFound, "unknown calc_type "+req.CalcType)
	}

	byName, err := indexInputs(formula, req.Inputs)
	if err != nil {
		return nil, nil, err
	}
	if e.checker != nil {
		if err := e.checkCitations(ctx, tctx.TenantID, req.DealID, req.Inputs); err != nil {
			return nil, nil, err
		}
	}

	values := make(map[string]decimal.Decimal, len(byName))
	for name, in := range byName {
		values[name] = in.Value
	}
	raw, err := formula.Fn(values)
	if err != nil {
		return nil, nil, err
	}
	output := raw.RoundBank(formula.Scale)

	calc := &DeterministicCalculation{
		CalcID:      e.newID(),
		TenantID:    tctx.TenantID,
		DealID:      req.DealID,
		CalcType:    req.CalcType,
		Inputs:      values,
		FormulaHash: formula.Hash(),
		CodeVersion: formula.CodeVersion,
		Output:      output,
		ComputedAt:  e.clock(),
	}
	calc.ReproducibilityHash, err = reproHash(calc)
	if err != nil {
		return nil, nil, err
	}

	cs := e.deriveSanad(tctx.TenantID, req.DealID, calc.CalcID, req.Inputs)
	return calc, cs, nil
}

// VerifyReproducibility recomputes the hash from the stored fields.
// Any field mutation since Run yields CALC_INTEGRITY.
func VerifyReproducibility(calc *DeterministicCalculation) error {
	if calc == nil {
		return idiserr.New(idiserr.KindInvalidInput, "nil calculation")
	}
	want, err := reproHash(calc)
	if err != nil {
		return err
	}
	if want != calc.ReproducibilityHash {
		return idiserr.New(idiserr.KindCalcIntegrity,
			"reproducibility hash mismatch for calc "+calc.CalcID).WithPath(calc.CalcType)
	}
	return nil
}

// reproPayload is the canonical serialisation the hash covers. Decimals
// render as their minimal string form; JCS orders the input names.
type reproPayload struct {
	CalcType    string            `json:"calc_type"`
	Inputs      map[string]string `json:"inputs"`
	Output      string            `json:"output"`
	FormulaHash string            `json:"formula_hash"`
	CodeVersion string            `json:"code_version"`
}

func reproHash(calc *DeterministicCalculation) (string, error) {
	inputs := make(map[string]string, len(calc.Inputs))
	for name, v := range calc.Inputs {
		inputs[name] = v.String()
	}
	return canonical.Hash(reproPayload{
		CalcType:    calc.CalcType,
		Inputs:      inputs,
		Output:      calc.Output.String(),
		FormulaHash: calc.FormulaHash,
		CodeVersion: calc.CodeVersion,
	})
}

func indexInputs(formula Formula, inputs []Input) (map[string]Input, error) {
	byName := make(map[string]Input, len(inputs))
	for _, in := range inputs {
		if _, dup := byName[in.Name]; dup {
			return nil, idiserr.New(idiserr.KindInvalidInput, "duplicate input "+in.Name).WithPath(formula.CalcType)
		}
		byName[in.Name] = in
	}
	required := make(map[string]struct{}, len(formula.Inputs))
	for _, name := range formula.Inputs {
		required[name] = struct{}{}
		if _, ok := byName[name]; !ok {
			return nil, idiserr.New(idiserr.KindInvalidInput, "missing input "+name).WithPath(formula.CalcType)
		}
	}
	for name := range byName {
		if _, ok := required[name]; !ok {
			return nil, idiserr.New(idiserr.KindInvalidInput, "unexpected input "+name).WithPath(formula.CalcType)
		}
	}
	return byName, nil
}

func (e *Engine) checkCitations(ctx context.Context, tenantID, dealID string, inputs []Input) error {
	for _, in := range inputs {
		if in.ClaimID == "" {
			continue
		}
		ok, err := e.checker.HasClaim(ctx, tenantID, dealID, in.ClaimID)
		if err != nil {
			return err
		}
		if !ok {
			return idiserr.New(idiserr.KindNoFreeFacts,
				"input "+in.Name+" cites unknown claim "+in.ClaimID).WithPath(in.Name)
		}
	}
	return nil
}

// deriveSanad propagates input grades. The minimum over all graded
// inputs is recorded for the explanation; the calc grade is the minimum
// over material inputs only. Inputs that are material but ungraded fail
// closed to D, and a calc with no material inputs fails closed to D.
func (e *Engine) deriveSanad(tenantID, dealID, calcID string, inputs []Input) *CalcSanad {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	cs := &CalcSanad{
		CalcSanadID: e.newID(),
		TenantID:    tenantID,
		DealID:      dealID,
		CalcID:      calcID,
		CreatedAt:   e.clock(),
	}

	minAll := sanad.Grade("")
	calcGrade := sanad.Grade("")
	materialSeen := false
	for _, in := range sorted {
		grade := in.Grade
		if !sanad.ValidGrade(grade) {
			grade = sanad.GradeD
		}
		entry := sanad.ExplanationEntry{
			Step:    "INPUT_GRADE",
			ClaimID: in.ClaimID,
			Detail:  in.Name + " grade " + string(grade),
		}
		switch {
		case !in.Material:
			entry.Impact = "excluded from calc_grade"
		case !sanad.ValidGrade(in.Grade):
			entry.Impact = "ungraded material input fails closed to D"
		default:
			entry.Impact = "counted"
		}
		cs.Explanation = append(cs.Explanation, entry)

		if in.ClaimID != "" {
			cs.InputClaimIDs = append(cs.InputClaimIDs, in.ClaimID)
		}
		if minAll == "" {
			minAll = grade
		} else {
			minAll = sanad.MinGrade(minAll, grade)
		}
		if in.Material {
			materialSeen = true
			if calcGrade == "" {
				calcGrade = grade
			} else {
				calcGrade = sanad.MinGrade(calcGrade, grade)
			}
		}
	}

	if minAll == "" {
		minAll = sanad.GradeD
	}
	calcDetail := "minimum grade across material inputs"
	if !materialSeen {
		calcGrade = sanad.GradeD
		calcDetail = "no material inputs, fails closed"
	}
	cs.InputMinGrade = minAll
	cs.CalcGrade = calcGrade
	cs.Explanation = append(cs.Explanation,
		sanad.ExplanationEntry{Step: "INPUT_MIN", Detail: "minimum grade across all inputs", Impact: string(minAll)},
		sanad.ExplanationEntry{Step: "CALC_GRADE", Detail: calcDetail, Impact: string(calcGrade)},
	)
	return cs
}
