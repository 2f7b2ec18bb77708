// Package calc is the deterministic calculation engine. Formulas are
// registered once at startup; every run stamps a reproducibility hash so
// any later mutation of a stored calculation is detectable.
package calc

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Fn is a pure formula body. It receives the validated input values and
// returns the unrounded result; the engine applies the formula's scale.
type Fn func(inputs map[string]decimal.Decimal) (decimal.Decimal, error)

// Formula is one registered calculation type.
type Formula struct {
	CalcType    string
	Inputs      []string // required input names, no extras accepted
	Scale       int32    // output rounded half-even to this many places
	SourceText  string   // sha256 of this text is the formula hash
	CodeVersion string
	Fn          Fn
}

// Hash returns the sha256 hex digest of the formula source text.
func (f Formula) Hash() string {
	sum := sha256.Sum256([]byte(f.SourceText))
	return hex.EncodeToString(sum[:])
}

func (f Formula) validate() error {
	if strings.TrimSpace(f.CalcType) == "" {
		return idiserr.New(idiserr.KindInvalidInput, "calc_type is required")
	}
	if len(f.Inputs) == 0 {
		return idiserr.New(idiserr.KindInvalidInput, "formula declares no inputs").WithPath(f.CalcType)
	}
	if strings.TrimSpace(f.SourceText) == "" {
		return idiserr.New(idiserr.KindInvalidInput, "formula source text is required").WithPath(f.CalcType)
	}
	if strings.TrimSpace(f.CodeVersion) == "" {
		return idiserr.New(idiserr.KindInvalidInput, "code_version is required").WithPath(f.CalcType)
	}
	if f.Fn == nil {
		return idiserr.New(idiserr.KindInvalidInput, "formula fn is required").WithPath(f.CalcType)
	}
	if f.Scale < 0 {
		return idiserr.New(idiserr.KindInvalidInput, "scale must be non-negative").WithPath(f.CalcType)
	}
	seen := make(map[string]struct{}, len(f.Inputs))
	for _, name := range f.Inputs {
		if strings.TrimSpace(name) == "" {
			return idiserr.New(idiserr.KindInvalidInput, "empty input name").WithPath(f.CalcType)
		}
		if _, dup := seen[name]; dup {
			return idiserr.New(idiserr.KindInvalidInput, "duplicate input name "+name).WithPath(f.CalcType)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Registry maps calc types to formulas. Registration happens at process
// startup; after that reads dominate.
type Registry struct {
	mu       sync.RWMutex
	formulas map[string]Formula
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{formulas: make(map[string]Formula)}
}

// Register adds a formula. Re-registering an existing calc type is a
// CONFLICT: formulas are immutable once published.
func (r *Registry) Register(f Formula) error {
	if err := f.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formulas[f.CalcType]; exists {
		return idiserr.New(idiserr.KindConflict, "calc_type already registered").WithPath(f.CalcType)
	}
	r.formulas[f.CalcType] = f
	return nil
}

// Get looks up a formula by calc type.
func (r *Registry) Get(calcType string) (Formula, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formulas[calcType]
	return f, ok
}

// Types returns the registered calc types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.formulas))
	for t := range r.formulas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
