// Package matrix turns lender pricing documents into lookup-ready form.
// Range keys are parsed and rule conditions compiled once, so pricing and
// eligibility never touch raw document strings.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

// ErrInvalidMatrix is returned when a matrix document cannot be compiled.
var ErrInvalidMatrix = errors.New("invalid matrix")

// DefaultTermYears is used when no term can be parsed.
const DefaultTermYears = 30

// CompileError lists every problem found in a matrix document.
type CompileError struct {
	LenderID  string
	ProgramID string
	Problems  []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid matrix %s/%s: %s", e.LenderID, e.ProgramID, strings.Join(e.Problems, "; "))
}

func (e *CompileError) Unwrap() error {
	return ErrInvalidMatrix
}

// Band is a parsed range key and its value.
type Band struct {
	Range Range
	Value float64
}

// Tier is a FICO band with its LTV bands.
type Tier struct {
	Range Range
	Bands []Band
}

// Product is a declared base product.
type Product struct {
	Name       string
	Adjustment float64
	TermYears  int
}

// Rule is a business rule with its compiled condition.
type Rule struct {
	domain.Rule
	when   *Predicate
	states map[string]bool
}

// Applies reports whether the rule's condition holds for the input.
func (r *Rule) Applies(in *domain.LoanInput) bool {
	return r.when.Matches(in)
}

// CoversState reports whether a state rule lists the state.
func (r *Rule) CoversState(state string) bool {
	return r.states[NormalizeState(state)]
}

// RuleSet holds the six rule categories in declared order.
type RuleSet struct {
	State       []Rule
	LoanPurpose []Rule
	Prepayment  []Rule
	DSCRLTV     []Rule
	Product     []Rule
	Rate        []Rule
}

// Compiled is an immutable, lookup-ready matrix. It is safe for
// concurrent use.
type Compiled struct {
	Doc *domain.PricingMatrix

	Tiers       []Tier
	Products    []Product
	TermYears   int
	Origination []Band // ascending by threshold
	LoanSize    []Band
	YSP         []Band
	Prepay      map[string]float64

	EligibleTypes  []string
	ExcludedStates map[string]bool

	Rules RuleSet
}

// Product returns a declared base product by name.
func (c *Compiled) Product(name string) (Product, bool) {
	for _, p := range c.Products {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return Product{}, false
}

// Compiler compiles matrix documents against a shared CEL environment.
type Compiler struct {
	env *cel.Env
}

// NewCompiler creates a matrix compiler.
func NewCompiler() (*Compiler, error) {
	env, err := newConditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

var (
	defaultOnce     sync.Once
	defaultCompiler *Compiler
	defaultErr      error
)

// Compile compiles m with a process-wide compiler.
func Compile(m *domain.PricingMatrix) (*Compiled, error) {
	defaultOnce.Do(func() {
		defaultCompiler, defaultErr = NewCompiler()
	})
	if defaultErr != nil {
		return nil, defaultErr
	}
	return defaultCompiler.Compile(m)
}

// Compile validates m and builds its lookup-ready form. The document is
// referenced, not copied, and must not be mutated afterwards.
func (c *Compiler) Compile(m *domain.PricingMatrix) (*Compiled, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: matrix is required", ErrInvalidMatrix)
	}

	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(m.LenderID) == "" {
		addf("lenderId is required")
	}
	if strings.TrimSpace(m.ProgramID) == "" {
		addf("programId is required")
	}
	if m.LoanTerms.MaxLTV <= 0 || m.LoanTerms.MaxLTV > 100 {
		addf("loanTerms.maxLTV must be in (0, 100], got %v", m.LoanTerms.MaxLTV)
	}
	if f := m.LoanTerms.SmallLoanFee; f.Fee > 0 && f.MinLoanAmount > f.MaxLoanAmount {
		addf("loanTerms.smallLoanFee: minLoanAmount exceeds maxLoanAmount")
	}
	if m.RateStructure.MinimumRate < 0 {
		addf("rateStructure.minimumRate cannot be negative")
	}

	out := &Compiled{
		Doc:            m,
		TermYears:      DefaultTermYears,
		Prepay:         make(map[string]float64, len(m.RateStructure.PrepayAdjustments)),
		ExcludedStates: make(map[string]bool, len(m.PropertyRequirements.ExcludedStates)),
	}
	if years, ok := ParseTermYears(m.LoanTerms.Term); ok {
		out.TermYears = years
	}

	// Base rate tiers
	if len(m.BaseRates) == 0 {
		addf("baseRates must declare at least one FICO tier")
	}
	for _, tier := range m.BaseRates {
		r, err := ParseRange(tier.Key)
		if err != nil {
			addf("baseRates: %v", err)
			continue
		}
		if len(tier.Value) == 0 {
			addf("baseRates[%s] has no LTV bands", tier.Key)
		}
		bands, errs := parseBands(tier.Value)
		for _, e := range errs {
			addf("baseRates[%s]: %v", tier.Key, e)
		}
		out.Tiers = append(out.Tiers, Tier{Range: r, Bands: bands})
	}

	// Products
	if len(m.RateStructure.ProductAdjustments) == 0 {
		addf("rateStructure.productAdjustments must declare at least one product")
	}
	for _, p := range m.RateStructure.ProductAdjustments {
		if strings.TrimSpace(p.Key) == "" {
			addf("rateStructure.productAdjustments: empty product name")
			continue
		}
		if !finite(p.Value) {
			addf("rateStructure.productAdjustments[%s] is not a finite number", p.Key)
			continue
		}
		years, ok := ParseTermYears(p.Key)
		if !ok {
			years = out.TermYears
		}
		out.Products = append(out.Products, Product{Name: p.Key, Adjustment: p.Value, TermYears: years})
	}

	var errs []error
	if out.Origination, errs = parseBands(m.RateStructure.OriginationFeeAdjustments); len(errs) > 0 {
		for _, e := range errs {
			addf("rateStructure.originationFeeAdjustments: %v", e)
		}
	}
	sort.SliceStable(out.Origination, func(i, j int) bool {
		return out.Origination[i].Range.Threshold() < out.Origination[j].Range.Threshold()
	})

	if out.LoanSize, errs = parseBands(m.RateStructure.LoanSizeAdjustments); len(errs) > 0 {
		for _, e := range errs {
			addf("rateStructure.loanSizeAdjustments: %v", e)
		}
	}
	if out.YSP, errs = parseBands(m.BrokerPayoutAddOns); len(errs) > 0 {
		for _, e := range errs {
			addf("brokerPayoutAddOns: %v", e)
		}
	}
	// YSP points are matched on the exact percentage.
	for _, b := range out.YSP {
		if b.Range.Kind != KindExact {
			addf("brokerPayoutAddOns: key %q must be a single percentage, not a range", b.Range.String())
		}
	}

	for _, p := range m.RateStructure.PrepayAdjustments {
		if !finite(p.Value) {
			addf("rateStructure.prepayAdjustments[%s] is not a finite number", p.Key)
			continue
		}
		key := NormalizePrepay(p.Key)
		if _, dup := out.Prepay[key]; !dup {
			out.Prepay[key] = p.Value
		}
	}

	for _, t := range m.PropertyRequirements.EligiblePropertyTypes {
		out.EligibleTypes = append(out.EligibleTypes, NormalizePropertyType(t))
	}
	for _, s := range m.PropertyRequirements.ExcludedStates {
		out.ExcludedStates[NormalizeState(s)] = true
	}

	// Business rules
	br := m.BusinessRules
	categories := []struct {
		name string
		src  []domain.Rule
		dst  *[]Rule
	}{
		{"stateRules", br.StateRules, &out.Rules.State},
		{"loanPurposeRules", br.LoanPurposeRules, &out.Rules.LoanPurpose},
		{"prepaymentPenaltyRules", br.PrepaymentPenaltyRules, &out.Rules.Prepayment},
		{"dscrLtvRules", br.DSCRLTVRules, &out.Rules.DSCRLTV},
		{"productRules", br.ProductRules, &out.Rules.Product},
		{"rateRules", br.RateRules, &out.Rules.Rate},
	}
	for _, cat := range categories {
		for i, src := range cat.src {
			if src.RuleID == "" {
				src.RuleID = fmt.Sprintf("%s[%d]", cat.name, i)
			}
			pred, err := compilePredicate(c.env, src.RuleID, src.Condition)
			if err != nil {
				addf("%s: %v", cat.name, err)
				continue
			}
			rule := Rule{Rule: src, when: pred}
			if len(src.States) > 0 {
				rule.states = make(map[string]bool, len(src.States))
				for _, s := range src.States {
					rule.states[NormalizeState(s)] = true
				}
			}
			*cat.dst = append(*cat.dst, rule)
		}
	}

	if len(problems) > 0 {
		return nil, &CompileError{LenderID: m.LenderID, ProgramID: m.ProgramID, Problems: problems}
	}
	return out, nil
}

func parseBands(t domain.Table[float64]) ([]Band, []error) {
	var (
		bands []Band
		errs  []error
	)
	for _, e := range t {
		r, err := ParseRange(e.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !finite(e.Value) {
			errs = append(errs, fmt.Errorf("key %q: value is not a finite number", e.Key))
			continue
		}
		bands = append(bands, Band{Range: r, Value: e.Value})
	}
	return bands, errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Lookup returns the value of the first band containing v.
func Lookup(bands []Band, v float64) (Band, bool) {
	for _, b := range bands {
		if b.Range.Contains(v) {
			return b, true
		}
	}
	return Band{}, false
}
