// Package engine orchestrates one quote: validate once, price every
// product variant, rank the survivors.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/eligibility"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/pricing"
)

var (
	// ErrNoOptions means the loan is eligible but no variant could be priced.
	ErrNoOptions = errors.New("no valid loan options found")

	// ErrInternal means the matrix could not be evaluated at all.
	ErrInternal = errors.New("internal error computing quote")
)

// NoOptionsMessage is the caller-facing text for ErrNoOptions.
const NoOptionsMessage = "No valid loan options found for the provided loan details."

// SkipObserver is notified of every variant that could not be priced.
type SkipObserver func(lenderID, reason string)

// Skip records a variant that was dropped and why.
type Skip struct {
	Product string `json:"product"`
	Reason  string `json:"reason"`
}

// Outcome is the result of pricing one matrix.
type Outcome struct {
	Validation domain.ValidationResult
	Results    []domain.PricingResult
	Variants   int
	Skipped    []Skip
}

// Engine prices loans against compiled matrices. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	onSkip SkipObserver
}

// Option configures an Engine.
type Option func(*Engine)

// WithSkipObserver reports skipped variants, typically to metrics.
func WithSkipObserver(fn SkipObserver) Option {
	return func(e *Engine) {
		e.onSkip = fn
	}
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs eligibility only.
func (e *Engine) Validate(c *matrix.Compiled, in *domain.LoanInput) (res domain.ValidationResult, err error) {
	defer recoverInternal(c, &err)
	return eligibility.Validate(c, in), nil
}

// Price validates the input once and, when eligible, prices every variant.
// An ineligible loan returns the validation alone with a nil error. An
// eligible loan with no priceable variant returns ErrNoOptions. Panics from
// malformed matrices are returned as ErrInternal.
func (e *Engine) Price(c *matrix.Compiled, in *domain.LoanInput) (out *Outcome, err error) {
	defer recoverInternal(c, &err)

	out = &Outcome{Validation: eligibility.Validate(c, in)}
	if !out.Validation.IsValid {
		return out, nil
	}

	variants := pricing.Variants(c, in.Product)
	out.Variants = len(variants)

	for _, v := range variants {
		res, err := pricing.Calculate(c, in, v)
		if err != nil {
			reason := skipReason(err)
			slog.Debug("variant skipped",
				"lender_id", c.Doc.LenderID,
				"program_id", c.Doc.ProgramID,
				"product", v.Name,
				"reason", reason,
				"error", err,
			)
			out.Skipped = append(out.Skipped, Skip{Product: v.Name, Reason: reason})
			if e.onSkip != nil {
				e.onSkip(c.Doc.LenderID, reason)
			}
			continue
		}
		out.Results = append(out.Results, *res)
	}

	if len(out.Results) == 0 {
		return out, ErrNoOptions
	}

	Sort(out.Results)
	return out, nil
}

// Sort orders results ascending by final rate, ties by product name then
// lender.
func Sort(results []domain.PricingResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalRate != b.FinalRate {
			return a.FinalRate < b.FinalRate
		}
		if a.ProductName != b.ProductName {
			return a.ProductName < b.ProductName
		}
		return a.LenderID < b.LenderID
	})
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, pricing.ErrNoFICOTier):
		return "no_fico_tier"
	case errors.Is(err, pricing.ErrNoLTVBand):
		return "no_ltv_band"
	case errors.Is(err, pricing.ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, pricing.ErrNonFinite):
		return "non_finite"
	}
	return "other"
}

func recoverInternal(c *matrix.Compiled, err *error) {
	r := recover()
	if r == nil {
		return
	}
	lenderID, programID := "", ""
	if c != nil && c.Doc != nil {
		lenderID, programID = c.Doc.LenderID, c.Doc.ProgramID
	}
	slog.Error("panic while pricing",
		"lender_id", lenderID,
		"program_id", programID,
		"panic", fmt.Sprint(r),
	)
	*err = fmt.Errorf("%w: %v", ErrInternal, r)
}
