// Package pricing computes rates, points, payments and fees for one
// product variant of a compiled matrix.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
)

// Calculation faults. Each one skips the variant, never the request.
var (
	ErrNoFICOTier     = errors.New("no FICO tier matches")
	ErrNoLTVBand      = errors.New("no LTV band matches")
	ErrUnknownProduct = errors.New("product not declared in matrix")
	ErrNonFinite      = errors.New("non-finite result")
)

// DSCR bucket boundaries.
const (
	dscrStrong     = 1.20
	dscrWeak       = 1.00
	dscrWeakMaxLTV = 65.0
)

// BaseRate resolves the base rate by FICO tier then LTV band, first match wins.
func BaseRate(c *matrix.Compiled, fico, ltv float64) (float64, error) {
	for _, tier := range c.Tiers {
		if !tier.Range.Contains(fico) {
			continue
		}
		band, ok := matrix.Lookup(tier.Bands, ltv)
		if !ok {
			return 0, fmt.Errorf("%w: ltv %v in FICO tier %s", ErrNoLTVBand, ltv, tier.Range)
		}
		return band.Value, nil
	}
	return 0, fmt.Errorf("%w: fico %v", ErrNoFICOTier, fico)
}

// DSCRAdjustment returns the DSCR bucket adjustment. DSCR below 1.00 with
// LTV above 65 falls through to zero.
func DSCRAdjustment(c *matrix.Compiled, dscr, ltv float64) float64 {
	adj := c.Doc.RateStructure.ProgramAdjustments.DSCR
	switch {
	case dscr > dscrStrong:
		return adj.Above120
	case dscr < dscrWeak && ltv <= dscrWeakMaxLTV:
		return adj.Below100
	}
	return 0
}

// ProgramAdjustment sums the cash-out, condo and 2-4 unit adjustments.
// The short-term-rental adjustment is not applied.
func ProgramAdjustment(c *matrix.Compiled, in *domain.LoanInput) float64 {
	adj := c.Doc.RateStructure.ProgramAdjustments
	var parts []float64
	if in.LoanPurpose == domain.PurposeCashOut {
		parts = append(parts, adj.CashOut)
	}
	if matrix.IsCondo(in.PropertyType) {
		parts = append(parts, adj.Condo)
	}
	if matrix.IsTwoToFourUnit(in.PropertyType, in.Units) {
		parts = append(parts, adj.TwoToFourUnit)
	}
	return sum(parts...)
}

// OriginationAdjustment picks the smallest threshold at or above the broker
// compensation, or the largest bucket when none is.
func OriginationAdjustment(c *matrix.Compiled, comp float64) float64 {
	if len(c.Origination) == 0 {
		return 0
	}
	for _, b := range c.Origination {
		if b.Range.Threshold() >= comp {
			return b.Value
		}
	}
	return c.Origination[len(c.Origination)-1].Value
}

// LoanSizeAdjustment returns the first matching loan size bucket, or 0.
func LoanSizeAdjustment(c *matrix.Compiled, amount float64) float64 {
	if b, ok := matrix.Lookup(c.LoanSize, amount); ok {
		return b.Value
	}
	return 0
}

// YSPPoints returns the points for a YSP percentage, or 0 when not listed.
// Only exact keys match.
func YSPPoints(c *matrix.Compiled, ysp float64) float64 {
	for _, b := range c.YSP {
		if b.Range.Kind == matrix.KindExact && b.Range.Contains(ysp) {
			return b.Value
		}
	}
	return 0
}

// PrepayPoints returns the points for a prepay structure, or 0 when not listed.
func PrepayPoints(c *matrix.Compiled, structure string) float64 {
	return c.Prepay[matrix.NormalizePrepay(structure)]
}

// SmallLoanFee returns the flat fee when amount is within the inclusive range.
func SmallLoanFee(c *matrix.Compiled, amount float64) float64 {
	f := c.Doc.LoanTerms.SmallLoanFee
	if f.Fee > 0 && amount >= f.MinLoanAmount && amount <= f.MaxLoanAmount {
		return f.Fee
	}
	return 0
}

// Calculate prices one variant. A returned error means the variant has no
// price and should be skipped.
func Calculate(c *matrix.Compiled, in *domain.LoanInput, v Variant) (*domain.PricingResult, error) {
	product, ok := c.Product(v.BaseProduct)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, v.BaseProduct)
	}

	base, err := BaseRate(c, in.FICO, in.LTV)
	if err != nil {
		return nil, err
	}

	rs := c.Doc.RateStructure
	adj := domain.Adjustments{
		Product:        product.Adjustment,
		DSCR:           DSCRAdjustment(c, in.DSCR, in.LTV),
		Program:        ProgramAdjustment(c, in),
		OriginationFee: OriginationAdjustment(c, in.BrokerCompensation),
		LoanSize:       LoanSizeAdjustment(c, in.LoanAmount),
	}
	if v.InterestOnly {
		adj.InterestOnly = rs.InterestOnlyAdjustment
	}
	adj.Total = sum(adj.Product, adj.InterestOnly, adj.DSCR, adj.Program, adj.OriginationFee, adj.LoanSize)

	rate := sum(base, adj.Total)
	if rate < rs.MinimumRate {
		rate = rs.MinimumRate
		adj.FloorApplied = true
	}

	points := domain.Points{
		YSP:      YSPPoints(c, in.YSP),
		Prepay:   PrepayPoints(c, in.PrepayStructure),
		Discount: in.DiscountPoints,
	}
	totalPoints := sum(points.YSP, points.Prepay, points.Discount)

	term := v.TermYears
	if term <= 0 {
		term = c.TermYears
	}
	payment := MonthlyPayment(in.LoanAmount, rate, term, v.InterestOnly)

	underwriting := c.Doc.LoanTerms.UnderwritingFee
	smallLoan := SmallLoanFee(c, in.LoanAmount)
	totalFees := dec(percentOf(totalPoints, in.LoanAmount)).
		Add(dec(underwriting)).
		Add(dec(smallLoan)).
		Round(2).InexactFloat64()

	fees := domain.FeeBreakdown{
		Origination:  percentOf(in.BrokerCompensation, in.LoanAmount),
		Underwriting: RoundCents(underwriting),
		YSP:          percentOf(points.YSP, in.LoanAmount),
		Prepay:       percentOf(points.Prepay, in.LoanAmount),
		LoanSize:     percentOf(adj.LoanSize, in.LoanAmount),
	}
	if smallLoan > 0 {
		f := RoundCents(smallLoan)
		fees.SmallLoanFee = &f
	}

	for _, x := range []float64{rate, payment, totalFees, totalPoints} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: %s", ErrNonFinite, v.Name)
		}
	}

	return &domain.PricingResult{
		LenderID:       c.Doc.LenderID,
		LenderName:     c.Doc.LenderName,
		ProgramID:      c.Doc.ProgramID,
		ProductName:    v.Name,
		BaseProduct:    v.BaseProduct,
		InterestOnly:   v.InterestOnly,
		BaseRate:       RoundRate(base),
		FinalRate:      rate,
		TotalPoints:    totalPoints,
		MonthlyPayment: payment,
		TotalFees:      totalFees,
		TermYears:      term,
		Adjustments:    adj,
		Points:         points,
		FeeBreakdown:   fees,
	}, nil
}
