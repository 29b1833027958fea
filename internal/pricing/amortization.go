package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidSchedule is returned for schedule requests that cannot be amortized.
var ErrInvalidSchedule = errors.New("invalid amortization request")

// MaxTermYears bounds schedule requests.
const MaxTermYears = 50

// MonthlyPayment returns the monthly payment in cents for an annual percent
// rate. Interest-only pays interest alone; otherwise the level annuity
// payment over termYears*12 periods. A zero rate pays nothing on
// interest-only and principal/n otherwise.
func MonthlyPayment(principal, annualRate float64, termYears int, interestOnly bool) float64 {
	n := float64(termYears * 12)
	r := annualRate / 100 / 12

	var payment float64
	switch {
	case interestOnly:
		payment = principal * r
	case r == 0:
		if n == 0 {
			return math.NaN()
		}
		payment = principal / n
	default:
		growth := math.Pow(1+r, n)
		payment = principal * r * growth / (growth - 1)
	}

	if math.IsNaN(payment) || math.IsInf(payment, 0) {
		return payment
	}
	return RoundCents(payment)
}

// Period is one month of an amortization schedule.
type Period struct {
	Month     int     `json:"month"`
	Payment   float64 `json:"payment"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Balance   float64 `json:"balance"`
}

// Schedule is a month-by-month amortization table.
type Schedule struct {
	LoanAmount     float64  `json:"loanAmount"`
	Rate           float64  `json:"rate"`
	TermYears      int      `json:"termYears"`
	InterestOnly   bool     `json:"interestOnly"`
	MonthlyPayment float64  `json:"monthlyPayment"`
	TotalInterest  float64  `json:"totalInterest"`
	TotalPaid      float64  `json:"totalPaid"`
	Periods        []Period `json:"periods"`
}

// BuildSchedule computes the amortization table in cents. Interest-only
// schedules pay interest monthly and return the principal with the last
// payment. The final period absorbs rounding so the balance ends at zero.
func BuildSchedule(principal, annualRate float64, termYears int, interestOnly bool) (*Schedule, error) {
	switch {
	case principal <= 0 || math.IsNaN(principal) || math.IsInf(principal, 0):
		return nil, fmt.Errorf("%w: loan amount must be positive", ErrInvalidSchedule)
	case annualRate < 0 || math.IsNaN(annualRate) || math.IsInf(annualRate, 0):
		return nil, fmt.Errorf("%w: rate cannot be negative", ErrInvalidSchedule)
	case termYears <= 0 || termYears > MaxTermYears:
		return nil, fmt.Errorf("%w: term must be between 1 and %d years", ErrInvalidSchedule, MaxTermYears)
	}

	n := termYears * 12
	payment := dec(MonthlyPayment(principal, annualRate, termYears, interestOnly))
	monthlyRate := dec(annualRate).Div(decimal.NewFromInt(1200))

	balance := dec(principal).Round(2)
	totalInterest := decimal.Zero
	totalPaid := decimal.Zero
	periods := make([]Period, 0, n)

	for month := 1; month <= n; month++ {
		interest := balance.Mul(monthlyRate).Round(2)

		var principalPart decimal.Decimal
		switch {
		case month == n:
			principalPart = balance
		case interestOnly:
			principalPart = decimal.Zero
		default:
			principalPart = payment.Sub(interest)
			if principalPart.GreaterThan(balance) {
				principalPart = balance
			}
		}

		paid := principalPart.Add(interest)
		balance = balance.Sub(principalPart)
		totalInterest = totalInterest.Add(interest)
		totalPaid = totalPaid.Add(paid)

		periods = append(periods, Period{
			Month:     month,
			Payment:   paid.InexactFloat64(),
			Principal: principalPart.InexactFloat64(),
			Interest:  interest.InexactFloat64(),
			Balance:   balance.InexactFloat64(),
		})
	}

	return &Schedule{
		LoanAmount:     RoundCents(principal),
		Rate:           RoundRate(annualRate),
		TermYears:      termYears,
		InterestOnly:   interestOnly,
		MonthlyPayment: payment.InexactFloat64(),
		TotalInterest:  totalInterest.InexactFloat64(),
		TotalPaid:      totalPaid.InexactFloat64(),
		Periods:        periods,
	}, nil
}

// PresentValue returns the principal a level payment amortizes over
// termYears at an annual percent rate.
func PresentValue(payment, annualRate float64, termYears int) float64 {
	n := float64(termYears * 12)
	r := annualRate / 100 / 12
	if r == 0 {
		return payment * n
	}
	return payment * (1 - math.Pow(1+r, -n)) / r
}
