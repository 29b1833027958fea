package pricing

import (
	"github.com/shopspring/decimal"
)

// Rates round to 3 decimals, dollar amounts to cents. Both round half away
// from zero so identical inputs give identical figures.

func dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// RoundRate rounds an annual percent rate to 3 decimals.
func RoundRate(v float64) float64 {
	return dec(v).Round(3).InexactFloat64()
}

// RoundCents rounds a dollar amount to cents.
func RoundCents(v float64) float64 {
	return dec(v).Round(2).InexactFloat64()
}

// percentOf returns pct percent of amount in cents.
func percentOf(pct, amount float64) float64 {
	return dec(pct).Mul(dec(amount)).Div(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

// sum adds values exactly and rounds to 3 decimals.
func sum(vals ...float64) float64 {
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(dec(v))
	}
	return total.Round(3).InexactFloat64()
}
