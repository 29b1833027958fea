package pricing

import (
	"strings"

	"github.com/opensource-finance/loanpricer/internal/matrix"
)

// InterestOnlySuffix is appended to the product name of interest-only variants.
const InterestOnlySuffix = " - Interest Only"

// Variant is one priceable product: a base product, amortizing or
// interest-only.
type Variant struct {
	Name         string
	BaseProduct  string
	InterestOnly bool
	TermYears    int
}

// interestOnlyTerm reports whether a term supports an interest-only variant.
func interestOnlyTerm(years int) bool {
	return years == 30 || years == 40
}

// Variants enumerates the priceable products of a matrix in declared order.
// Each base product yields an amortizing variant, followed by an
// interest-only variant when its term is 30 or 40 years. A non-empty
// product restricts the result to that base product.
func Variants(c *matrix.Compiled, product string) []Variant {
	product = strings.TrimSpace(product)

	var out []Variant
	for _, p := range c.Products {
		if product != "" && !strings.EqualFold(p.Name, product) {
			continue
		}
		out = append(out, Variant{
			Name:        p.Name,
			BaseProduct: p.Name,
			TermYears:   p.TermYears,
		})
		if interestOnlyTerm(p.TermYears) {
			out = append(out, Variant{
				Name:         p.Name + InterestOnlySuffix,
				BaseProduct:  p.Name,
				InterestOnly: true,
				TermYears:    p.TermYears,
			})
		}
	}
	return out
}
