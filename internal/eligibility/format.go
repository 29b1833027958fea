package eligibility

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// money formats dollars as "$12,345.67", rounding half away from zero.
func money(v float64) string {
	cents := decimal.NewFromFloat(v).Round(2).InexactFloat64()
	return "$" + humanize.FormatFloat("#,###.##", cents)
}

// moneyUp formats a remediation amount, rounded up to the next cent so
// the suggested delta is always enough.
func moneyUp(v float64) string {
	return money(math.Ceil(v*100-1e-6) / 100)
}

// pct formats a percentage with up to two decimals.
func pct(v float64) string {
	return num(v) + "%"
}

// num formats a number with up to two decimals and no trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(decimal.NewFromFloat(v).Round(2).InexactFloat64(), 'f', -1, 64)
}

// points formats a whole-point FICO delta.
func points(v float64) string {
	return strconv.FormatFloat(math.Ceil(v), 'f', 0, 64)
}

func list(items []string) string {
	return strings.Join(items, ", ")
}
