package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Display is a Record rounded for presentation. CAGR, MaxDrawdown and
// Volatility are percentages with two decimals; Sharpe is a plain ratio with
// two decimals.
type Display struct {
	CAGR        decimal.Decimal
	MaxDrawdown decimal.Decimal
	Sharpe      decimal.Decimal
	Volatility  decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Percent rounds r for display.
func (r Record) Percent() Display {
	return Display{
		CAGR:        decimal.NewFromFloat(r.CAGR).Mul(hundred).Round(2),
		MaxDrawdown: decimal.NewFromFloat(r.MaxDrawdown).Mul(hundred).Round(2),
		Sharpe:      decimal.NewFromFloat(r.Sharpe).Round(2),
		Volatility:  decimal.NewFromFloat(r.Volatility).Mul(hundred).Round(2),
	}
}

// String renders the display record on one line.
func (d Display) String() string {
	return fmt.Sprintf("CAGR %s%%  MaxDD %s%%  Sharpe %s  Vol %s%%",
		d.CAGR.StringFixed(2), d.MaxDrawdown.StringFixed(2), d.Sharpe.StringFixed(2), d.Volatility.StringFixed(2))
}

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatMoney formats a portfolio value as whole dollars with separators, or
// "-" when it is not finite.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return "$" + FormatInt(decimal.NewFromFloat(v).Round(0).IntPart())
}

// FormatWeight formats an allocation fraction as "X.X%".
func FormatWeight(w float64) string {
	return decimal.NewFromFloat(w).Mul(hundred).StringFixed(1) + "%"
}
