package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when deciding whether a balance has
// reached zero. Stored amounts are rounded to 2 places, so anything at or
// below this is leftover rounding noise, not money.
var Epsilon = decimal.New(1, -6) // 0.000001

var numericRe = regexp.MustCompile(`[^0-9.\-]`)

// Round2 rounds a monetary amount to 2 fractional digits. Every value
// crossing a persistence or API boundary goes through this.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsZero reports whether d is zero within Epsilon.
func IsZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// PosPart returns d rounded to 2 places, floored at zero.
func PosPart(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return Round2(d)
}

// Parse reads an amount from a stored string. Currency symbols and
// thousands separators are stripped; unparseable input becomes zero so a
// damaged cell never aborts an aggregate read.
func Parse(s string) decimal.Decimal {
	cleaned := numericRe.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// String formats an amount for storage with exactly 2 fractional digits.
func String(d decimal.Decimal) string {
	return d.StringFixed(2)
}
