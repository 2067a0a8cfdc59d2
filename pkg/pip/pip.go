// Package pip provides pip-scale price arithmetic shared by the
// evaluator, position book, and monitor layers. All math is
// decimal.Decimal based to avoid float drift at pip-level precision.
package pip

import "github.com/shopspring/decimal"

// Scale is the quote-currency pip scale; 100 for JPY crosses.
type Scale int32

// DefaultJPYScale is the pip scale for JPY crosses (1/100 of quote unit).
const DefaultJPYScale Scale = 100

// FromPrice converts a raw price delta into pips at the given scale.
// scale is a multiplier, not a decimal exponent: 100 means 1 pip ==
// 0.01 quote units, matching Tick.SpreadPips' identical convention.
func FromPrice(delta decimal.Decimal, scale Scale) decimal.Decimal {
	return delta.Mul(decimal.New(int64(scale), 0))
}

// ToPrice converts a pip count back into a raw price delta.
func ToPrice(pips decimal.Decimal, scale Scale) decimal.Decimal {
	return pips.Div(decimal.New(int64(scale), 0))
}

// Distance returns the signed pip distance from 'from' to 'to'
// (positive when to > from).
func Distance(from, to decimal.Decimal, scale Scale) decimal.Decimal {
	return FromPrice(to.Sub(from), scale)
}

// ForDirectionGain returns the favourable pip move for a position of the
// given direction between openPrice and currentPrice: positive is
// favourable regardless of BUY/SELL.
func ForDirectionGain(isBuy bool, openPrice, currentPrice decimal.Decimal, scale Scale) decimal.Decimal {
	if isBuy {
		return Distance(openPrice, currentPrice, scale)
	}
	return Distance(currentPrice, openPrice, scale)
}
