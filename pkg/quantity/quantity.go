// Package quantity provides the fixed-point arithmetic used for every
// quantity and money field in the system: two decimal places, round
// half up, and forgiving coercion of whatever the callers hand us.
package quantity

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the scale of every stored quantity and money value.
const Places int32 = 2

// Zero is the canonical 0.00 value.
var Zero = decimal.Zero.Round(Places)

// Fixed coerces an arbitrary value to a two-decimal quantity, rounding
// half up. nil, blank strings and anything that fails numeric coercion
// come back as 0.00; this function never fails.
func Fixed(v interface{}) decimal.Decimal {
	switch value := v.(type) {
	case nil:
		return Zero
	case decimal.Decimal:
		return value.Round(Places)
	case *decimal.Decimal:
		if value == nil {
			return Zero
		}
		return value.Round(Places)
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Zero
		}
		return d.Round(Places)
	case float64:
		return decimal.NewFromFloat(value).Round(Places)
	case float32:
		return decimal.NewFromFloat32(value).Round(Places)
	case int:
		return decimal.NewFromInt(int64(value)).Round(Places)
	case int32:
		return decimal.NewFromInt32(value).Round(Places)
	case int64:
		return decimal.NewFromInt(value).Round(Places)
	default:
		return Zero
	}
}

// Parse converts a string to a two-decimal quantity, failing on
// unparseable input. Bulk uploads use this instead of Fixed so that a
// bad cell becomes a row error rather than a silent zero.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, err
	}
	return d.Round(Places), nil
}

// SumFixed sums already-rounded values and re-rounds the result. The
// legacy system rounds every term before summing and again after, so
// totals carry its rounding drift; this is intentional and callers must
// not replace it with a single end-of-chain rounding.
func SumFixed(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v.Round(Places))
	}
	return total.Round(Places)
}

// CeilDiv returns the number of whole packaging units needed to cover
// the required quantity.
func CeilDiv(required, unit decimal.Decimal) decimal.Decimal {
	if unit.IsZero() {
		return Zero
	}
	return required.Div(unit).Ceil()
}
