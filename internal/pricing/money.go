package pricing

import "github.com/shopspring/decimal"

// Round2 rounds a currency amount half away from zero to two decimals.
// Used only where a persisted or displayed figure is produced.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// FloorPoints converts a currency amount into loyalty points, one point per
// hundred currency units. Negative amounts earn nothing.
func FloorPoints(amount float64) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// Sum adds amounts exactly and returns the two-decimal result.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}
