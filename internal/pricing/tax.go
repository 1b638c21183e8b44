package pricing

// SplitInclusive separates a tax-inclusive price into its ex-tax base and the
// tax it contains. No rounding is applied.
func SplitInclusive(price float64, taxPct float64) (base float64, gst float64) {
	if taxPct <= 0 {
		return price, 0
	}
	base = price / (1 + taxPct/100)
	return base, price - base
}
