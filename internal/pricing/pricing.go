// Package pricing holds the single totals algorithm shared by checkout
// preview, checkout persistence and exchange pricing.
package pricing

import "math"

const (
	ModeAmount  = "amount"
	ModePercent = "percent"
)

type Line struct {
	UnitPrice        float64
	Qty              int
	ItemDiscount     float64
	ItemDiscountMode string
	TaxRatePct       float64
}

type Discount struct {
	Value float64
	Mode  string
}

type LineResult struct {
	Gross        float64
	LineDiscount float64
	Net          float64
	BillShare    float64
	TaxableBase  float64
	Tax          float64
}

type Totals struct {
	Lines              []LineResult
	Subtotal           float64
	BillDiscountAmount float64
	TaxTotal           float64
	GrandTotal         float64
}

// Compute prices a cart. Bill-level discounts are prorated across lines by
// net amount and reduce each line's taxable base before tax is applied.
// Results are unrounded; callers round at persistence or display.
func Compute(lines []Line, bill Discount) Totals {
	results := make([]LineResult, len(lines))

	subtotal := 0.0
	for i, line := range lines {
		gross := line.UnitPrice * float64(line.Qty)
		lineDiscount := discountAmount(line.ItemDiscount, line.ItemDiscountMode, gross)
		results[i] = LineResult{
			Gross:        gross,
			LineDiscount: lineDiscount,
			Net:          gross - lineDiscount,
		}
		subtotal += results[i].Net
	}

	billAmount := discountAmount(bill.Value, bill.Mode, subtotal)

	taxTotal := 0.0
	for i, line := range lines {
		share := billAmount * (results[i].Net / math.Max(1, subtotal))
		taxable := math.Max(0, results[i].Net-share)
		tax := taxable * line.TaxRatePct / 100
		results[i].BillShare = share
		results[i].TaxableBase = taxable
		results[i].Tax = tax
		taxTotal += tax
	}

	return Totals{
		Lines:              results,
		Subtotal:           subtotal,
		BillDiscountAmount: billAmount,
		TaxTotal:           taxTotal,
		GrandTotal:         math.Max(0, subtotal-billAmount+taxTotal),
	}
}

// discountAmount resolves a discount against base. An unknown or empty mode
// is treated as a flat amount.
func discountAmount(value float64, mode string, base float64) float64 {
	if value <= 0 {
		return 0
	}
	if mode == ModePercent {
		return base * value / 100
	}
	return value
}

// ValidMode reports whether mode is empty or one of the supported modes.
func ValidMode(mode string) bool {
	return mode == "" || mode == ModeAmount || mode == ModePercent
}
