package pricing

import "math"

// SoldLine is one line of a historical invoice as seen by the credit
// calculation. Several lines may share a Key.
type SoldLine struct {
	Key          string
	UnitPrice    float64
	Qty          int
	LineDiscount float64
}

type ReturnRequest struct {
	Key string
	Qty int
}

type CreditLine struct {
	Key           string
	Qty           int
	CreditPerUnit float64
	CreditTotal   float64
	BillShare     float64
}

// PriorReturns summarizes what earlier exchanges already took back from the
// same invoice.
type PriorReturns struct {
	Qty               map[string]int
	BillShareConsumed float64
}

// ReturnCredit values returned units of a historical invoice. Each unit is
// worth its sold price less its share of the line discount, less a share of
// the bill discount that earlier returns have not yet consumed. The bill
// share is apportioned by the unit's weight in the invoice base still held
// by the customer, mirroring the proration in Compute.
func ReturnCredit(sold []SoldLine, billDiscount float64, prior PriorReturns, requests []ReturnRequest) []CreditLine {
	type aggregate struct {
		qty int
		net float64
	}
	byKey := make(map[string]*aggregate, len(sold))
	invoiceBase := 0.0
	for _, line := range sold {
		agg, ok := byKey[line.Key]
		if !ok {
			agg = &aggregate{}
			byKey[line.Key] = agg
		}
		net := line.UnitPrice*float64(line.Qty) - line.LineDiscount
		agg.qty += line.Qty
		agg.net += net
		invoiceBase += net
	}

	unitNet := func(key string) float64 {
		agg, ok := byKey[key]
		if !ok || agg.qty == 0 {
			return 0
		}
		return agg.net / float64(agg.qty)
	}

	remainingBase := invoiceBase
	for key, qty := range prior.Qty {
		remainingBase -= float64(qty) * unitNet(key)
	}
	remainingBill := math.Max(0, billDiscount-prior.BillShareConsumed)

	credits := make([]CreditLine, 0, len(requests))
	for _, req := range requests {
		net := unitNet(req.Key)
		billPerUnit := 0.0
		if remainingBase > 0 && remainingBill > 0 {
			billPerUnit = remainingBill * (net / remainingBase)
		}
		perUnit := math.Max(0, net-billPerUnit)
		credits = append(credits, CreditLine{
			Key:           req.Key,
			Qty:           req.Qty,
			CreditPerUnit: Round2(perUnit),
			CreditTotal:   Round2(perUnit * float64(req.Qty)),
			BillShare:     billPerUnit * float64(req.Qty),
		})
	}
	return credits
}
