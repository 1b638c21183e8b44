package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"retailpos/backend/internal/pricing"
)

// CodecVersion is written into every encoded cart. Decode refuses anything
// else.
const CodecVersion = 1

var ErrUnsupportedVersion = errors.New("cart: unsupported encoding version")

type wireLine struct {
	ProductID        string  `json:"product_id"`
	Name             string  `json:"name"`
	Category         string  `json:"category,omitempty"`
	UnitPrice        float64 `json:"unit_price"`
	TaxRatePct       float64 `json:"tax_rate_pct"`
	Qty              int     `json:"qty"`
	ItemDiscount     float64 `json:"item_discount"`
	ItemDiscountMode string  `json:"item_discount_mode,omitempty"`
}

type wireDiscount struct {
	Value float64 `json:"value"`
	Mode  string  `json:"mode,omitempty"`
}

type wireOffer struct {
	ID         string                  `json:"id"`
	Savings    float64                 `json:"savings"`
	PriorLines map[string]wireDiscount `json:"prior_lines,omitempty"`
	PriorBill  wireDiscount            `json:"prior_bill"`
}

type wireCart struct {
	Version      int          `json:"version"`
	Lines        []wireLine   `json:"lines"`
	BillDiscount wireDiscount `json:"bill_discount"`
	CustomerID   string       `json:"customer_id,omitempty"`
	Offer        *wireOffer   `json:"offer,omitempty"`
}

// Encode serializes a cart for parking it on the terminal.
func Encode(c Cart) ([]byte, error) {
	w := wireCart{
		Version:      CodecVersion,
		Lines:        make([]wireLine, len(c.lines)),
		BillDiscount: wireDiscount(c.bill),
		CustomerID:   c.customerID,
	}
	for i, line := range c.lines {
		w.Lines[i] = wireLine(line)
	}
	if c.offer != nil {
		w.Offer = &wireOffer{
			ID:         c.offer.id,
			Savings:    c.offer.savings,
			PriorLines: make(map[string]wireDiscount, len(c.offer.priorLines)),
			PriorBill:  wireDiscount(c.offer.priorBill),
		}
		for id, d := range c.offer.priorLines {
			w.Offer.PriorLines[id] = wireDiscount(d)
		}
	}
	return json.Marshal(w)
}

// Decode parses an encoded cart and rejects anything that could not have
// been produced by Reduce.
func Decode(data []byte) (Cart, error) {
	var w wireCart
	if err := json.Unmarshal(data, &w); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	if w.Version != CodecVersion {
		return Cart{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, w.Version)
	}

	c := Cart{
		lines:      make([]Line, 0, len(w.Lines)),
		bill:       pricing.Discount(w.BillDiscount),
		customerID: w.CustomerID,
	}
	if err := checkDiscount(c.bill); err != nil {
		return Cart{}, err
	}
	seen := make(map[string]bool, len(w.Lines))
	for _, wl := range w.Lines {
		line := Line(wl)
		if line.ProductID == "" {
			return Cart{}, errors.New("cart: line without product id")
		}
		if seen[line.ProductID] {
			return Cart{}, fmt.Errorf("cart: duplicate line for product %s", line.ProductID)
		}
		seen[line.ProductID] = true
		if line.Qty <= 0 {
			return Cart{}, ErrInvalidQty
		}
		if err := checkDiscount(pricing.Discount{Value: line.ItemDiscount, Mode: line.ItemDiscountMode}); err != nil {
			return Cart{}, err
		}
		c.lines = append(c.lines, line)
	}
	if w.Offer != nil {
		applied := &appliedOffer{
			id:         w.Offer.ID,
			savings:    w.Offer.Savings,
			priorLines: make(map[string]pricing.Discount, len(w.Offer.PriorLines)),
			priorBill:  pricing.Discount(w.Offer.PriorBill),
		}
		for id, d := range w.Offer.PriorLines {
			applied.priorLines[id] = pricing.Discount(d)
		}
		c.offer = applied
	}
	return c, nil
}
