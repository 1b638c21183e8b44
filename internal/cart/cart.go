// Package cart models the cashier's working cart as an immutable value.
// Every change goes through Reduce and produces a new Cart; the previous
// value is never touched.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/offer"
	"retailpos/backend/internal/pricing"
)

var (
	ErrUnknownLine = errors.New("cart: product is not in the cart")
	ErrInvalidQty  = errors.New("cart: quantity must be positive")
	ErrInvalidMode = errors.New("cart: unknown discount mode")
	ErrNegative    = errors.New("cart: discount must not be negative")
)

type Line struct {
	ProductID        string
	Name             string
	Category         string
	UnitPrice        float64
	TaxRatePct       float64
	Qty              int
	ItemDiscount     float64
	ItemDiscountMode string
}

// appliedOffer remembers what the offer overwrote so the cart can be put
// back when the offer is dropped.
type appliedOffer struct {
	id         string
	savings    float64
	priorLines map[string]pricing.Discount
	priorBill  pricing.Discount
}

type Cart struct {
	lines      []Line
	bill       pricing.Discount
	customerID string
	offer      *appliedOffer
}

func New() Cart {
	return Cart{}
}

// Lines returns a copy of the cart lines in insertion order.
func (c Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c Cart) BillDiscount() pricing.Discount { return c.bill }
func (c Cart) CustomerID() string             { return c.customerID }
func (c Cart) Empty() bool                    { return len(c.lines) == 0 }

// OfferID is the id of the applied offer, or "" when none is applied.
func (c Cart) OfferID() string {
	if c.offer == nil {
		return ""
	}
	return c.offer.id
}

func (c Cart) OfferSavings() float64 {
	if c.offer == nil {
		return 0
	}
	return c.offer.savings
}

// PricingLines is the cart in the shape the pricing engine consumes.
func (c Cart) PricingLines() []pricing.Line {
	out := make([]pricing.Line, len(c.lines))
	for i, line := range c.lines {
		out[i] = pricing.Line{
			UnitPrice:        line.UnitPrice,
			Qty:              line.Qty,
			ItemDiscount:     line.ItemDiscount,
			ItemDiscountMode: line.ItemDiscountMode,
			TaxRatePct:       line.TaxRatePct,
		}
	}
	return out
}

// OfferLines is the cart in the shape the offer matcher consumes.
func (c Cart) OfferLines() []offer.Line {
	priced := pricing.Compute(c.PricingLines(), pricing.Discount{})
	out := make([]offer.Line, len(c.lines))
	for i, line := range c.lines {
		out[i] = offer.Line{
			ProductID: line.ProductID,
			Category:  line.Category,
			UnitPrice: line.UnitPrice,
			Qty:       line.Qty,
			Net:       priced.Lines[i].Net,
		}
	}
	return out
}

func (c Cart) Totals() pricing.Totals {
	return pricing.Compute(c.PricingLines(), c.bill)
}

func (c Cart) indexOf(productID string) int {
	for i, line := range c.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c Cart) clone() Cart {
	next := c
	next.lines = make([]Line, len(c.lines))
	copy(next.lines, c.lines)
	return next
}

// withoutOffer restores whatever the applied offer overwrote.
func (c Cart) withoutOffer() Cart {
	if c.offer == nil {
		return c
	}
	next := c.clone()
	for i, line := range next.lines {
		if prior, ok := c.offer.priorLines[line.ProductID]; ok {
			next.lines[i].ItemDiscount = prior.Value
			next.lines[i].ItemDiscountMode = prior.Mode
		}
	}
	next.bill = c.offer.priorBill
	next.offer = nil
	return next
}

// Action is one cart transition.
type Action interface {
	apply(Cart) (Cart, error)
}

// AddLine adds a product or, when it is already in the cart, increases its
// quantity.
type AddLine struct {
	Product domain.Product
	Qty     int
}

type SetQty struct {
	ProductID string
	Qty       int
}

type RemoveLine struct {
	ProductID string
}

type SetItemDiscount struct {
	ProductID string
	Discount  pricing.Discount
}

type SetBillDiscount struct {
	Discount pricing.Discount
}

type SetCustomer struct {
	CustomerID string
}

// ApplyOffer resolves the offer against the current lines and freezes the
// result into the cart's discount fields.
type ApplyOffer struct {
	Offer domain.Offer
}

type ClearOffer struct{}

// Reduce applies actions in order and returns the resulting cart. On error
// the original cart is returned unchanged.
func Reduce(c Cart, actions ...Action) (Cart, error) {
	next := c
	for _, action := range actions {
		var err error
		next, err = action.apply(next)
		if err != nil {
			return c, err
		}
	}
	return next, nil
}

func (a AddLine) apply(c Cart) (Cart, error) {
	if a.Qty <= 0 {
		return c, ErrInvalidQty
	}
	next := c.withoutOffer().clone()
	if i := next.indexOf(a.Product.ID); i >= 0 {
		next.lines[i].Qty += a.Qty
		return next, nil
	}
	next.lines = append(next.lines, Line{
		ProductID:  a.Product.ID,
		Name:       a.Product.Name,
		Category:   a.Product.Category,
		UnitPrice:  a.Product.UnitPrice,
		TaxRatePct: a.Product.TaxRatePct,
		Qty:        a.Qty,
	})
	return next, nil
}

func (a SetQty) apply(c Cart) (Cart, error) {
	if a.Qty <= 0 {
		return RemoveLine{ProductID: a.ProductID}.apply(c)
	}
	if c.indexOf(a.ProductID) < 0 {
		return c, ErrUnknownLine
	}
	next := c.withoutOffer().clone()
	next.lines[next.indexOf(a.ProductID)].Qty = a.Qty
	return next, nil
}

func (a RemoveLine) apply(c Cart) (Cart, error) {
	if c.indexOf(a.ProductID) < 0 {
		return c, ErrUnknownLine
	}
	next := c.withoutOffer()
	lines := make([]Line, 0, len(next.lines))
	for _, line := range next.lines {
		if line.ProductID != a.ProductID {
			lines = append(lines, line)
		}
	}
	next.lines = lines
	return next, nil
}

func (a SetItemDiscount) apply(c Cart) (Cart, error) {
	if err := checkDiscount(a.Discount); err != nil {
		return c, err
	}
	i := c.indexOf(a.ProductID)
	if i < 0 {
		return c, ErrUnknownLine
	}
	next := c.clone()
	next.lines[i].ItemDiscount = a.Discount.Value
	next.lines[i].ItemDiscountMode = a.Discount.Mode
	return next, nil
}

func (a SetBillDiscount) apply(c Cart) (Cart, error) {
	if err := checkDiscount(a.Discount); err != nil {
		return c, err
	}
	next := c.clone()
	next.bill = a.Discount
	return next, nil
}

func (a SetCustomer) apply(c Cart) (Cart, error) {
	next := c.clone()
	next.customerID = strings.TrimSpace(a.CustomerID)
	return next, nil
}

func (a ApplyOffer) apply(c Cart) (Cart, error) {
	base := c.withoutOffer().clone()
	app := offer.Resolve(a.Offer, base.OfferLines())

	applied := &appliedOffer{
		id:         a.Offer.ID,
		savings:    app.Savings,
		priorLines: map[string]pricing.Discount{},
		priorBill:  base.bill,
	}
	for i, amount := range app.LineDiscounts {
		line := base.lines[i]
		applied.priorLines[line.ProductID] = pricing.Discount{Value: line.ItemDiscount, Mode: line.ItemDiscountMode}
		base.lines[i].ItemDiscount = pricing.Round2(amount)
		base.lines[i].ItemDiscountMode = pricing.ModeAmount
	}
	if app.BillDiscount > 0 {
		base.bill = pricing.Discount{Value: pricing.Round2(app.BillDiscount), Mode: pricing.ModeAmount}
	}
	base.offer = applied
	return base, nil
}

func (ClearOffer) apply(c Cart) (Cart, error) {
	return c.withoutOffer(), nil
}

func checkDiscount(d pricing.Discount) error {
	if d.Value < 0 {
		return ErrNegative
	}
	if !pricing.ValidMode(d.Mode) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, d.Mode)
	}
	return nil
}
