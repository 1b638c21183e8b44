// Package offer decides which promotional offers apply to a cart and what
// each one is worth.
package offer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
)

// Line is the view of a cart line the matcher needs. Net is the line amount
// after the cashier's item discount.
type Line struct {
	ProductID string
	Category  string
	UnitPrice float64
	Qty       int
	Net       float64
}

// Application is an offer's discount resolved against a cart. Untargeted
// flat and percentage offers become a bill-level amount; everything else is
// attached to the individual lines it matched.
type Application struct {
	OfferID       string
	Savings       float64
	BillDiscount  float64
	LineDiscounts map[int]float64
}

func targeted(o domain.Offer) bool {
	return len(o.ProductIDs) > 0 || len(o.CategoryNames) > 0
}

func lineMatches(o domain.Offer, line Line) bool {
	if !targeted(o) {
		return true
	}
	for _, id := range o.ProductIDs {
		if id == line.ProductID {
			return true
		}
	}
	for _, name := range o.CategoryNames {
		if strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(line.Category)) {
			return true
		}
	}
	return false
}

func inWindow(o domain.Offer, now time.Time) bool {
	if o.StartsAt != nil && now.Before(*o.StartsAt) {
		return false
	}
	if o.EndsAt != nil && now.After(*o.EndsAt) {
		return false
	}
	return true
}

// Matches reports whether the offer is eligible for this cart and customer
// at the given instant. Untargeted offers apply bill-wide.
func Matches(o domain.Offer, lines []Line, customer *domain.Customer, now time.Time) bool {
	if !o.Active || !inWindow(o, now) {
		return false
	}
	if o.DOBMonthOnly {
		if customer == nil || customer.DateOfBirth == nil {
			return false
		}
		if customer.DateOfBirth.Month() != now.Month() {
			return false
		}
	}
	if !targeted(o) {
		return true
	}
	for _, line := range lines {
		if lineMatches(o, line) {
			return true
		}
	}
	return false
}

// Savings is the amount the offer would take off the cart.
func Savings(o domain.Offer, lines []Line) float64 {
	return Resolve(o, lines).Savings
}

// Resolve computes the offer's discount and where it lands. A targeted flat
// offer is granted once per matching line, not once per unit.
func Resolve(o domain.Offer, lines []Line) Application {
	app := Application{OfferID: o.ID, LineDiscounts: map[int]float64{}}

	switch o.RuleType {
	case domain.OfferRuleBOGO:
		group := o.BuyQty + o.GetQty
		if group <= 0 || o.GetQty <= 0 {
			return app
		}
		for i, line := range lines {
			if !lineMatches(o, line) || line.Qty <= 0 {
				continue
			}
			free := (line.Qty / group) * o.GetQty
			if free == 0 {
				continue
			}
			saved := float64(free) * line.UnitPrice
			app.LineDiscounts[i] = saved
			app.Savings += saved
		}
	case domain.OfferRuleFlat:
		if o.DiscountValue <= 0 {
			return app
		}
		if !targeted(o) {
			app.BillDiscount = o.DiscountValue
			app.Savings = o.DiscountValue
			return app
		}
		for i, line := range lines {
			if !lineMatches(o, line) {
				continue
			}
			app.LineDiscounts[i] = o.DiscountValue
			app.Savings += o.DiscountValue
		}
	case domain.OfferRulePercentage:
		pct := math.Max(0, math.Min(o.DiscountValue, 100))
		if pct == 0 {
			return app
		}
		if !targeted(o) {
			// Bill-wide percentages apply to the subtotal, which is already
			// net of item discounts.
			subtotal := 0.0
			for _, line := range lines {
				subtotal += line.Net
			}
			app.BillDiscount = subtotal * pct / 100
			app.Savings = app.BillDiscount
			return app
		}
		for i, line := range lines {
			if !lineMatches(o, line) {
				continue
			}
			saved := line.UnitPrice * float64(line.Qty) * pct / 100
			app.LineDiscounts[i] = saved
			app.Savings += saved
		}
	}
	return app
}

type candidate struct {
	offer   domain.Offer
	savings float64
}

// Select returns the offer to apply: among eligible offers with positive
// savings, the lowest priority number wins and ties go to the larger saving.
// Only one offer is ever applied, so an exclusive offer never stacks.
func Select(offers []domain.Offer, lines []Line, customer *domain.Customer, now time.Time) (*domain.Offer, float64) {
	candidates := make([]candidate, 0, len(offers))
	for _, o := range offers {
		if !Matches(o, lines, customer, now) {
			continue
		}
		saved := Savings(o, lines)
		if saved <= 0 {
			continue
		}
		candidates = append(candidates, candidate{offer: o, savings: saved})
	}
	if len(candidates) == 0 {
		return nil, 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.offer.Priority != b.offer.Priority {
			return a.offer.Priority < b.offer.Priority
		}
		if a.savings != b.savings {
			return a.savings > b.savings
		}
		return a.offer.ID < b.offer.ID
	})

	best := candidates[0].offer
	return &best, candidates[0].savings
}

// Validate checks an offer definition before it is stored.
func Validate(o domain.Offer) error {
	switch o.RuleType {
	case domain.OfferRuleFlat:
		if o.DiscountValue <= 0 {
			return errors.New("flat offer needs a positive discount value")
		}
	case domain.OfferRulePercentage:
		if o.DiscountValue <= 0 || o.DiscountValue > 100 {
			return errors.New("percentage offer needs a value in (0, 100]")
		}
	case domain.OfferRuleBOGO:
		if o.BuyQty < 1 || o.GetQty < 1 {
			return errors.New("buy-x-get-y offer needs buy and get quantities of at least 1")
		}
	default:
		return fmt.Errorf("unknown offer rule %q", o.RuleType)
	}
	if o.StartsAt != nil && o.EndsAt != nil && o.EndsAt.Before(*o.StartsAt) {
		return errors.New("offer ends before it starts")
	}
	return nil
}
