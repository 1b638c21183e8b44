package offer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

var now = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

func cartLines() []Line {
	return []Line{
		{ProductID: "p-tea", Category: "Beverage", UnitPrice: 40, Qty: 5, Net: 200},
		{ProductID: "p-soap", Category: "household", UnitPrice: 25, Qty: 2, Net: 50},
		{ProductID: "p-rice", Category: "grocery", UnitPrice: 300, Qty: 1, Net: 300},
	}
}

func TestMatchesTargeting(t *testing.T) {
	lines := cartLines()

	untargeted := domain.Offer{ID: "o1", RuleType: domain.OfferRuleFlat, DiscountValue: 10, Active: true}
	assert.True(t, Matches(untargeted, lines, nil, now))

	byProduct := domain.Offer{ID: "o2", RuleType: domain.OfferRuleFlat, DiscountValue: 10, Active: true, ProductIDs: []string{"p-soap"}}
	assert.True(t, Matches(byProduct, lines, nil, now))

	byCategory := domain.Offer{ID: "o3", RuleType: domain.OfferRuleFlat, DiscountValue: 10, Active: true, CategoryNames: []string{"beverage"}}
	assert.True(t, Matches(byCategory, lines, nil, now))

	miss := domain.Offer{ID: "o4", RuleType: domain.OfferRuleFlat, DiscountValue: 10, Active: true, ProductIDs: []string{"p-none"}}
	assert.False(t, Matches(miss, lines, nil, now))

	inactive := untargeted
	inactive.Active = false
	assert.False(t, Matches(inactive, lines, nil, now))
}

func TestMatchesDateWindow(t *testing.T) {
	start := now.Add(24 * time.Hour)
	end := now.Add(-time.Hour)

	future := domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 5, Active: true, StartsAt: &start}
	assert.False(t, Matches(future, cartLines(), nil, now))

	expired := domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 5, Active: true, EndsAt: &end}
	assert.False(t, Matches(expired, cartLines(), nil, now))
}

func TestMatchesBirthdayMonthGate(t *testing.T) {
	o := domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 10, Active: true, DOBMonthOnly: true}

	marchBorn := time.Date(1990, time.March, 2, 0, 0, 0, 0, time.UTC)
	julyBorn := time.Date(1990, time.July, 2, 0, 0, 0, 0, time.UTC)

	assert.False(t, Matches(o, cartLines(), nil, now))
	assert.False(t, Matches(o, cartLines(), &domain.Customer{}, now))
	assert.False(t, Matches(o, cartLines(), &domain.Customer{DateOfBirth: &julyBorn}, now))
	assert.True(t, Matches(o, cartLines(), &domain.Customer{DateOfBirth: &marchBorn}, now))
}

func TestSavingsBOGO(t *testing.T) {
	o := domain.Offer{RuleType: domain.OfferRuleBOGO, BuyQty: 2, GetQty: 1, Active: true, ProductIDs: []string{"p-tea"}}

	app := Resolve(o, cartLines())

	// 5 units in groups of 3 -> 1 group -> 1 free unit at 40.
	assert.Equal(t, 40.0, app.Savings)
	assert.Equal(t, map[int]float64{0: 40}, app.LineDiscounts)
	assert.Equal(t, 0.0, app.BillDiscount)
}

func TestSavingsFlatIsPerMatchingLine(t *testing.T) {
	untargeted := domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 15, Active: true}
	assert.Equal(t, 15.0, Savings(untargeted, cartLines()))
	assert.Equal(t, 15.0, Resolve(untargeted, cartLines()).BillDiscount)

	targeted := domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 15, Active: true, CategoryNames: []string{"beverage", "household"}}
	app := Resolve(targeted, cartLines())
	assert.Equal(t, 30.0, app.Savings)
	assert.Equal(t, map[int]float64{0: 15, 1: 15}, app.LineDiscounts)
}

func TestSavingsPercentage(t *testing.T) {
	untargeted := domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 10, Active: true}
	assert.InDelta(t, 55, Savings(untargeted, cartLines()), 1e-9)

	targeted := domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 10, Active: true, ProductIDs: []string{"p-rice"}}
	assert.InDelta(t, 30, Savings(targeted, cartLines()), 1e-9)
}

func TestPercentageBaseIgnoresItemDiscountOnlyWhenTargeted(t *testing.T) {
	// Two units at 50 with 50 off the line.
	lines := []Line{{ProductID: "p-chips", Category: "snack", UnitPrice: 50, Qty: 2, Net: 50}}

	untargeted := domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 10, Active: true}
	app := Resolve(untargeted, lines)
	assert.InDelta(t, 5, app.Savings, 1e-9)
	assert.InDelta(t, 5, app.BillDiscount, 1e-9)

	targeted := domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 10, Active: true, ProductIDs: []string{"p-chips"}}
	assert.InDelta(t, 10, Savings(targeted, lines), 1e-9)
}

func TestSelectOrdersByPriorityThenSavings(t *testing.T) {
	offers := []domain.Offer{
		{ID: "big-low-priority", RuleType: domain.OfferRuleFlat, DiscountValue: 100, Priority: 5, Active: true},
		{ID: "small", RuleType: domain.OfferRuleFlat, DiscountValue: 10, Priority: 1, Active: true},
		{ID: "bigger", RuleType: domain.OfferRulePercentage, DiscountValue: 20, Priority: 1, Active: true},
		{ID: "not-matching", RuleType: domain.OfferRuleFlat, DiscountValue: 500, Priority: 0, Active: true, ProductIDs: []string{"zzz"}},
	}

	best, savings := Select(offers, cartLines(), nil, now)

	require.NotNil(t, best)
	assert.Equal(t, "bigger", best.ID)
	assert.InDelta(t, 110, savings, 1e-9)
}

func TestSelectNothingEligible(t *testing.T) {
	offers := []domain.Offer{{ID: "zero", RuleType: domain.OfferRuleBOGO, BuyQty: 10, GetQty: 1, Active: true}}

	best, savings := Select(offers, cartLines(), nil, now)

	assert.Nil(t, best)
	assert.Equal(t, 0.0, savings)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 1}))
	assert.Error(t, Validate(domain.Offer{RuleType: domain.OfferRulePercentage, DiscountValue: 120}))
	assert.Error(t, Validate(domain.Offer{RuleType: domain.OfferRuleBOGO, BuyQty: 1}))
	assert.Error(t, Validate(domain.Offer{RuleType: "mystery"}))

	start := now
	end := now.Add(-time.Minute)
	assert.Error(t, Validate(domain.Offer{RuleType: domain.OfferRuleFlat, DiscountValue: 1, StartsAt: &start, EndsAt: &end}))
}
