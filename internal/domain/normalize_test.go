package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSettingsDefaults(t *testing.T) {
	s, err := NormalizeSettings(Settings{})
	require.NoError(t, err)
	assert.Equal(t, "INV", s.InvoicePrefix)
	assert.Equal(t, int64(1), s.NextInvoiceSequence)

	s, err = NormalizeSettings(Settings{InvoicePrefix: " SHOP ", NextInvoiceSequence: 42, StoreName: "Corner"})
	require.NoError(t, err)
	assert.Equal(t, "SHOP", s.InvoicePrefix)
	assert.Equal(t, int64(42), s.NextInvoiceSequence)
	assert.Equal(t, "Corner", s.StoreName)
}

func TestNormalizeProductRejectsNegativeStock(t *testing.T) {
	_, err := NormalizeProduct(Product{ID: "p1", SKU: "a", Stock: -1})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	p, err := NormalizeProduct(Product{ID: "p1", SKU: " ab-1 ", Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, "AB-1", p.SKU)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+919876543210", NormalizePhone(" +91 98765-43210 "))
	assert.Equal(t, "0222", NormalizePhone("(022) 2"))
}

func TestNormalizeCustomerClampsCounters(t *testing.T) {
	c, err := NormalizeCustomer(Customer{ID: "c1", Phone: "98-76", LoyaltyPoints: -5, TotalSpend: -1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.LoyaltyPoints)
	assert.Equal(t, 0.0, c.TotalSpend)
	assert.Equal(t, "9876", c.Phone)

	_, err = NormalizeCustomer(Customer{ID: "c2"})
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestNormalizeInvoiceAndOffer(t *testing.T) {
	inv, err := NormalizeInvoice(Invoice{ID: "i1", InvoiceNumber: "INV-000001", Lines: []InvoiceLine{{ProductID: "p1", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, InvoiceStatusPaid, inv.Status)

	_, err = NormalizeInvoice(Invoice{ID: "i1", InvoiceNumber: "INV-000001", Lines: []InvoiceLine{{ProductID: "p1"}}})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	o, err := NormalizeOffer(Offer{ID: "o1", RuleType: OfferRuleFlat, ProductIDs: []string{" ", "p1"}, CategoryNames: []string{""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, o.ProductIDs)
	assert.Empty(t, o.CategoryNames)

	_, err = NormalizeOffer(Offer{ID: "o2", RuleType: "mystery"})
	assert.ErrorIs(t, err, ErrInvalidDocument)
}
