package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	DefaultInvoicePrefix = "INV"
	DefaultStoreName     = "Retail POS"
)

var ErrInvalidDocument = errors.New("invalid document")

// NormalizeSKU is the canonical lookup form of a SKU.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// NormalizePhone keeps digits and a leading plus sign so that
// "+91 98765-43210" and "+919876543210" are the same customer.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeSettings fills defaults for a settings document read from
// storage. A missing document is represented by the zero value.
func NormalizeSettings(s Settings) (Settings, error) {
	s.InvoicePrefix = strings.TrimSpace(s.InvoicePrefix)
	if s.InvoicePrefix == "" {
		s.InvoicePrefix = DefaultInvoicePrefix
	}
	if s.NextInvoiceSequence < 1 {
		s.NextInvoiceSequence = 1
	}
	if strings.TrimSpace(s.StoreName) == "" {
		s.StoreName = DefaultStoreName
	}
	return s, nil
}

func NormalizeProduct(p Product) (Product, error) {
	p.SKU = NormalizeSKU(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.TrimSpace(p.Category)
	if p.ID == "" || p.SKU == "" {
		return Product{}, fmt.Errorf("%w: product without id or sku", ErrInvalidDocument)
	}
	if p.Stock < 0 {
		return Product{}, fmt.Errorf("%w: product %s has negative stock %d", ErrInvalidDocument, p.ID, p.Stock)
	}
	if p.UnitPrice < 0 || p.TaxRatePct < 0 {
		return Product{}, fmt.Errorf("%w: product %s has negative price or tax rate", ErrInvalidDocument, p.ID)
	}
	if p.ReorderLevel < 0 {
		p.ReorderLevel = 0
	}
	return p, nil
}

func NormalizeCustomer(c Customer) (Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = NormalizePhone(c.Phone)
	if c.ID == "" || c.Phone == "" {
		return Customer{}, fmt.Errorf("%w: customer without id or phone", ErrInvalidDocument)
	}
	if c.LoyaltyPoints < 0 {
		c.LoyaltyPoints = 0
	}
	if c.TotalSpend < 0 {
		c.TotalSpend = 0
	}
	return c, nil
}

func NormalizeInvoice(inv Invoice) (Invoice, error) {
	if inv.ID == "" || inv.InvoiceNumber == "" {
		return Invoice{}, fmt.Errorf("%w: invoice without id or number", ErrInvalidDocument)
	}
	for _, line := range inv.Lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			return Invoice{}, fmt.Errorf("%w: invoice %s has an invalid line", ErrInvalidDocument, inv.ID)
		}
	}
	if inv.Status == "" {
		inv.Status = InvoiceStatusPaid
	}
	return inv, nil
}

func NormalizeOffer(o Offer) (Offer, error) {
	if o.ID == "" {
		return Offer{}, fmt.Errorf("%w: offer without id", ErrInvalidDocument)
	}
	switch o.RuleType {
	case OfferRuleFlat, OfferRulePercentage, OfferRuleBOGO:
	default:
		return Offer{}, fmt.Errorf("%w: offer %s has unknown rule %q", ErrInvalidDocument, o.ID, o.RuleType)
	}
	ids := o.ProductIDs[:0:0]
	for _, id := range o.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	o.ProductIDs = ids
	names := o.CategoryNames[:0:0]
	for _, name := range o.CategoryNames {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	o.CategoryNames = names
	return o, nil
}
