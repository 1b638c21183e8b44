// Package inventory builds ledger entries for stock movements and
// summarizes them for reporting. Authoritative stock lives on the product;
// the ledger only explains how it got there.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/xid"
)

const (
	ReasonCheckout       = "checkout"
	ReasonExchange       = "exchange"
	ReasonExchangeDefect = "exchange-defect"
	ReasonReceive        = "receive"
)

var ErrInvalidEntry = errors.New("inventory: invalid ledger entry")

// Entry describes a movement before it is stamped with an id and time.
type Entry struct {
	ProductID        string
	Type             string
	Delta            int
	Units            int
	Reason           string
	RelatedInvoiceID string
	RelatedReceiptID string
	UserID           string
}

func Sale(productID string, qty int, invoiceID, userID, reason string) Entry {
	return Entry{ProductID: productID, Type: domain.LogTypeSale, Delta: -qty, Units: qty, Reason: reason, RelatedInvoiceID: invoiceID, UserID: userID}
}

func Purchase(productID string, qty int, receiptID, userID string) Entry {
	return Entry{ProductID: productID, Type: domain.LogTypePurchase, Delta: qty, Units: qty, Reason: ReasonReceive, RelatedReceiptID: receiptID, UserID: userID}
}

func Return(productID string, qty int, invoiceID, userID string) Entry {
	return Entry{ProductID: productID, Type: domain.LogTypeReturn, Delta: qty, Units: qty, Reason: ReasonExchange, RelatedInvoiceID: invoiceID, UserID: userID}
}

// Damage records units written off. Defective returns never go back on the
// shelf, so the stock delta is zero and the count is kept in Units.
func Damage(productID string, qty int, invoiceID, userID string) Entry {
	return Entry{ProductID: productID, Type: domain.LogTypeDamage, Delta: 0, Units: qty, Reason: ReasonExchangeDefect, RelatedInvoiceID: invoiceID, UserID: userID}
}

func Adjustment(productID string, delta int, reason, userID string) Entry {
	units := delta
	if units < 0 {
		units = -units
	}
	return Entry{ProductID: productID, Type: domain.LogTypeAdjustment, Delta: delta, Units: units, Reason: reason, UserID: userID}
}

// Validate enforces the sign rule for each movement type.
func (e Entry) Validate() error {
	if e.ProductID == "" {
		return fmt.Errorf("%w: missing product id", ErrInvalidEntry)
	}
	ok := false
	switch e.Type {
	case domain.LogTypeSale:
		ok = e.Delta < 0
	case domain.LogTypePurchase, domain.LogTypeReturn:
		ok = e.Delta > 0
	case domain.LogTypeDamage:
		ok = e.Delta <= 0 && e.Units > 0
	case domain.LogTypeAdjustment:
		ok = e.Delta != 0
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s with delta %d", ErrInvalidEntry, e.Type, e.Delta)
	}
	return nil
}

// Build validates entries and turns them into log records stamped at now.
func Build(now time.Time, entries ...Entry) ([]domain.InventoryLog, error) {
	logs := make([]domain.InventoryLog, 0, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		logs = append(logs, domain.InventoryLog{
			ID:               xid.New("log"),
			ProductID:        e.ProductID,
			QuantityChange:   e.Delta,
			Units:            e.Units,
			Type:             e.Type,
			Reason:           e.Reason,
			RelatedInvoiceID: e.RelatedInvoiceID,
			RelatedReceiptID: e.RelatedReceiptID,
			UserID:           e.UserID,
			CreatedAt:        now,
		})
	}
	return logs, nil
}

// Summarize groups ledger rows per product for the movement report,
// ordered by product id.
func Summarize(logs []domain.InventoryLog) []domain.StockMovement {
	byProduct := map[string]*domain.StockMovement{}
	last := map[string]time.Time{}
	for _, l := range logs {
		m, ok := byProduct[l.ProductID]
		if !ok {
			m = &domain.StockMovement{ProductID: l.ProductID}
			byProduct[l.ProductID] = m
		}
		switch l.Type {
		case domain.LogTypeSale:
			m.Sold += -l.QuantityChange
		case domain.LogTypePurchase:
			m.Purchased += l.QuantityChange
		case domain.LogTypeReturn:
			m.Returned += l.QuantityChange
		case domain.LogTypeDamage:
			m.Damaged += l.Units
		case domain.LogTypeAdjustment:
			m.Adjusted += l.QuantityChange
		}
		m.NetChange += l.QuantityChange
		m.EntryCount++
		if l.CreatedAt.After(last[l.ProductID]) {
			last[l.ProductID] = l.CreatedAt
		}
	}

	out := make([]domain.StockMovement, 0, len(byProduct))
	for id, m := range byProduct {
		if ts := last[id]; !ts.IsZero() {
			m.LastMovedAt = ts.UTC().Format(time.RFC3339)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
