package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestMapErr(t *testing.T) {
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "40001"}), store.ErrConflict)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "40P01"}), store.ErrConflict)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "invoices_op_id_key"}), store.ErrConflict)
	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "products_sku_key"}), store.ErrDuplicate)

	plain := errors.New("boom")
	assert.Same(t, plain, mapErr(plain))
	assert.NoError(t, mapErr(nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx, domain.Settings{}))
	return s
}

func TestCheckoutTransactionCommitsAndDedupes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd_it_%d", stamp)
	invoiceID := fmt.Sprintf("inv_it_%d", stamp)
	opID := fmt.Sprintf("op-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_logs WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	_, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, SKU: fmt.Sprintf("SKU-IT-%d", stamp), Name: "Integration Tea", Category: "beverage",
		UnitPrice: 100, TaxRatePct: 12, Stock: 10, Active: true,
	})
	require.NoError(t, err)

	sell := func(id string) error {
		return s.RunInTx(ctx, func(tx store.Tx) error {
			if _, err := tx.FindInvoiceByOpID(ctx, opID); err == nil {
				return nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			p, err := tx.GetProduct(ctx, productID)
			if err != nil {
				return err
			}
			p.Stock -= 3
			if err := tx.SaveProduct(ctx, *p); err != nil {
				return err
			}
			if err := tx.CreateInvoice(ctx, domain.Invoice{
				ID: id, InvoiceNumber: "IT-" + id, OpID: opID,
				Lines:    []domain.InvoiceLine{{ProductID: productID, SKU: p.SKU, Name: p.Name, Quantity: 3, UnitPrice: 100, LineNet: 300}},
				Subtotal: 300, TaxTotal: 36, GrandTotal: 336, PaymentMethod: "cash", CashierUserID: "it",
				IssuedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			return tx.AppendInventoryLogs(ctx, []domain.InventoryLog{{
				ProductID: productID, QuantityChange: -3, Units: 3, Type: domain.LogTypeSale,
				Reason: "checkout", RelatedInvoiceID: id, UserID: "it", CreatedAt: time.Now().UTC(),
			}})
		})
	}

	require.NoError(t, sell(invoiceID))
	require.NoError(t, sell(invoiceID+"_replay"))

	p, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	inv, err := s.GetInvoice(ctx, invoiceID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, 3, inv.Lines[0].Quantity)
	assert.InDelta(t, 336.0, inv.GrandTotal, 0.001)

	logs, err := s.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: productID})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, -3, logs[0].QuantityChange)
}

func TestStockNeverNegativeInDatabase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	productID := fmt.Sprintf("prd_it_neg_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})
	_, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, SKU: "SKU-" + productID, Name: "Neg", Category: "test", UnitPrice: 1, Stock: 1, Active: true,
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		p.Stock = -1
		return tx.SaveProduct(ctx, *p)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDocument)

	_, err = s.CreateProduct(ctx, domain.Product{
		SKU: "SKU-" + productID, Name: "Dup", Category: "test", UnitPrice: 1, Active: true,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}
