package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestRunInTxCommitsBufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "prd_tea")
		if err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		p.Stock -= 2
		settings.NextInvoiceSequence++
		if err := tx.SaveProduct(ctx, *p); err != nil {
			return err
		}
		if err := tx.SaveSettings(ctx, *settings); err != nil {
			return err
		}
		return tx.CreateInvoice(ctx, domain.Invoice{
			ID:            "inv_1",
			InvoiceNumber: "INV-000001",
			OpID:          "op-1",
			Lines:         []domain.InvoiceLine{{ProductID: "prd_tea", Quantity: 2}},
		})
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "prd_tea")
	require.NoError(t, err)
	assert.Equal(t, 118, p.Stock)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), settings.NextInvoiceSequence)

	inv, err := s.FindInvoiceByNumber(ctx, "INV-000001")
	require.NoError(t, err)
	assert.Equal(t, "op-1", inv.OpID)
}

func TestRunInTxDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "prd_tea")
		if err != nil {
			return err
		}
		p.Stock = 0
		if err := tx.SaveProduct(ctx, *p); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	p, err := s.GetProduct(ctx, "prd_tea")
	require.NoError(t, err)
	assert.Equal(t, 120, p.Stock)
}

func TestRunInTxDetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "prd_tea")
		if err != nil {
			return err
		}

		// A second writer commits between our read and our commit.
		require.NoError(t, s.RunInTx(ctx, func(other store.Tx) error {
			q, err := other.GetProduct(ctx, "prd_tea")
			if err != nil {
				return err
			}
			q.Stock--
			return other.SaveProduct(ctx, *q)
		}))

		p.Stock -= 5
		return tx.SaveProduct(ctx, *p)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	p, err := s.GetProduct(ctx, "prd_tea")
	require.NoError(t, err)
	assert.Equal(t, 119, p.Stock)
}

func TestRunInTxOpIDIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	create := func(id, number string) error {
		return s.RunInTx(ctx, func(tx store.Tx) error {
			return tx.CreateInvoice(ctx, domain.Invoice{
				ID:            id,
				InvoiceNumber: number,
				OpID:          "op-same",
				Lines:         []domain.InvoiceLine{{ProductID: "prd_tea", Quantity: 1}},
			})
		})
	}
	require.NoError(t, create("inv_a", "INV-000001"))
	assert.ErrorIs(t, create("inv_b", "INV-000002"), store.ErrConflict)
}

func TestRunInTxRejectsReadAfterWriteAndBlindWrite(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.SaveProduct(ctx, domain.Product{ID: "prd_tea", SKU: "SKU-TEA-01"})
	})
	assert.ErrorIs(t, err, errWriteUnread)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.AppendInventoryLogs(ctx, nil); err != nil {
			return err
		}
		_, err := tx.GetProduct(ctx, "prd_tea")
		return err
	})
	assert.ErrorIs(t, err, errReadAfterWrite)
}

func TestCreateProductAndCustomerUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateProduct(ctx, domain.Product{SKU: "abc", Name: "A", Category: "x", UnitPrice: 1, Active: true})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{SKU: " ABC ", Name: "B", Category: "x", UnitPrice: 1})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetProductBySKU(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	_, err = s.CreateCustomer(ctx, domain.Customer{Name: "R", Phone: "98765 43210"})
	require.NoError(t, err)
	_, err = s.CreateCustomer(ctx, domain.Customer{Name: "S", Phone: "9876543210"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	c, err := s.FindCustomerByPhone(ctx, "98765-43210")
	require.NoError(t, err)
	assert.Equal(t, "R", c.Name)
}

func TestListInventoryLogsFilters(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.AppendInventoryLogs(ctx, []domain.InventoryLog{
			{ID: "l1", ProductID: "p1", Type: domain.LogTypeSale, QuantityChange: -1},
			{ID: "l2", ProductID: "p2", Type: domain.LogTypePurchase, QuantityChange: 5},
			{ID: "l3", ProductID: "p1", Type: domain.LogTypeReturn, QuantityChange: 1},
		})
	}))

	logs, err := s.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: "p1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "l3", logs[0].ID)

	logs, err = s.ListInventoryLogs(ctx, domain.InventoryLogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
