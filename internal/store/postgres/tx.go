package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// RunInTx runs fn in a SERIALIZABLE transaction. Documents fn will write
// are read FOR UPDATE, so concurrent checkouts of the same product queue on
// the row lock instead of failing at commit.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{q: sqlTx}); err != nil {
		return mapErr(err)
	}
	return mapErr(sqlTx.Commit())
}

type tx struct {
	q queryer
}

func (t *tx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(t.q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return scanSettings(t.q.QueryRowContext(ctx,
		`SELECT invoice_prefix, next_invoice_sequence, store_name FROM settings WHERE id = 1 FOR UPDATE`))
}

func (t *tx) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(t.q.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1 FOR UPDATE`, id))
}

// GetInvoice locks the invoice row, which serializes exchanges against the
// same original invoice.
func (t *tx) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, t.q, `id = $1`, id, true)
}

func (t *tx) ListExchangesByInvoice(ctx context.Context, invoiceID string) ([]domain.Exchange, error) {
	return listExchanges(ctx, t.q, invoiceID)
}

func (t *tx) FindInvoiceByOpID(ctx context.Context, opID string) (*domain.Invoice, error) {
	return loadInvoice(ctx, t.q, `op_id = $1`, opID, false)
}

func (t *tx) FindExchangeByOpID(ctx context.Context, opID string) (*domain.Exchange, error) {
	return scanExchange(t.q.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE op_id = $1`, opID))
}

func (t *tx) FindReceiptByOpID(ctx context.Context, opID string) (*domain.Receipt, error) {
	var (
		rc    domain.Receipt
		op    sql.NullString
		lines []byte
	)
	err := t.q.QueryRowContext(ctx, `
		SELECT id, op_id, supplier, note, lines, received_by, received_at
		FROM receipts
		WHERE op_id = $1
	`, opID).Scan(&rc.ID, &op, &rc.Supplier, &rc.Note, &lines, &rc.ReceivedBy, &rc.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &rc.Lines); err != nil {
		return nil, fmt.Errorf("decode receipt %s lines: %w", rc.ID, err)
	}
	rc.OpID = op.String
	rc.ReceivedAt = rc.ReceivedAt.UTC()
	return &rc, nil
}

func (t *tx) SaveProduct(ctx context.Context, product domain.Product) error {
	product, err := domain.NormalizeProduct(product)
	if err != nil {
		return err
	}
	return t.exactlyOne(ctx, "product "+product.ID, `
		UPDATE products
		SET sku = $2, name = $3, category = $4, unit_price = $5, tax_rate_pct = $6,
			stock = $7, reorder_level = $8, active = $9, updated_at = now()
		WHERE id = $1
	`, product.ID, product.SKU, product.Name, product.Category, product.UnitPrice, product.TaxRatePct,
		product.Stock, product.ReorderLevel, product.Active)
}

func (t *tx) SaveSettings(ctx context.Context, settings domain.Settings) error {
	settings, err := domain.NormalizeSettings(settings)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO settings (id, invoice_prefix, next_invoice_sequence, store_name)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET invoice_prefix = EXCLUDED.invoice_prefix,
			next_invoice_sequence = EXCLUDED.next_invoice_sequence,
			store_name = EXCLUDED.store_name
	`, settings.InvoicePrefix, settings.NextInvoiceSequence, settings.StoreName)
	return err
}

func (t *tx) SaveCustomer(ctx context.Context, customer domain.Customer) error {
	customer, err := domain.NormalizeCustomer(customer)
	if err != nil {
		return err
	}
	return t.exactlyOne(ctx, "customer "+customer.ID, `
		UPDATE customers
		SET name = $2, phone = $3, date_of_birth = $4, loyalty_points = $5, total_spend = $6
		WHERE id = $1
	`, customer.ID, customer.Name, customer.Phone, nullDate(customer.DateOfBirth),
		customer.LoyaltyPoints, customer.TotalSpend)
}

func (t *tx) CreateInvoice(ctx context.Context, invoice domain.Invoice) error {
	invoice, err := domain.NormalizeInvoice(invoice)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, invoice.ID, invoice.InvoiceNumber, nullIfEmpty(invoice.OpID), invoice.Subtotal, invoice.TaxTotal,
		invoice.DiscountTotal, invoice.GrandTotal, invoice.PaymentMethod, invoice.CashierUserID,
		nullIfEmpty(invoice.CustomerID), nullIfEmpty(invoice.OfferID), invoice.Status, invoice.IssuedAt,
		nullIfEmpty(invoice.ExchangeOfInvoiceID), nullIfEmpty(invoice.ExchangeID))
	if err != nil {
		return err
	}

	for i, line := range invoice.Lines {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO invoice_lines (
				invoice_id, line_no, product_id, sku, name, quantity,
				unit_price, tax_rate_pct, discount_amount, line_net, tax_amount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, invoice.ID, i+1, line.ProductID, line.SKU, line.Name, line.Quantity,
			line.UnitPrice, line.TaxRatePct, line.DiscountAmount, line.LineNet, line.TaxAmount); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) LinkInvoiceExchange(ctx context.Context, invoiceID string, exchangeID string) error {
	return t.exactlyOne(ctx, "invoice "+invoiceID,
		`UPDATE invoices SET exchange_id = $2 WHERE id = $1`, invoiceID, exchangeID)
}

func (t *tx) CreateExchange(ctx context.Context, exchange domain.Exchange) error {
	returned, err := json.Marshal(exchange.Returned)
	if err != nil {
		return err
	}
	newItems, err := json.Marshal(exchange.NewItems)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO exchanges (`+exchangeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, exchange.ID, nullIfEmpty(exchange.OpID), exchange.OriginalInvoiceID, returned, newItems,
		exchange.ReturnCredit, exchange.NewSubtotal, exchange.Difference, nullIfEmpty(exchange.NewInvoiceID),
		nullIfEmpty(exchange.RefundID), exchange.PaymentMethod, exchange.CreatedByUserID,
		nullIfEmpty(exchange.CustomerID), exchange.CreatedAt)
	return err
}

func (t *tx) CreateRefund(ctx context.Context, refund domain.Refund) error {
	if refund.Amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", domain.ErrInvalidDocument)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO refunds (id, exchange_id, original_invoice_id, amount, method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, refund.ID, refund.ExchangeID, refund.OriginalInvoiceID, refund.Amount, refund.Method, refund.CreatedAt)
	return err
}

func (t *tx) CreateReceipt(ctx context.Context, receipt domain.Receipt) error {
	lines, err := json.Marshal(receipt.Lines)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO receipts (id, op_id, supplier, note, lines, received_by, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, receipt.ID, nullIfEmpty(receipt.OpID), receipt.Supplier, receipt.Note, lines,
		receipt.ReceivedBy, receipt.ReceivedAt)
	return err
}

func (t *tx) AppendInventoryLogs(ctx context.Context, logs []domain.InventoryLog) error {
	for _, entry := range logs {
		if entry.ID == "" {
			entry.ID = xid.New("log")
		}
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO inventory_logs (
				id, product_id, quantity_change, units, type, reason,
				related_invoice_id, related_receipt_id, user_id, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, entry.ID, entry.ProductID, entry.QuantityChange, entry.Units, entry.Type, entry.Reason,
			nullIfEmpty(entry.RelatedInvoiceID), nullIfEmpty(entry.RelatedReceiptID),
			entry.UserID, entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) exactlyOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
