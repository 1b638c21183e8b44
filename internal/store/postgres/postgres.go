package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and the singleton settings row. An
// existing settings row is left untouched.
func (s *Store) Migrate(ctx context.Context, defaults domain.Settings) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	settings, err := domain.NormalizeSettings(defaults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, invoice_prefix, next_invoice_sequence, store_name)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, settings.InvoicePrefix, settings.NextInvoiceSequence, settings.StoreName)
	return err
}

const productColumns = `id, sku, name, category, unit_price, tax_rate_pct, stock, reorder_level, active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UnitPrice, &p.TaxRatePct,
		&p.Stock, &p.ReorderLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true OR $1
		ORDER BY category, name
	`, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku = $1`, domain.NormalizeSKU(sku)))
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product, err := domain.NormalizeProduct(product)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.SKU, product.Name, product.Category, product.UnitPrice, product.TaxRatePct,
		product.Stock, product.ReorderLevel, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &product, nil
}

const customerColumns = `id, name, phone, date_of_birth, loyalty_points, total_spend, created_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var (
		c   domain.Customer
		dob sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &dob, &c.LoyaltyPoints, &c.TotalSpend, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dob.Valid {
		d := dob.Time.UTC()
		c.DateOfBirth = &d
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return scanCustomer(s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE phone = $1`, domain.NormalizePhone(phone)))
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer, err := domain.NormalizeCustomer(customer)
	if err != nil {
		return nil, err
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, customer.ID, customer.Name, customer.Phone, nullDate(customer.DateOfBirth),
		customer.LoyaltyPoints, customer.TotalSpend, customer.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &customer, nil
}

const offerColumns = `id, name, product_ids, category_names, rule_type, discount_value, buy_qty, get_qty,
	starts_at, ends_at, dob_month_only, priority, exclusive, active, created_at`

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var (
		o                   domain.Offer
		productIDs, catsRaw []byte
		startsAt, endsAt    sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Name, &productIDs, &catsRaw, &o.RuleType, &o.DiscountValue, &o.BuyQty, &o.GetQty,
		&startsAt, &endsAt, &o.DOBMonthOnly, &o.Priority, &o.Exclusive, &o.Active, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(productIDs, &o.ProductIDs); err != nil {
		return nil, fmt.Errorf("decode offer %s product ids: %w", o.ID, err)
	}
	if err := json.Unmarshal(catsRaw, &o.CategoryNames); err != nil {
		return nil, fmt.Errorf("decode offer %s categories: %w", o.ID, err)
	}
	o.StartsAt = timePtr(startsAt)
	o.EndsAt = timePtr(endsAt)
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers ORDER BY priority, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]domain.Offer, 0, 16)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func (s *Store) GetOffer(ctx context.Context, id string) (*domain.Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (s *Store) CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error) {
	if offer.ID == "" {
		offer.ID = xid.New("ofr")
	}
	offer, err := domain.NormalizeOffer(offer)
	if err != nil {
		return nil, err
	}
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now().UTC()
	}
	productIDs, err := json.Marshal(nonNil(offer.ProductIDs))
	if err != nil {
		return nil, err
	}
	categories, err := json.Marshal(nonNil(offer.CategoryNames))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, offer.ID, offer.Name, productIDs, categories, offer.RuleType, offer.DiscountValue, offer.BuyQty, offer.GetQty,
		nullTime(offer.StartsAt), nullTime(offer.EndsAt), offer.DOBMonthOnly, offer.Priority, offer.Exclusive,
		offer.Active, offer.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &offer, nil
}

func scanSettings(row rowScanner) (*domain.Settings, error) {
	var settings domain.Settings
	err := row.Scan(&settings.InvoicePrefix, &settings.NextInvoiceSequence, &settings.StoreName)
	if errors.Is(err, sql.ErrNoRows) {
		// Migrate has not seeded the row yet.
		settings, _ = domain.NormalizeSettings(domain.Settings{})
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	return scanSettings(s.db.QueryRowContext(ctx,
		`SELECT invoice_prefix, next_invoice_sequence, store_name FROM settings WHERE id = 1`))
}

const invoiceColumns = `id, invoice_number, op_id, subtotal, tax_total, discount_total, grand_total,
	payment_method, cashier_user_id, customer_id, offer_id, status, issued_at, exchange_of_invoice_id, exchange_id`

// loadInvoice reads one invoice header matched by where and then its lines.
func loadInvoice(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		inv                                         domain.Invoice
		opID, customerID, offerID, exOf, exchangeID sql.NullString
	)
	err := q.QueryRowContext(ctx, query, arg).Scan(&inv.ID, &inv.InvoiceNumber, &opID, &inv.Subtotal, &inv.TaxTotal,
		&inv.DiscountTotal, &inv.GrandTotal, &inv.PaymentMethod, &inv.CashierUserID, &customerID, &offerID,
		&inv.Status, &inv.IssuedAt, &exOf, &exchangeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.OpID = opID.String
	inv.CustomerID = customerID.String
	inv.OfferID = offerID.String
	inv.ExchangeOfInvoiceID = exOf.String
	inv.ExchangeID = exchangeID.String
	inv.IssuedAt = inv.IssuedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, sku, name, quantity, unit_price, tax_rate_pct, discount_amount, line_net, tax_amount
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no
	`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inv.Lines = make([]domain.InvoiceLine, 0, 8)
	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.ProductID, &line.SKU, &line.Name, &line.Quantity, &line.UnitPrice,
			&line.TaxRatePct, &line.DiscountAmount, &line.LineNet, &line.TaxAmount); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, `invoice_number = $1`, strings.TrimSpace(number), false)
}

const exchangeColumns = `id, op_id, original_invoice_id, returned, new_items, return_credit, new_subtotal, difference,
	new_invoice_id, refund_id, payment_method, created_by_user_id, customer_id, created_at`

func scanExchange(row rowScanner) (*domain.Exchange, error) {
	var (
		ex                                   domain.Exchange
		returned, newItems                   []byte
		opID, newInvoiceID, refundID, custID sql.NullString
	)
	err := row.Scan(&ex.ID, &opID, &ex.OriginalInvoiceID, &returned, &newItems, &ex.ReturnCredit, &ex.NewSubtotal,
		&ex.Difference, &newInvoiceID, &refundID, &ex.PaymentMethod, &ex.CreatedByUserID, &custID, &ex.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(returned, &ex.Returned); err != nil {
		return nil, fmt.Errorf("decode exchange %s returns: %w", ex.ID, err)
	}
	if err := json.Unmarshal(newItems, &ex.NewItems); err != nil {
		return nil, fmt.Errorf("decode exchange %s new items: %w", ex.ID, err)
	}
	ex.OpID = opID.String
	ex.NewInvoiceID = newInvoiceID.String
	ex.RefundID = refundID.String
	ex.CustomerID = custID.String
	ex.CreatedAt = ex.CreatedAt.UTC()
	return &ex, nil
}

func listExchanges(ctx context.Context, q queryer, invoiceID string) ([]domain.Exchange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE original_invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Exchange, 0, 4)
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ex)
	}
	return out, rows.Err()
}

func (s *Store) ListExchangesByInvoice(ctx context.Context, invoiceID string) ([]domain.Exchange, error) {
	return listExchanges(ctx, s.db, invoiceID)
}

// ListInventoryLogs returns matching ledger rows, newest first.
func (s *Store) ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLog, error) {
	query := `
		SELECT id, product_id, quantity_change, units, type, reason,
			related_invoice_id, related_receipt_id, user_id, created_at
		FROM inventory_logs
		WHERE ($1 = '' OR product_id = $1)
			AND ($2 = '' OR type = $2)
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id DESC`
	args := []any{filter.ProductID, filter.Type, nullZeroTime(filter.From), nullZeroTime(filter.To)}
	if filter.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryLog, 0, 64)
	for rows.Next() {
		var (
			entry              domain.InventoryLog
			invoiceID, receipt sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.QuantityChange, &entry.Units, &entry.Type,
			&entry.Reason, &invoiceID, &receipt, &entry.UserID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.RelatedInvoiceID = invoiceID.String
		entry.RelatedReceiptID = receipt.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidDocument)
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	return mapErr(err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidDocument)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapErr translates driver errors into store errors. Serialization
// failures and a second write of the same op id surface as ErrConflict so
// the caller's retry loop replays the operation and finds the first write.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		if strings.HasSuffix(pgErr.ConstraintName, "op_id_key") {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
