package memory

import (
	"context"
	"errors"
	"fmt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

var (
	errReadAfterWrite = errors.New("memory store: read after write in transaction")
	errWriteUnread    = errors.New("memory store: write to a document not read in this transaction")
)

type tx struct {
	s *Store

	reads   map[string]int64
	writing bool

	products  map[string]domain.Product
	customers map[string]domain.Customer
	settings  *domain.Settings
	invoices  []domain.Invoice
	links     map[string]string
	exchanges []domain.Exchange
	refunds   []domain.Refund
	receipts  []domain.Receipt
	logs      []domain.InventoryLog
}

// RunInTx gives fn a snapshot-reading transaction. Writes are applied under
// the store lock only if every document read is still at the version seen.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:         s,
		reads:     make(map[string]int64),
		products:  make(map[string]domain.Product),
		customers: make(map[string]domain.Customer),
		links:     make(map[string]string),
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// observe records the version of key the first time it is read.
func (t *tx) observe(key string) error {
	if t.writing {
		return errReadAfterWrite
	}
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.s.versions[key]
	}
	return nil
}

func (t *tx) write(key string) error {
	if _, seen := t.reads[key]; !seen {
		return fmt.Errorf("%w: %s", errWriteUnread, key)
	}
	t.writing = true
	return nil
}

func (t *tx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(productKey(id)); err != nil {
		return nil, err
	}
	p, ok := t.s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *tx) GetSettings(_ context.Context) (*domain.Settings, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(settingsKey); err != nil {
		return nil, err
	}
	settings, err := domain.NormalizeSettings(t.s.settings)
	if err != nil {
		return nil, err
	}
	settings.Version = t.s.versions[settingsKey]
	return &settings, nil
}

func (t *tx) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(customerKey(id)); err != nil {
		return nil, err
	}
	c, ok := t.s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneCustomer(c)
	return &dup, nil
}

func (t *tx) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(invoiceKey(id)); err != nil {
		return nil, err
	}
	inv, ok := t.s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(inv)
	return &dup, nil
}

func (t *tx) ListExchangesByInvoice(_ context.Context, invoiceID string) ([]domain.Exchange, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(exchangesKey(invoiceID)); err != nil {
		return nil, err
	}
	return t.s.exchangesFor(invoiceID), nil
}

func (t *tx) FindInvoiceByOpID(_ context.Context, opID string) (*domain.Invoice, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(invoiceOpKey(opID)); err != nil {
		return nil, err
	}
	id, ok := t.s.invoiceByOp[opID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(t.s.invoices[id])
	return &dup, nil
}

func (t *tx) FindExchangeByOpID(_ context.Context, opID string) (*domain.Exchange, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(exchangeOpKey(opID)); err != nil {
		return nil, err
	}
	id, ok := t.s.exchangeByOp[opID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneExchange(t.s.exchanges[id])
	return &dup, nil
}

func (t *tx) FindReceiptByOpID(_ context.Context, opID string) (*domain.Receipt, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.observe(receiptOpKey(opID)); err != nil {
		return nil, err
	}
	id, ok := t.s.receiptByOp[opID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneReceipt(t.s.receipts[id])
	return &dup, nil
}

func (t *tx) SaveProduct(_ context.Context, product domain.Product) error {
	if err := t.write(productKey(product.ID)); err != nil {
		return err
	}
	product, err := domain.NormalizeProduct(product)
	if err != nil {
		return err
	}
	t.products[product.ID] = product
	return nil
}

func (t *tx) SaveSettings(_ context.Context, settings domain.Settings) error {
	if err := t.write(settingsKey); err != nil {
		return err
	}
	settings, err := domain.NormalizeSettings(settings)
	if err != nil {
		return err
	}
	t.settings = &settings
	return nil
}

func (t *tx) SaveCustomer(_ context.Context, customer domain.Customer) error {
	if err := t.write(customerKey(customer.ID)); err != nil {
		return err
	}
	customer, err := domain.NormalizeCustomer(customer)
	if err != nil {
		return err
	}
	t.customers[customer.ID] = cloneCustomer(customer)
	return nil
}

func (t *tx) CreateInvoice(_ context.Context, invoice domain.Invoice) error {
	invoice, err := domain.NormalizeInvoice(invoice)
	if err != nil {
		return err
	}
	t.writing = true
	t.invoices = append(t.invoices, cloneInvoice(invoice))
	return nil
}

func (t *tx) LinkInvoiceExchange(_ context.Context, invoiceID string, exchangeID string) error {
	if err := t.write(invoiceKey(invoiceID)); err != nil {
		return err
	}
	t.links[invoiceID] = exchangeID
	return nil
}

func (t *tx) CreateExchange(_ context.Context, exchange domain.Exchange) error {
	if err := t.write(exchangesKey(exchange.OriginalInvoiceID)); err != nil {
		return err
	}
	t.exchanges = append(t.exchanges, cloneExchange(exchange))
	return nil
}

func (t *tx) CreateRefund(_ context.Context, refund domain.Refund) error {
	if refund.Amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", domain.ErrInvalidDocument)
	}
	t.writing = true
	t.refunds = append(t.refunds, refund)
	return nil
}

func (t *tx) CreateReceipt(_ context.Context, receipt domain.Receipt) error {
	t.writing = true
	t.receipts = append(t.receipts, cloneReceipt(receipt))
	return nil
}

func (t *tx) AppendInventoryLogs(_ context.Context, logs []domain.InventoryLog) error {
	t.writing = true
	t.logs = append(t.logs, logs...)
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range t.reads {
		if s.versions[key] != seen {
			return store.ErrConflict
		}
	}

	for _, inv := range t.invoices {
		if inv.OpID != "" {
			if _, exists := s.invoiceByOp[inv.OpID]; exists {
				return store.ErrConflict
			}
		}
		if _, exists := s.invoiceByNumber[inv.InvoiceNumber]; exists {
			return fmt.Errorf("invoice number %s: %w", inv.InvoiceNumber, store.ErrDuplicate)
		}
	}
	for _, ex := range t.exchanges {
		if ex.OpID != "" {
			if _, exists := s.exchangeByOp[ex.OpID]; exists {
				return store.ErrConflict
			}
		}
	}
	for _, rc := range t.receipts {
		if rc.OpID != "" {
			if _, exists := s.receiptByOp[rc.OpID]; exists {
				return store.ErrConflict
			}
		}
	}
	for invoiceID := range t.links {
		if _, exists := s.invoices[invoiceID]; !exists {
			return store.ErrNotFound
		}
	}

	now := nowUTC()
	for _, p := range t.products {
		p.UpdatedAt = now
		s.putProduct(p)
	}
	for _, c := range t.customers {
		s.putCustomer(c)
	}
	if t.settings != nil {
		s.settings = *t.settings
		s.versions[settingsKey]++
	}
	for _, inv := range t.invoices {
		s.invoices[inv.ID] = inv
		s.invoiceByNumber[inv.InvoiceNumber] = inv.ID
		s.versions[invoiceKey(inv.ID)]++
		if inv.OpID != "" {
			s.invoiceByOp[inv.OpID] = inv.ID
			s.versions[invoiceOpKey(inv.OpID)]++
		}
	}
	for invoiceID, exchangeID := range t.links {
		inv := s.invoices[invoiceID]
		inv.ExchangeID = exchangeID
		s.invoices[invoiceID] = inv
		s.versions[invoiceKey(invoiceID)]++
	}
	for _, ex := range t.exchanges {
		s.exchanges[ex.ID] = ex
		s.exchangesByInvoice[ex.OriginalInvoiceID] = append(s.exchangesByInvoice[ex.OriginalInvoiceID], ex.ID)
		s.versions[exchangesKey(ex.OriginalInvoiceID)]++
		if ex.OpID != "" {
			s.exchangeByOp[ex.OpID] = ex.ID
			s.versions[exchangeOpKey(ex.OpID)]++
		}
	}
	for _, r := range t.refunds {
		s.refunds[r.ID] = r
	}
	for _, rc := range t.receipts {
		s.receipts[rc.ID] = rc
		if rc.OpID != "" {
			s.receiptByOp[rc.OpID] = rc.ID
			s.versions[receiptOpKey(rc.OpID)]++
		}
	}
	s.logs = append(s.logs, t.logs...)
	return nil
}
