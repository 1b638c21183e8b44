package store

import (
	"context"
	"errors"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the transaction observed data that another writer
	// changed before commit. The whole unit of work may be retried.
	ErrConflict  = errors.New("concurrent modification")
	ErrDuplicate = errors.New("duplicate")
)

// Tx is the view of the store inside one atomic unit of work. All reads
// happen before any write; writes are buffered and become visible only when
// the function given to RunInTx returns nil.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetSettings(ctx context.Context) (*domain.Settings, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListExchangesByInvoice(ctx context.Context, invoiceID string) ([]domain.Exchange, error)
	FindInvoiceByOpID(ctx context.Context, opID string) (*domain.Invoice, error)
	FindExchangeByOpID(ctx context.Context, opID string) (*domain.Exchange, error)
	FindReceiptByOpID(ctx context.Context, opID string) (*domain.Receipt, error)

	// SaveProduct, SaveSettings and SaveCustomer replace a document read
	// earlier in the same transaction.
	SaveProduct(ctx context.Context, product domain.Product) error
	SaveSettings(ctx context.Context, settings domain.Settings) error
	SaveCustomer(ctx context.Context, customer domain.Customer) error
	CreateInvoice(ctx context.Context, invoice domain.Invoice) error
	LinkInvoiceExchange(ctx context.Context, invoiceID string, exchangeID string) error
	CreateExchange(ctx context.Context, exchange domain.Exchange) error
	CreateRefund(ctx context.Context, refund domain.Refund) error
	CreateReceipt(ctx context.Context, receipt domain.Receipt) error
	AppendInventoryLogs(ctx context.Context, logs []domain.InventoryLog) error
}

type Repository interface {
	// RunInTx runs fn atomically. It returns ErrConflict when the commit
	// lost a race; callers decide whether to retry.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListOffers(ctx context.Context) ([]domain.Offer, error)
	GetOffer(ctx context.Context, id string) (*domain.Offer, error)
	CreateOffer(ctx context.Context, offer domain.Offer) (*domain.Offer, error)

	GetSettings(ctx context.Context) (*domain.Settings, error)

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	ListExchangesByInvoice(ctx context.Context, invoiceID string) ([]domain.Exchange, error)
	ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
