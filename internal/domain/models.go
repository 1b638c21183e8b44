package domain

import (
	"encoding/json"
	"time"
)

type Product struct {
	ID           string    `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	UnitPrice    float64   `json:"unit_price"`
	TaxRatePct   float64   `json:"tax_rate_pct"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorder_level"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"-"`
}

type ProductCreateRequest struct {
	SKU          string  `json:"sku" validate:"required,max=64"`
	Name         string  `json:"name" validate:"required,max=160"`
	Category     string  `json:"category" validate:"required,max=80"`
	UnitPrice    float64 `json:"unit_price" validate:"gt=0"`
	TaxRatePct   float64 `json:"tax_rate_pct" validate:"gte=0,lte=100"`
	InitialStock int     `json:"initial_stock" validate:"gte=0"`
	ReorderLevel int     `json:"reorder_level" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name         *string  `json:"name,omitempty" validate:"omitempty,min=1,max=160"`
	Category     *string  `json:"category,omitempty" validate:"omitempty,min=1,max=80"`
	UnitPrice    *float64 `json:"unit_price,omitempty" validate:"omitempty,gt=0"`
	TaxRatePct   *float64 `json:"tax_rate_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	ReorderLevel *int     `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
	Active       *bool    `json:"active,omitempty"`
}

type ScanRequest struct {
	Scan string `json:"scan"`
}

type ScanResponse struct {
	SKU          string  `json:"sku"`
	CategoryCode string  `json:"category_code,omitempty"`
	Product      Product `json:"product"`
}

type Customer struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone"`
	DateOfBirth   *time.Time `json:"date_of_birth,omitempty"`
	LoyaltyPoints int64      `json:"loyalty_points"`
	TotalSpend    float64    `json:"total_spend"`
	CreatedAt     time.Time  `json:"created_at"`
	Version       int64      `json:"-"`
}

type CustomerCreateRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Phone       string `json:"phone" validate:"required,min=6,max=20"`
	DateOfBirth string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type Settings struct {
	InvoicePrefix       string `json:"invoice_prefix"`
	NextInvoiceSequence int64  `json:"next_invoice_sequence"`
	StoreName           string `json:"store_name"`
	Version             int64  `json:"-"`
}

type SettingsUpdateRequest struct {
	InvoicePrefix *string `json:"invoice_prefix,omitempty" validate:"omitempty,min=1,max=12,alphanum"`
	StoreName     *string `json:"store_name,omitempty" validate:"omitempty,max=120"`
}

type InvoiceLine struct {
	ProductID      string  `json:"product_id"`
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	TaxRatePct     float64 `json:"tax_rate_pct"`
	DiscountAmount float64 `json:"discount_amount"`
	LineNet        float64 `json:"line_net"`
	TaxAmount      float64 `json:"tax_amount"`
}

type Invoice struct {
	ID                  string        `json:"id"`
	InvoiceNumber       string        `json:"invoice_number"`
	OpID                string        `json:"op_id,omitempty"`
	Lines               []InvoiceLine `json:"lines"`
	Subtotal            float64       `json:"subtotal"`
	TaxTotal            float64       `json:"tax_total"`
	DiscountTotal       float64       `json:"discount_total"`
	GrandTotal          float64       `json:"grand_total"`
	PaymentMethod       string        `json:"payment_method"`
	CashierUserID       string        `json:"cashier_user_id"`
	CustomerID          string        `json:"customer_id,omitempty"`
	OfferID             string        `json:"offer_id,omitempty"`
	Status              string        `json:"status"`
	IssuedAt            time.Time     `json:"issued_at"`
	ExchangeOfInvoiceID string        `json:"exchange_of_invoice_id,omitempty"`
	ExchangeID          string        `json:"exchange_id,omitempty"`
}

type Discount struct {
	Value float64 `json:"value" validate:"gte=0"`
	Mode  string  `json:"mode" validate:"omitempty,oneof=amount percent"`
}

type CheckoutLine struct {
	ProductID        string  `json:"product_id" validate:"required"`
	Qty              int     `json:"qty"`
	ItemDiscount     float64 `json:"item_discount" validate:"gte=0"`
	ItemDiscountMode string  `json:"item_discount_mode" validate:"omitempty,oneof=amount percent"`
}

type CheckoutRequest struct {
	OpID          string         `json:"op_id,omitempty"`
	Lines         []CheckoutLine `json:"lines" validate:"dive"`
	BillDiscount  Discount       `json:"bill_discount"`
	PaymentMethod string         `json:"payment_method"`
	CustomerID    string         `json:"customer_id,omitempty"`
	OfferID       string         `json:"offer_id,omitempty"`
	CashierUserID string         `json:"cashier_user_id,omitempty"`
}

type PricedLine struct {
	ProductID      string  `json:"product_id"`
	Name           string  `json:"name"`
	Qty            int     `json:"qty"`
	UnitPrice      float64 `json:"unit_price"`
	TaxRatePct     float64 `json:"tax_rate_pct"`
	LineDiscount   float64 `json:"line_discount"`
	LineNet        float64 `json:"line_net"`
	BillShare      float64 `json:"bill_share"`
	TaxableBase    float64 `json:"taxable_base"`
	TaxAmount      float64 `json:"tax_amount"`
	InclusiveBase  float64 `json:"inclusive_base"`
	InclusiveTax   float64 `json:"inclusive_tax"`
	AvailableStock int     `json:"available_stock"`
}

type CheckoutPreview struct {
	Lines              []PricedLine `json:"lines"`
	Subtotal           float64      `json:"subtotal"`
	BillDiscountAmount float64      `json:"bill_discount_amount"`
	TaxTotal           float64      `json:"tax_total"`
	GrandTotal         float64      `json:"grand_total"`
	OfferID            string       `json:"offer_id,omitempty"`
	OfferSavings       float64      `json:"offer_savings,omitempty"`
}

type CheckoutResponse struct {
	Invoice   Invoice `json:"invoice"`
	Duplicate bool    `json:"duplicate"`
}

type ExchangeReturnLine struct {
	ProductID         string  `json:"product_id"`
	Name              string  `json:"name"`
	Qty               int     `json:"qty"`
	Defect            bool    `json:"defect"`
	CreditPerUnit     float64 `json:"credit_per_unit"`
	CreditTotal       float64 `json:"credit_total"`
	BillDiscountShare float64 `json:"bill_discount_share"`
}

type ExchangeNewItem struct {
	ProductID  string  `json:"product_id"`
	Name       string  `json:"name"`
	Qty        int     `json:"qty"`
	UnitPrice  float64 `json:"unit_price"`
	TaxRatePct float64 `json:"tax_rate_pct"`
	LineTotal  float64 `json:"line_total"`
}

type Exchange struct {
	ID                string               `json:"id"`
	OpID              string               `json:"op_id,omitempty"`
	OriginalInvoiceID string               `json:"original_invoice_id"`
	Returned          []ExchangeReturnLine `json:"returned"`
	NewItems          []ExchangeNewItem    `json:"new_items"`
	ReturnCredit      float64              `json:"return_credit"`
	NewSubtotal       float64              `json:"new_subtotal"`
	Difference        float64              `json:"difference"`
	NewInvoiceID      string               `json:"new_invoice_id,omitempty"`
	RefundID          string               `json:"refund_id,omitempty"`
	PaymentMethod     string               `json:"payment_method,omitempty"`
	CreatedByUserID   string               `json:"created_by_user_id"`
	CustomerID        string               `json:"customer_id,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

type ExchangeReturnRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty"`
	Defect    bool   `json:"defect"`
}

type ExchangeNewRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty"`
}

type ExchangeRequest struct {
	OpID              string                  `json:"op_id,omitempty"`
	OriginalInvoiceID string                  `json:"original_invoice_id" validate:"required"`
	Returns           []ExchangeReturnRequest `json:"returns" validate:"dive"`
	NewItems          []ExchangeNewRequest    `json:"new_items" validate:"dive"`
	PaymentMethod     string                  `json:"payment_method,omitempty"`
	RefundMethod      string                  `json:"refund_method,omitempty"`
	CashierUserID     string                  `json:"cashier_user_id,omitempty"`
}

type ExchangeResponse struct {
	Exchange   Exchange `json:"exchange"`
	NewInvoice *Invoice `json:"new_invoice,omitempty"`
	Refund     *Refund  `json:"refund,omitempty"`
	Duplicate  bool     `json:"duplicate"`
}

type Refund struct {
	ID                string    `json:"id"`
	ExchangeID        string    `json:"exchange_id"`
	OriginalInvoiceID string    `json:"original_invoice_id"`
	Amount            float64   `json:"amount"`
	Method            string    `json:"method"`
	CreatedAt         time.Time `json:"created_at"`
}

type InventoryLog struct {
	ID               string    `json:"id"`
	ProductID        string    `json:"product_id"`
	QuantityChange   int       `json:"quantity_change"`
	Units            int       `json:"units"`
	Type             string    `json:"type"`
	Reason           string    `json:"reason"`
	RelatedInvoiceID string    `json:"related_invoice_id,omitempty"`
	RelatedReceiptID string    `json:"related_receipt_id,omitempty"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
}

type InventoryLogFilter struct {
	ProductID string
	Type      string
	From      time.Time
	To        time.Time
	Limit     int
}

type StockMovement struct {
	ProductID   string `json:"product_id"`
	Sold        int    `json:"sold"`
	Purchased   int    `json:"purchased"`
	Returned    int    `json:"returned"`
	Damaged     int    `json:"damaged"`
	Adjusted    int    `json:"adjusted"`
	NetChange   int    `json:"net_change"`
	EntryCount  int    `json:"entry_count"`
	LastMovedAt string `json:"last_moved_at,omitempty"`
}

type ReceiptLine struct {
	ProductID string  `json:"product_id" validate:"required"`
	Qty       int     `json:"qty"`
	UnitCost  float64 `json:"unit_cost" validate:"gte=0"`
}

type Receipt struct {
	ID         string        `json:"id"`
	OpID       string        `json:"op_id,omitempty"`
	Supplier   string        `json:"supplier"`
	Note       string        `json:"note,omitempty"`
	Lines      []ReceiptLine `json:"lines"`
	ReceivedBy string        `json:"received_by"`
	ReceivedAt time.Time     `json:"received_at"`
}

type ReceiveStockRequest struct {
	OpID       string        `json:"op_id,omitempty"`
	Supplier   string        `json:"supplier" validate:"max=120"`
	Note       string        `json:"note" validate:"max=500"`
	Lines      []ReceiptLine `json:"lines" validate:"dive"`
	ReceivedBy string        `json:"received_by,omitempty"`
}

type ReceiveStockResponse struct {
	Receipt   Receipt `json:"receipt"`
	Duplicate bool    `json:"duplicate"`
}

type StockAdjustmentRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason" validate:"required,max=200"`
}

type Offer struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ProductIDs    []string   `json:"product_ids,omitempty"`
	CategoryNames []string   `json:"category_names,omitempty"`
	RuleType      string     `json:"rule_type"`
	DiscountValue float64    `json:"discount_value"`
	BuyQty        int        `json:"buy_qty,omitempty"`
	GetQty        int        `json:"get_qty,omitempty"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	DOBMonthOnly  bool       `json:"dob_month_only"`
	Priority      int        `json:"priority"`
	Exclusive     bool       `json:"exclusive"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}

type OfferCreateRequest struct {
	Name          string     `json:"name" validate:"required,max=120"`
	ProductIDs    []string   `json:"product_ids,omitempty"`
	CategoryNames []string   `json:"category_names,omitempty"`
	RuleType      string     `json:"rule_type" validate:"required,oneof=flat percentage bogoSameItem"`
	DiscountValue float64    `json:"discount_value" validate:"gte=0"`
	BuyQty        int        `json:"buy_qty,omitempty" validate:"gte=0"`
	GetQty        int        `json:"get_qty,omitempty" validate:"gte=0"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	DOBMonthOnly  bool       `json:"dob_month_only"`
	Priority      int        `json:"priority"`
	Exclusive     bool       `json:"exclusive"`
}

type BestOfferRequest struct {
	Lines      []CheckoutLine `json:"lines" validate:"dive"`
	CustomerID string         `json:"customer_id,omitempty"`
}

type BestOfferResponse struct {
	Offer   *Offer  `json:"offer,omitempty"`
	Savings float64 `json:"savings"`
}

// QueuedOperation is a checkout, exchange or receive captured while the
// terminal was disconnected.
type QueuedOperation struct {
	ID        string          `json:"id"`
	OpID      string          `json:"op_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

type SyncOperationsRequest struct {
	TerminalID string            `json:"terminal_id"`
	Operations []QueuedOperation `json:"operations"`
}

type SyncOperationStatus struct {
	ID         string `json:"id"`
	OpID       string `json:"op_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

type SyncOperationsResponse struct {
	Statuses []SyncOperationStatus `json:"statuses"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	DiscountModeAmount  = "amount"
	DiscountModePercent = "percent"
)

const (
	InvoiceStatusPaid    = "paid"
	InvoiceStatusPartial = "partial"
	InvoiceStatusUnpaid  = "unpaid"
	InvoiceStatusVoid    = "void"
)

const (
	LogTypeSale       = "sale"
	LogTypePurchase   = "purchase"
	LogTypeReturn     = "return"
	LogTypeDamage     = "damage"
	LogTypeAdjustment = "adjustment"
)

const (
	OfferRuleFlat       = "flat"
	OfferRulePercentage = "percentage"
	OfferRuleBOGO       = "bogoSameItem"
)

const (
	OpTypeCheckout = "checkout"
	OpTypeExchange = "exchange"
	OpTypeReceive  = "receive"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
