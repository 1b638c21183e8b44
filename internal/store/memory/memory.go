package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Store keeps every document in process memory. Each document has a
// version; transactions record the versions they read and commit only if
// none of them moved.
type Store struct {
	mu sync.RWMutex

	versions map[string]int64

	products   map[string]domain.Product
	skuIndex   map[string]string
	customers  map[string]domain.Customer
	phoneIndex map[string]string
	offers     map[string]domain.Offer
	settings   domain.Settings

	invoices           map[string]domain.Invoice
	invoiceByNumber    map[string]string
	invoiceByOp        map[string]string
	exchanges          map[string]domain.Exchange
	exchangesByInvoice map[string][]string
	exchangeByOp       map[string]string
	refunds            map[string]domain.Refund
	receipts           map[string]domain.Receipt
	receiptByOp        map[string]string
	logs               []domain.InventoryLog

	usersByUsername map[string]domain.UserAccount
}

func productKey(id string) string  { return "product:" + id }
func customerKey(id string) string { return "customer:" + id }
func invoiceKey(id string) string  { return "invoice:" + id }
func exchangesKey(invoiceID string) string {
	return "exchanges:" + invoiceID
}
func invoiceOpKey(opID string) string  { return "op:invoice:" + opID }
func exchangeOpKey(opID string) string { return "op:exchange:" + opID }
func receiptOpKey(opID string) string  { return "op:receipt:" + opID }

const settingsKey = "settings"

// New returns an empty store with default settings and the seed users.
func New() *Store {
	settings, _ := domain.NormalizeSettings(domain.Settings{InvoicePrefix: os.Getenv("INVOICE_PREFIX")})
	return &Store{
		versions:           map[string]int64{settingsKey: 1},
		products:           make(map[string]domain.Product),
		skuIndex:           make(map[string]string),
		customers:          make(map[string]domain.Customer),
		phoneIndex:         make(map[string]string),
		offers:             make(map[string]domain.Offer),
		settings:           settings,
		invoices:           make(map[string]domain.Invoice),
		invoiceByNumber:    make(map[string]string),
		invoiceByOp:        make(map[string]string),
		exchanges:          make(map[string]domain.Exchange),
		exchangesByInvoice: make(map[string][]string),
		exchangeByOp:       make(map[string]string),
		refunds:            make(map[string]domain.Refund),
		receipts:           make(map[string]domain.Receipt),
		receiptByOp:        make(map[string]string),
		logs:               make([]domain.InventoryLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with
// dev defaults when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// UsingDefaultCredentials reports whether the seed users fell back to the
// dev passwords.
func UsingDefaultCredentials() bool {
	return os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo catalog, one customer and
// one offer.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prd_tea", SKU: "SKU-TEA-01", Name: "Assam Tea 250g", Category: "beverage", UnitPrice: 145, TaxRatePct: 5, Stock: 120, ReorderLevel: 10},
		{ID: "prd_coffee", SKU: "SKU-COFFEE-01", Name: "Filter Coffee 200g", Category: "beverage", UnitPrice: 210, TaxRatePct: 5, Stock: 80, ReorderLevel: 10},
		{ID: "prd_rice", SKU: "SKU-RICE-05", Name: "Basmati Rice 5kg", Category: "grocery", UnitPrice: 640, TaxRatePct: 5, Stock: 40, ReorderLevel: 5},
		{ID: "prd_atta", SKU: "SKU-ATTA-05", Name: "Whole Wheat Atta 5kg", Category: "grocery", UnitPrice: 285, TaxRatePct: 0, Stock: 60, ReorderLevel: 8},
		{ID: "prd_soap", SKU: "SKU-SOAP-01", Name: "Sandal Soap 125g", Category: "household", UnitPrice: 48, TaxRatePct: 18, Stock: 200, ReorderLevel: 24},
		{ID: "prd_shampoo", SKU: "SKU-SHAMPOO-01", Name: "Herbal Shampoo 340ml", Category: "household", UnitPrice: 199, TaxRatePct: 18, Stock: 75, ReorderLevel: 12},
		{ID: "prd_biscuit", SKU: "SKU-BISCUIT-01", Name: "Butter Biscuits", Category: "snack", UnitPrice: 30, TaxRatePct: 12, Stock: 300, ReorderLevel: 40},
		{ID: "prd_chips", SKU: "SKU-CHIPS-01", Name: "Masala Chips", Category: "snack", UnitPrice: 20, TaxRatePct: 12, Stock: 250, ReorderLevel: 40},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.putProduct(p)
	}

	s.putCustomer(domain.Customer{ID: "cus_walkin", Name: "Asha Rao", Phone: "9876543210", CreatedAt: now})
	s.offers["ofr_snack_bogo"] = domain.Offer{
		ID:         "ofr_snack_bogo",
		Name:       "Snacks buy 2 get 1",
		ProductIDs: []string{"prd_biscuit", "prd_chips"},
		RuleType:   domain.OfferRuleBOGO,
		BuyQty:     2,
		GetQty:     1,
		Priority:   1,
		Active:     true,
		CreatedAt:  now,
	}
	return s
}

// putProduct and putCustomer write a document and bump its version. The
// caller holds the write lock or owns the store exclusively.
func (s *Store) putProduct(p domain.Product) {
	key := productKey(p.ID)
	s.versions[key]++
	p.Version = s.versions[key]
	s.products[p.ID] = p
	s.skuIndex[p.SKU] = p.ID
}

func (s *Store) putCustomer(c domain.Customer) {
	key := customerKey(c.ID)
	s.versions[key]++
	c.Version = s.versions[key]
	s.customers[c.ID] = cloneCustomer(c)
	s.phoneIndex[c.Phone] = c.ID
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active && !includeInactive {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.skuIndex[domain.NormalizeSKU(sku)]
	if !ok {
		return nil, store.ErrNotFound
	}
	product := s.products[id]
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product, err := domain.NormalizeProduct(product)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.skuIndex[product.SKU]; exists {
		return nil, store.ErrDuplicate
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.putProduct(product)
	created := s.products[product.ID]
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneCustomer(customer)
	return &dup, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.phoneIndex[domain.NormalizePhone(phone)]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneCustomer(s.customers[id])
	return &dup, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	customer, err := domain.NormalizeCustomer(customer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.phoneIndex[customer.Phone]; exists {
		return nil, store.ErrDuplicate
	}
	s.putCustomer(customer)
	dup := cloneCustomer(s.customers[customer.ID])
	return &dup, nil
}

func (s *Store) ListOffers(_ context.Context) ([]domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offers := make([]domain.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		offers = append(offers, cloneOffer(o))
	}
	slices.SortFunc(offers, func(a, b domain.Offer) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return strings.Compare(a.ID, b.ID)
	})
	return offers, nil
}

func (s *Store) GetOffer(_ context.Context, id string) (*domain.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOffer(o)
	return &dup, nil
}

func (s *Store) CreateOffer(_ context.Context, offer domain.Offer) (*domain.Offer, error) {
	if offer.ID == "" {
		offer.ID = xid.New("ofr")
	}
	offer, err := domain.NormalizeOffer(offer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.offers[offer.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.offers[offer.ID] = cloneOffer(offer)
	dup := cloneOffer(offer)
	return &dup, nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	settings.Version = s.versions[settingsKey]
	return &settings, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(inv)
	return &dup, nil
}

func (s *Store) FindInvoiceByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoiceByNumber[strings.TrimSpace(number)]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(s.invoices[id])
	return &dup, nil
}

func (s *Store) ListExchangesByInvoice(_ context.Context, invoiceID string) ([]domain.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.exchangesFor(invoiceID), nil
}

func (s *Store) exchangesFor(invoiceID string) []domain.Exchange {
	ids := s.exchangesByInvoice[invoiceID]
	out := make([]domain.Exchange, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneExchange(s.exchanges[id]))
	}
	return out
}

// ListInventoryLogs returns matching ledger rows, newest first.
func (s *Store) ListInventoryLogs(_ context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryLog, 0, 64)
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidDocument)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidDocument)
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneCustomer(src domain.Customer) domain.Customer {
	dup := src
	if src.DateOfBirth != nil {
		dob := *src.DateOfBirth
		dup.DateOfBirth = &dob
	}
	return dup
}

func cloneOffer(src domain.Offer) domain.Offer {
	dup := src
	dup.ProductIDs = slices.Clone(src.ProductIDs)
	dup.CategoryNames = slices.Clone(src.CategoryNames)
	if src.StartsAt != nil {
		start := *src.StartsAt
		dup.StartsAt = &start
	}
	if src.EndsAt != nil {
		end := *src.EndsAt
		dup.EndsAt = &end
	}
	return dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func cloneExchange(src domain.Exchange) domain.Exchange {
	dup := src
	dup.Returned = slices.Clone(src.Returned)
	dup.NewItems = slices.Clone(src.NewItems)
	return dup
}

func cloneReceipt(src domain.Receipt) domain.Receipt {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
