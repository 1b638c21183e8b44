package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"retailpos/backend/internal/barcode"
	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/inventory"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/offer"
	"retailpos/backend/internal/store"
)

const (
	defaultMaxTxAttempts    = 5
	defaultReturnWindowDays = 7
	defaultCatalogCacheTTL  = 5 * time.Minute
	defaultPaymentMethod    = "cash"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Logger           *zap.Logger
	Cache            cache.CatalogCache
	CacheTTL         time.Duration
	Metrics          *metrics.Metrics
	Now              func() time.Time
	MaxTxAttempts    int
	ReturnWindowDays int
}

type Service struct {
	repo             store.Repository
	cache            cache.CatalogCache
	cacheTTL         time.Duration
	log              *zap.Logger
	metrics          *metrics.Metrics
	validate         *validator.Validate
	now              func() time.Time
	maxTxAttempts    int
	returnWindowDays int
	backoff          func(attempt int) time.Duration
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:             repo,
		cache:            opts.Cache,
		cacheTTL:         opts.CacheTTL,
		log:              opts.Logger,
		metrics:          opts.Metrics,
		validate:         validator.New(),
		now:              opts.Now,
		maxTxAttempts:    opts.MaxTxAttempts,
		returnWindowDays: opts.ReturnWindowDays,
		backoff:          jitteredBackoff,
	}
	if s.cache == nil {
		s.cache = cache.NoopCatalogCache{}
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCatalogCacheTTL
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.maxTxAttempts < 1 {
		s.maxTxAttempts = defaultMaxTxAttempts
	}
	if s.returnWindowDays < 1 {
		s.returnWindowDays = defaultReturnWindowDays
	}
	return s
}

func jitteredBackoff(attempt int) time.Duration {
	base := 5 * time.Millisecond << (attempt - 1)
	return base + time.Duration(rand.Int63n(int64(base)))
}

// runTx runs fn in a store transaction, retrying when the commit loses a
// race. fn must be safe to run more than once.
func (s *Service) runTx(ctx context.Context, op string, fn func(store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.repo.RunInTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.metrics.TxConflict()
		s.log.Warn("transaction conflict", zap.String("op", op), zap.Int("attempt", attempt))
		if attempt >= s.maxTxAttempts {
			return &TransactionConflictError{Attempts: attempt}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff(attempt)):
		}
	}
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fromValidator(err)
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// notFound converts store.ErrNotFound into a NotFoundError for entity.
func notFound(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return err
}

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return *p, nil
}

func (s *Service) FindProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = domain.NormalizeSKU(sku)
	p, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, notFound(err, "product", sku)
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		UnitPrice:    req.UnitPrice,
		TaxRatePct:   req.TaxRatePct,
		Stock:        req.InitialStock,
		ReorderLevel: req.ReorderLevel,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Product{}, invalid("sku", "sku %s already exists", domain.NormalizeSKU(req.SKU))
	}
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		logs, err := inventory.Build(now, inventory.Adjustment(created.ID, req.InitialStock, "opening-stock", actorName(ctx)))
		if err == nil {
			err = s.repo.RunInTx(ctx, func(tx store.Tx) error { return tx.AppendInventoryLogs(ctx, logs) })
		}
		if err != nil {
			s.log.Warn("opening stock not logged", zap.String("product_id", created.ID), zap.Error(err))
		}
	}

	s.log.Info("product created", zap.String("product_id", created.ID), zap.String("sku", created.SKU), zap.String("actor", actorName(ctx)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	err := s.runTx(ctx, "update_product", func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return notFound(err, "product", id)
		}
		updated = *p
		if req.Name != nil {
			updated.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			updated.Category = strings.TrimSpace(*req.Category)
		}
		if req.UnitPrice != nil {
			updated.UnitPrice = *req.UnitPrice
		}
		if req.TaxRatePct != nil {
			updated.TaxRatePct = *req.TaxRatePct
		}
		if req.ReorderLevel != nil {
			updated.ReorderLevel = *req.ReorderLevel
		}
		if req.Active != nil {
			updated.Active = *req.Active
		}
		updated.UpdatedAt = s.now()
		return tx.SaveProduct(ctx, updated)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidate(ctx, updated.SKU)
	s.log.Info("product updated", zap.String("product_id", updated.ID), zap.Bool("active", updated.Active), zap.String("actor", actorName(ctx)))
	return updated, nil
}

// DeactivateProduct hides a product from sale. Products are never deleted
// because invoices and ledger rows reference them.
func (s *Service) DeactivateProduct(ctx context.Context, id string) (domain.Product, error) {
	inactive := false
	return s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
}

// ScanProduct resolves raw scanner input to an active product, going through
// the catalog cache first.
func (s *Service) ScanProduct(ctx context.Context, scan string) (domain.ScanResponse, error) {
	sku, category, err := barcode.Decode(scan)
	if err != nil {
		return domain.ScanResponse{}, &ValidationError{Field: "scan", Message: err.Error(), Err: err}
	}

	product, hit, err := s.cache.GetProduct(ctx, sku)
	if err != nil {
		s.log.Warn("catalog cache read failed", zap.String("sku", sku), zap.Error(err))
	}
	if !hit || product == nil {
		product, err = s.repo.GetProductBySKU(ctx, sku)
		if err != nil {
			return domain.ScanResponse{}, notFound(err, "product", sku)
		}
		if err := s.cache.SetProduct(ctx, sku, product, s.cacheTTL); err != nil {
			s.log.Warn("catalog cache write failed", zap.String("sku", sku), zap.Error(err))
		}
	}
	if !product.Active {
		return domain.ScanResponse{}, &NotFoundError{Entity: "product", ID: sku}
	}
	return domain.ScanResponse{SKU: sku, CategoryCode: category, Product: *product}, nil
}

func (s *Service) invalidate(ctx context.Context, sku string) {
	if err := s.cache.Invalidate(ctx, sku); err != nil {
		s.log.Warn("catalog cache invalidate failed", zap.String("sku", sku), zap.Error(err))
	}
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, notFound(err, "customer", id)
	}
	return *c, nil
}

func (s *Service) FindCustomerByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	normalized := domain.NormalizePhone(phone)
	if normalized == "" {
		return domain.Customer{}, invalid("phone", "phone is required")
	}
	c, err := s.repo.FindCustomerByPhone(ctx, normalized)
	if err != nil {
		return domain.Customer{}, notFound(err, "customer", normalized)
	}
	return *c, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}

	customer := domain.Customer{
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			return domain.Customer{}, invalid("date_of_birth", "expected YYYY-MM-DD")
		}
		customer.DateOfBirth = &dob
	}

	created, err := s.repo.CreateCustomer(ctx, customer)
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Customer{}, invalid("phone", "a customer with this phone already exists")
	}
	if errors.Is(err, domain.ErrInvalidDocument) {
		return domain.Customer{}, invalid("phone", "phone must contain digits")
	}
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return domain.NormalizeSettings(*settings)
}

// UpdateSettings changes the invoice prefix and store name. The invoice
// sequence is only ever advanced by issuing invoices.
func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Settings{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Settings{}, err
	}

	var saved domain.Settings
	err := s.runTx(ctx, "update_settings", func(tx store.Tx) error {
		current, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		saved = *current
		if req.InvoicePrefix != nil {
			saved.InvoicePrefix = strings.ToUpper(strings.TrimSpace(*req.InvoicePrefix))
		}
		if req.StoreName != nil {
			saved.StoreName = strings.TrimSpace(*req.StoreName)
		}
		return tx.SaveSettings(ctx, saved)
	})
	if err != nil {
		return domain.Settings{}, err
	}
	s.log.Info("settings updated", zap.String("invoice_prefix", saved.InvoicePrefix), zap.String("actor", actorName(ctx)))
	return domain.NormalizeSettings(saved)
}

func (s *Service) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	return s.repo.ListOffers(ctx)
}

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferCreateRequest) (domain.Offer, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Offer{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Offer{}, err
	}

	o := domain.Offer{
		Name:          strings.TrimSpace(req.Name),
		ProductIDs:    req.ProductIDs,
		CategoryNames: req.CategoryNames,
		RuleType:      req.RuleType,
		DiscountValue: req.DiscountValue,
		BuyQty:        req.BuyQty,
		GetQty:        req.GetQty,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
		DOBMonthOnly:  req.DOBMonthOnly,
		Priority:      req.Priority,
		Exclusive:     req.Exclusive,
		Active:        true,
		CreatedAt:     s.now(),
	}
	if err := offer.Validate(o); err != nil {
		return domain.Offer{}, &ValidationError{Field: "rule_type", Message: err.Error(), Err: err}
	}

	created, err := s.repo.CreateOffer(ctx, o)
	if err != nil {
		return domain.Offer{}, err
	}
	s.log.Info("offer created", zap.String("offer_id", created.ID), zap.String("rule", created.RuleType), zap.String("actor", actorName(ctx)))
	return *created, nil
}

// BestOffer picks the offer the cashier should apply to the given lines.
func (s *Service) BestOffer(ctx context.Context, req domain.BestOfferRequest) (domain.BestOfferResponse, error) {
	if err := s.check(req); err != nil {
		return domain.BestOfferResponse{}, err
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.BestOfferResponse{}, err
	}
	req.Lines = lines
	products, err := s.loadProducts(ctx, s.repo, req.Lines)
	if err != nil {
		return domain.BestOfferResponse{}, err
	}
	customer, err := s.loadCustomer(ctx, s.repo, req.CustomerID)
	if err != nil {
		return domain.BestOfferResponse{}, err
	}
	c, err := buildCart(products, req.Lines, domain.Discount{}, customer)
	if err != nil {
		return domain.BestOfferResponse{}, err
	}

	offers, err := s.repo.ListOffers(ctx)
	if err != nil {
		return domain.BestOfferResponse{}, err
	}
	best, savings := offer.Select(offers, c.OfferLines(), customer, s.now())
	return domain.BestOfferResponse{Offer: best, Savings: savings}, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, notFound(err, "invoice", id)
	}
	return *inv, nil
}

func (s *Service) FindInvoiceByNumber(ctx context.Context, number string) (domain.Invoice, error) {
	inv, err := s.repo.FindInvoiceByNumber(ctx, number)
	if err != nil {
		return domain.Invoice{}, notFound(err, "invoice", number)
	}
	return *inv, nil
}

func (s *Service) ListExchanges(ctx context.Context, invoiceID string) ([]domain.Exchange, error) {
	return s.repo.ListExchangesByInvoice(ctx, invoiceID)
}
