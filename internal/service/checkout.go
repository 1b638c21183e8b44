package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/cart"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/inventory"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/offer"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// catalogReader is satisfied by both store.Repository and store.Tx so that
// previews and transactions price carts through the same code.
type catalogReader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

// mergeLines folds repeated products into one line each, keeping the order
// in which products first appear. Stock is checked and decremented against
// the merged quantity. Amount discounts add up; a percent discount must be
// identical on every line of the product.
func mergeLines(lines []domain.CheckoutLine) ([]domain.CheckoutLine, error) {
	if len(lines) == 0 {
		return nil, invalid("lines", "at least one line is required")
	}
	merged := make([]domain.CheckoutLine, 0, len(lines))
	at := make(map[string]int, len(lines))
	for i, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, invalid(fmt.Sprintf("lines[%d].product_id", i), "product is required")
		}
		if line.Qty <= 0 {
			return nil, invalid(fmt.Sprintf("lines[%d].qty", i), "quantity must be positive")
		}
		if !pricing.ValidMode(line.ItemDiscountMode) {
			return nil, invalid(fmt.Sprintf("lines[%d].item_discount_mode", i), "unsupported discount mode %q", line.ItemDiscountMode)
		}
		if line.ItemDiscount == 0 {
			line.ItemDiscountMode = ""
		}

		j, ok := at[line.ProductID]
		if !ok {
			at[line.ProductID] = len(merged)
			merged = append(merged, line)
			continue
		}
		prev := &merged[j]
		percent := prev.ItemDiscountMode == pricing.ModePercent || line.ItemDiscountMode == pricing.ModePercent
		switch {
		case percent && (prev.ItemDiscountMode != line.ItemDiscountMode || prev.ItemDiscount != line.ItemDiscount):
			return nil, invalid(fmt.Sprintf("lines[%d].item_discount", i), "product %s repeats with a different percent discount", line.ProductID)
		case !percent && line.ItemDiscount > 0:
			prev.ItemDiscount += line.ItemDiscount
			prev.ItemDiscountMode = pricing.ModeAmount
		}
		prev.Qty += line.Qty
	}
	return merged, nil
}

// loadProducts returns the active product for every line, in line order.
func (s *Service) loadProducts(ctx context.Context, r catalogReader, lines []domain.CheckoutLine) ([]domain.Product, error) {
	products := make([]domain.Product, len(lines))
	for i, line := range lines {
		p, err := r.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, notFound(err, "product", line.ProductID)
		}
		if !p.Active {
			return nil, &NotFoundError{Entity: "product", ID: line.ProductID}
		}
		products[i] = *p
	}
	return products, nil
}

func (s *Service) loadCustomer(ctx context.Context, r catalogReader, id string) (*domain.Customer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	c, err := r.GetCustomer(ctx, id)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return c, nil
}

func (s *Service) loadOffer(ctx context.Context, id string) (*domain.Offer, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	o, err := s.repo.GetOffer(ctx, id)
	if err != nil {
		return nil, notFound(err, "offer", id)
	}
	return o, nil
}

func buildCart(products []domain.Product, lines []domain.CheckoutLine, bill domain.Discount, customer *domain.Customer) (cart.Cart, error) {
	actions := make([]cart.Action, 0, 2*len(lines)+2)
	for i, line := range lines {
		actions = append(actions, cart.AddLine{Product: products[i], Qty: line.Qty})
		if line.ItemDiscount > 0 {
			actions = append(actions, cart.SetItemDiscount{
				ProductID: products[i].ID,
				Discount:  pricing.Discount{Value: line.ItemDiscount, Mode: line.ItemDiscountMode},
			})
		}
	}
	actions = append(actions, cart.SetBillDiscount{Discount: pricing.Discount{Value: bill.Value, Mode: bill.Mode}})
	if customer != nil {
		actions = append(actions, cart.SetCustomer{CustomerID: customer.ID})
	}

	c, err := cart.Reduce(cart.New(), actions...)
	if err != nil {
		return cart.Cart{}, &ValidationError{Field: "lines", Message: err.Error(), Err: err}
	}
	return c, nil
}

// quote is a priced cart. Checkout and preview both derive their figures
// from it so they cannot drift apart.
type quote struct {
	products []domain.Product
	cart     cart.Cart
	totals   pricing.Totals
}

func (s *Service) price(products []domain.Product, req domain.CheckoutRequest, customer *domain.Customer, o *domain.Offer) (quote, error) {
	c, err := buildCart(products, req.Lines, req.BillDiscount, customer)
	if err != nil {
		return quote{}, err
	}
	if o != nil {
		if !offer.Matches(*o, c.OfferLines(), customer, s.now()) {
			return quote{}, invalid("offer_id", "offer %s does not apply to this cart", o.ID)
		}
		c, err = cart.Reduce(c, cart.ApplyOffer{Offer: *o})
		if err != nil {
			return quote{}, &ValidationError{Field: "offer_id", Message: err.Error(), Err: err}
		}
	}
	return quote{products: products, cart: c, totals: c.Totals()}, nil
}

func (q quote) preview() domain.CheckoutPreview {
	lines := q.cart.Lines()
	out := domain.CheckoutPreview{
		Lines:              make([]domain.PricedLine, len(lines)),
		Subtotal:           pricing.Round2(q.totals.Subtotal),
		BillDiscountAmount: pricing.Round2(q.totals.BillDiscountAmount),
		TaxTotal:           pricing.Round2(q.totals.TaxTotal),
		GrandTotal:         pricing.Round2(q.totals.GrandTotal),
		OfferID:            q.cart.OfferID(),
		OfferSavings:       pricing.Round2(q.cart.OfferSavings()),
	}
	for i, line := range lines {
		r := q.totals.Lines[i]
		base, gst := pricing.SplitInclusive(line.UnitPrice, line.TaxRatePct)
		out.Lines[i] = domain.PricedLine{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPrice:      line.UnitPrice,
			TaxRatePct:     line.TaxRatePct,
			LineDiscount:   pricing.Round2(r.LineDiscount),
			LineNet:        pricing.Round2(r.Net),
			BillShare:      pricing.Round2(r.BillShare),
			TaxableBase:    pricing.Round2(r.TaxableBase),
			TaxAmount:      pricing.Round2(r.Tax),
			InclusiveBase:  pricing.Round2(base),
			InclusiveTax:   pricing.Round2(gst),
			AvailableStock: q.products[i].Stock,
		}
	}
	return out
}

// invoiceLines snapshots name, price and tax rate so later catalog edits
// never change a historical invoice.
func (q quote) invoiceLines() []domain.InvoiceLine {
	lines := q.cart.Lines()
	out := make([]domain.InvoiceLine, len(lines))
	for i, line := range lines {
		r := q.totals.Lines[i]
		out[i] = domain.InvoiceLine{
			ProductID:      line.ProductID,
			SKU:            q.products[i].SKU,
			Name:           line.Name,
			Quantity:       line.Qty,
			UnitPrice:      line.UnitPrice,
			TaxRatePct:     line.TaxRatePct,
			DiscountAmount: pricing.Round2(r.LineDiscount),
			LineNet:        pricing.Round2(r.Net),
			TaxAmount:      pricing.Round2(r.Tax),
		}
	}
	return out
}

// PreviewCheckout prices a cart against live catalog data without writing.
func (s *Service) PreviewCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutPreview, error) {
	if err := s.check(req); err != nil {
		return domain.CheckoutPreview{}, err
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}
	req.Lines = lines
	o, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}
	products, err := s.loadProducts(ctx, s.repo, req.Lines)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}
	customer, err := s.loadCustomer(ctx, s.repo, req.CustomerID)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}
	q, err := s.price(products, req, customer, o)
	if err != nil {
		return domain.CheckoutPreview{}, err
	}
	return q.preview(), nil
}

// allocateInvoiceNumber draws the next number from settings read in the
// same transaction and saves the advanced counter.
func allocateInvoiceNumber(ctx context.Context, tx store.Tx, settings *domain.Settings) (string, error) {
	number := fmt.Sprintf("%s-%06d", settings.InvoicePrefix, settings.NextInvoiceSequence)
	settings.NextInvoiceSequence++
	if err := tx.SaveSettings(ctx, *settings); err != nil {
		return "", fmt.Errorf("advance invoice sequence: %w", err)
	}
	return number, nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	started := time.Now()
	resp, err := s.checkout(ctx, req)
	s.metrics.Checkout(outcome(err, resp.Duplicate), time.Since(started))
	return resp, err
}

func (s *Service) checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if err := s.check(req); err != nil {
		return domain.CheckoutResponse{}, err
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	req.Lines = lines
	o, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	cashier := strings.TrimSpace(req.CashierUserID)
	if cashier == "" {
		cashier = actorName(ctx)
	}
	payment := strings.TrimSpace(req.PaymentMethod)
	if payment == "" {
		payment = defaultPaymentMethod
	}

	var resp domain.CheckoutResponse
	var touched []string
	err = s.runTx(ctx, "checkout", func(tx store.Tx) error {
		resp = domain.CheckoutResponse{}
		touched = touched[:0]

		if req.OpID != "" {
			existing, err := tx.FindInvoiceByOpID(ctx, req.OpID)
			if err == nil {
				resp = domain.CheckoutResponse{Invoice: *existing, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		products, err := s.loadProducts(ctx, tx, req.Lines)
		if err != nil {
			return err
		}
		for i, line := range req.Lines {
			if products[i].Stock < line.Qty {
				return &InsufficientStockError{
					ProductID: products[i].ID,
					Name:      products[i].Name,
					Requested: line.Qty,
					Available: products[i].Stock,
				}
			}
		}
		customer, err := s.loadCustomer(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}

		q, err := s.price(products, req, customer, o)
		if err != nil {
			return err
		}

		number, err := allocateInvoiceNumber(ctx, tx, settings)
		if err != nil {
			return err
		}
		now := s.now()
		invoice := domain.Invoice{
			ID:            xid.New("inv"),
			InvoiceNumber: number,
			OpID:          req.OpID,
			Lines:         q.invoiceLines(),
			Subtotal:      pricing.Round2(q.totals.Subtotal),
			TaxTotal:      pricing.Round2(q.totals.TaxTotal),
			DiscountTotal: pricing.Round2(q.totals.BillDiscountAmount),
			GrandTotal:    pricing.Round2(q.totals.GrandTotal),
			PaymentMethod: payment,
			CashierUserID: cashier,
			OfferID:       q.cart.OfferID(),
			Status:        domain.InvoiceStatusPaid,
			IssuedAt:      now,
		}
		if customer != nil {
			invoice.CustomerID = customer.ID
		}

		entries := make([]inventory.Entry, 0, len(products))
		for i, line := range req.Lines {
			p := products[i]
			p.Stock -= line.Qty
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
			entries = append(entries, inventory.Sale(p.ID, line.Qty, invoice.ID, cashier, inventory.ReasonCheckout))
			touched = append(touched, p.SKU)
		}
		if err := tx.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		logs, err := inventory.Build(now, entries...)
		if err != nil {
			return err
		}
		if err := tx.AppendInventoryLogs(ctx, logs); err != nil {
			return err
		}

		if customer != nil {
			customer.LoyaltyPoints += pricing.FloorPoints(invoice.GrandTotal)
			customer.TotalSpend = pricing.Sum(customer.TotalSpend, invoice.GrandTotal)
			if err := tx.SaveCustomer(ctx, *customer); err != nil {
				return err
			}
		}

		resp.Invoice = invoice
		return nil
	})
	if err != nil {
		s.log.Warn("checkout rejected", zap.String("op_id", req.OpID), zap.Error(err))
		return domain.CheckoutResponse{}, err
	}
	if resp.Duplicate {
		s.log.Info("checkout replay ignored", zap.String("op_id", req.OpID), zap.String("invoice_id", resp.Invoice.ID))
		return resp, nil
	}

	for _, sku := range touched {
		s.invalidate(ctx, sku)
	}
	s.log.Info("checkout committed",
		zap.String("invoice_id", resp.Invoice.ID),
		zap.String("invoice_number", resp.Invoice.InvoiceNumber),
		zap.Float64("grand_total", resp.Invoice.GrandTotal),
		zap.String("cashier", cashier),
	)
	return resp, nil
}

// outcome classifies a transactional result for metrics.
func outcome(err error, duplicate bool) string {
	if err == nil {
		if duplicate {
			return metrics.ResultDuplicate
		}
		return metrics.ResultCommitted
	}
	var (
		validation *ValidationError
		missing    *NotFoundError
		stock      *InsufficientStockError
		window     *ReturnWindowExceededError
		qty        *InvalidReturnQuantityError
		notOnBill  *ProductNotInOriginalInvoiceError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &missing), errors.As(err, &stock),
		errors.As(err, &window), errors.As(err, &qty), errors.As(err, &notOnBill),
		errors.Is(err, ErrForbidden):
		return metrics.ResultRejected
	}
	return metrics.ResultFailed
}
