package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/inventory"
	"retailpos/backend/internal/pricing"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type exchangeReader interface {
	catalogReader
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListExchangesByInvoice(ctx context.Context, invoiceID string) ([]domain.Exchange, error)
}

// exchangePlan is everything the read phase of an exchange decides. The
// write phase only applies it.
type exchangePlan struct {
	original domain.Invoice
	returned []domain.ExchangeReturnLine
	newItems []domain.ExchangeNewItem

	// products holds every product touched, keyed by id, in the order ids
	// lists them.
	products map[string]domain.Product
	ids      []string
	restock  map[string]int
	sold     map[string]int

	credit      float64
	newSubtotal float64
	difference  float64
}

func validateExchange(req domain.ExchangeRequest) error {
	if len(req.NewItems) == 0 {
		return &ValidationError{Field: "new_items", Message: ErrNoNewItems.Error(), Err: ErrNoNewItems}
	}
	if len(req.Returns) == 0 {
		return invalid("returns", "at least one returned line is required")
	}
	for i, item := range req.NewItems {
		if item.Qty <= 0 {
			return invalid(fmt.Sprintf("new_items[%d].qty", i), "quantity must be positive")
		}
	}
	return nil
}

func (s *Service) planExchange(ctx context.Context, r exchangeReader, req domain.ExchangeRequest) (*exchangePlan, error) {
	original, err := r.GetInvoice(ctx, req.OriginalInvoiceID)
	if err != nil {
		return nil, notFound(err, "invoice", req.OriginalInvoiceID)
	}
	if original.Status == domain.InvoiceStatusVoid {
		return nil, invalid("original_invoice_id", "invoice %s is void", original.InvoiceNumber)
	}
	days := int(s.now().Sub(original.IssuedAt) / (24 * time.Hour))
	if days > s.returnWindowDays {
		return nil, &ReturnWindowExceededError{Days: days, Limit: s.returnWindowDays}
	}

	prior, err := r.ListExchangesByInvoice(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	priorQty := make(map[string]int)
	consumedBill := 0.0
	for _, ex := range prior {
		for _, line := range ex.Returned {
			priorQty[line.ProductID] += line.Qty
			consumedBill += line.BillDiscountShare
		}
	}

	soldQty := make(map[string]int, len(original.Lines))
	names := make(map[string]string, len(original.Lines))
	sold := make([]pricing.SoldLine, 0, len(original.Lines))
	for _, line := range original.Lines {
		soldQty[line.ProductID] += line.Quantity
		names[line.ProductID] = line.Name
		sold = append(sold, pricing.SoldLine{
			Key:          line.ProductID,
			UnitPrice:    line.UnitPrice,
			Qty:          line.Quantity,
			LineDiscount: line.DiscountAmount,
		})
	}

	requested := make(map[string]int, len(req.Returns))
	for _, ret := range req.Returns {
		if _, ok := soldQty[ret.ProductID]; !ok {
			return nil, &ProductNotInOriginalInvoiceError{ProductID: ret.ProductID}
		}
		remaining := soldQty[ret.ProductID] - priorQty[ret.ProductID]
		if ret.Qty <= 0 {
			return nil, &InvalidReturnQuantityError{ProductID: ret.ProductID, Requested: ret.Qty, Remaining: remaining}
		}
		requested[ret.ProductID] += ret.Qty
		if requested[ret.ProductID] > remaining {
			return nil, &InvalidReturnQuantityError{ProductID: ret.ProductID, Requested: requested[ret.ProductID], Remaining: remaining}
		}
	}

	plan := &exchangePlan{
		original: *original,
		products: make(map[string]domain.Product),
		restock:  make(map[string]int),
		sold:     make(map[string]int),
	}
	load := func(id string, requireActive bool) (domain.Product, error) {
		if p, ok := plan.products[id]; ok {
			if requireActive && !p.Active {
				return domain.Product{}, &NotFoundError{Entity: "product", ID: id}
			}
			return p, nil
		}
		p, err := r.GetProduct(ctx, id)
		if err != nil {
			return domain.Product{}, notFound(err, "product", id)
		}
		if requireActive && !p.Active {
			return domain.Product{}, &NotFoundError{Entity: "product", ID: id}
		}
		plan.products[id] = *p
		plan.ids = append(plan.ids, id)
		return *p, nil
	}

	requests := make([]pricing.ReturnRequest, len(req.Returns))
	for i, ret := range req.Returns {
		requests[i] = pricing.ReturnRequest{Key: ret.ProductID, Qty: ret.Qty}
	}
	credits := pricing.ReturnCredit(sold, original.DiscountTotal, pricing.PriorReturns{Qty: priorQty, BillShareConsumed: consumedBill}, requests)
	totals := make([]float64, 0, len(credits))
	for i, ret := range req.Returns {
		if _, err := load(ret.ProductID, false); err != nil {
			return nil, err
		}
		if !ret.Defect {
			plan.restock[ret.ProductID] += ret.Qty
		}
		plan.returned = append(plan.returned, domain.ExchangeReturnLine{
			ProductID:         ret.ProductID,
			Name:              names[ret.ProductID],
			Qty:               ret.Qty,
			Defect:            ret.Defect,
			CreditPerUnit:     credits[i].CreditPerUnit,
			CreditTotal:       credits[i].CreditTotal,
			BillDiscountShare: credits[i].BillShare,
		})
		totals = append(totals, credits[i].CreditTotal)
	}
	plan.credit = pricing.Sum(totals...)

	lines := make([]pricing.Line, len(req.NewItems))
	for i, item := range req.NewItems {
		p, err := load(item.ProductID, true)
		if err != nil {
			return nil, err
		}
		lines[i] = pricing.Line{UnitPrice: p.UnitPrice, Qty: item.Qty}
		plan.sold[item.ProductID] += item.Qty
	}
	priced := pricing.Compute(lines, pricing.Discount{})
	for i, item := range req.NewItems {
		p := plan.products[item.ProductID]
		plan.newItems = append(plan.newItems, domain.ExchangeNewItem{
			ProductID:  p.ID,
			Name:       p.Name,
			Qty:        item.Qty,
			UnitPrice:  p.UnitPrice,
			TaxRatePct: p.TaxRatePct,
			LineTotal:  pricing.Round2(priced.Lines[i].Net),
		})
	}
	plan.newSubtotal = pricing.Round2(priced.Subtotal)
	plan.difference = pricing.Round2(plan.newSubtotal - plan.credit)

	// Undamaged units coming back in this exchange can go straight out again.
	for _, id := range plan.ids {
		need := plan.sold[id]
		if need == 0 {
			continue
		}
		p := plan.products[id]
		available := p.Stock + plan.restock[id]
		if need > available {
			return nil, &InsufficientStockError{ProductID: id, Name: p.Name, Requested: need, Available: available}
		}
	}
	return plan, nil
}

type exchangeDocs struct {
	exchange domain.Exchange
	invoice  *domain.Invoice
	refund   *domain.Refund
}

// documents renders the plan as the records an exchange persists. Preview
// calls it with empty ids.
func (p *exchangePlan) documents(req domain.ExchangeRequest, exchangeID, invoiceID, number, user string, now time.Time) exchangeDocs {
	payment := strings.TrimSpace(req.PaymentMethod)
	if payment == "" {
		payment = defaultPaymentMethod
	}
	docs := exchangeDocs{exchange: domain.Exchange{
		ID:                exchangeID,
		OpID:              req.OpID,
		OriginalInvoiceID: p.original.ID,
		Returned:          p.returned,
		NewItems:          p.newItems,
		ReturnCredit:      p.credit,
		NewSubtotal:       p.newSubtotal,
		Difference:        p.difference,
		PaymentMethod:     payment,
		CreatedByUserID:   user,
		CustomerID:        p.original.CustomerID,
		CreatedAt:         now,
	}}

	if len(p.newItems) > 0 {
		lines := make([]domain.InvoiceLine, len(p.newItems))
		for i, item := range p.newItems {
			lines[i] = domain.InvoiceLine{
				ProductID: item.ProductID,
				SKU:       p.products[item.ProductID].SKU,
				Name:      item.Name,
				Quantity:  item.Qty,
				UnitPrice: item.UnitPrice,
				LineNet:   item.LineTotal,
			}
		}
		docs.invoice = &domain.Invoice{
			ID:                  invoiceID,
			InvoiceNumber:       number,
			Lines:               lines,
			Subtotal:            p.newSubtotal,
			DiscountTotal:       pricing.Round2(math.Min(p.credit, p.newSubtotal)),
			GrandTotal:          math.Max(0, p.difference),
			PaymentMethod:       payment,
			CashierUserID:       user,
			CustomerID:          p.original.CustomerID,
			Status:              domain.InvoiceStatusPaid,
			IssuedAt:            now,
			ExchangeOfInvoiceID: p.original.ID,
			ExchangeID:          exchangeID,
		}
		docs.exchange.NewInvoiceID = invoiceID
	}

	if p.difference < 0 {
		method := strings.TrimSpace(req.RefundMethod)
		if method == "" {
			method = defaultPaymentMethod
		}
		docs.refund = &domain.Refund{
			ID:                xid.New("rfd"),
			ExchangeID:        exchangeID,
			OriginalInvoiceID: p.original.ID,
			Amount:            -p.difference,
			Method:            method,
			CreatedAt:         now,
		}
		docs.exchange.RefundID = docs.refund.ID
	}
	return docs
}

// PreviewExchange runs the full read phase against live data and returns the
// documents an exchange would create, without ids and without writing.
func (s *Service) PreviewExchange(ctx context.Context, req domain.ExchangeRequest) (domain.ExchangeResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ExchangeResponse{}, err
	}
	if err := validateExchange(req); err != nil {
		return domain.ExchangeResponse{}, err
	}
	plan, err := s.planExchange(ctx, s.repo, req)
	if err != nil {
		return domain.ExchangeResponse{}, err
	}
	docs := plan.documents(req, "", "", "", s.cashier(ctx, req.CashierUserID), s.now())
	if docs.refund != nil {
		docs.refund.ID = ""
		docs.exchange.RefundID = ""
	}
	return domain.ExchangeResponse{Exchange: docs.exchange, NewInvoice: docs.invoice, Refund: docs.refund}, nil
}

func (s *Service) cashier(ctx context.Context, requested string) string {
	if c := strings.TrimSpace(requested); c != "" {
		return c
	}
	return actorName(ctx)
}

func (s *Service) Exchange(ctx context.Context, req domain.ExchangeRequest) (domain.ExchangeResponse, error) {
	resp, err := s.exchange(ctx, req)
	s.metrics.Exchange(outcome(err, resp.Duplicate))
	return resp, err
}

func (s *Service) exchange(ctx context.Context, req domain.ExchangeRequest) (domain.ExchangeResponse, error) {
	if err := s.check(req); err != nil {
		return domain.ExchangeResponse{}, err
	}
	if err := validateExchange(req); err != nil {
		return domain.ExchangeResponse{}, err
	}
	user := s.cashier(ctx, req.CashierUserID)

	var resp domain.ExchangeResponse
	var touched []string
	err := s.runTx(ctx, "exchange", func(tx store.Tx) error {
		resp = domain.ExchangeResponse{}
		touched = touched[:0]

		if req.OpID != "" {
			existing, err := tx.FindExchangeByOpID(ctx, req.OpID)
			if err == nil {
				resp = domain.ExchangeResponse{Exchange: *existing, Duplicate: true}
				if existing.NewInvoiceID != "" {
					inv, err := tx.GetInvoice(ctx, existing.NewInvoiceID)
					if err != nil {
						return fmt.Errorf("load exchange invoice %s: %w", existing.NewInvoiceID, err)
					}
					resp.NewInvoice = inv
				}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		plan, err := s.planExchange(ctx, tx, req)
		if err != nil {
			return err
		}
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		var customer *domain.Customer
		if plan.original.CustomerID != "" {
			customer, err = tx.GetCustomer(ctx, plan.original.CustomerID)
			if errors.Is(err, store.ErrNotFound) {
				s.log.Warn("exchange customer missing", zap.String("customer_id", plan.original.CustomerID))
				customer = nil
			} else if err != nil {
				return err
			}
		}

		now := s.now()
		exchangeID := xid.New("exc")
		number, err := allocateInvoiceNumber(ctx, tx, settings)
		if err != nil {
			return err
		}
		docs := plan.documents(req, exchangeID, xid.New("inv"), number, user, now)

		entries := make([]inventory.Entry, 0, len(plan.newItems)+len(plan.returned))
		for _, item := range plan.newItems {
			entries = append(entries, inventory.Sale(item.ProductID, item.Qty, docs.invoice.ID, user, inventory.ReasonExchange))
		}
		for _, ret := range plan.returned {
			if ret.Defect {
				entries = append(entries, inventory.Damage(ret.ProductID, ret.Qty, plan.original.ID, user))
			} else {
				entries = append(entries, inventory.Return(ret.ProductID, ret.Qty, plan.original.ID, user))
			}
		}
		for _, id := range plan.ids {
			delta := plan.restock[id] - plan.sold[id]
			if delta == 0 {
				continue
			}
			p := plan.products[id]
			p.Stock += delta
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}
			touched = append(touched, p.SKU)
		}

		if err := tx.CreateExchange(ctx, docs.exchange); err != nil {
			return err
		}
		if err := tx.CreateInvoice(ctx, *docs.invoice); err != nil {
			return err
		}
		if err := tx.LinkInvoiceExchange(ctx, plan.original.ID, exchangeID); err != nil {
			return err
		}
		if docs.refund != nil {
			if err := tx.CreateRefund(ctx, *docs.refund); err != nil {
				return err
			}
		}
		logs, err := inventory.Build(now, entries...)
		if err != nil {
			return err
		}
		if err := tx.AppendInventoryLogs(ctx, logs); err != nil {
			return err
		}

		if customer != nil && plan.difference != 0 {
			if plan.difference < 0 {
				refunded := -plan.difference
				customer.LoyaltyPoints = max(0, customer.LoyaltyPoints-pricing.FloorPoints(refunded))
				customer.TotalSpend = math.Max(0, pricing.Sum(customer.TotalSpend, -refunded))
			} else {
				customer.LoyaltyPoints += pricing.FloorPoints(docs.invoice.GrandTotal)
				customer.TotalSpend = pricing.Sum(customer.TotalSpend, docs.invoice.GrandTotal)
			}
			if err := tx.SaveCustomer(ctx, *customer); err != nil {
				return err
			}
		}

		resp = domain.ExchangeResponse{Exchange: docs.exchange, NewInvoice: docs.invoice, Refund: docs.refund}
		return nil
	})
	if err != nil {
		s.log.Warn("exchange rejected", zap.String("invoice_id", req.OriginalInvoiceID), zap.String("op_id", req.OpID), zap.Error(err))
		return domain.ExchangeResponse{}, err
	}
	if resp.Duplicate {
		s.log.Info("exchange replay ignored", zap.String("op_id", req.OpID), zap.String("exchange_id", resp.Exchange.ID))
		return resp, nil
	}

	for _, sku := range touched {
		s.invalidate(ctx, sku)
	}
	s.log.Info("exchange committed",
		zap.String("exchange_id", resp.Exchange.ID),
		zap.String("original_invoice_id", resp.Exchange.OriginalInvoiceID),
		zap.Float64("return_credit", resp.Exchange.ReturnCredit),
		zap.Float64("difference", resp.Exchange.Difference),
		zap.String("cashier", user),
	)
	return resp, nil
}
