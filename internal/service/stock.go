package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/inventory"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// ReceiveStock books a supplier delivery. Replays with the same op id return
// the stored receipt.
func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveStockRequest) (domain.ReceiveStockResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReceiveStockResponse{}, err
	}
	if err := s.check(req); err != nil {
		return domain.ReceiveStockResponse{}, err
	}
	if len(req.Lines) == 0 {
		return domain.ReceiveStockResponse{}, invalid("lines", "at least one line is required")
	}
	for i, line := range req.Lines {
		if line.Qty <= 0 {
			return domain.ReceiveStockResponse{}, invalid(fmt.Sprintf("lines[%d].qty", i), "quantity must be positive")
		}
	}
	user := strings.TrimSpace(req.ReceivedBy)
	if user == "" {
		user = actorName(ctx)
	}

	var resp domain.ReceiveStockResponse
	var touched []string
	err := s.runTx(ctx, "receive_stock", func(tx store.Tx) error {
		resp = domain.ReceiveStockResponse{}
		touched = touched[:0]

		if req.OpID != "" {
			existing, err := tx.FindReceiptByOpID(ctx, req.OpID)
			if err == nil {
				resp = domain.ReceiveStockResponse{Receipt: *existing, Duplicate: true}
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		products := make(map[string]domain.Product, len(req.Lines))
		order := make([]string, 0, len(req.Lines))
		for _, line := range req.Lines {
			if _, ok := products[line.ProductID]; ok {
				continue
			}
			p, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return notFound(err, "product", line.ProductID)
			}
			products[p.ID] = *p
			order = append(order, p.ID)
		}

		now := s.now()
		receipt := domain.Receipt{
			ID:         xid.New("rcp"),
			OpID:       req.OpID,
			Supplier:   strings.TrimSpace(req.Supplier),
			Note:       strings.TrimSpace(req.Note),
			Lines:      req.Lines,
			ReceivedBy: user,
			ReceivedAt: now,
		}
		entries := make([]inventory.Entry, 0, len(req.Lines))
		for _, line := range req.Lines {
			p := products[line.ProductID]
			p.Stock += line.Qty
			products[line.ProductID] = p
			entries = append(entries, inventory.Purchase(line.ProductID, line.Qty, receipt.ID, user))
		}
		for _, id := range order {
			if err := tx.SaveProduct(ctx, products[id]); err != nil {
				return err
			}
			touched = append(touched, products[id].SKU)
		}
		if err := tx.CreateReceipt(ctx, receipt); err != nil {
			return err
		}
		logs, err := inventory.Build(now, entries...)
		if err != nil {
			return err
		}
		if err := tx.AppendInventoryLogs(ctx, logs); err != nil {
			return err
		}
		resp.Receipt = receipt
		return nil
	})
	if err != nil {
		return domain.ReceiveStockResponse{}, err
	}
	if !resp.Duplicate {
		for _, sku := range touched {
			s.invalidate(ctx, sku)
		}
		s.log.Info("stock received", zap.String("receipt_id", resp.Receipt.ID), zap.Int("lines", len(resp.Receipt.Lines)), zap.String("actor", user))
	}
	return resp, nil
}

// AdjustStock applies a manual correction. Stock never goes below zero.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if req.Delta == 0 {
		return domain.Product{}, invalid("delta", "delta must not be zero")
	}
	user := actorName(ctx)

	var updated domain.Product
	err := s.runTx(ctx, "adjust_stock", func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return notFound(err, "product", req.ProductID)
		}
		if p.Stock+req.Delta < 0 {
			return invalid("delta", "stock would drop below zero (current %d)", p.Stock)
		}
		updated = *p
		updated.Stock += req.Delta
		updated.UpdatedAt = s.now()
		if err := tx.SaveProduct(ctx, updated); err != nil {
			return err
		}
		logs, err := inventory.Build(updated.UpdatedAt, inventory.Adjustment(updated.ID, req.Delta, strings.TrimSpace(req.Reason), user))
		if err != nil {
			return err
		}
		return tx.AppendInventoryLogs(ctx, logs)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx, updated.SKU)
	s.log.Info("stock adjusted", zap.String("product_id", updated.ID), zap.Int("delta", req.Delta), zap.String("actor", user))
	return updated, nil
}

func (s *Service) ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListInventoryLogs(ctx, filter)
}

// StockMovements summarizes the ledger per product for the movement report.
func (s *Service) StockMovements(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.StockMovement, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	filter.Limit = 0
	logs, err := s.repo.ListInventoryLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return inventory.Summarize(logs), nil
}
