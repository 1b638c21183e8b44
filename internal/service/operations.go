package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
)

const (
	SyncAccepted  = "accepted"
	SyncDuplicate = "duplicate"
	SyncFailed    = "failed"
	SyncSkipped   = "skipped"
)

// ApplyOperation replays one operation captured offline. The queued op id is
// forced onto the request so a redelivery never books twice.
func (s *Service) ApplyOperation(ctx context.Context, op domain.QueuedOperation) (domain.SyncOperationStatus, error) {
	status := domain.SyncOperationStatus{ID: op.ID, OpID: op.OpID}
	fail := func(err error) (domain.SyncOperationStatus, error) {
		status.Status = SyncFailed
		status.Reason = err.Error()
		return status, err
	}
	if strings.TrimSpace(op.OpID) == "" {
		return fail(invalid("op_id", "queued operation has no op id"))
	}

	decode := func(v any) error {
		if err := json.Unmarshal(op.Payload, v); err != nil {
			return &ValidationError{Field: "payload", Message: err.Error(), Err: err}
		}
		return nil
	}

	var (
		documentID string
		duplicate  bool
	)
	switch op.Type {
	case domain.OpTypeCheckout:
		var req domain.CheckoutRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		req.OpID = op.OpID
		resp, err := s.Checkout(ctx, req)
		if err != nil {
			return fail(err)
		}
		documentID, duplicate = resp.Invoice.ID, resp.Duplicate
	case domain.OpTypeExchange:
		var req domain.ExchangeRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		req.OpID = op.OpID
		resp, err := s.Exchange(ctx, req)
		if err != nil {
			return fail(err)
		}
		documentID, duplicate = resp.Exchange.ID, resp.Duplicate
	case domain.OpTypeReceive:
		var req domain.ReceiveStockRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		req.OpID = op.OpID
		resp, err := s.ReceiveStock(ctx, req)
		if err != nil {
			return fail(err)
		}
		documentID, duplicate = resp.Receipt.ID, resp.Duplicate
	default:
		return fail(invalid("type", "unknown operation type %q", op.Type))
	}

	status.DocumentID = documentID
	status.Status = SyncAccepted
	if duplicate {
		status.Status = SyncDuplicate
	}
	return status, nil
}

// Apply lets the offline queue drive the service.
func (s *Service) Apply(ctx context.Context, op domain.QueuedOperation) error {
	_, err := s.ApplyOperation(ctx, op)
	return err
}

// SyncOperations applies a client's queued operations oldest first and stops
// at the first failure; later entries are reported as skipped so the client
// keeps them.
func (s *Service) SyncOperations(ctx context.Context, req domain.SyncOperationsRequest) domain.SyncOperationsResponse {
	ops := make([]domain.QueuedOperation, len(req.Operations))
	copy(ops, req.Operations)
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})

	statuses := make([]domain.SyncOperationStatus, 0, len(ops))
	failed := false
	for _, op := range ops {
		if failed {
			statuses = append(statuses, domain.SyncOperationStatus{ID: op.ID, OpID: op.OpID, Status: SyncSkipped})
			continue
		}
		status, err := s.ApplyOperation(ctx, op)
		if err != nil {
			failed = true
			s.log.Warn("sync operation failed",
				zap.String("terminal_id", req.TerminalID),
				zap.String("op_id", op.OpID),
				zap.String("type", op.Type),
				zap.Error(err),
			)
		}
		statuses = append(statuses, status)
	}
	return domain.SyncOperationsResponse{Statuses: statuses}
}
