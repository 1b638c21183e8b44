// Package offlinequeue holds checkout, exchange and receive operations
// captured while the terminal is disconnected and replays them, oldest
// first, once it is back online.
package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/xid"
)

const (
	StateQueued       = "queued"
	StatePendingRetry = "pending_retry"

	defaultPollInterval = 15 * time.Second
)

var (
	ErrOffline = errors.New("offline queue: terminal is offline")
	// ErrBusy is returned by a Locker when another process holds the drain.
	ErrBusy = errors.New("offline queue: drain held elsewhere")
)

// Backend stores queued operations in enqueue order.
type Backend interface {
	Push(ctx context.Context, op domain.QueuedOperation) error
	List(ctx context.Context) ([]domain.QueuedOperation, error)
	Update(ctx context.Context, op domain.QueuedOperation) error
	Remove(ctx context.Context, id string) error
}

type Applier interface {
	Apply(ctx context.Context, op domain.QueuedOperation) error
}

// Locker guards a drain across processes sharing one backend.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

type Entry struct {
	domain.QueuedOperation
	State string `json:"state"`
}

type Options struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Locker       Locker
	PollInterval time.Duration
	Now          func() time.Time
}

type Queue struct {
	backend Backend
	applier Applier
	log     *zap.Logger
	metrics *metrics.Metrics
	locker  Locker
	poll    time.Duration
	now     func() time.Time

	online atomic.Bool
	wake   chan struct{}
	group  singleflight.Group
}

// New returns a queue that starts online.
func New(backend Backend, applier Applier, opts Options) *Queue {
	q := &Queue{
		backend: backend,
		applier: applier,
		log:     opts.Logger,
		metrics: opts.Metrics,
		locker:  opts.Locker,
		poll:    opts.PollInterval,
		now:     opts.Now,
		wake:    make(chan struct{}, 1),
	}
	if q.log == nil {
		q.log = zap.NewNop()
	}
	if q.poll <= 0 {
		q.poll = defaultPollInterval
	}
	if q.now == nil {
		q.now = func() time.Time { return time.Now().UTC() }
	}
	q.online.Store(true)
	return q
}

// Enqueue stores an operation with a fresh op id. The same op id travels
// with every redelivery so the server books it once.
func (q *Queue) Enqueue(ctx context.Context, opType string, payload any) (domain.QueuedOperation, error) {
	switch opType {
	case domain.OpTypeCheckout, domain.OpTypeExchange, domain.OpTypeReceive:
	default:
		return domain.QueuedOperation{}, fmt.Errorf("offline queue: unknown operation type %q", opType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.QueuedOperation{}, fmt.Errorf("offline queue: encode payload: %w", err)
	}
	op := domain.QueuedOperation{
		ID:        xid.New("q"),
		OpID:      xid.OpID(),
		Type:      opType,
		Payload:   raw,
		CreatedAt: q.now(),
	}
	if err := q.backend.Push(ctx, op); err != nil {
		return domain.QueuedOperation{}, fmt.Errorf("offline queue: push: %w", err)
	}
	q.log.Info("operation queued", zap.String("op_id", op.OpID), zap.String("type", op.Type))
	q.reportDepth(ctx)
	return op, nil
}

// Pending lists queued operations oldest first. Operations that already
// failed at least once are reported as pending_retry.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	ops, err := q.ordered(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(ops))
	for i, op := range ops {
		state := StateQueued
		if op.Attempts > 0 {
			state = StatePendingRetry
		}
		out[i] = Entry{QueuedOperation: op, State: state}
	}
	return out, nil
}

func (q *Queue) Online() bool { return q.online.Load() }

// SetOnline flips connectivity. Coming online wakes Run for an immediate
// drain.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if online && !was {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Drain applies queued operations oldest first and returns how many were
// applied. It stops at the first failure, which is recorded on the entry
// and returned. Concurrent calls share one pass.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	if !q.online.Load() {
		return 0, ErrOffline
	}
	v, err, _ := q.group.Do("drain", func() (any, error) {
		return q.drain(ctx)
	})
	applied, _ := v.(int)
	return applied, err
}

func (q *Queue) drain(ctx context.Context) (int, error) {
	if q.locker != nil {
		unlock, err := q.locker.Lock(ctx)
		if errors.Is(err, ErrBusy) {
			q.log.Debug("drain skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("offline queue: lock: %w", err)
		}
		defer unlock()
	}
	defer q.reportDepth(ctx)

	ops, err := q.ordered(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, op := range ops {
		if !q.online.Load() {
			return applied, ErrOffline
		}
		if err := q.applier.Apply(ctx, op); err != nil {
			op.Attempts++
			op.LastError = err.Error()
			if uerr := q.backend.Update(ctx, op); uerr != nil {
				q.log.Error("record failed attempt", zap.String("op_id", op.OpID), zap.Error(uerr))
			}
			q.log.Warn("queued operation failed",
				zap.String("op_id", op.OpID),
				zap.String("type", op.Type),
				zap.Int("attempts", op.Attempts),
				zap.Error(err),
			)
			return applied, fmt.Errorf("offline queue: apply %s %s: %w", op.Type, op.OpID, err)
		}
		if err := q.backend.Remove(ctx, op.ID); err != nil {
			return applied, fmt.Errorf("offline queue: remove %s: %w", op.ID, err)
		}
		applied++
		q.log.Info("queued operation applied", zap.String("op_id", op.OpID), zap.String("type", op.Type))
	}
	return applied, nil
}

// Run drains on every poll tick and whenever the queue comes online, until
// ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-q.wake:
		}
		if !q.online.Load() {
			continue
		}
		if _, err := q.Drain(ctx); err != nil && !errors.Is(err, ErrOffline) && ctx.Err() == nil {
			q.log.Warn("offline drain stopped", zap.Error(err))
		}
	}
}

func (q *Queue) ordered(ctx context.Context) ([]domain.QueuedOperation, error) {
	ops, err := q.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("offline queue: list: %w", err)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})
	return ops, nil
}

func (q *Queue) reportDepth(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	ops, err := q.backend.List(ctx)
	if err != nil {
		return
	}
	q.metrics.QueueDepth(len(ops))
}
