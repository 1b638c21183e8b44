package offlinequeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []string
	counts  map[string]int
	failOp  string
	delay   time.Duration
}

func (a *recordingApplier) Apply(_ context.Context, op domain.QueuedOperation) error {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = map[string]int{}
	}
	if op.OpID == a.failOp {
		return errors.New("insufficient stock")
	}
	a.counts[op.OpID]++
	a.applied = append(a.applied, op.OpID)
	return nil
}

func (a *recordingApplier) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.applied...)
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestQueue(applier Applier) (*Queue, *MemoryBackend) {
	backend := NewMemoryBackend()
	clock := &steppingClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return New(backend, applier, Options{Now: clock.Now, PollInterval: time.Hour}), backend
}

func enqueueN(t *testing.T, q *Queue, n int) []domain.QueuedOperation {
	t.Helper()
	ops := make([]domain.QueuedOperation, n)
	for i := range ops {
		op, err := q.Enqueue(context.Background(), domain.OpTypeCheckout, domain.CheckoutRequest{
			Lines: []domain.CheckoutLine{{ProductID: "prd_tea", Qty: i + 1}},
		})
		require.NoError(t, err)
		ops[i] = op
	}
	return ops
}

func TestEnqueueAssignsStableOpID(t *testing.T) {
	q, _ := newTestQueue(&recordingApplier{})
	ops := enqueueN(t, q, 2)
	assert.NotEmpty(t, ops[0].OpID)
	assert.NotEqual(t, ops[0].OpID, ops[1].OpID)
	assert.JSONEq(t, `{"lines":[{"product_id":"prd_tea","qty":1,"item_discount":0,"item_discount_mode":""}],"bill_discount":{"value":0,"mode":""},"payment_method":""}`, string(ops[0].Payload))

	_, err := q.Enqueue(context.Background(), "teleport", nil)
	assert.Error(t, err)
}

func TestDrainAppliesOldestFirst(t *testing.T) {
	applier := &recordingApplier{}
	q, backend := newTestQueue(applier)
	ops := enqueueN(t, q, 3)

	// Push an older entry last; drain must still apply it first.
	older := ops[0]
	older.ID, older.OpID = "q_older", "op-older"
	older.CreatedAt = ops[0].CreatedAt.Add(-time.Minute)
	require.NoError(t, backend.Push(context.Background(), older))

	applied, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, applied)
	assert.Equal(t, []string{"op-older", ops[0].OpID, ops[1].OpID, ops[2].OpID}, applier.snapshot())

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainStopsAtFirstFailureAndKeepsIt(t *testing.T) {
	applier := &recordingApplier{}
	q, _ := newTestQueue(applier)
	ops := enqueueN(t, q, 3)
	applier.failOp = ops[1].OpID

	applied, err := q.Drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient stock")
	assert.Equal(t, 1, applied)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, StatePendingRetry, pending[0].State)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "insufficient stock", pending[0].LastError)
	assert.Equal(t, StateQueued, pending[1].State)

	applier.failOp = ""
	applied, err = q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
}

func TestDrainWhileOffline(t *testing.T) {
	q, _ := newTestQueue(&recordingApplier{})
	enqueueN(t, q, 1)
	q.SetOnline(false)

	_, err := q.Drain(context.Background())
	assert.ErrorIs(t, err, ErrOffline)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestConcurrentDrainsApplyEachOperationOnce(t *testing.T) {
	applier := &recordingApplier{delay: 2 * time.Millisecond}
	q, _ := newTestQueue(applier)
	ops := enqueueN(t, q, 5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Drain(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, op := range ops {
		assert.Equal(t, 1, applier.counts[op.OpID], op.OpID)
	}
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context) (func(), error) { return nil, ErrBusy }

func TestDrainSkipsWhenLockHeldElsewhere(t *testing.T) {
	applier := &recordingApplier{}
	backend := NewMemoryBackend()
	q := New(backend, applier, Options{Locker: busyLocker{}})
	enqueueN(t, q, 2)

	applied, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Empty(t, applier.snapshot())
}

func TestRunDrainsWhenBackOnline(t *testing.T) {
	applier := &recordingApplier{}
	q, _ := newTestQueue(applier)
	q.SetOnline(false)
	enqueueN(t, q, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	q.SetOnline(true)
	require.Eventually(t, func() bool {
		return len(applier.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
