package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
	"github.com/lalithlochan/cascade/internal/db"
	"github.com/lalithlochan/cascade/internal/dispatch"
	"github.com/lalithlochan/cascade/internal/routing"
	"github.com/lalithlochan/cascade/internal/sqs"
)

type mockQueue struct {
	mu       sync.Mutex
	batches  [][]sqs.Delivery
	recvErr  error
	deleted  []string
	released []string
}

func (q *mockQueue) Receive(ctx context.Context) ([]sqs.Delivery, error) {
	q.mu.Lock()
	if q.recvErr != nil {
		err := q.recvErr
		q.recvErr = nil
		q.mu.Unlock()
		return nil, err
	}
	if len(q.batches) > 0 {
		b := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return b, nil
	}
	q.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *mockQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

func (q *mockQueue) Release(ctx context.Context, receiptHandle string, seconds int32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, receiptHandle)
	return nil
}

func (q *mockQueue) snapshot() (deleted, released []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...), append([]string(nil), q.released...)
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	return nil, fmt.Errorf("%w: create notification: connection refused", dispatch.ErrPersistence)
}

func delivery(handle string, req dispatch.Request) sqs.Delivery {
	return sqs.Delivery{
		MessageID:     "id-" + handle,
		ReceiptHandle: handle,
		Message:       &sqs.Message{RequestID: uuid.NewString(), Request: req, EnqueuedAt: time.Now().UnixNano()},
	}
}

func newEngine(store dispatch.AuditStore) *dispatch.Engine {
	logger := zap.NewNop()
	return dispatch.New(store, routing.Default(), channel.NewRegistry(channel.Simulators(logger)...), logger)
}

func TestWorker_HandleDeletesCompletedDispatches(t *testing.T) {
	store := db.NewMemoryStore()
	queue := &mockQueue{}
	w := New(queue, newEngine(store), Config{}, zap.NewNop())

	w.handle(context.Background(), delivery("delivered", dispatch.Request{EventType: "Login OTP", Phone: "9999999999", Message: "otp"}))
	w.handle(context.Background(), delivery("failed", dispatch.Request{EventType: "Login OTP", Message: "otp"}))

	deleted, released := queue.snapshot()
	assert.Equal(t, []string{"delivered", "failed"}, deleted, "a Failed outcome is still a completed dispatch")
	assert.Empty(t, released)

	delivered, _ := store.CountByStatus(context.Background(), db.StatusDelivered)
	failed, _ := store.CountByStatus(context.Background(), db.StatusFailed)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, failed)
}

func TestWorker_HandleDropsBadMessages(t *testing.T) {
	store := db.NewMemoryStore()
	queue := &mockQueue{}
	w := New(queue, newEngine(store), Config{}, zap.NewNop())

	w.handle(context.Background(), sqs.Delivery{ReceiptHandle: "garbled", DecodeErr: errors.New("invalid message format")})
	w.handle(context.Background(), delivery("no-message", dispatch.Request{EventType: "Login OTP"}))

	deleted, _ := queue.snapshot()
	assert.Equal(t, []string{"garbled", "no-message"}, deleted)

	total, _ := store.CountNotifications(context.Background())
	assert.Zero(t, total, "invalid requests never reach the engine")
}

// faultyStore fails one step of the audit write protocol.
type faultyStore struct {
	*db.MemoryStore
	createErr   error
	appendErr   error
	finalizeErr error
}

func (s *faultyStore) CreatePendingNotification(ctx context.Context, notif *db.Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.CreatePendingNotification(ctx, notif)
}

func (s *faultyStore) AppendChannelAttempt(ctx context.Context, attempt *db.ChannelAttempt) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MemoryStore.AppendChannelAttempt(ctx, attempt)
}

func (s *faultyStore) FinalizeNotification(ctx context.Context, id uuid.UUID, status, summary string) error {
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	return s.MemoryStore.FinalizeNotification(ctx, id, status, summary)
}

type countingAdapter struct {
	kind  channel.Kind
	sends atomic.Int32
}

func (a *countingAdapter) Kind() channel.Kind { return a.kind }

func (a *countingAdapter) Send(ctx context.Context, identifier, message string) channel.Result {
	a.sends.Add(1)
	return channel.Success("SMS delivered")
}

func TestWorker_HandlePersistenceFailures(t *testing.T) {
	storeErr := errors.New("connection reset")

	tests := []struct {
		name         string
		store        func(*db.MemoryStore) *faultyStore
		wantReleased bool
		wantPending  int
	}{
		{
			name:         "create fails before any send",
			store:        func(m *db.MemoryStore) *faultyStore { return &faultyStore{MemoryStore: m, createErr: storeErr} },
			wantReleased: true,
		},
		{
			name:        "append fails after send",
			store:       func(m *db.MemoryStore) *faultyStore { return &faultyStore{MemoryStore: m, appendErr: storeErr} },
			wantPending: 1,
		},
		{
			name:        "finalize fails after send",
			store:       func(m *db.MemoryStore) *faultyStore { return &faultyStore{MemoryStore: m, finalizeErr: storeErr} },
			wantPending: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := db.NewMemoryStore()
			sms := &countingAdapter{kind: channel.KindSMS}
			engine := dispatch.New(tt.store(mem), routing.Default(), channel.NewRegistry(sms), zap.NewNop())
			queue := &mockQueue{}
			w := New(queue, engine, Config{RetryDelaySeconds: 10}, zap.NewNop())

			d := delivery("h1", dispatch.Request{EventType: "Login OTP", Phone: "9999999999", Message: "otp"})
			w.handle(ctx, d)

			deleted, released := queue.snapshot()
			if tt.wantReleased {
				assert.Equal(t, []string{"h1"}, released)
				assert.Empty(t, deleted)
				assert.Zero(t, sms.sends.Load(), "nothing is sent before the notification is created")
			} else {
				assert.Equal(t, []string{"h1"}, deleted, "a request whose channels ran is never redelivered")
				assert.Empty(t, released)
				assert.EqualValues(t, 1, sms.sends.Load())
			}

			pending, err := mem.CountByStatus(ctx, db.StatusPending)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, pending)
		})
	}
}

// cancellingDispatcher cancels the worker context during the first dispatch.
type cancellingDispatcher struct {
	cancel context.CancelFunc
	inner  Dispatcher
}

func (c *cancellingDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	c.cancel()
	return c.inner.Dispatch(ctx, req)
}

func TestWorker_RunStopsMidBatchOnCancel(t *testing.T) {
	store := db.NewMemoryStore()
	req := dispatch.Request{EventType: "Login OTP", Phone: "9999999999", Message: "otp"}
	queue := &mockQueue{
		batches: [][]sqs.Delivery{{delivery("a", req), delivery("b", req), delivery("c", req)}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(queue, &cancellingDispatcher{cancel: cancel, inner: newEngine(store)}, Config{}, zap.NewNop())

	w.run(ctx, 1)

	deleted, released := queue.snapshot()
	assert.Equal(t, []string{"a"}, deleted, "remaining deliveries are left to the visibility timeout")
	assert.Empty(t, released)

	total, _ := store.CountNotifications(context.Background())
	assert.Equal(t, 1, total)
}

func TestWorker_StartProcessesUntilCancelled(t *testing.T) {
	store := db.NewMemoryStore()
	queue := &mockQueue{
		recvErr: errors.New("throttled"),
		batches: [][]sqs.Delivery{
			{
				delivery("a", dispatch.Request{EventType: "Fraud Alert", Phone: "9999999999", Message: "a"}),
				delivery("b", dispatch.Request{EventType: "Monthly Statement", Email: "user@example.com", Message: "b"}),
			},
			{
				delivery("c", dispatch.Request{EventType: "Unknown", Phone: "1234567890", Message: "c"}),
			},
		},
	}
	w := New(queue, newEngine(store), Config{Concurrency: 2, ErrorBackoff: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		deleted, _ := queue.snapshot()
		return len(deleted) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	delivered, _ := store.CountByStatus(context.Background(), db.StatusDelivered)
	assert.Equal(t, 3, delivered)
}

func TestNew_Defaults(t *testing.T) {
	w := New(&mockQueue{}, failingDispatcher{}, Config{}, zap.NewNop())

	assert.Equal(t, 1, w.config.Concurrency)
	assert.Equal(t, 5*time.Second, w.config.ErrorBackoff)
	assert.Equal(t, int32(30), w.config.RetryDelaySeconds)
}
