// Package dispatch runs the fallback-until-success delivery loop: channels
// are tried in routing order and the first success ends the dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
	"github.com/lalithlochan/cascade/internal/db"
	"github.com/lalithlochan/cascade/internal/metrics"
	"github.com/lalithlochan/cascade/internal/routing"
)

// DefaultInboxUser is the recipient used for INBOX deliveries.
const DefaultInboxUser = "user-1"

// DefaultListenerTimeout bounds how long listeners may spend on one
// finalized dispatch.
const DefaultListenerTimeout = 10 * time.Second

const (
	summarySeparator = ", "
	panicReason      = "adapter panic"
)

var (
	// ErrPersistence marks a dispatch that could not be recorded. It is
	// never returned for a delivery failure.
	ErrPersistence = errors.New("audit store failure")

	// ErrNotFinalized marks a persistence failure after at least one
	// adapter was called. The message may already have been delivered, so
	// the request must not be dispatched again.
	ErrNotFinalized = fmt.Errorf("%w: dispatch not finalized", ErrPersistence)

	ErrInvalidRequest = errors.New("invalid dispatch request")
)

// AuditStore is the write side of the audit log. A dispatch calls
// CreatePendingNotification once, AppendChannelAttempt once per attempt and
// FinalizeNotification once.
type AuditStore interface {
	CreatePendingNotification(ctx context.Context, notif *db.Notification) error
	AppendChannelAttempt(ctx context.Context, attempt *db.ChannelAttempt) error
	FinalizeNotification(ctx context.Context, id uuid.UUID, status, summary string) error
}

// Request is one inbound event to deliver.
type Request struct {
	EventType   string `json:"event_type"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Message     string `json:"message"`
}

// Validate checks the fields the engine requires. Recipient fields are
// optional here; each adapter validates its own.
func (r Request) Validate() error {
	if strings.TrimSpace(r.EventType) == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

func (r Request) recipient(kind channel.Kind) string {
	switch kind {
	case channel.KindSMS:
		return r.Phone
	case channel.KindEmail:
		return r.Email
	case channel.KindPush:
		return r.DeviceToken
	case channel.KindInbox:
		return DefaultInboxUser
	default:
		return ""
	}
}

// Listener is told about every finalized dispatch. Listeners run on their
// own goroutine after Dispatch returns, with a context bounded by the
// engine's listener timeout.
type Listener interface {
	DispatchCompleted(ctx context.Context, res *Result)
}

// Result is a finalized notification and its attempts in order.
type Result struct {
	Notification *db.Notification     `json:"notification"`
	Attempts     []*db.ChannelAttempt `json:"attempts"`
}

// Engine dispatches requests. It holds no per-dispatch state and is safe
// for concurrent use.
type Engine struct {
	store    AuditStore
	table    *routing.Table
	registry *channel.Registry
	logger   *zap.Logger

	listeners       []Listener
	listenerTimeout time.Duration
	notifying       sync.WaitGroup
}

// New builds an engine and warns about event types that can never be
// delivered because none of their channels has an adapter.
func New(store AuditStore, table *routing.Table, registry *channel.Registry, logger *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		table:    table,
		registry: registry,
		logger:   logger,

		listenerTimeout: DefaultListenerTimeout,
	}

	for _, eventType := range table.EventTypes() {
		if !e.anyRegistered(table.Resolve(eventType)) {
			logger.Warn("no registered adapter for any routed channel",
				zap.String("event_type", eventType),
			)
		}
	}
	if !e.anyRegistered(table.Fallback()) {
		logger.Warn("no registered adapter for fallback channels")
	}

	return e
}

// AddListener registers l for completed dispatches. It must be called
// before the engine is shared.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

func (e *Engine) anyRegistered(kinds []channel.Kind) bool {
	for _, k := range kinds {
		if _, ok := e.registry.Lookup(k); ok {
			return true
		}
	}
	return false
}

// Dispatch creates a Pending notification, tries each routed channel in
// order until one succeeds and finalizes the notification as Delivered or
// Failed. Delivery failure is reported through the returned notification;
// an error is returned only when the audit store fails, wrapping
// ErrPersistence.
//
// Once started a dispatch runs to completion even if ctx is cancelled, so
// that no notification is left Pending by a disconnecting caller.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	notif := &db.Notification{
		EventType:   req.EventType,
		Phone:       req.Phone,
		Email:       req.Email,
		DeviceToken: req.DeviceToken,
		Message:     req.Message,
		Status:      db.StatusPending,
	}
	if err := e.store.CreatePendingNotification(ctx, notif); err != nil {
		return nil, e.persistenceError(ErrPersistence, "create notification", err)
	}

	log := e.logger.With(
		zap.String("notification_id", notif.ID.String()),
		zap.String("event_type", req.EventType),
	)

	var (
		attempts  []*db.ChannelAttempt
		tokens    []string
		delivered bool
	)

	for _, kind := range e.table.Resolve(req.EventType) {
		adapter, ok := e.registry.Lookup(kind)
		if !ok {
			log.Debug("skipping unregistered channel", zap.String("channel", string(kind)))
			metrics.RecordChannelSkipped(string(kind))
			continue
		}

		callStart := time.Now()
		res := e.send(ctx, adapter, req.recipient(kind), req.Message)
		metrics.RecordChannelAttempt(string(kind), string(res.Status), time.Since(callStart))

		attempt := &db.ChannelAttempt{
			NotificationID: notif.ID,
			Sequence:       len(attempts) + 1,
			Channel:        kind,
			Status:         res.Status,
			Reason:         res.Reason,
		}
		if err := e.store.AppendChannelAttempt(ctx, attempt); err != nil {
			return nil, e.persistenceError(ErrNotFinalized, "record channel attempt", err)
		}
		attempts = append(attempts, attempt)
		tokens = append(tokens, summaryToken(kind, res.Status))

		if res.Err != nil {
			log.Warn("channel attempt failed",
				zap.String("channel", string(kind)),
				zap.String("reason", res.Reason),
				zap.Error(res.Err),
			)
		}

		if res.Succeeded() {
			delivered = true
			break
		}
	}

	status := db.StatusFailed
	if delivered {
		status = db.StatusDelivered
	}
	summary := strings.Join(tokens, summarySeparator)

	if err := e.store.FinalizeNotification(ctx, notif.ID, status, summary); err != nil {
		sentinel := ErrPersistence
		if len(attempts) > 0 {
			sentinel = ErrNotFinalized
		}
		return nil, e.persistenceError(sentinel, "finalize notification", err)
	}
	notif.Status = status
	notif.FinalChannelSummary = summary

	duration := time.Since(start)
	metrics.RecordDispatch(status, duration)

	log.Info("dispatch completed",
		zap.String("status", status),
		zap.String("summary", summary),
		zap.Int("attempts", len(attempts)),
		zap.Duration("duration", duration),
	)

	result := &Result{Notification: notif, Attempts: attempts}
	e.notify(ctx, result)
	return result, nil
}

// notify hands res to the listeners without blocking the dispatch.
func (e *Engine) notify(ctx context.Context, res *Result) {
	if len(e.listeners) == 0 {
		return
	}

	e.notifying.Add(1)
	go func() {
		defer e.notifying.Done()

		ctx, cancel := context.WithTimeout(ctx, e.listenerTimeout)
		defer cancel()

		for _, l := range e.listeners {
			e.callListener(ctx, l, res)
		}
	}()
}

func (e *Engine) callListener(ctx context.Context, l Listener, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dispatch listener panicked",
				zap.String("notification_id", res.Notification.ID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	l.DispatchCompleted(ctx, res)
}

// Wait blocks until listener calls already started have returned or ctx
// is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.notifying.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send invokes the adapter and converts a panic into a failed result.
func (e *Engine) send(ctx context.Context, adapter channel.Adapter, identifier, message string) (res channel.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("channel adapter panicked",
				zap.String("channel", string(adapter.Kind())),
				zap.Any("panic", r),
			)
			res = channel.Result{
				Status: channel.StatusFailed,
				Reason: panicReason,
				Err:    fmt.Errorf("adapter panic: %v", r),
			}
		}
	}()
	return adapter.Send(ctx, identifier, message)
}

func (e *Engine) persistenceError(sentinel error, op string, err error) error {
	metrics.RecordPersistenceError()
	e.logger.Error("dispatch aborted",
		zap.String("op", op),
		zap.Bool("channels_tried", errors.Is(sentinel, ErrNotFinalized)),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %w", sentinel, op, err)
}

// summaryToken renders an attempt as "SMS Success" or "EMAIL Failed".
func summaryToken(kind channel.Kind, status channel.Status) string {
	s := string(status)
	if s != "" {
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	return string(kind) + " " + s
}
