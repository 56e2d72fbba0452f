package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
	"github.com/lalithlochan/cascade/internal/circuitbreaker"
	"github.com/lalithlochan/cascade/internal/db"
	"github.com/lalithlochan/cascade/internal/dispatch"
	"github.com/lalithlochan/cascade/internal/metrics"
	"github.com/lalithlochan/cascade/internal/redis"
	"github.com/lalithlochan/cascade/internal/routing"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxInboxLimit    = 100

	idempotencyScope = "notifications"
)

// Dispatcher runs a synchronous dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// NotificationStore is the read side of the audit log plus clear-all.
type NotificationStore interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotifications(ctx context.Context, limit, offset int) ([]*db.Notification, error)
	ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*db.ChannelAttempt, error)
	CountNotifications(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status string) (int, error)
	CountAttemptsByChannel(ctx context.Context) (map[channel.Kind]int, error)
	ClearAll(ctx context.Context) error
}

// Enqueuer hands a request to the async queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req dispatch.Request) (requestID, messageID string, err error)
}

// InboxReader reads stored in-app messages.
type InboxReader interface {
	Recent(ctx context.Context, userID string, limit int) ([]redis.InboxMessage, error)
	Len(ctx context.Context, userID string) (int, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// EnqueueResponse is returned by the async endpoint.
type EnqueueResponse struct {
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
}

// StatsResponse summarises the audit log.
type StatsResponse struct {
	Total             int                  `json:"total"`
	Delivered         int                  `json:"delivered"`
	Failed            int                  `json:"failed"`
	Pending           int                  `json:"pending"`
	AttemptsByChannel map[channel.Kind]int `json:"attempts_by_channel"`
}

// RoutesResponse describes the routing table.
type RoutesResponse struct {
	Routes   map[string][]channel.Kind `json:"routes"`
	Fallback []channel.Kind            `json:"fallback"`
}

// ChannelsResponse lists registered adapters and their breakers.
type ChannelsResponse struct {
	Registered []channel.Kind         `json:"registered"`
	Breakers   []circuitbreaker.Stats `json:"breakers"`
}

// Options carries the optional collaborators of a Handler. A nil field
// disables the feature it backs.
type Options struct {
	Idempotency *redis.IdempotencyService
	Queue       Enqueuer
	Inbox       InboxReader
	Breakers    []*circuitbreaker.CircuitBreaker
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	engine   Dispatcher
	store    NotificationStore
	table    *routing.Table
	registry *channel.Registry

	idempotency *redis.IdempotencyService
	queue       Enqueuer
	inbox       InboxReader
	breakers    []*circuitbreaker.CircuitBreaker
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, engine Dispatcher, store NotificationStore, table *routing.Table, registry *channel.Registry, opts Options) *Handler {
	return &Handler{
		logger:      logger,
		engine:      engine,
		store:       store,
		table:       table,
		registry:    registry,
		idempotency: opts.Idempotency,
		queue:       opts.Queue,
		inbox:       opts.Inbox,
		breakers:    opts.Breakers,
	}
}

// Mount registers the /v1 endpoints on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/notifications", h.CreateNotification)
	r.Post("/notifications/async", h.EnqueueNotification)
	r.Get("/notifications", h.ListNotifications)
	r.Delete("/notifications", h.ClearNotifications)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Get("/stats", h.Stats)
	r.Get("/routes", h.RoutingTable)
	r.Get("/channels", h.Channels)
	r.Post("/channels/{kind}/reset", h.ResetChannel)
	r.Get("/inbox/{user}", h.Inbox)
}

// CreateNotification handles POST /v1/notifications. The request is
// dispatched before responding; the response carries the finalized
// notification and its attempts. Supports idempotency via the
// Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", err.Error())
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	useIdempotency := idempotencyKey != "" && h.idempotency != nil

	if useIdempotency {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyScope, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			useIdempotency = false
		} else if cached != nil {
			if h.replay(w, r, cached) {
				return
			}
			useIdempotency = false
		}
	}

	result, err := h.engine.Dispatch(ctx, req)
	if err != nil {
		// A key whose channels already ran stays reserved until it expires.
		if useIdempotency && !errors.Is(err, dispatch.ErrNotFinalized) {
			if relErr := h.idempotency.Release(ctx, idempotencyScope, idempotencyKey); relErr != nil {
				h.logger.Warn("failed to release idempotency key",
					zap.Error(relErr),
					zap.String("idempotency_key", idempotencyKey),
				)
			}
		}
		h.logger.Error("dispatch failed",
			zap.Error(err),
			zap.String("event_type", req.EventType),
		)
		h.writeError(w, http.StatusInternalServerError, "persistence_error", "Failed to record notification", "")
		return
	}

	if useIdempotency {
		stored := &redis.IdempotencyResult{
			NotificationID: result.Notification.ID.String(),
			StatusCode:     http.StatusCreated,
			CreatedAt:      time.Now().Unix(),
		}
		if err := h.idempotency.Store(ctx, idempotencyScope, idempotencyKey, stored); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// replay answers with the notification a previous request created. It
// returns false when the stored notification can no longer be read, in
// which case the request is dispatched again.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, cached *redis.IdempotencyResult) bool {
	id, err := uuid.Parse(cached.NotificationID)
	if err != nil {
		return false
	}
	result, err := h.loadResult(r.Context(), id)
	if err != nil {
		h.logger.Warn("idempotent replay unavailable",
			zap.Error(err),
			zap.String("notification_id", cached.NotificationID),
		)
		return false
	}

	metrics.RecordIdempotencyHit()
	w.Header().Set("X-Idempotency-Replayed", "true")
	h.writeJSON(w, cached.StatusCode, result)
	return true
}

// EnqueueNotification handles POST /v1/notifications/async
func (h *Handler) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Async dispatch is not configured", "")
		return
	}

	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", err.Error())
		return
	}

	requestID, messageID, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to enqueue dispatch request",
			zap.Error(err),
			zap.String("event_type", req.EventType),
		)
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue notification", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, EnqueueResponse{RequestID: requestID, MessageID: messageID})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	result, err := h.loadResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) loadResult(ctx context.Context, id uuid.UUID) (*dispatch.Result, error) {
	notif, err := h.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := h.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dispatch.Result{Notification: notif, Attempts: attempts}, nil
}

// ListNotifications handles GET /v1/notifications?limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxPageLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.store.ListNotifications(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// ClearNotifications handles DELETE /v1/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.logger.Error("failed to clear notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to clear notifications", "")
		return
	}

	h.logger.Info("notification log cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		resp StatsResponse
		err  error
	)
	if resp.Total, err = h.store.CountNotifications(ctx); err == nil {
		if resp.Delivered, err = h.store.CountByStatus(ctx, db.StatusDelivered); err == nil {
			if resp.Failed, err = h.store.CountByStatus(ctx, db.StatusFailed); err == nil {
				if resp.Pending, err = h.store.CountByStatus(ctx, db.StatusPending); err == nil {
					resp.AttemptsByChannel, err = h.store.CountAttemptsByChannel(ctx)
				}
			}
		}
	}
	if err != nil {
		h.logger.Error("failed to compute stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute stats", "")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// RoutingTable handles GET /v1/routes
func (h *Handler) RoutingTable(w http.ResponseWriter, r *http.Request) {
	resp := RoutesResponse{
		Routes:   make(map[string][]channel.Kind),
		Fallback: h.table.Fallback(),
	}
	for _, eventType := range h.table.EventTypes() {
		resp.Routes[eventType] = h.table.Resolve(eventType)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Channels handles GET /v1/channels
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	resp := ChannelsResponse{
		Registered: h.registry.Kinds(),
		Breakers:   make([]circuitbreaker.Stats, 0, len(h.breakers)),
	}
	for _, b := range h.breakers {
		resp.Breakers = append(resp.Breakers, b.Stats())
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ResetChannel handles POST /v1/channels/{kind}/reset. It closes the
// channel's circuit breaker and returns its stats.
func (h *Handler) ResetChannel(w http.ResponseWriter, r *http.Request) {
	kind, err := channel.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_channel", "Unknown channel kind", err.Error())
		return
	}

	for _, b := range h.breakers {
		if b.Name() != string(kind) {
			continue
		}
		b.Reset()
		h.logger.Info("channel breaker reset", zap.String("channel", string(kind)))
		h.writeJSON(w, http.StatusOK, b.Stats())
		return
	}

	h.writeError(w, http.StatusNotFound, "not_found", "No circuit breaker for channel", string(kind))
}

// Inbox handles GET /v1/inbox/{user}?limit=20
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	if h.inbox == nil {
		h.writeError(w, http.StatusServiceUnavailable, "inbox_unavailable", "Inbox storage is not configured", "")
		return
	}

	user := chi.URLParam(r, "user")
	limit := defaultPageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxInboxLimit {
			limit = l
		}
	}

	messages, err := h.inbox.Recent(r.Context(), user, limit)
	if err != nil {
		h.logger.Error("failed to read inbox", zap.Error(err), zap.String("user", user))
		h.writeError(w, http.StatusInternalServerError, "inbox_error", "Failed to read inbox", "")
		return
	}

	total, err := h.inbox.Len(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to count inbox", zap.Error(err), zap.String("user", user))
		h.writeError(w, http.StatusInternalServerError, "inbox_error", "Failed to read inbox", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     user,
		"messages": messages,
		"count":    len(messages),
		"total":    total,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
