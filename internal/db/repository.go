package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/cascade/internal/channel"
)

// Repository handles database operations for notifications and their
// channel attempts
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreatePendingNotification inserts a notification in the Pending state and
// fills in its ID and timestamps.
func (r *Repository) CreatePendingNotification(ctx context.Context, notif *Notification) error {
	if notif.ID == uuid.Nil {
		notif.ID = uuid.New()
	}
	notif.Status = StatusPending
	notif.FinalChannelSummary = ""

	query := `
		INSERT INTO notification_logs (
			id, event_type, phone, email, device_token, message,
			status, final_channel_summary
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.EventType,
		notif.Phone,
		notif.Email,
		notif.DeviceToken,
		notif.Message,
		notif.Status,
		notif.FinalChannelSummary,
	).Scan(&notif.CreatedAt, &notif.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Debug("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("event_type", notif.EventType),
	)

	return nil
}

// AppendChannelAttempt records one adapter outcome for a notification.
// The insert only matches a Pending parent, so a finalized notification
// never gains attempts.
func (r *Repository) AppendChannelAttempt(ctx context.Context, attempt *ChannelAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}

	query := `
		INSERT INTO channel_attempts (
			id, notification_id, seq, channel, status, reason
		)
		SELECT $1::uuid, n.id, $3::integer, $4::text, $5::text, $6::text
		FROM notification_logs n
		WHERE n.id = $2 AND n.status = 'Pending'
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		attempt.ID,
		attempt.NotificationID,
		attempt.Sequence,
		string(attempt.Channel),
		string(attempt.Status),
		attempt.Reason,
	).Scan(&attempt.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.GetNotification(ctx, attempt.NotificationID); err != nil {
			return fmt.Errorf("insert channel attempt: %w", err)
		}
		return fmt.Errorf("insert channel attempt: %w: %s", ErrAlreadyFinalized, attempt.NotificationID)
	}
	if err != nil {
		r.logger.Error("failed to record channel attempt",
			zap.Error(err),
			zap.String("notification_id", attempt.NotificationID.String()),
			zap.String("channel", string(attempt.Channel)),
		)
		return fmt.Errorf("insert channel attempt: %w", err)
	}

	return nil
}

// FinalizeNotification moves a Pending notification to its terminal status.
func (r *Repository) FinalizeNotification(ctx context.Context, id uuid.UUID, status, summary string) error {
	query := `
		UPDATE notification_logs
		SET status = $1, final_channel_summary = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'Pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, status, summary, id)
	if err != nil {
		r.logger.Error("failed to finalize notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return fmt.Errorf("finalize notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetNotification(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
	}

	return nil
}

const notificationColumns = `
	id, event_type, phone, email, device_token, message,
	status, final_channel_summary, created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	err := row.Scan(
		&notif.ID,
		&notif.EventType,
		&notif.Phone,
		&notif.Email,
		&notif.DeviceToken,
		&notif.Message,
		&notif.Status,
		&notif.FinalChannelSummary,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &notif, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_logs WHERE id = $1`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return notif, nil
}

// ListNotifications returns notifications newest first.
func (r *Repository) ListNotifications(ctx context.Context, limit, offset int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0, limit)
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// ListAttempts returns the attempts of one notification in dispatch order.
func (r *Repository) ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*ChannelAttempt, error) {
	query := `
		SELECT id, notification_id, seq, channel, status, reason, created_at
		FROM channel_attempts
		WHERE notification_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query channel attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*ChannelAttempt
	for rows.Next() {
		var (
			a            ChannelAttempt
			kind, status string
		)
		if err := rows.Scan(&a.ID, &a.NotificationID, &a.Sequence, &kind, &status, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel attempt: %w", err)
		}
		a.Channel = channel.Kind(kind)
		a.Status = channel.Status(status)
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attempts, nil
}

// CountNotifications returns the total number of notifications.
func (r *Repository) CountNotifications(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM notification_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

// CountByStatus returns how many notifications are in the given status.
func (r *Repository) CountByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM notification_logs WHERE status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notifications by status: %w", err)
	}
	return n, nil
}

// CountAttemptsByChannel returns the number of recorded attempts per channel.
func (r *Repository) CountAttemptsByChannel(ctx context.Context) (map[channel.Kind]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT channel, COUNT(*) FROM channel_attempts GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("count attempts by channel: %w", err)
	}
	defer rows.Close()

	counts := make(map[channel.Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan channel count: %w", err)
		}
		counts[channel.Kind(kind)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

// ClearAll deletes every attempt and then every notification in one
// transaction.
func (r *Repository) ClearAll(ctx context.Context) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	attempts, err := tx.Exec(ctx, `DELETE FROM channel_attempts`)
	if err != nil {
		return fmt.Errorf("delete channel attempts: %w", err)
	}

	notifications, err := tx.Exec(ctx, `DELETE FROM notification_logs`)
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("audit log cleared",
		zap.Int64("notifications", notifications.RowsAffected()),
		zap.Int64("attempts", attempts.RowsAffected()),
	)

	return nil
}
