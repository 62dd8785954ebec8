package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"signalpush/internal/model"
	"signalpush/pkg/logger"
	"signalpush/pkg/otel"
	"signalpush/pkg/outbox"
	"signalpush/pkg/trace"
)

// ErrAlreadyFinalized is returned when a record already holds a terminal status.
var ErrAlreadyFinalized = errors.New("notification already finalized")

const (
	RoutingKeyNotificationSent   = "notification.sent"
	RoutingKeyNotificationFailed = "notification.failed"

	aggregateNotification = "notification"
)

const notificationColumns = `id, type, title, message, data, target_user, status, error, recipients, created_at, sent_at`

type NotificationRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// WithOutbox makes UpdateStatus enqueue a status event in the same transaction.
func (r *NotificationRepository) WithOutbox(repo *outbox.Repository) *NotificationRepository {
	r.outbox = repo
	return r
}

// Insert stores n as a pending record and fills in its id and created_at.
func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	log := logger.WithTrace(ctx, r.logger)

	n.ID = uuid.NewString()
	n.Status = model.StatusPending
	n.SentAt = nil

	query := `
        INSERT INTO notifications (id, type, title, message, data, target_user, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at
    `
	err := otel.Observe(ctx, "insert", "notifications", query, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query,
			n.ID, string(n.Type), n.Title, n.Message, nullableJSON(n.Data), n.TargetUser, string(n.Status),
		).Scan(&n.CreatedAt)
	})
	if err != nil {
		log.Error("Failed to insert notification", zap.Error(err))
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	log.Info("Notification inserted successfully",
		zap.String("notification_id", n.ID),
		zap.String("type", string(n.Type)),
	)
	return nil
}

// UpdateStatus moves a pending record to its terminal status. It never
// touches a record that is no longer pending.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, u model.StatusUpdate) error {
	log := logger.WithTrace(ctx, r.logger)

	if !u.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", u.Status)
	}

	if r.outbox == nil {
		return r.updateStatus(ctx, r.db, id, u)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		log.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.updateStatus(ctx, tx, id, u); err != nil {
		return err
	}

	if err := outbox.InsertEventInTx(ctx, tx, r.outbox,
		aggregateNotification, id, RoutingKey(u.Status), NewStatusEvent(ctx, id, u),
	); err != nil {
		log.Error("Failed to insert outbox event",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (r *NotificationRepository) updateStatus(ctx context.Context, db querier, id string, u model.StatusUpdate) error {
	log := logger.WithTrace(ctx, r.logger)

	var reason *string
	if u.Reason != "" {
		reason = &u.Reason
	}

	query := `
        UPDATE notifications
        SET status = $2, sent_at = $3, error = $4, recipients = $5
        WHERE id = $1 AND status = 'pending'
    `
	var rows int64
	err := otel.Observe(ctx, "update", "notifications", query, func(ctx context.Context) error {
		tag, err := db.Exec(ctx, query, id, string(u.Status), u.SentAt, reason, u.Recipients)
		rows = tag.RowsAffected()
		return err
	})
	if err != nil {
		log.Error("Failed to update notification status",
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if rows == 0 {
		log.Warn("Notification is not pending, status left unchanged",
			zap.String("notification_id", id),
			zap.String("status", string(u.Status)),
		)
		return ErrAlreadyFinalized
	}

	log.Info("Notification finalized",
		zap.String("notification_id", id),
		zap.String("status", string(u.Status)),
		zap.Int("recipients", u.Recipients),
	)
	return nil
}

// GetByID returns one record or model.ErrNotFound.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var n *model.Notification
	err := otel.Observe(ctx, "select", "notifications", query, func(ctx context.Context) error {
		var err error
		n, err = scanNotification(r.db.QueryRow(ctx, query, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// ListRecent returns up to limit records, newest first.
func (r *NotificationRepository) ListRecent(ctx context.Context, limit int) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications ORDER BY created_at DESC LIMIT $1`

	notifications := make([]model.Notification, 0, limit)
	err := otel.Observe(ctx, "select", "notifications", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			n, err := scanNotification(rows)
			if err != nil {
				return err
			}
			notifications = append(notifications, *n)
		}
		return rows.Err()
	})
	if err != nil {
		logger.WithTrace(ctx, r.logger).Error("Failed to list notifications", zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// Ping reports whether the database is reachable.
func (r *NotificationRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var (
		n      model.Notification
		kind   string
		status string
		data   []byte
	)
	err := row.Scan(
		&n.ID,
		&kind,
		&n.Title,
		&n.Message,
		&data,
		&n.TargetUser,
		&status,
		&n.Error,
		&n.Recipients,
		&n.CreatedAt,
		&n.SentAt,
	)
	if err != nil {
		return nil, err
	}
	n.Type = model.Kind(kind)
	n.Status = model.Status(status)
	if data != nil {
		n.Data = data
	}
	return &n, nil
}

// nullableJSON maps an absent payload to SQL NULL.
func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

// RoutingKey returns the outbox routing key for a terminal status.
func RoutingKey(status model.Status) string {
	if status == model.StatusSent {
		return RoutingKeyNotificationSent
	}
	return RoutingKeyNotificationFailed
}

// StatusEvent is the outbox payload published when a record is finalized.
type StatusEvent struct {
	NotificationID string    `json:"notification_id"`
	Status         string    `json:"status"`
	Recipients     int       `json:"recipients"`
	Reason         string    `json:"reason,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

func NewStatusEvent(ctx context.Context, id string, u model.StatusUpdate) StatusEvent {
	return StatusEvent{
		NotificationID: id,
		Status:         string(u.Status),
		Recipients:     u.Recipients,
		Reason:         u.Reason,
		SentAt:         u.SentAt,
		TraceID:        trace.FromContext(ctx),
	}
}
