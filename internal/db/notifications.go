package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotificationStore is the durable record of each notification's lifecycle.
// Creation happens inside the emitter's transaction (via the Querier seam);
// listing and status updates run against the pool directly.
type NotificationStore struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationStore creates a notification store backed by the pool.
func NewNotificationStore(db *DB, logger *zap.Logger) *NotificationStore {
	return &NotificationStore{
		db:     db,
		logger: logger,
	}
}

// Create inserts a notification row. The caller passes the transaction it
// wants the intent write coupled to; passing the pool records it standalone.
func (s *NotificationStore) Create(ctx context.Context, q Querier, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, message, type, status, extra_info)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := q.QueryRow(
		ctx,
		query,
		n.ID,
		n.UserID,
		n.Message,
		n.Type,
		n.Status,
		n.ExtraInfo,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// ListPending returns all pending rows joined with the recipient's contact
// info, newest first. This is the contract surface for downstream delivery
// workers that perform the actual SMS/push send.
func (s *NotificationStore) ListPending(ctx context.Context) ([]*PendingNotification, error) {
	query := `
		SELECT
			n.id, n.user_id, n.message, n.type, n.status, n.extra_info,
			n.created_at, n.updated_at,
			u.user_name, u.email, u.phone, u.user_role
		FROM notifications n
		JOIN users u ON n.user_id = u.id
		WHERE n.status = 'pending'
		ORDER BY n.created_at DESC
	`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var pending []*PendingNotification
	for rows.Next() {
		var p PendingNotification
		err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Message,
			&p.Type,
			&p.Status,
			&p.ExtraInfo,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.UserName,
			&p.Email,
			&p.Phone,
			&p.UserRole,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pending notification: %w", err)
		}
		pending = append(pending, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return pending, nil
}

// UpdateStatus transitions a notification owned by userID to status and
// stamps updated_at. Returns ErrNotFound when the id/user pair matches no
// row and ErrIllegalTransition when the move is not allowed by the
// lifecycle.
func (s *NotificationStore) UpdateStatus(ctx context.Context, id, userID uuid.UUID, status NotificationStatus) (*Notification, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, status)
	}

	var current NotificationStatus
	err := s.db.Pool().QueryRow(ctx,
		`SELECT status FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	if !legalTransition(current, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}

	query := `
		UPDATE notifications
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND user_id = $3 AND status = $4
		RETURNING id, user_id, message, type, status, extra_info, created_at, updated_at
	`

	var n Notification
	err = s.db.Pool().QueryRow(ctx, query, status, id, userID, current).Scan(
		&n.ID,
		&n.UserID,
		&n.Message,
		&n.Type,
		&n.Status,
		&n.ExtraInfo,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row moved between the read and the update; treat as a lost race.
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update notification status: %w", err)
	}

	s.logger.Info("notification status updated",
		zap.String("notification_id", n.ID.String()),
		zap.String("status", string(n.Status)),
	)

	return &n, nil
}
