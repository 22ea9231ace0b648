package notifications

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/cambia-market/order-lifecycle/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts a notification. The worker delivers at least once; the unique
// key on (order_id, event, recipient) turns a duplicate delivery into a no-op.
// Returns false when the record already existed.
func (r *Repository) Save(ctx context.Context, n *domain.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_role, recipient_id, order_id, event, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (order_id, event, recipient_role, recipient_id) DO NOTHING
	`, n.ID, n.RecipientRole, n.RecipientID, n.OrderID, n.Event, n.Body, n.CreatedAt)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (r *Repository) ListByRecipient(ctx context.Context, role domain.ActorRole, recipientID string) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient_role, recipient_id, order_id, event, body, read, created_at
		FROM notifications
		WHERE recipient_role = $1 AND recipient_id = $2
		ORDER BY created_at DESC
	`, role, recipientID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.RecipientRole, &n.RecipientID, &n.OrderID,
			&n.Event, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkRead flips the read flag; returns false for an unknown id.
func (r *Repository) MarkRead(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}
