package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

// NotificationRepository stores admin notifications; the records UI reads
// them from the same table.
type NotificationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *NotificationRepository) NotifyAdmins(ctx context.Context, title, message, actionURL string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notifications (id, audience, title, message, action_url, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, uuid.NewString(), domain.AudienceAdmins, title, message, actionURL, r.now())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) ListUnread(ctx context.Context, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, audience, title, message, action_url, created_at, read_at
FROM notifications
WHERE audience = $1 AND read_at IS NULL
ORDER BY created_at DESC
LIMIT $2
`, domain.AudienceAdmins, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Audience, &n.Title, &n.Message, &n.ActionURL, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}
