package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/solebook/internal/models"
)

type EmailNotificationStore struct {
	db *sql.DB
}

func NewEmailNotificationStore(db *sql.DB) *EmailNotificationStore {
	return &EmailNotificationStore{db: db}
}

func (s *EmailNotificationStore) CreateEmailNotification(ctx context.Context, params models.EmailNotificationCreateParams) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO email_notifications
		 (id, user_id, connection_id, trigger_id, dedup_key, trigger_phrase, trigger_label, subject, from_address, snippet, email_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, dedup_key) DO NOTHING`,
		models.EmailNotificationID(params.UserID, params.DedupKey), params.UserID, params.ConnectionID,
		params.TriggerID, params.DedupKey, params.TriggerPhrase, params.TriggerLabel,
		params.Subject, params.From, params.Snippet, params.EmailDate,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *EmailNotificationStore) ListUndismissedEmailNotifications(ctx context.Context, userID int64) ([]models.EmailNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, connection_id, trigger_id, dedup_key, trigger_phrase, trigger_label,
		        subject, from_address, snippet, email_date, dismissed_at, created_at
		 FROM email_notifications
		 WHERE user_id = $1 AND dismissed_at IS NULL
		 ORDER BY email_date DESC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]models.EmailNotification, 0, 16)
	for rows.Next() {
		var n models.EmailNotification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.ConnectionID, &n.TriggerID, &n.DedupKey, &n.TriggerPhrase, &n.TriggerLabel,
			&n.Subject, &n.From, &n.Snippet, &n.EmailDate, &n.DismissedAt, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DismissEmailNotification keeps the first dismissal time on repeat calls.
func (s *EmailNotificationStore) DismissEmailNotification(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_notifications
		 SET dismissed_at = COALESCE(dismissed_at, $3)
		 WHERE id = $1 AND user_id = $2`,
		id, userID, at,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *EmailNotificationStore) DismissAllEmailNotifications(ctx context.Context, userID int64, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_notifications
		 SET dismissed_at = $2
		 WHERE user_id = $1 AND dismissed_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
