package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/znz-systems/solebook/internal/models"
)

type DismissalStore struct {
	db *sql.DB
}

func NewDismissalStore(db *sql.DB) *DismissalStore {
	return &DismissalStore{db: db}
}

const dismissalColumns = `id, user_id, notification_key, type, title, subtitle, icon, severity, source_item_id, dismissed_at`

const dismissalConflict = `
	 ON CONFLICT (user_id, notification_key) DO UPDATE
	 SET type = EXCLUDED.type,
	     title = EXCLUDED.title,
	     subtitle = EXCLUDED.subtitle,
	     icon = EXCLUDED.icon,
	     severity = EXCLUDED.severity,
	     source_item_id = EXCLUDED.source_item_id,
	     dismissed_at = EXCLUDED.dismissed_at`

func (s *DismissalStore) UpsertDismissal(ctx context.Context, rec models.DismissalRecord) (*models.DismissalRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO notification_dismissals (`+dismissalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`+dismissalConflict+`
		 RETURNING `+dismissalColumns,
		rec.ID, rec.UserID, rec.NotificationKey, string(rec.Type), rec.Title, rec.Subtitle,
		rec.Icon, string(rec.Severity), rec.SourceItemID, rec.DismissedAt,
	)
	return scanDismissal(row)
}

// UpsertDismissals writes every record in one statement, so the batch lands
// or fails as a whole. Keys must be unique within the batch.
func (s *DismissalStore) UpsertDismissals(ctx context.Context, recs []models.DismissalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(recs)*10)
	)
	sb.WriteString(`INSERT INTO notification_dismissals (` + dismissalColumns + `) VALUES `)
	for i, rec := range recs {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 1; col <= 10; col++ {
			if col > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$" + itoa(len(args)+col))
		}
		sb.WriteString(")")
		args = append(args,
			rec.ID, rec.UserID, rec.NotificationKey, string(rec.Type), rec.Title, rec.Subtitle,
			rec.Icon, string(rec.Severity), rec.SourceItemID, rec.DismissedAt,
		)
	}
	sb.WriteString(dismissalConflict)

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (s *DismissalStore) ListDismissalsByUserID(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dismissalColumns+`
		 FROM notification_dismissals
		 WHERE user_id = $1
		 ORDER BY dismissed_at DESC, id ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.DismissalRecord, 0, limit)
	for rows.Next() {
		rec, err := scanDismissal(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *DismissalStore) ListDismissedKeys(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT notification_key FROM notification_dismissals WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanDismissal(scanner rowScanner) (*models.DismissalRecord, error) {
	var (
		rec      models.DismissalRecord
		typ      string
		severity string
	)
	if err := scanner.Scan(
		&rec.ID, &rec.UserID, &rec.NotificationKey, &typ, &rec.Title, &rec.Subtitle,
		&rec.Icon, &severity, &rec.SourceItemID, &rec.DismissedAt,
	); err != nil {
		return nil, err
	}
	rec.Type = models.NotificationType(typ)
	rec.Severity = models.Severity(severity)
	return &rec, nil
}
