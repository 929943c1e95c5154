package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

type EmailConnectionStore struct {
	db *sql.DB
}

func NewEmailConnectionStore(db *sql.DB) *EmailConnectionStore {
	return &EmailConnectionStore{db: db}
}

const connectionColumns = `id, user_id, email, host, port, secret_credential, is_active, last_check_at, last_error, created_at, updated_at`

// UpsertEmailConnection keeps the polling cursor while the mailbox address
// and host are unchanged; pointing the connection at another mailbox starts
// it from a fresh window.
func (s *EmailConnectionStore) UpsertEmailConnection(ctx context.Context, params models.EmailConnectionUpsertParams) (*models.EmailConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO email_connections (id, user_id, email, host, port, secret_credential, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     host = EXCLUDED.host,
		     port = EXCLUDED.port,
		     secret_credential = EXCLUDED.secret_credential,
		     is_active = EXCLUDED.is_active,
		     last_check_at = CASE
		         WHEN email_connections.email = EXCLUDED.email AND email_connections.host = EXCLUDED.host
		         THEN email_connections.last_check_at
		         ELSE NULL
		     END,
		     last_error = NULL,
		     updated_at = NOW()
		 RETURNING `+connectionColumns,
		uuid.New(), params.UserID, strings.TrimSpace(params.Email), strings.TrimSpace(params.Host),
		params.Port, params.SecretCredential, params.IsActive,
	)
	return scanConnection(row)
}

func (s *EmailConnectionStore) GetEmailConnectionByUserID(ctx context.Context, userID int64) (*models.EmailConnection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM email_connections WHERE user_id = $1`,
		userID,
	)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, notFound(err)
	}
	return conn, nil
}

func (s *EmailConnectionStore) ListActiveEmailConnections(ctx context.Context) ([]models.EmailConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM email_connections
		 WHERE is_active = TRUE
		 ORDER BY last_check_at ASC NULLS FIRST, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]models.EmailConnection, 0, 32)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, rows.Err()
}

func (s *EmailConnectionStore) DeleteEmailConnection(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_connections WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// MarkEmailConnectionChecked never moves the cursor backwards.
func (s *EmailConnectionStore) MarkEmailConnectionChecked(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_connections
		 SET last_check_at = GREATEST(last_check_at, $2),
		     last_error = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, checkedAt,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *EmailConnectionStore) MarkEmailConnectionFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_connections
		 SET last_error = $2, updated_at = NOW()
		 WHERE id = $1`,
		id, strings.TrimSpace(lastError),
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanConnection(scanner rowScanner) (*models.EmailConnection, error) {
	var conn models.EmailConnection
	if err := scanner.Scan(
		&conn.ID, &conn.UserID, &conn.Email, &conn.Host, &conn.Port, &conn.SecretCredential,
		&conn.IsActive, &conn.LastCheckAt, &conn.LastError, &conn.CreatedAt, &conn.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &conn, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
