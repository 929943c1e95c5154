package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/lib/pq"
	"github.com/znz-systems/solebook/internal/store"
)

const uniqueViolation = "23505"

func NewDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// postgres may still be starting in Docker
	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, pingErr error) {
			slog.Warn("database not ready, retrying", "attempt", n+1, "error", pingErr)
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	return db, nil
}

// NewStores wires every postgres-backed store onto one pool.
func NewStores(db *sql.DB) store.Stores {
	return store.Stores{
		Inventory:          NewInventoryStore(db),
		Dismissals:         NewDismissalStore(db),
		Connections:        NewEmailConnectionStore(db),
		Triggers:           NewTriggerPhraseStore(db),
		EmailNotifications: NewEmailNotificationStore(db),
		Ping:               db.PingContext,
		Close:              db.Close,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
