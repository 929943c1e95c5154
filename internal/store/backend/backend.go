// Package backend opens the configured persistence backend once at startup.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/znz-systems/solebook/internal/database"
	"github.com/znz-systems/solebook/internal/store"
	"github.com/znz-systems/solebook/internal/store/firestore"
	"github.com/znz-systems/solebook/internal/store/postgres"
	"github.com/znz-systems/solebook/migrations"
)

const (
	Postgres  = "postgres"
	Firestore = "firestore"
)

type Config struct {
	Backend string

	DatabaseURL   string
	SkipMigration bool

	FirestoreProjectID       string
	FirestoreCredentialsJSON string
}

// Open connects to the selected backend. Postgres schemas are migrated
// before the stores are returned.
func Open(ctx context.Context, cfg Config) (store.Stores, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = Postgres
	}

	switch backend {
	case Postgres:
		db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return store.Stores{}, err
		}
		if !cfg.SkipMigration {
			if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
				db.Close()
				return store.Stores{}, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return postgres.NewStores(db), nil
	case Firestore:
		client, err := firestore.NewClient(ctx, firestore.Config{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsJSON: cfg.FirestoreCredentialsJSON,
		})
		if err != nil {
			return store.Stores{}, err
		}
		return firestore.NewStores(client), nil
	default:
		return store.Stores{}, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
