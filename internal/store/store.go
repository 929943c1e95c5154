package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/znz-systems/solebook/internal/models"
)

// ErrNotFound is returned by every backend when a keyed lookup or a scoped
// update matches nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an insert collides with a unique key.
var ErrConflict = errors.New("store: conflict")

type InventoryReader interface {
	ListInventoryItemsByUserID(ctx context.Context, userID int64) ([]models.InventoryItem, error)
}

type DismissalStore interface {
	UpsertDismissal(ctx context.Context, rec models.DismissalRecord) (*models.DismissalRecord, error)
	UpsertDismissals(ctx context.Context, recs []models.DismissalRecord) error
	ListDismissalsByUserID(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error)
	ListDismissedKeys(ctx context.Context, userID int64) ([]string, error)
}

type EmailConnectionStore interface {
	UpsertEmailConnection(ctx context.Context, params models.EmailConnectionUpsertParams) (*models.EmailConnection, error)
	GetEmailConnectionByUserID(ctx context.Context, userID int64) (*models.EmailConnection, error)
	ListActiveEmailConnections(ctx context.Context) ([]models.EmailConnection, error)
	DeleteEmailConnection(ctx context.Context, userID int64) error
	MarkEmailConnectionChecked(ctx context.Context, id uuid.UUID, checkedAt time.Time) error
	MarkEmailConnectionFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

type TriggerPhraseStore interface {
	CreateTriggerPhrase(ctx context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error)
	ListTriggerPhrasesByUserID(ctx context.Context, userID int64) ([]models.TriggerPhrase, error)
	DeleteTriggerPhrase(ctx context.Context, userID int64, id uuid.UUID) error
}

type EmailNotificationStore interface {
	// CreateEmailNotification inserts unless (user_id, dedup_key) exists.
	// It reports whether a row was created.
	CreateEmailNotification(ctx context.Context, params models.EmailNotificationCreateParams) (bool, error)
	ListUndismissedEmailNotifications(ctx context.Context, userID int64) ([]models.EmailNotification, error)
	DismissEmailNotification(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error
	DismissAllEmailNotifications(ctx context.Context, userID int64, at time.Time) (int, error)
}

// Stores bundles one backend's implementations.
type Stores struct {
	Inventory          InventoryReader
	Dismissals         DismissalStore
	Connections        EmailConnectionStore
	Triggers           TriggerPhraseStore
	EmailNotifications EmailNotificationStore
	Ping               func(ctx context.Context) error
	Close              func() error
}
