package models

import (
	"time"

	"github.com/google/uuid"
)

type ItemStatus string

const (
	ItemInStock ItemStatus = "in_stock"
	ItemSold    ItemStatus = "sold"
)

// InventoryItem is owned by the inventory service. The notification engine
// only ever reads it.
type InventoryItem struct {
	ID                string
	UserID            int64
	Name              string
	Status            ItemStatus
	BuyDate           *time.Time
	SellDate          *time.Time
	ListedOnPlatforms []string
	SellPlatform      string
}

type NotificationType string

const (
	TypeStockReminder   NotificationType = "stock_reminder"
	TypeListingReminder NotificationType = "listing_reminder"
	TypeEmailTrigger    NotificationType = "email_trigger"
)

type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; higher sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// RuleNotification is recomputed from inventory on every evaluation and is
// never stored.
type RuleNotification struct {
	Key          string
	Type         NotificationType
	Severity     Severity
	Title        string
	Subtitle     string
	Icon         string
	SourceItemID string
	Timestamp    time.Time
}

// Ref returns the tagged reference used to dismiss this notification.
func (n RuleNotification) Ref() NotificationRef {
	kind := RefStock
	if n.Type == TypeListingReminder {
		kind = RefListing
	}
	return NotificationRef{Kind: kind, SourceID: n.SourceItemID}
}

type DismissalRecord struct {
	ID              uuid.UUID
	UserID          int64
	NotificationKey string
	Type            NotificationType
	Title           string
	Subtitle        string
	Icon            string
	Severity        Severity
	SourceItemID    string
	DismissedAt     time.Time
}

type EmailConnection struct {
	ID               uuid.UUID
	UserID           int64
	Email            string
	Host             string
	Port             int
	SecretCredential string
	IsActive         bool
	LastCheckAt      *time.Time
	LastError        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type EmailConnectionUpsertParams struct {
	UserID           int64
	Email            string
	Host             string
	Port             int
	SecretCredential string
	IsActive         bool
}

type TriggerPhrase struct {
	ID        uuid.UUID
	UserID    int64
	Phrase    string
	Label     string
	CreatedAt time.Time
}

type EmailNotification struct {
	ID            uuid.UUID
	UserID        int64
	ConnectionID  uuid.UUID
	TriggerID     uuid.UUID
	DedupKey      string
	TriggerPhrase string
	TriggerLabel  string
	Subject       string
	From          string
	Snippet       string
	EmailDate     time.Time
	DismissedAt   *time.Time
	CreatedAt     time.Time
}

type EmailNotificationCreateParams struct {
	UserID        int64
	ConnectionID  uuid.UUID
	TriggerID     uuid.UUID
	DedupKey      string
	TriggerPhrase string
	TriggerLabel  string
	Subject       string
	From          string
	Snippet       string
	EmailDate     time.Time
}

// emailNotificationNamespace scopes the deterministic ids handed out for
// email notifications.
var emailNotificationNamespace = uuid.MustParse("6f1d3c2e-8a7b-4c55-9e0f-3b2a1d4c5e6f")

// EmailNotificationID derives the stable id for a (user, dedup key) pair.
func EmailNotificationID(userID int64, dedupKey string) uuid.UUID {
	return uuid.NewSHA1(emailNotificationNamespace, []byte(formatUserScoped(userID, dedupKey)))
}

var triggerNamespace = uuid.MustParse("0c9e51a4-2f6d-4b7e-a3c1-5d8f7e6b4a29")

// TriggerPhraseID derives the stable id for a user's phrase. Phrases are
// compared case-insensitively, so callers pass the lowercased form.
func TriggerPhraseID(userID int64, lowerPhrase string) uuid.UUID {
	return uuid.NewSHA1(triggerNamespace, []byte(formatUserScoped(userID, lowerPhrase)))
}
