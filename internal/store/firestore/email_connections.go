package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

// Connections are keyed by user id, which makes the one-per-user rule a
// property of the document path.
type connectionDoc struct {
	ID               string     `firestore:"id"`
	UserID           int64      `firestore:"user_id"`
	Email            string     `firestore:"email"`
	Host             string     `firestore:"host"`
	Port             int        `firestore:"port"`
	SecretCredential string     `firestore:"secret_credential"`
	IsActive         bool       `firestore:"is_active"`
	LastCheckAt      *time.Time `firestore:"last_check_at"`
	LastError        *string    `firestore:"last_error"`
	CreatedAt        time.Time  `firestore:"created_at"`
	UpdatedAt        time.Time  `firestore:"updated_at"`
}

func (d connectionDoc) connection() (*models.EmailConnection, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid connection id %q: %w", d.ID, err)
	}
	return &models.EmailConnection{
		ID:               id,
		UserID:           d.UserID,
		Email:            d.Email,
		Host:             d.Host,
		Port:             d.Port,
		SecretCredential: d.SecretCredential,
		IsActive:         d.IsActive,
		LastCheckAt:      d.LastCheckAt,
		LastError:        d.LastError,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}

type EmailConnectionStore struct {
	client *firestore.Client
}

func NewEmailConnectionStore(client *firestore.Client) *EmailConnectionStore {
	return &EmailConnectionStore{client: client}
}

func (s *EmailConnectionStore) collection() *firestore.CollectionRef {
	return s.client.Collection(connectionCollection)
}

func (s *EmailConnectionStore) UpsertEmailConnection(ctx context.Context, params models.EmailConnectionUpsertParams) (*models.EmailConnection, error) {
	ref := s.collection().Doc(userDocID(params.UserID))
	now := time.Now().UTC()
	doc := connectionDoc{
		UserID:           params.UserID,
		Email:            strings.TrimSpace(params.Email),
		Host:             strings.TrimSpace(params.Host),
		Port:             params.Port,
		SecretCredential: params.SecretCredential,
		IsActive:         params.IsActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case isNotFound(err):
			doc.ID = uuid.New().String()
		case err != nil:
			return err
		default:
			var existing connectionDoc
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			doc.ID = existing.ID
			doc.CreatedAt = existing.CreatedAt
			if existing.Email == doc.Email && existing.Host == doc.Host {
				doc.LastCheckAt = existing.LastCheckAt
			}
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert email connection: %w", err)
	}
	return doc.connection()
}

func (s *EmailConnectionStore) GetEmailConnectionByUserID(ctx context.Context, userID int64) (*models.EmailConnection, error) {
	snap, err := s.collection().Doc(userDocID(userID)).Get(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	var d connectionDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return d.connection()
}

func (s *EmailConnectionStore) ListActiveEmailConnections(ctx context.Context) ([]models.EmailConnection, error) {
	iter := s.collection().Where("is_active", "==", true).Documents(ctx)
	defer iter.Stop()

	var conns []models.EmailConnection
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list active connections: %w", err)
		}
		var d connectionDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode connection %s: %w", doc.Ref.ID, err)
		}
		conn, err := d.connection()
		if err != nil {
			return nil, err
		}
		conns = append(conns, *conn)
	}
	return conns, nil
}

func (s *EmailConnectionStore) DeleteEmailConnection(ctx context.Context, userID int64) error {
	// Delete with an Exists precondition reports NotFound for a missing doc.
	_, err := s.collection().Doc(userDocID(userID)).Delete(ctx, firestore.Exists)
	return notFound(err)
}

func (s *EmailConnectionStore) MarkEmailConnectionChecked(ctx context.Context, id uuid.UUID, checkedAt time.Time) error {
	return s.update(ctx, id, func(d *connectionDoc) {
		if d.LastCheckAt == nil || checkedAt.After(*d.LastCheckAt) {
			t := checkedAt.UTC()
			d.LastCheckAt = &t
		}
		d.LastError = nil
	})
}

func (s *EmailConnectionStore) MarkEmailConnectionFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	msg := strings.TrimSpace(lastError)
	return s.update(ctx, id, func(d *connectionDoc) {
		d.LastError = &msg
	})
}

func (s *EmailConnectionStore) update(ctx context.Context, id uuid.UUID, mutate func(*connectionDoc)) error {
	query := s.collection().Where("id", "==", id.String()).Limit(1)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(query)
		defer iter.Stop()

		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var d connectionDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		mutate(&d)
		d.UpdatedAt = time.Now().UTC()
		return tx.Set(snap.Ref, d)
	})
}
