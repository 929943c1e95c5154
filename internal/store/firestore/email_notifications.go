package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

type emailNotificationDoc struct {
	UserID        int64      `firestore:"user_id"`
	ConnectionID  string     `firestore:"connection_id"`
	TriggerID     string     `firestore:"trigger_id"`
	DedupKey      string     `firestore:"dedup_key"`
	TriggerPhrase string     `firestore:"trigger_phrase"`
	TriggerLabel  string     `firestore:"trigger_label"`
	Subject       string     `firestore:"subject"`
	From          string     `firestore:"from_address"`
	Snippet       string     `firestore:"snippet"`
	EmailDate     time.Time  `firestore:"email_date"`
	DismissedAt   *time.Time `firestore:"dismissed_at"`
	CreatedAt     time.Time  `firestore:"created_at"`
}

type EmailNotificationStore struct {
	client *firestore.Client
}

func NewEmailNotificationStore(client *firestore.Client) *EmailNotificationStore {
	return &EmailNotificationStore{client: client}
}

func (s *EmailNotificationStore) collection() *firestore.CollectionRef {
	return s.client.Collection(emailNotificationsCollection)
}

// CreateEmailNotification relies on the deterministic document id: a second
// Create for the same (user, dedup key) fails with AlreadyExists.
func (s *EmailNotificationStore) CreateEmailNotification(ctx context.Context, params models.EmailNotificationCreateParams) (bool, error) {
	id := models.EmailNotificationID(params.UserID, params.DedupKey)
	doc := emailNotificationDoc{
		UserID:        params.UserID,
		ConnectionID:  params.ConnectionID.String(),
		TriggerID:     params.TriggerID.String(),
		DedupKey:      params.DedupKey,
		TriggerPhrase: params.TriggerPhrase,
		TriggerLabel:  params.TriggerLabel,
		Subject:       params.Subject,
		From:          params.From,
		Snippet:       params.Snippet,
		EmailDate:     params.EmailDate.UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.collection().Doc(id.String()).Create(ctx, doc); err != nil {
		if isAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create email notification: %w", err)
	}
	return true, nil
}

func (s *EmailNotificationStore) ListUndismissedEmailNotifications(ctx context.Context, userID int64) ([]models.EmailNotification, error) {
	iter := s.collection().
		Where("user_id", "==", userID).
		Where("dismissed_at", "==", nil).
		OrderBy("email_date", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var notes []models.EmailNotification
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list email notifications: %w", err)
		}
		n, err := decodeEmailNotification(doc)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

func (s *EmailNotificationStore) DismissEmailNotification(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	ref := s.collection().Doc(id.String())
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFound(err)
		}
		var d emailNotificationDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if d.UserID != userID {
			return store.ErrNotFound
		}
		if d.DismissedAt != nil {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "dismissed_at", Value: at.UTC()}})
	})
}

func (s *EmailNotificationStore) DismissAllEmailNotifications(ctx context.Context, userID int64, at time.Time) (int, error) {
	iter := s.collection().
		Where("user_id", "==", userID).
		Where("dismissed_at", "==", nil).
		Documents(ctx)
	defer iter.Stop()

	bulkWriter := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bulkWriter.End()
			return 0, fmt.Errorf("failed to list email notifications: %w", err)
		}
		job, err := bulkWriter.Update(doc.Ref, []firestore.Update{{Path: "dismissed_at", Value: at.UTC()}})
		if err != nil {
			bulkWriter.End()
			return 0, fmt.Errorf("failed to queue dismissal: %w", err)
		}
		jobs = append(jobs, job)
	}
	bulkWriter.End()

	errs := make([]error, len(jobs))
	for i, job := range jobs {
		_, errs[i] = job.Results()
	}
	return tallyDismissals(errs)
}

// tallyDismissals counts the successful writes of a bulk dismissal. The
// count is returned alongside the error so a partial run is still reported.
func tallyDismissals(errs []error) (int, error) {
	dismissed := 0
	var firstErr error
	for _, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		dismissed++
	}
	if firstErr != nil {
		return dismissed, fmt.Errorf("failed to dismiss %d email notifications: %w", len(errs)-dismissed, firstErr)
	}
	return dismissed, nil
}

func decodeEmailNotification(doc *firestore.DocumentSnapshot) (models.EmailNotification, error) {
	var d emailNotificationDoc
	if err := doc.DataTo(&d); err != nil {
		return models.EmailNotification{}, fmt.Errorf("failed to decode email notification %s: %w", doc.Ref.ID, err)
	}
	id, err := uuid.Parse(doc.Ref.ID)
	if err != nil {
		return models.EmailNotification{}, fmt.Errorf("invalid email notification id %q: %w", doc.Ref.ID, err)
	}
	connID, _ := uuid.Parse(d.ConnectionID)
	triggerID, _ := uuid.Parse(d.TriggerID)
	return models.EmailNotification{
		ID:            id,
		UserID:        d.UserID,
		ConnectionID:  connID,
		TriggerID:     triggerID,
		DedupKey:      d.DedupKey,
		TriggerPhrase: d.TriggerPhrase,
		TriggerLabel:  d.TriggerLabel,
		Subject:       d.Subject,
		From:          d.From,
		Snippet:       d.Snippet,
		EmailDate:     d.EmailDate,
		DismissedAt:   d.DismissedAt,
		CreatedAt:     d.CreatedAt,
	}, nil
}
