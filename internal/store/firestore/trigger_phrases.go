package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

type triggerDoc struct {
	UserID      int64     `firestore:"user_id"`
	Phrase      string    `firestore:"phrase"`
	PhraseLower string    `firestore:"phrase_lower"`
	Label       string    `firestore:"label"`
	CreatedAt   time.Time `firestore:"created_at"`
}

type TriggerPhraseStore struct {
	client *firestore.Client
}

func NewTriggerPhraseStore(client *firestore.Client) *TriggerPhraseStore {
	return &TriggerPhraseStore{client: client}
}

// CreateTriggerPhrase stores the phrase under an id derived from its
// lowercased form, so Create's existence check enforces case-insensitive
// uniqueness.
func (s *TriggerPhraseStore) CreateTriggerPhrase(ctx context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error) {
	phrase = strings.TrimSpace(phrase)
	lower := strings.ToLower(phrase)
	id := models.TriggerPhraseID(userID, lower)
	doc := triggerDoc{
		UserID:      userID,
		Phrase:      phrase,
		PhraseLower: lower,
		Label:       strings.TrimSpace(label),
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := s.client.Collection(triggerCollection).Doc(id.String()).Create(ctx, doc); err != nil {
		if isAlreadyExists(err) {
			return nil, store.ErrConflict
		}
		return nil, fmt.Errorf("failed to create trigger phrase: %w", err)
	}
	return &models.TriggerPhrase{ID: id, UserID: userID, Phrase: doc.Phrase, Label: doc.Label, CreatedAt: doc.CreatedAt}, nil
}

func (s *TriggerPhraseStore) ListTriggerPhrasesByUserID(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	iter := s.client.Collection(triggerCollection).Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	var phrases []models.TriggerPhrase
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list trigger phrases: %w", err)
		}
		var d triggerDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode trigger phrase %s: %w", doc.Ref.ID, err)
		}
		id, err := uuid.Parse(doc.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger phrase id %q: %w", doc.Ref.ID, err)
		}
		phrases = append(phrases, models.TriggerPhrase{
			ID: id, UserID: d.UserID, Phrase: d.Phrase, Label: d.Label, CreatedAt: d.CreatedAt,
		})
	}
	// avoids a composite index on (user_id, created_at)
	sort.SliceStable(phrases, func(i, j int) bool {
		return phrases[i].CreatedAt.Before(phrases[j].CreatedAt)
	})
	return phrases, nil
}

func (s *TriggerPhraseStore) DeleteTriggerPhrase(ctx context.Context, userID int64, id uuid.UUID) error {
	ref := s.client.Collection(triggerCollection).Doc(id.String())
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFound(err)
		}
		var d triggerDoc
		if err := snap.DataTo(&d); err != nil {
			return err
		}
		if d.UserID != userID {
			return store.ErrNotFound
		}
		return tx.Delete(ref)
	})
}
