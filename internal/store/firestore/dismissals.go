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
)

type dismissalDoc struct {
	ID              string    `firestore:"id"`
	UserID          int64     `firestore:"user_id"`
	NotificationKey string    `firestore:"notification_key"`
	Type            string    `firestore:"type"`
	Title           string    `firestore:"title"`
	Subtitle        string    `firestore:"subtitle"`
	Icon            string    `firestore:"icon"`
	Severity        string    `firestore:"severity"`
	SourceItemID    string    `firestore:"source_item_id"`
	DismissedAt     time.Time `firestore:"dismissed_at"`
}

func newDismissalDoc(rec models.DismissalRecord) dismissalDoc {
	return dismissalDoc{
		ID:              rec.ID.String(),
		UserID:          rec.UserID,
		NotificationKey: rec.NotificationKey,
		Type:            string(rec.Type),
		Title:           rec.Title,
		Subtitle:        rec.Subtitle,
		Icon:            rec.Icon,
		Severity:        string(rec.Severity),
		SourceItemID:    rec.SourceItemID,
		DismissedAt:     rec.DismissedAt,
	}
}

func (d dismissalDoc) record() (models.DismissalRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return models.DismissalRecord{}, fmt.Errorf("invalid dismissal id %q: %w", d.ID, err)
	}
	return models.DismissalRecord{
		ID:              id,
		UserID:          d.UserID,
		NotificationKey: d.NotificationKey,
		Type:            models.NotificationType(d.Type),
		Title:           d.Title,
		Subtitle:        d.Subtitle,
		Icon:            d.Icon,
		Severity:        models.Severity(d.Severity),
		SourceItemID:    d.SourceItemID,
		DismissedAt:     d.DismissedAt,
	}, nil
}

type DismissalStore struct {
	client *firestore.Client
}

func NewDismissalStore(client *firestore.Client) *DismissalStore {
	return &DismissalStore{client: client}
}

func (s *DismissalStore) ref(userID int64, key string) *firestore.DocumentRef {
	return s.client.Collection(dismissalCollection).Doc(scopedDocID(userID, key))
}

func (s *DismissalStore) UpsertDismissal(ctx context.Context, rec models.DismissalRecord) (*models.DismissalRecord, error) {
	if err := s.UpsertDismissals(ctx, []models.DismissalRecord{rec}); err != nil {
		return nil, err
	}
	snap, err := s.ref(rec.UserID, rec.NotificationKey).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read dismissal: %w", err)
	}
	var d dismissalDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	out, err := d.record()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// maxTransactionWrites is Firestore's per-transaction write limit.
const maxTransactionWrites = 500

// UpsertDismissals commits the batch in transactions of at most
// maxTransactionWrites documents. Each chunk is atomic; the batch as a whole
// is not, but every write is idempotent so the caller can retry it. Existing
// documents keep their id.
func (s *DismissalStore) UpsertDismissals(ctx context.Context, recs []models.DismissalRecord) error {
	for _, part := range chunk(recs, maxTransactionWrites) {
		if err := s.upsertChunk(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (s *DismissalStore) upsertChunk(ctx context.Context, recs []models.DismissalRecord) error {
	refs := make([]*firestore.DocumentRef, len(recs))
	for i, rec := range recs {
		refs[i] = s.ref(rec.UserID, rec.NotificationKey)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, rec := range recs {
			if snaps[i].Exists() {
				var existing dismissalDoc
				if err := snaps[i].DataTo(&existing); err == nil {
					if id, err := uuid.Parse(existing.ID); err == nil {
						rec.ID = id
					}
				}
			}
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			if err := tx.Set(refs[i], newDismissalDoc(rec)); err != nil {
				return err
			}
		}
		return nil
	})
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func (s *DismissalStore) ListDismissalsByUserID(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error) {
	iter := s.client.Collection(dismissalCollection).
		Where("user_id", "==", userID).
		OrderBy("dismissed_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var records []models.DismissalRecord
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list dismissals: %w", err)
		}
		var d dismissalDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode dismissal %s: %w", doc.Ref.ID, err)
		}
		rec, err := d.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *DismissalStore) ListDismissedKeys(ctx context.Context, userID int64) ([]string, error) {
	iter := s.client.Collection(dismissalCollection).
		Where("user_id", "==", userID).
		Select("notification_key").
		Documents(ctx)
	defer iter.Stop()

	var keys []string
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list dismissed keys: %w", err)
		}
		key, err := doc.DataAt("notification_key")
		if err != nil {
			return nil, err
		}
		if k, ok := key.(string); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
