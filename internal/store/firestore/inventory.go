package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/znz-systems/solebook/internal/models"
)

type inventoryDoc struct {
	UserID            int64      `firestore:"user_id"`
	Name              string     `firestore:"name"`
	Status            string     `firestore:"status"`
	BuyDate           *time.Time `firestore:"buy_date"`
	SellDate          *time.Time `firestore:"sell_date"`
	ListedOnPlatforms []string   `firestore:"listed_on_platforms"`
	SellPlatform      string     `firestore:"sell_platform"`
}

type InventoryStore struct {
	client *firestore.Client
}

func NewInventoryStore(client *firestore.Client) *InventoryStore {
	return &InventoryStore{client: client}
}

func (s *InventoryStore) ListInventoryItemsByUserID(ctx context.Context, userID int64) ([]models.InventoryItem, error) {
	iter := s.client.Collection(inventoryCollection).Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	var items []models.InventoryItem
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list inventory: %w", err)
		}

		var d inventoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to decode inventory item %s: %w", doc.Ref.ID, err)
		}
		items = append(items, models.InventoryItem{
			ID:                doc.Ref.ID,
			UserID:            d.UserID,
			Name:              d.Name,
			Status:            models.ItemStatus(d.Status),
			BuyDate:           d.BuyDate,
			SellDate:          d.SellDate,
			ListedOnPlatforms: d.ListedOnPlatforms,
			SellPlatform:      d.SellPlatform,
		})
	}
	return items, nil
}
