package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/znz-systems/solebook/internal/models"
)

// InventoryStore reads the inventory table owned by the CRUD side of the
// application.
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

func (s *InventoryStore) ListInventoryItemsByUserID(ctx context.Context, userID int64) ([]models.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, status, buy_date, sell_date, listed_on_platforms, COALESCE(sell_platform, '')
		 FROM inventory_items
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.InventoryItem, 0, 64)
	for rows.Next() {
		var (
			item   models.InventoryItem
			status string
		)
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.Name, &status, &item.BuyDate, &item.SellDate,
			pq.Array(&item.ListedOnPlatforms), &item.SellPlatform,
		); err != nil {
			return nil, err
		}
		item.Status = models.ItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}
