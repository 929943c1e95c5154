// Package rules derives reminder notifications from an inventory snapshot.
// Nothing here touches storage: the same snapshot and clock always yield the
// same notifications.
package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/znz-systems/solebook/internal/models"
)

const (
	StockReminderDays = 30
	StockHighDays     = 60

	IconStock   = "clock"
	IconListing = "tag"
)

const day = 24 * time.Hour

// Evaluate returns the active rule notifications for items, skipping any
// whose key is in dismissed. High severity sorts before medium; within a
// tier the inventory order is kept.
func Evaluate(items []models.InventoryItem, dismissed map[string]struct{}, now time.Time) []models.RuleNotification {
	all := Candidates(items, now)
	out := all[:0]
	for _, n := range all {
		if _, ok := dismissed[n.Key]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Candidates is Evaluate without the dismissal filter.
func Candidates(items []models.InventoryItem, now time.Time) []models.RuleNotification {
	var out []models.RuleNotification
	for _, item := range items {
		switch item.Status {
		case models.ItemInStock:
			if n, ok := stockReminder(item, now); ok {
				out = append(out, n)
			}
		case models.ItemSold:
			if n, ok := listingReminder(item, now); ok {
				out = append(out, n)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

// DaysInStock is the number of whole days between buyDate and now.
func DaysInStock(buyDate, now time.Time) int {
	return int(now.Sub(buyDate) / day)
}

func stockReminder(item models.InventoryItem, now time.Time) (models.RuleNotification, bool) {
	if item.BuyDate == nil {
		return models.RuleNotification{}, false
	}
	days := DaysInStock(*item.BuyDate, now)
	if days < StockReminderDays {
		return models.RuleNotification{}, false
	}

	severity := models.SeverityMedium
	if days >= StockHighDays {
		severity = models.SeverityHigh
	}
	return models.RuleNotification{
		Key:          models.RuleKey(models.RefStock, item.ID),
		Type:         models.TypeStockReminder,
		Severity:     severity,
		Title:        fmt.Sprintf("%s has been in stock for %d days", displayName(item), days),
		Subtitle:     "Consider repricing or listing it on more platforms",
		Icon:         IconStock,
		SourceItemID: item.ID,
		Timestamp:    *item.BuyDate,
	}, true
}

func listingReminder(item models.InventoryItem, now time.Time) (models.RuleNotification, bool) {
	remaining := RemainingPlatforms(item.ListedOnPlatforms, item.SellPlatform)
	if len(remaining) == 0 {
		return models.RuleNotification{}, false
	}

	ts := now
	if item.SellDate != nil {
		ts = *item.SellDate
	}
	return models.RuleNotification{
		Key:          models.RuleKey(models.RefListing, item.ID),
		Type:         models.TypeListingReminder,
		Severity:     models.SeverityHigh,
		Title:        fmt.Sprintf("Remove %s from your other listings", displayName(item)),
		Subtitle:     strings.Join(remaining, ", "),
		Icon:         IconListing,
		SourceItemID: item.ID,
		Timestamp:    ts,
	}, true
}

// RemainingPlatforms returns listed minus sold, compared case-insensitively.
// Names are trimmed, blanks dropped and duplicates collapsed onto their
// first spelling.
func RemainingPlatforms(listed []string, sold string) []string {
	soldKey := strings.ToLower(strings.TrimSpace(sold))
	seen := make(map[string]struct{}, len(listed))
	var out []string
	for _, p := range listed {
		name := strings.TrimSpace(p)
		key := strings.ToLower(name)
		if name == "" || key == soldKey {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

func displayName(item models.InventoryItem) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	return "Item " + item.ID
}
