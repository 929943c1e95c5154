// Package notification merges computed rule notifications and stored email
// notifications into the single list a user sees, and routes dismissals to
// whichever store backs each item.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/znz-systems/solebook/internal/metrics"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/rules"
	"github.com/znz-systems/solebook/internal/store"
)

const IconMail = "mail"

var ErrNotificationNotFound = errors.New("notification not found")

// Dismissals is the rule-notification ledger.
type Dismissals interface {
	Dismiss(ctx context.Context, userID int64, n models.RuleNotification) (*models.DismissalRecord, error)
	DismissAll(ctx context.Context, userID int64, candidates []models.RuleNotification) (int, error)
	History(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error)
	DismissedKeys(ctx context.Context, userID int64) (map[string]struct{}, error)
}

type Item struct {
	ID           string                  `json:"id"`
	Kind         models.RefKind          `json:"kind"`
	Type         models.NotificationType `json:"type"`
	Icon         string                  `json:"icon"`
	Title        string                  `json:"title"`
	Subtitle     string                  `json:"subtitle"`
	Snippet      string                  `json:"snippet,omitempty"`
	Severity     models.Severity         `json:"severity"`
	SourceItemID string                  `json:"sourceItemId"`
	Timestamp    time.Time               `json:"timestamp"`
}

type View struct {
	Items []Item `json:"items"`
	Count int    `json:"count"`
}

// DismissAllResult reports both halves of a dismiss-all separately. Either
// half can fail without undoing the other.
type DismissAllResult struct {
	RulesDismissed  int
	EmailsDismissed int
	RuleError       error
	EmailError      error
}

// Partial reports whether exactly one half failed.
func (r DismissAllResult) Partial() bool {
	return (r.RuleError == nil) != (r.EmailError == nil)
}

func (r DismissAllResult) Err() error {
	return errors.Join(r.RuleError, r.EmailError)
}

type Aggregator struct {
	inventory  store.InventoryReader
	dismissals Dismissals
	emails     store.EmailNotificationStore
	logger     *slog.Logger
	now        func() time.Time
}

func NewAggregator(inventory store.InventoryReader, dismissals Dismissals, emails store.EmailNotificationStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		inventory:  inventory,
		dismissals: dismissals,
		emails:     emails,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Active returns every undismissed notification for the user, high severity
// first and newest first within a severity.
func (a *Aggregator) Active(ctx context.Context, userID int64) (View, error) {
	ruleNotes, err := a.activeRules(ctx, userID)
	if err != nil {
		return View{}, err
	}
	emails, err := a.emails.ListUndismissedEmailNotifications(ctx, userID)
	if err != nil {
		return View{}, fmt.Errorf("failed to list email notifications: %w", err)
	}

	items := make([]Item, 0, len(ruleNotes)+len(emails))
	for _, n := range ruleNotes {
		items = append(items, ruleItem(n))
	}
	for _, e := range emails {
		items = append(items, emailItem(e))
	}
	sortItems(items)
	return View{Items: items, Count: len(items)}, nil
}

func (a *Aggregator) activeRules(ctx context.Context, userID int64) ([]models.RuleNotification, error) {
	inv, err := a.inventory.ListInventoryItemsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	dismissed, err := a.dismissals.DismissedKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rules.Evaluate(inv, dismissed, a.now()), nil
}

// Dismiss hides one notification. Rule references must match a notification
// the user's inventory currently produces.
func (a *Aggregator) Dismiss(ctx context.Context, userID int64, ref models.NotificationRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	if ref.IsRule() {
		if err := a.dismissRule(ctx, userID, ref); err != nil {
			return err
		}
	} else {
		id, err := uuid.Parse(ref.SourceID)
		if err != nil {
			return ErrNotificationNotFound
		}
		if err := a.emails.DismissEmailNotification(ctx, userID, id, a.now()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotificationNotFound
			}
			return fmt.Errorf("failed to dismiss email notification: %w", err)
		}
	}

	metrics.NotificationsDismissed.WithLabelValues(string(ref.Kind)).Inc()
	return nil
}

func (a *Aggregator) dismissRule(ctx context.Context, userID int64, ref models.NotificationRef) error {
	inv, err := a.inventory.ListInventoryItemsByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}
	for _, n := range rules.Candidates(inv, a.now()) {
		if n.Key == ref.RuleKey() {
			_, err := a.dismissals.Dismiss(ctx, userID, n)
			return err
		}
	}
	return ErrNotificationNotFound
}

// DismissAll dismisses every active notification in both stores. The two
// writes are independent: a failure in one is reported in the result and
// does not roll back the other.
func (a *Aggregator) DismissAll(ctx context.Context, userID int64) DismissAllResult {
	var res DismissAllResult

	ruleNotes, err := a.activeRules(ctx, userID)
	if err == nil {
		res.RulesDismissed, err = a.dismissals.DismissAll(ctx, userID, ruleNotes)
	}
	if err != nil {
		res.RuleError = err
		a.logger.Error("dismiss all: rule notifications failed", "user_id", userID, "error", err)
	}

	res.EmailsDismissed, err = a.emails.DismissAllEmailNotifications(ctx, userID, a.now())
	if err != nil {
		res.EmailError = fmt.Errorf("failed to dismiss email notifications: %w", err)
		a.logger.Error("dismiss all: email notifications failed", "user_id", userID, "error", err)
	}

	if res.RulesDismissed > 0 {
		metrics.NotificationsDismissed.WithLabelValues("rule").Add(float64(res.RulesDismissed))
	}
	if res.EmailsDismissed > 0 {
		metrics.NotificationsDismissed.WithLabelValues(string(models.RefEmail)).Add(float64(res.EmailsDismissed))
	}
	return res
}

func (a *Aggregator) History(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error) {
	return a.dismissals.History(ctx, userID, limit)
}

func ruleItem(n models.RuleNotification) Item {
	ref := n.Ref()
	return Item{
		ID:           ref.String(),
		Kind:         ref.Kind,
		Type:         n.Type,
		Icon:         n.Icon,
		Title:        n.Title,
		Subtitle:     n.Subtitle,
		Severity:     n.Severity,
		SourceItemID: n.SourceItemID,
		Timestamp:    n.Timestamp,
	}
}

func emailItem(e models.EmailNotification) Item {
	ref := models.NotificationRef{Kind: models.RefEmail, SourceID: e.ID.String()}
	title := e.Subject
	if title == "" {
		title = "(no subject)"
	}
	trigger := e.TriggerLabel
	if trigger == "" {
		trigger = e.TriggerPhrase
	}
	subtitle := trigger
	if e.From != "" {
		subtitle = trigger + " · " + e.From
	}
	return Item{
		ID:           ref.String(),
		Kind:         models.RefEmail,
		Type:         models.TypeEmailTrigger,
		Icon:         IconMail,
		Title:        title,
		Subtitle:     subtitle,
		Snippet:      e.Snippet,
		Severity:     models.SeverityMedium,
		SourceItemID: e.ID.String(),
		Timestamp:    e.EmailDate,
	}
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Severity.Rank(), items[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}
