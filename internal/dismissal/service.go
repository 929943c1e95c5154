package dismissal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var ErrEmptyKey = errors.New("notification key is required")

// Service is the dismissal ledger. A record is both the suppression flag for
// its rule notification and the history entry shown to the user.
type Service struct {
	store  store.DismissalStore
	logger *slog.Logger
	now    func() time.Time

	retryAttempts uint
	retryDelay    time.Duration
}

func NewService(s store.DismissalStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         s,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		retryAttempts: 3,
		retryDelay:    200 * time.Millisecond,
	}
}

func (s *Service) Dismiss(ctx context.Context, userID int64, n models.RuleNotification) (*models.DismissalRecord, error) {
	if n.Key == "" {
		return nil, ErrEmptyKey
	}
	rec, err := s.store.UpsertDismissal(ctx, record(userID, n, s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to dismiss %s: %w", n.Key, err)
	}
	return rec, nil
}

// DismissAll writes every candidate in one batch. The batch is retried as a
// unit; either every key lands or none does.
func (s *Service) DismissAll(ctx context.Context, userID int64, candidates []models.RuleNotification) (int, error) {
	at := s.now()
	seen := make(map[string]struct{}, len(candidates))
	recs := make([]models.DismissalRecord, 0, len(candidates))
	for _, n := range candidates {
		if n.Key == "" {
			continue
		}
		if _, dup := seen[n.Key]; dup {
			continue
		}
		seen[n.Key] = struct{}{}
		recs = append(recs, record(userID, n, at))
	}
	if len(recs) == 0 {
		return 0, nil
	}

	err := retry.Do(
		func() error {
			return s.store.UpsertDismissals(ctx, recs)
		},
		retry.Attempts(s.retryAttempts),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying dismissal batch", "user_id", userID, "keys", len(recs), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to dismiss %d notifications: %w", len(recs), err)
	}
	return len(recs), nil
}

// History returns the newest dismissals first. limit <= 0 selects the
// default; larger values are capped.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]models.DismissalRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	recs, err := s.store.ListDismissalsByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dismissal history: %w", err)
	}
	return recs, nil
}

func (s *Service) DismissedKeys(ctx context.Context, userID int64) (map[string]struct{}, error) {
	keys, err := s.store.ListDismissedKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dismissed keys: %w", err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

func record(userID int64, n models.RuleNotification, at time.Time) models.DismissalRecord {
	return models.DismissalRecord{
		UserID:          userID,
		NotificationKey: n.Key,
		Type:            n.Type,
		Title:           n.Title,
		Subtitle:        n.Subtitle,
		Icon:            n.Icon,
		Severity:        n.Severity,
		SourceItemID:    n.SourceItemID,
		DismissedAt:     at,
	}
}
