package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/znz-systems/solebook/internal/cache"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

const (
	MinPhraseLength = 2
	MaxPhraseLength = 100
	MaxLabelLength  = 100
)

var (
	ErrInvalidPhrase    = fmt.Errorf("trigger phrase must be %d to %d characters", MinPhraseLength, MaxPhraseLength)
	ErrLabelTooLong     = fmt.Errorf("trigger label must be at most %d characters", MaxLabelLength)
	ErrDuplicateTrigger = errors.New("trigger phrase already exists")
	ErrTriggerNotFound  = errors.New("trigger phrase not found")
)

// Service is the per-user trigger registry. List goes through an injected
// cache that every local mutation invalidates; the cache is per process, so
// callers that must see every phrase use ListFresh.
type Service struct {
	phrases store.TriggerPhraseStore
	cache   cache.Cache[int64, []models.TriggerPhrase]

	mu  sync.Mutex
	gen map[int64]uint64
}

func NewService(phrases store.TriggerPhraseStore, c cache.Cache[int64, []models.TriggerPhrase]) *Service {
	return &Service{phrases: phrases, cache: c, gen: make(map[int64]uint64)}
}

// List returns the user's phrases, possibly from cache.
func (s *Service) List(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	if s.cache == nil {
		return s.ListFresh(ctx, userID)
	}
	if cached, ok := s.cache.Get(userID); ok {
		return cached, nil
	}

	s.mu.Lock()
	gen := s.gen[userID]
	s.mu.Unlock()

	phrases, err := s.ListFresh(ctx, userID)
	if err != nil {
		return nil, err
	}

	// A mutation that landed during the read has already invalidated; do not
	// put the older list back.
	s.mu.Lock()
	if s.gen[userID] == gen {
		s.cache.Set(userID, phrases)
	}
	s.mu.Unlock()
	return phrases, nil
}

// ListFresh reads the user's phrases from the store, bypassing the cache.
func (s *Service) ListFresh(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	phrases, err := s.phrases.ListTriggerPhrasesByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list trigger phrases: %w", err)
	}
	return phrases, nil
}

func (s *Service) Add(ctx context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error) {
	phrase = strings.TrimSpace(phrase)
	if n := utf8.RuneCountInString(phrase); n < MinPhraseLength || n > MaxPhraseLength {
		return nil, ErrInvalidPhrase
	}
	label = strings.TrimSpace(label)
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return nil, ErrLabelTooLong
	}

	t, err := s.phrases.CreateTriggerPhrase(ctx, userID, phrase, label)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateTrigger
		}
		return nil, fmt.Errorf("create trigger phrase: %w", err)
	}
	s.invalidate(userID)
	return t, nil
}

// Remove deletes a phrase owned by userID. A phrase belonging to someone
// else is reported as not found.
func (s *Service) Remove(ctx context.Context, userID int64, triggerID uuid.UUID) error {
	if err := s.phrases.DeleteTriggerPhrase(ctx, userID, triggerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTriggerNotFound
		}
		return fmt.Errorf("delete trigger phrase: %w", err)
	}
	s.invalidate(userID)
	return nil
}

func (s *Service) invalidate(userID int64) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	s.gen[userID]++
	s.cache.Invalidate(userID)
	s.mu.Unlock()
}
