package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
)

type TriggerPhraseStore struct {
	db *sql.DB
}

func NewTriggerPhraseStore(db *sql.DB) *TriggerPhraseStore {
	return &TriggerPhraseStore{db: db}
}

func (s *TriggerPhraseStore) CreateTriggerPhrase(ctx context.Context, userID int64, phrase, label string) (*models.TriggerPhrase, error) {
	phrase = strings.TrimSpace(phrase)
	t := &models.TriggerPhrase{
		ID:     models.TriggerPhraseID(userID, strings.ToLower(phrase)),
		UserID: userID,
		Phrase: phrase,
		Label:  strings.TrimSpace(label),
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO trigger_phrases (id, user_id, phrase, label)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		t.ID, t.UserID, t.Phrase, t.Label,
	).Scan(&t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return t, nil
}

func (s *TriggerPhraseStore) ListTriggerPhrasesByUserID(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, phrase, label, created_at
		 FROM trigger_phrases
		 WHERE user_id = $1
		 ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phrases := make([]models.TriggerPhrase, 0, 16)
	for rows.Next() {
		var t models.TriggerPhrase
		if err := rows.Scan(&t.ID, &t.UserID, &t.Phrase, &t.Label, &t.CreatedAt); err != nil {
			return nil, err
		}
		phrases = append(phrases, t)
	}
	return phrases, rows.Err()
}

func (s *TriggerPhraseStore) DeleteTriggerPhrase(ctx context.Context, userID int64, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_phrases WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
