package firestore

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/znz-systems/solebook/internal/models"
)

func TestScopedDocIDEscapesSlashes(t *testing.T) {
	assert.Equal(t, "42_stock-A", scopedDocID(42, "stock-A"))
	assert.Equal(t, "42_stock-a%2Fb", scopedDocID(42, "stock-a/b"))
	assert.NotEqual(t, scopedDocID(1, "stock-A"), scopedDocID(2, "stock-A"))
}

func TestDismissalDocRoundTrip(t *testing.T) {
	rec := models.DismissalRecord{
		ID:              uuid.New(),
		UserID:          7,
		NotificationKey: "listing-B",
		Type:            models.TypeListingReminder,
		Title:           "Delist Jordan 1",
		Subtitle:        "Vinted",
		Icon:            "tag",
		Severity:        models.SeverityHigh,
		SourceItemID:    "B",
		DismissedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	got, err := newDismissalDoc(rec).record()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDismissalDocRejectsBadID(t *testing.T) {
	_, err := dismissalDoc{ID: "not-a-uuid"}.record()
	assert.Error(t, err)
}

func TestConnectionDocConversion(t *testing.T) {
	id := uuid.New()
	conn, err := connectionDoc{ID: id.String(), UserID: 3, Host: "imap.example.com", Port: 993, IsActive: true}.connection()
	require.NoError(t, err)
	assert.Equal(t, id, conn.ID)
	assert.Nil(t, conn.LastCheckAt)
	assert.Equal(t, 993, conn.Port)
}

func TestChunkSplitsAtLimit(t *testing.T) {
	items := make([]int, 1201)
	parts := chunk(items, maxTransactionWrites)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 500)
	assert.Len(t, parts[1], 500)
	assert.Len(t, parts[2], 201)

	assert.Empty(t, chunk([]int{}, maxTransactionWrites))
	assert.Len(t, chunk(make([]int, 500), maxTransactionWrites), 1)
}

func TestTallyDismissalsCountsPartialFailure(t *testing.T) {
	boom := errors.New("deadline exceeded")

	n, err := tallyDismissals([]error{nil, boom, nil, errors.New("aborted")})
	assert.Equal(t, 2, n)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to dismiss 2 email notifications")

	n, err = tallyDismissals([]error{nil, nil})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
