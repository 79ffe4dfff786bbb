package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

func init() {
	logger.InitLogger("error")
}

func testStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL
	)`)
	require.NoError(t, err)
	return NewSessionStore(db)
}

func sampleSession(id string) *models.SessionData {
	return &models.SessionData{
		ID:        id,
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:    models.SessionReady,
		Ledger: []models.Transaction{{
			ID: "tx1", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Asset: "BTC", Kind: models.KindBuy, Amount: decimal.NewFromInt(1),
		}},
		Summary: models.Summary{RealizedGainEUR: decimal.NewFromInt(2000)},
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(sampleSession("s1")))

	got, err := s.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, models.SessionReady, got.Status)
	require.Len(t, got.Ledger, 1)
	assert.Equal(t, "BTC", got.Ledger[0].Asset)
	assert.True(t, got.Summary.RealizedGainEUR.Equal(decimal.NewFromInt(2000)))
}

func TestGetUnknownSession(t *testing.T) {
	s := testStore(t)
	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestGetServesFromCacheAfterFirstLoad(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(sampleSession("s1")))

	first, err := s.Get("s1")
	require.NoError(t, err)
	second, err := s.Get("s1")
	require.NoError(t, err)
	assert.Same(t, first, second, "second read comes from the cache")
}

func TestDeleteReportsExistence(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Save(sampleSession("s1")))

	deleted, err := s.Delete("s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get("s1")
	assert.True(t, errors.Is(err, ErrSessionNotFound), "cache entry evicted with the row")

	deleted, err = s.Delete("s1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")
}
