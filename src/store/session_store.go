package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	cacheExpiry  = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// SessionStore persists finished analysis sessions as JSON payloads in
// sqlite, with an in-memory read-through cache for the dashboard's polling
// reads. Sessions are immutable once saved, so cached copies never go stale
// except through deletion, which evicts explicitly.
type SessionStore struct {
	db    *sql.DB
	cache *cache.Cache
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{
		db:    db,
		cache: cache.New(cacheExpiry, cacheCleanup),
	}
}

// Save writes the session payload. Re-saving the same id replaces the row,
// which only happens when a pipeline re-run reuses an id (it does not; ids
// are uuids).
func (s *SessionStore) Save(session *models.SessionData) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session %s: %w", session.ID, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (id, created_at, status, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload`,
		session.ID, session.CreatedAt.UTC(), session.Status, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to persist session %s: %w", session.ID, err)
	}

	s.cache.Set(session.ID, session, cache.DefaultExpiration)
	logger.L.Info("Session saved", "sessionId", session.ID, "transactions", len(session.Ledger))
	return nil
}

func (s *SessionStore) Get(id string) (*models.SessionData, error) {
	if cached, found := s.cache.Get(id); found {
		if session, ok := cached.(*models.SessionData); ok {
			return session, nil
		}
	}

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var session models.SessionData
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("failed to deserialize session %s: %w", id, err)
	}

	s.cache.Set(id, &session, cache.DefaultExpiration)
	return &session, nil
}

// Delete removes the session and reports whether a row actually existed.
// Deleting an unknown id is not an error.
func (s *SessionStore) Delete(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	s.cache.Delete(id)

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		logger.L.Info("Session deleted", "sessionId", id)
	}
	return affected > 0, nil
}
