package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-core/internal/database"
)

// UsageStore implements stores.UsageStore over SQLite. It is deliberately
// kept as its own narrow table (rather than reusing the general decision
// database) because ProviderRouter increments it on every LLM call — a
// write-heavy path that benefits from its own small, frequently-checkpointed
// file.
type UsageStore struct {
	db *database.DB
}

// NewUsageStore wraps an initialized, migrated database.DB.
func NewUsageStore(db *database.DB) *UsageStore {
	return &UsageStore{db: db}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *UsageStore) IncrementUsage(provider string, date time.Time, requests, tokens int64) error {
	_, err := s.db.Exec(
		`INSERT INTO provider_usage (provider, date, requests, tokens) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider, date) DO UPDATE SET
		   requests = requests + excluded.requests, tokens = tokens + excluded.tokens`,
		provider, dateKey(date), requests, tokens,
	)
	if err != nil {
		return fmt.Errorf("increment usage for %s/%s: %w", provider, dateKey(date), err)
	}
	return nil
}

func (s *UsageStore) GetUsage(provider string, date time.Time) (int64, int64, error) {
	var requests, tokens int64
	err := s.db.QueryRow(
		`SELECT requests, tokens FROM provider_usage WHERE provider = ? AND date = ?`,
		provider, dateKey(date),
	).Scan(&requests, &tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("get usage for %s/%s: %w", provider, dateKey(date), err)
	}
	return requests, tokens, nil
}
