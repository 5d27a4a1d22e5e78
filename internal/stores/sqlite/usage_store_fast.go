package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver, registered as "sqlite3"
)

const usageFastSchema = `CREATE TABLE IF NOT EXISTS provider_usage (
	provider TEXT NOT NULL,
	date     TEXT NOT NULL,
	requests INTEGER NOT NULL DEFAULT 0,
	tokens   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (provider, date)
);`

// FastUsageStore implements stores.UsageStore over the CGO mattn/go-sqlite3
// driver instead of the pure-Go modernc.org/sqlite one database.DB wraps.
// ProviderRouter increments usage on every single LLM call, which makes
// UsageStore the one store in this repository that benefits from the
// faster CGO driver's lower per-statement overhead; it is kept behind the
// same narrow interface every other backend implements, so selecting it
// is a pure composition-root decision and never leaks into ProviderRouter.
type FastUsageStore struct {
	conn *sql.DB
}

// NewFastUsageStore opens (and migrates) its own SQLite connection at path
// using the mattn/go-sqlite3 driver.
func NewFastUsageStore(path string) (*FastUsageStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open fast usage store: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(usageFastSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate fast usage store: %w", err)
	}

	return &FastUsageStore{conn: conn}, nil
}

// Close releases the underlying connection.
func (s *FastUsageStore) Close() error {
	return s.conn.Close()
}

func (s *FastUsageStore) IncrementUsage(provider string, date time.Time, requests, tokens int64) error {
	_, err := s.conn.Exec(
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

func (s *FastUsageStore) GetUsage(provider string, date time.Time) (int64, int64, error) {
	var requests, tokens int64
	err := s.conn.QueryRow(
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
