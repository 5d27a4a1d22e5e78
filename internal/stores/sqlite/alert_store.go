package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/sentinel-core/internal/database"
	"github.com/aristath/sentinel-core/internal/stores"
)

// AlertStore implements stores.AlertStore over SQLite. It is the one
// mandatory AlertRouter backend; webhook and SMTP backends are best-effort
// and never gate on this store's success.
type AlertStore struct {
	db *database.DB
}

// NewAlertStore wraps an initialized, migrated database.DB.
func NewAlertStore(db *database.DB) *AlertStore {
	return &AlertStore{db: db}
}

func (s *AlertStore) PutAlert(a stores.Alert) error {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO alerts (id, type, message, severity, details, source, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Message, string(a.Severity), string(detailsJSON), a.Source, a.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put alert %s: %w", a.ID, err)
	}
	return nil
}
