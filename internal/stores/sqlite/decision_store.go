package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/sentinel-core/internal/database"
	"github.com/aristath/sentinel-core/internal/stores"
)

// DecisionStore implements stores.DecisionStore over SQLite.
type DecisionStore struct {
	db *database.DB
}

// NewDecisionStore wraps an initialized, migrated database.DB.
func NewDecisionStore(db *database.DB) *DecisionStore {
	return &DecisionStore{db: db}
}

func (s *DecisionStore) PutDecision(d stores.CycleDecision) error {
	_, err := s.db.Exec(
		`INSERT INTO cycle_decisions (cycle_id, instrument, timestamp, final_signal, confidence, reasoning, mode)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(cycle_id) DO UPDATE SET
		   instrument = excluded.instrument, timestamp = excluded.timestamp,
		   final_signal = excluded.final_signal, confidence = excluded.confidence,
		   reasoning = excluded.reasoning, mode = excluded.mode`,
		d.CycleID, d.Instrument, d.Timestamp.UTC().Format(time.RFC3339Nano),
		string(d.FinalSignal), d.Confidence, d.Reasoning, d.Mode,
	)
	if err != nil {
		return fmt.Errorf("put decision %s: %w", d.CycleID, err)
	}

	for _, sig := range d.AgentSignals {
		if err := s.PutDiscussion(sig); err != nil {
			return fmt.Errorf("put decision %s discussion: %w", d.CycleID, err)
		}
	}
	return nil
}

func (s *DecisionStore) PutDiscussion(sig stores.AgentSignal) error {
	indicatorsJSON, err := json.Marshal(sig.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agent_signals (cycle_id, agent_name, phase, signal, confidence, weight, reasoning, indicators, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.CycleID, sig.AgentName, string(sig.Phase), string(sig.Signal),
		sig.Confidence, sig.Weight, sig.Reasoning, string(indicatorsJSON),
		sig.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put discussion for cycle %s agent %s: %w", sig.CycleID, sig.AgentName, err)
	}
	return nil
}

func (s *DecisionStore) ListDecisions(filter stores.DecisionFilter, limit int) ([]stores.CycleDecision, error) {
	query := `SELECT cycle_id, instrument, timestamp, final_signal, confidence, reasoning, mode FROM cycle_decisions WHERE 1=1`
	var args []interface{}

	if filter.Instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, filter.Instrument)
	}
	if filter.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, filter.Mode)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []stores.CycleDecision
	for rows.Next() {
		var d stores.CycleDecision
		var timestamp, finalSignal string
		if err := rows.Scan(&d.CycleID, &d.Instrument, &timestamp, &finalSignal, &d.Confidence, &d.Reasoning, &d.Mode); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.FinalSignal = stores.Signal(finalSignal)
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *DecisionStore) ListDiscussions(cycleID string) ([]stores.AgentSignal, error) {
	rows, err := s.db.Query(
		`SELECT cycle_id, agent_name, phase, signal, confidence, weight, reasoning, indicators, timestamp
		 FROM agent_signals WHERE cycle_id = ? ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list discussions for cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	var out []stores.AgentSignal
	for rows.Next() {
		var sig stores.AgentSignal
		var phase, signal, indicatorsJSON, timestamp string
		if err := rows.Scan(&sig.CycleID, &sig.AgentName, &phase, &signal, &sig.Confidence, &sig.Weight, &sig.Reasoning, &indicatorsJSON, &timestamp); err != nil {
			return nil, fmt.Errorf("scan discussion: %w", err)
		}
		sig.Phase = stores.Phase(phase)
		sig.Signal = stores.Signal(signal)
		sig.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		_ = json.Unmarshal([]byte(indicatorsJSON), &sig.Indicators)
		out = append(out, sig)
	}
	return out, rows.Err()
}
