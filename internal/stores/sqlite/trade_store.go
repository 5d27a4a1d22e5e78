package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/sentinel-core/internal/database"
	"github.com/aristath/sentinel-core/internal/stores"
)

// TradeStore implements stores.TradeStore over SQLite.
type TradeStore struct {
	db *database.DB
}

// NewTradeStore wraps an initialized, migrated database.DB.
func NewTradeStore(db *database.DB) *TradeStore {
	return &TradeStore{db: db}
}

func (s *TradeStore) PutTrade(tr stores.Trade) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (trade_id, position_id, instrument, side, quantity, entry_price, exit_price, realized_pl, opened_at, closed_at, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TradeID, tr.PositionID, tr.Instrument, string(tr.Side), tr.Quantity,
		tr.EntryPrice, tr.ExitPrice, tr.RealizedPL,
		tr.OpenedAt.UTC().Format(time.RFC3339Nano), tr.ClosedAt.UTC().Format(time.RFC3339Nano), tr.Reason,
	)
	if err != nil {
		return fmt.Errorf("put trade %s: %w", tr.TradeID, err)
	}
	return nil
}

func (s *TradeStore) ListTrades(filter stores.TradeFilter) ([]stores.Trade, error) {
	query := `SELECT trade_id, position_id, instrument, side, quantity, entry_price, exit_price, realized_pl, opened_at, closed_at, reason FROM trades WHERE 1=1`
	var args []interface{}

	if filter.Instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, filter.Instrument)
	}
	if !filter.Since.IsZero() {
		query += ` AND closed_at >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += ` AND closed_at <= ?`
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY closed_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []stores.Trade
	for rows.Next() {
		var tr stores.Trade
		var side, openedAt, closedAt string
		if err := rows.Scan(&tr.TradeID, &tr.PositionID, &tr.Instrument, &side, &tr.Quantity, &tr.EntryPrice, &tr.ExitPrice, &tr.RealizedPL, &openedAt, &closedAt, &tr.Reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Side = stores.Signal(side)
		tr.OpenedAt, _ = time.Parse(time.RFC3339Nano, openedAt)
		tr.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *TradeStore) PutPosition(p stores.Position) error {
	return s.upsertPosition(p, true)
}

func (s *TradeStore) UpdatePosition(p stores.Position) error {
	return s.upsertPosition(p, false)
}

func (s *TradeStore) upsertPosition(p stores.Position, isNew bool) error {
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var exitAt, exitPrice interface{}
	if p.ExitAt != nil {
		exitAt = p.ExitAt.UTC().Format(time.RFC3339Nano)
	}
	if p.ExitPrice != nil {
		exitPrice = *p.ExitPrice
	}
	var stopLoss, takeProfit interface{}
	if p.StopLoss != nil {
		stopLoss = *p.StopLoss
	}
	if p.TakeProfit != nil {
		takeProfit = *p.TakeProfit
	}

	if isNew {
		_, err = s.db.Exec(
			`INSERT INTO positions (position_id, instrument, side, quantity, entry_price, current_price, stop_loss, take_profit, status, entry_at, exit_at, exit_price, commission, tags)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PositionID, p.Instrument, string(p.Side), p.Quantity, p.EntryPrice, p.CurrentPrice,
			stopLoss, takeProfit, string(p.Status), p.EntryAt.UTC().Format(time.RFC3339Nano),
			exitAt, exitPrice, p.Commission, string(tagsJSON),
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE positions SET current_price = ?, status = ?, exit_at = ?, exit_price = ?, commission = ?, tags = ?
			 WHERE position_id = ?`,
			p.CurrentPrice, string(p.Status), exitAt, exitPrice, p.Commission, string(tagsJSON), p.PositionID,
		)
	}
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.PositionID, err)
	}
	return nil
}

func (s *TradeStore) ListPositions(status stores.PositionStatus) ([]stores.Position, error) {
	query := `SELECT position_id, instrument, side, quantity, entry_price, current_price, stop_loss, take_profit, status, entry_at, exit_at, exit_price, commission, tags FROM positions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []stores.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *TradeStore) GetPosition(positionID string) (stores.Position, bool, error) {
	row := s.db.QueryRow(
		`SELECT position_id, instrument, side, quantity, entry_price, current_price, stop_loss, take_profit, status, entry_at, exit_at, exit_price, commission, tags
		 FROM positions WHERE position_id = ?`, positionID)

	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return stores.Position{}, false, nil
	}
	if err != nil {
		return stores.Position{}, false, fmt.Errorf("get position %s: %w", positionID, err)
	}
	return p, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (stores.Position, error) {
	var p stores.Position
	var side, status, entryAt, tagsJSON string
	var stopLoss, takeProfit, exitPrice sql.NullFloat64
	var exitAt sql.NullString

	if err := row.Scan(&p.PositionID, &p.Instrument, &side, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
		&stopLoss, &takeProfit, &status, &entryAt, &exitAt, &exitPrice, &p.Commission, &tagsJSON); err != nil {
		return stores.Position{}, err
	}

	p.Side = stores.Signal(side)
	p.Status = stores.PositionStatus(status)
	p.EntryAt, _ = time.Parse(time.RFC3339Nano, entryAt)
	if stopLoss.Valid {
		v := stopLoss.Float64
		p.StopLoss = &v
	}
	if takeProfit.Valid {
		v := takeProfit.Float64
		p.TakeProfit = &v
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		p.ExitPrice = &v
	}
	if exitAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, exitAt.String)
		if err == nil {
			p.ExitAt = &t
		}
	}
	_ = json.Unmarshal([]byte(tagsJSON), &p.Tags)

	return p, nil
}
