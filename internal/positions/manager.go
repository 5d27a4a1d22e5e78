// Package positions implements PositionManager: the single owner of
// portfolio state. It opens and closes positions, reconciles market-price
// updates against stop-loss/take-profit, and is the only component that
// mutates the book — RiskEngine only advises, it never touches the book
// itself.
package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/sentinel-core/internal/alerts"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/events"
	"github.com/aristath/sentinel-core/internal/risk"
	"github.com/aristath/sentinel-core/internal/stores"
)

// Config holds the manager's local guardrails, independent of (but checked
// alongside) whatever RiskEngine decides.
type Config struct {
	InitialCash      float64
	MaxOpenPositions int
	MaxRiskPerTradePct  float64
	MaxPortfolioRiskPct float64
}

// State is a point-in-time snapshot of the book, safe to hand out by value.
type State struct {
	TotalEquity       float64
	AvailableCash     float64
	OpenPositionCount int
	TotalRiskExposure float64
	TotalPnL          float64
	DailyPnL          float64
	ConsecutiveLosses int
	LastLossAt        time.Time
}

// Result is returned by ExecuteTradingDecision.
type Result struct {
	Action     string // "OPENED", "CLOSED", "HELD", "REJECTED"
	Position   *stores.Position
	Reason     string
}

// Manager is PositionManager. All mutation of portfolio state passes
// through its single mutex; the hot path (updateMarketPrices) is kept
// small per the specification's concurrency model.
type Manager struct {
	log     zerolog.Logger
	clock   *clock.Clock
	store   stores.TradeStore
	risk    *risk.Engine
	alerter *alerts.Router
	bus     *events.Bus
	cfg     Config

	mu                sync.Mutex
	availableCash     float64
	totalPnL          float64
	dailyPnL          float64
	consecutiveLosses int
	lastLossAt        time.Time
	active            map[string]stores.Position
}

// New constructs a Manager, loading any already-ACTIVE positions from
// store so a restart resumes with the same book.
func New(log zerolog.Logger, clk *clock.Clock, store stores.TradeStore, riskEngine *risk.Engine, alerter *alerts.Router, bus *events.Bus, cfg Config) (*Manager, error) {
	m := &Manager{
		log:           log.With().Str("component", "position_manager").Logger(),
		clock:         clk,
		store:         store,
		risk:          riskEngine,
		alerter:       alerter,
		bus:           bus,
		cfg:           cfg,
		availableCash: cfg.InitialCash,
		active:        make(map[string]stores.Position),
	}

	existing, err := store.ListPositions(stores.PositionActive)
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}
	for _, p := range existing {
		m.active[p.PositionID] = p
		m.availableCash -= p.EntryPrice * p.Quantity
	}

	return m, nil
}

// State returns a snapshot of the book.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	exposures := make([]float64, 0, len(m.active))
	equity := m.availableCash
	for _, p := range m.active {
		exposures = append(exposures, riskAmount(p))
		equity += p.Quantity * p.CurrentPrice
	}

	return State{
		TotalEquity:       equity,
		AvailableCash:     m.availableCash,
		OpenPositionCount: len(m.active),
		TotalRiskExposure: floats.Sum(exposures),
		TotalPnL:          m.totalPnL,
		DailyPnL:          m.dailyPnL,
		ConsecutiveLosses: m.consecutiveLosses,
		LastLossAt:        m.lastLossAt,
	}
}

// SetAvailableCash overwrites the book's cash balance directly. It exists
// for the operator setBalance surface in SIM_* modes; callers are
// responsible for rejecting the call in LIVE, where balance is owned by
// the broker, not this manager.
func (m *Manager) SetAvailableCash(cash float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availableCash = cash
}

// riskAmount estimates the capital at risk in an open position from its
// stop-loss distance, or its full notional when no stop is set.
func riskAmount(p stores.Position) float64 {
	if p.StopLoss == nil {
		return p.Quantity * p.EntryPrice
	}
	dist := p.EntryPrice - *p.StopLoss
	if dist < 0 {
		dist = -dist
	}
	return p.Quantity * dist
}

// Open implements the open() operation: when a RiskEngine is wired, it
// derives a TradeSignal, asks assessTradeRisk, rejects on canTrade=false,
// and adopts the risk-derived quantity; then applies the manager's own
// local guards before committing the position.
func (m *Manager) Open(ctx context.Context, instrument string, side stores.Signal, quantity, entryPrice float64, stopLoss, takeProfit *float64, tags []string) (*stores.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.stateLocked()

	if m.risk != nil && stopLoss != nil {
		sig := risk.TradeSignal{
			Instrument: instrument,
			Side:       side,
			EntryPrice: entryPrice,
			StopLoss:   *stopLoss,
			Confidence: 0.5,
		}
		if takeProfit != nil {
			sig.TakeProfit = *takeProfit
		}
		portfolioSnapshot := risk.PortfolioSnapshot{
			TotalEquity:       snapshot.TotalEquity,
			AvailableCash:     snapshot.AvailableCash,
			OpenPositionCount: snapshot.OpenPositionCount,
			TotalRiskExposure: snapshot.TotalRiskExposure,
			DailyPnL:          snapshot.DailyPnL,
			ConsecutiveLosses: snapshot.ConsecutiveLosses,
			LastLossAt:        snapshot.LastLossAt,
		}

		metrics := m.risk.AssessTradeRisk(sig, portfolioSnapshot)
		if !metrics.CanTrade {
			m.log.Info().Str("instrument", instrument).Strs("warnings", metrics.Warnings).Msg("risk engine rejected trade")
			if m.bus != nil {
				m.bus.Emit("positions", &events.RiskAssessmentRejectedData{Symbol: instrument, Reason: joinWarnings(metrics.Warnings)})
			}
			return nil, nil
		}
		if metrics.PositionSize > 0 {
			quantity = metrics.PositionSize
		}
	}

	if m.cfg.MaxOpenPositions > 0 && len(m.active) >= m.cfg.MaxOpenPositions {
		return nil, nil
	}
	if m.cfg.MaxRiskPerTradePct > 0 && snapshot.TotalEquity > 0 && stopLoss != nil {
		dist := entryPrice - *stopLoss
		if dist < 0 {
			dist = -dist
		}
		if quantity*dist > m.cfg.MaxRiskPerTradePct*snapshot.TotalEquity {
			return nil, nil
		}
	}
	if m.cfg.MaxPortfolioRiskPct > 0 && snapshot.TotalEquity > 0 {
		if snapshot.TotalRiskExposure >= m.cfg.MaxPortfolioRiskPct*snapshot.TotalEquity {
			return nil, nil
		}
	}

	cost := entryPrice * quantity
	if cost > m.availableCash {
		return nil, nil
	}

	p := stores.Position{
		PositionID:   uuid.NewString(),
		Instrument:   instrument,
		Side:         side,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		Status:       stores.PositionActive,
		EntryAt:      m.clock.Now(ctx),
		Tags:         tags,
	}

	if err := m.store.PutPosition(p); err != nil {
		return nil, fmt.Errorf("put position: %w", err)
	}

	m.availableCash -= cost
	m.active[p.PositionID] = p

	if m.bus != nil {
		m.bus.Emit("positions", &events.PositionOpenedData{
			PositionID: p.PositionID,
			Symbol:     p.Instrument,
			Side:       string(p.Side),
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
		})
	}

	return &p, nil
}

func joinWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	out := warnings[0]
	for _, w := range warnings[1:] {
		out += "; " + w
	}
	return out
}

// Close implements the close() operation: realizes P&L, updates the
// day-scoped counters, feeds the result back to RiskEngine, and persists a
// Trade record alongside the now-CLOSED position.
func (m *Manager) Close(ctx context.Context, positionID string, exitPrice float64, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx, positionID, exitPrice, reason)
}

func (m *Manager) closeLocked(ctx context.Context, positionID string, exitPrice float64, reason string) (bool, error) {
	p, ok := m.active[positionID]
	if !ok {
		return false, nil
	}

	realized := realizedPnL(p, exitPrice)

	now := m.clock.Now(ctx)
	p.Status = stores.PositionClosed
	p.CurrentPrice = exitPrice
	p.ExitPrice = &exitPrice
	p.ExitAt = &now

	if err := m.store.UpdatePosition(p); err != nil {
		return false, fmt.Errorf("update position: %w", err)
	}

	trade := stores.Trade{
		TradeID:    uuid.NewString(),
		PositionID: p.PositionID,
		Instrument: p.Instrument,
		Side:       p.Side,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		RealizedPL: realized,
		OpenedAt:   p.EntryAt,
		ClosedAt:   now,
		Reason:     reason,
	}
	if err := m.store.PutTrade(trade); err != nil {
		return false, fmt.Errorf("put trade: %w", err)
	}

	delete(m.active, positionID)
	m.availableCash += p.Quantity * exitPrice
	m.totalPnL += realized
	m.dailyPnL += realized
	if realized < 0 {
		m.consecutiveLosses++
		m.lastLossAt = now
	} else {
		m.consecutiveLosses = 0
	}

	if m.risk != nil {
		m.risk.UpdateOnTradeResult(realized, m.stateLocked().TotalEquity)
	}

	if m.bus != nil {
		m.bus.Emit("positions", &events.PositionClosedData{
			PositionID: p.PositionID,
			Symbol:     p.Instrument,
			ExitPrice:  exitPrice,
			RealizedPL: realized,
			Reason:     reason,
		})
	}
	if realized < 0 && m.alerter != nil && reason == "STOP_LOSS" {
		m.alerter.Route(alerts.Alert{
			Type:     "position_stopped_out",
			Severity: stores.SeverityWarning,
			Source:   "position_manager",
			Message:  fmt.Sprintf("%s stopped out at %.4f (%.2f realized)", p.Instrument, exitPrice, realized),
		})
	}

	return true, nil
}

func realizedPnL(p stores.Position, exitPrice float64) float64 {
	if p.Side == stores.SignalSell {
		return (p.EntryPrice - exitPrice) * p.Quantity
	}
	return (exitPrice - p.EntryPrice) * p.Quantity
}

// UpdateMarketPrices implements updateMarketPrices(): for every ACTIVE
// position on an instrument present in prices, sets currentPrice, then
// auto-closes positions whose price has violated stopLoss or takeProfit.
// Prices are processed in caller-provided order and auto-closes occur in
// the order their triggers are detected, per the ordering guarantee.
func (m *Manager) UpdateMarketPrices(ctx context.Context, instruments []string, prices map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, instrument := range instruments {
		price, ok := prices[instrument]
		if !ok {
			continue
		}
		for _, id := range ids {
			p, ok := m.active[id]
			if !ok || p.Instrument != instrument {
				continue
			}
			p.CurrentPrice = price
			m.active[id] = p

			reason := triggerReason(p, price)
			if reason != "" {
				if _, err := m.closeLocked(ctx, id, price, reason); err != nil {
					return err
				}
				continue
			}
			if err := m.store.UpdatePosition(p); err != nil {
				return fmt.Errorf("update position price: %w", err)
			}
		}
	}
	return nil
}

// triggerReason reports whether p's current price has crossed its
// stop-loss or take-profit, honoring the auto-close invariant: no ACTIVE
// position may persist past a step with a violated bound.
func triggerReason(p stores.Position, price float64) string {
	if p.StopLoss != nil {
		if p.Side == stores.SignalBuy && price <= *p.StopLoss {
			return "STOP_LOSS"
		}
		if p.Side == stores.SignalSell && price >= *p.StopLoss {
			return "STOP_LOSS"
		}
	}
	if p.TakeProfit != nil {
		if p.Side == stores.SignalBuy && price >= *p.TakeProfit {
			return "TAKE_PROFIT"
		}
		if p.Side == stores.SignalSell && price <= *p.TakeProfit {
			return "TAKE_PROFIT"
		}
	}
	return ""
}

// ExecuteTradingDecision is the high-level bridge Orchestrator calls:
// BUY/SELL map to Open with the supplied details; HOLD is a no-op.
func (m *Manager) ExecuteTradingDecision(ctx context.Context, instrument string, decision stores.Signal, confidence float64, details map[string]interface{}) (Result, error) {
	if decision == stores.SignalHold {
		return Result{Action: "HELD"}, nil
	}

	entryPrice, _ := details["entry_price"].(float64)
	quantity, hasQty := details["quantity"].(float64)
	if !hasQty || quantity <= 0 {
		quantity = 1
	}

	var stopLoss, takeProfit *float64
	if v, ok := details["stop_loss"].(float64); ok {
		stopLoss = &v
	}
	if v, ok := details["take_profit"].(float64); ok {
		takeProfit = &v
	}

	p, err := m.Open(ctx, instrument, decision, quantity, entryPrice, stopLoss, takeProfit, nil)
	if err != nil {
		return Result{}, err
	}
	if p == nil {
		return Result{Action: "REJECTED", Reason: "risk or capital guard declined trade"}, nil
	}
	return Result{Action: "OPENED", Position: p}, nil
}
