// Package risk implements RiskEngine: position sizing, per-trade and
// portfolio-level gating, and the daily circuit breaker.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/alerts"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/stores"
)

// Config holds RiskEngine's tunable limits, all expressed as percentages
// of totalEquity unless noted.
type Config struct {
	MaxRiskPerTradePct      float64
	MaxPortfolioRiskPct     float64
	MaxDailyLossPct         float64
	MaxConsecutiveLosses    int
	MinRewardRatio          float64
	MaxPositionSizePct      float64
	MarginRequirementPct    float64
	MaxOpenPositions        int
	CooldownAfterLossMinutes int
	CircuitBreakerLossPct   float64
	DailyResetHour          int
}

// TradeSignal is the proposed trade RiskEngine evaluates.
type TradeSignal struct {
	Instrument string
	Side       stores.Signal
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
}

// Level classifies a trade's overall risk after sizing.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Metrics is the result of AssessTradeRisk.
type Metrics struct {
	CanTrade     bool
	PositionSize float64
	RiskAmount   float64
	RiskPct      float64
	RewardRatio  float64
	RiskLevel    Level
	Warnings     []string
}

// PortfolioSnapshot is the subset of PositionManager state RiskEngine needs
// to evaluate a proposed trade. The engine never mutates it.
type PortfolioSnapshot struct {
	TotalEquity       float64
	AvailableCash     float64
	OpenPositionCount int
	TotalRiskExposure float64
	DailyPnL          float64
	ConsecutiveLosses int
	LastLossAt        time.Time
}

// Engine is RiskEngine. It owns day-scoped counters (dailyPnL,
// consecutiveLosses, emergencyStop) independent of PortfolioSnapshot, which
// PositionManager supplies fresh on every call.
type Engine struct {
	log     zerolog.Logger
	clock   *clock.Clock
	alerter *alerts.Router
	cfg     Config

	mu                     sync.Mutex
	dailyPnL               float64
	consecutiveLosses      int
	lastLossAt             time.Time
	emergencyStop          bool
	emergencyFromDailyLoss bool
	lastResetDay           int
}

// New constructs an Engine.
func New(log zerolog.Logger, clk *clock.Clock, alerter *alerts.Router, cfg Config) *Engine {
	return &Engine{
		log:     log.With().Str("component", "risk_engine").Logger(),
		clock:   clk,
		alerter: alerter,
		cfg:     cfg,
	}
}

// AssessTradeRisk runs the six-step sizing/gating algorithm described in the
// specification: emergency short-circuit, portfolio-level gates, position
// sizing, reward-ratio check, risk-level classification, and final metrics
// assembly.
func (e *Engine) AssessTradeRisk(sig TradeSignal, portfolio PortfolioSnapshot) Metrics {
	e.mu.Lock()
	emergency := e.emergencyStop
	dailyPnL := e.dailyPnL
	consecutiveLosses := e.consecutiveLosses
	lastLossAt := e.lastLossAt
	e.mu.Unlock()

	if emergency {
		return Metrics{CanTrade: false, RiskLevel: LevelCritical, Warnings: []string{"emergency stop"}}
	}

	var warnings []string
	canTrade := true

	if e.cfg.MaxDailyLossPct > 0 && portfolio.TotalEquity > 0 {
		if math.Abs(dailyPnL) >= e.cfg.MaxDailyLossPct*portfolio.TotalEquity {
			warnings = append(warnings, "daily loss limit reached")
			canTrade = false
		}
	}
	if e.cfg.MaxConsecutiveLosses > 0 && consecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		warnings = append(warnings, "consecutive loss limit reached")
		canTrade = false
	}
	if e.cfg.CooldownAfterLossMinutes > 0 && !lastLossAt.IsZero() {
		cooldownUntil := lastLossAt.Add(time.Duration(e.cfg.CooldownAfterLossMinutes) * time.Minute)
		if e.clock.Now(context.Background()).Before(cooldownUntil) {
			warnings = append(warnings, "cooldown after loss active")
			canTrade = false
		}
	}
	if e.cfg.MaxOpenPositions > 0 && portfolio.OpenPositionCount >= e.cfg.MaxOpenPositions {
		warnings = append(warnings, "max open positions reached")
		canTrade = false
	}
	if e.cfg.MaxPortfolioRiskPct > 0 && portfolio.TotalEquity > 0 {
		if portfolio.TotalRiskExposure >= e.cfg.MaxPortfolioRiskPct*portfolio.TotalEquity {
			warnings = append(warnings, "aggregate portfolio risk limit reached")
			canTrade = false
		}
	}

	stopDistance := math.Abs(sig.EntryPrice - sig.StopLoss)
	if stopDistance <= 0 || sig.EntryPrice <= 0 {
		warnings = append(warnings, "invalid entry/stop distance")
		return Metrics{CanTrade: false, RiskLevel: LevelCritical, Warnings: warnings}
	}

	maxRiskAmount := portfolio.TotalEquity * e.cfg.MaxRiskPerTradePct
	rawPositionValue := maxRiskAmount / (stopDistance / sig.EntryPrice)

	positionValue := rawPositionValue
	if e.cfg.MaxPositionSizePct > 0 {
		cap := e.cfg.MaxPositionSizePct * portfolio.TotalEquity
		if positionValue > cap {
			positionValue = cap
		}
	}
	if e.cfg.MarginRequirementPct > 0 && e.cfg.MarginRequirementPct <= 1 {
		availableByMargin := portfolio.AvailableCash / e.cfg.MarginRequirementPct
		if positionValue > availableByMargin {
			positionValue = availableByMargin
		}
	} else if positionValue > portfolio.AvailableCash {
		positionValue = portfolio.AvailableCash
	}

	quantity := math.Floor(positionValue / sig.EntryPrice)
	if quantity < 1 && positionValue > 0 {
		quantity = 1
	}
	riskAmount := quantity * stopDistance
	riskPct := 0.0
	if portfolio.TotalEquity > 0 {
		riskPct = riskAmount / portfolio.TotalEquity
	}

	rewardDistance := math.Abs(sig.TakeProfit - sig.EntryPrice)
	rewardRatio := 0.0
	if stopDistance > 0 {
		rewardRatio = rewardDistance / stopDistance
	}
	if e.cfg.MinRewardRatio > 0 && rewardRatio < e.cfg.MinRewardRatio {
		warnings = append(warnings, fmt.Sprintf("reward ratio %.2f below minimum %.2f", rewardRatio, e.cfg.MinRewardRatio))
	}

	riskLevel := classifyRiskLevel(riskPct, rewardRatio, sig.Confidence)
	if riskLevel == LevelCritical {
		canTrade = false
		warnings = append(warnings, "risk level classified CRITICAL")
	}

	if quantity < 1 {
		canTrade = false
		warnings = append(warnings, "insufficient capital for minimum position size")
	}

	return Metrics{
		CanTrade:     canTrade,
		PositionSize: quantity,
		RiskAmount:   riskAmount,
		RiskPct:      riskPct,
		RewardRatio:  rewardRatio,
		RiskLevel:    riskLevel,
		Warnings:     warnings,
	}
}

// classifyRiskLevel buckets a trade into LOW/MEDIUM/HIGH/CRITICAL from a
// simple additive score over risk percentage, reward ratio, and an
// estimated win probability derived from the agents' confidence.
func classifyRiskLevel(riskPct, rewardRatio, confidence float64) Level {
	score := 0.0

	switch {
	case riskPct >= 0.05:
		score += 3
	case riskPct >= 0.02:
		score += 2
	case riskPct >= 0.01:
		score += 1
	}

	switch {
	case rewardRatio < 1:
		score += 2
	case rewardRatio < 1.5:
		score += 1
	}

	winProbability := confidence
	switch {
	case winProbability < 0.4:
		score += 2
	case winProbability < 0.55:
		score += 1
	}

	switch {
	case score >= 5:
		return LevelCritical
	case score >= 3:
		return LevelHigh
	case score >= 1:
		return LevelMedium
	default:
		return LevelLow
	}
}

// UpdateOnTradeResult feeds a realized trade's P&L back into the engine's
// day-scoped counters. PositionManager calls this on every close; the
// engine never reaches into PositionManager state itself.
func (e *Engine) UpdateOnTradeResult(realizedPnL float64, totalEquity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dailyPnL += realizedPnL
	if realizedPnL < 0 {
		e.consecutiveLosses++
		e.lastLossAt = e.clock.Now(context.Background())
	} else {
		e.consecutiveLosses = 0
	}

	if e.cfg.CircuitBreakerLossPct > 0 && totalEquity > 0 {
		if math.Abs(e.dailyPnL) >= e.cfg.CircuitBreakerLossPct*totalEquity && !e.emergencyStop {
			e.emergencyStop = true
			e.emergencyFromDailyLoss = true
			e.log.Warn().Float64("daily_pnl", e.dailyPnL).Msg("circuit breaker tripped")
			if e.alerter != nil {
				e.alerter.Route(alerts.Alert{
					Type:     "circuit_breaker",
					Severity: stores.SeverityCritical,
					Source:   "risk_engine",
					Message:  fmt.Sprintf("circuit breaker tripped: daily PnL %.2f exceeds limit", e.dailyPnL),
				})
			}
		}
	}
}

// DailyReset zeros the day-scoped counters and, if the emergency stop was
// triggered by the daily loss limit (not a manual or other override),
// clears it. Callers should invoke this once at cfg.DailyResetHour each day.
func (e *Engine) DailyReset(day int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResetDay == day {
		return
	}
	e.lastResetDay = day
	e.dailyPnL = 0
	e.consecutiveLosses = 0
	if e.emergencyFromDailyLoss {
		e.emergencyStop = false
		e.emergencyFromDailyLoss = false
	}
}

// TripEmergencyStop sets the emergency stop manually (e.g. an operator
// kill-switch), independent of the daily-loss circuit breaker.
func (e *Engine) TripEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = true
}

// ClearEmergencyStop lifts an emergency stop regardless of its cause.
func (e *Engine) ClearEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergencyStop = false
	e.emergencyFromDailyLoss = false
}

// IsEmergencyStopped reports whether the engine currently blocks all
// trading.
func (e *Engine) IsEmergencyStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyStop
}
