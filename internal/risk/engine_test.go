package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/stores"
)

func testEngine(cfg Config) *Engine {
	clk := clock.New(zerolog.Nop(), nil)
	return New(zerolog.Nop(), clk, nil, cfg)
}

func TestAssessTradeRisk_SizesWithinLimits(t *testing.T) {
	e := testEngine(Config{
		MaxRiskPerTradePct: 0.01,
		MaxPositionSizePct: 0.5,
		MinRewardRatio:     1.5,
	})

	sig := TradeSignal{Instrument: "AAPL", Side: stores.SignalBuy, EntryPrice: 100, StopLoss: 95, TakeProfit: 115, Confidence: 0.7}
	portfolio := PortfolioSnapshot{TotalEquity: 100000, AvailableCash: 100000}

	metrics := e.AssessTradeRisk(sig, portfolio)

	assert.True(t, metrics.CanTrade)
	assert.Greater(t, metrics.PositionSize, 0.0)
	assert.InDelta(t, 3.0, metrics.RewardRatio, 0.01)
}

func TestAssessTradeRisk_EmergencyStopBlocksTrade(t *testing.T) {
	e := testEngine(Config{CircuitBreakerLossPct: 0.01})
	e.TripEmergencyStop()

	metrics := e.AssessTradeRisk(TradeSignal{EntryPrice: 100, StopLoss: 95}, PortfolioSnapshot{TotalEquity: 100000})

	assert.False(t, metrics.CanTrade)
	assert.Equal(t, LevelCritical, metrics.RiskLevel)
}

func TestAssessTradeRisk_DailyLossLimitBlocksTrade(t *testing.T) {
	e := testEngine(Config{MaxDailyLossPct: 0.02, MaxRiskPerTradePct: 0.01})
	e.UpdateOnTradeResult(-3000, 100000)

	metrics := e.AssessTradeRisk(TradeSignal{EntryPrice: 100, StopLoss: 95, TakeProfit: 110}, PortfolioSnapshot{TotalEquity: 100000, DailyPnL: -3000})

	assert.False(t, metrics.CanTrade)
	assert.Contains(t, metrics.Warnings, "daily loss limit reached")
}

func TestAssessTradeRisk_RewardRatioWarning(t *testing.T) {
	e := testEngine(Config{MaxRiskPerTradePct: 0.01, MinRewardRatio: 2})

	metrics := e.AssessTradeRisk(TradeSignal{EntryPrice: 100, StopLoss: 95, TakeProfit: 102, Confidence: 0.6}, PortfolioSnapshot{TotalEquity: 100000, AvailableCash: 100000})

	found := false
	for _, w := range metrics.Warnings {
		if w != "" && w == "reward ratio 0.40 below minimum 2.00" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestUpdateOnTradeResult_TripsCircuitBreaker(t *testing.T) {
	e := testEngine(Config{CircuitBreakerLossPct: 0.02})

	e.UpdateOnTradeResult(-3000, 100000)

	assert.True(t, e.IsEmergencyStopped())
}

func TestDailyReset_ClearsCountersAndDailyLossStop(t *testing.T) {
	e := testEngine(Config{CircuitBreakerLossPct: 0.01})
	e.UpdateOnTradeResult(-2000, 100000)
	assert.True(t, e.IsEmergencyStopped())

	e.DailyReset(2)

	assert.False(t, e.IsEmergencyStopped())
	assert.Equal(t, 0, e.consecutiveLosses)
}
