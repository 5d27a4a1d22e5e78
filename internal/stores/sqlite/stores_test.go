package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaltesting "github.com/aristath/sentinel-core/internal/testing"
	"github.com/aristath/sentinel-core/internal/stores"
)

func TestDecisionStore_PutAndListRoundTrip(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "decisions")
	defer cleanup()

	s := NewDecisionStore(db)
	ts := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)

	decision := stores.CycleDecision{
		CycleID:     "cycle-1",
		Instrument:  "AAPL",
		Timestamp:   ts,
		FinalSignal: stores.SignalBuy,
		Confidence:  0.78,
		Reasoning:   "consensus buy",
		Mode:        "SIM_OPEN",
		AgentSignals: []stores.AgentSignal{
			{CycleID: "cycle-1", AgentName: "technical", Phase: stores.PhaseAnalysis, Signal: stores.SignalBuy, Confidence: 0.8, Weight: 1, Timestamp: ts},
		},
	}

	require.NoError(t, s.PutDecision(decision))

	got, err := s.ListDecisions(stores.DecisionFilter{Instrument: "AAPL"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, decision.CycleID, got[0].CycleID)
	assert.Equal(t, stores.SignalBuy, got[0].FinalSignal)

	discussions, err := s.ListDiscussions("cycle-1")
	require.NoError(t, err)
	require.Len(t, discussions, 1)
	assert.Equal(t, "technical", discussions[0].AgentName)
}

func TestTradeStore_PositionLifecycle(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "trades")
	defer cleanup()

	s := NewTradeStore(db)
	stop := 98.0
	target := 105.0

	pos := stores.Position{
		PositionID:   "pos-1",
		Instrument:   "AAPL",
		Side:         stores.SignalBuy,
		Quantity:     10,
		EntryPrice:   100,
		CurrentPrice: 100,
		StopLoss:     &stop,
		TakeProfit:   &target,
		Status:       stores.PositionActive,
		EntryAt:      time.Now(),
	}
	require.NoError(t, s.PutPosition(pos))

	got, ok, err := s.GetPosition("pos-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stores.PositionActive, got.Status)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, 98.0, *got.StopLoss)

	exitPrice := 97.5
	exitAt := time.Now()
	got.Status = stores.PositionClosed
	got.ExitPrice = &exitPrice
	got.ExitAt = &exitAt
	got.CurrentPrice = exitPrice
	require.NoError(t, s.UpdatePosition(got))

	closed, ok, err := s.GetPosition("pos-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stores.PositionClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 97.5, *closed.ExitPrice)

	require.NoError(t, s.PutTrade(stores.Trade{
		TradeID:    "trade-1",
		PositionID: "pos-1",
		Instrument: "AAPL",
		Side:       stores.SignalBuy,
		Quantity:   10,
		EntryPrice: 100,
		ExitPrice:  97.5,
		RealizedPL: -25,
		OpenedAt:   pos.EntryAt,
		ClosedAt:   exitAt,
		Reason:     "STOP_LOSS",
	}))

	trades, err := s.ListTrades(stores.TradeFilter{Instrument: "AAPL"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, -25.0, trades[0].RealizedPL)
}

func TestUsageStore_IncrementAccumulates(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "usage")
	defer cleanup()

	s := NewUsageStore(db)
	date := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.IncrementUsage("groq", date, 1, 120))
	require.NoError(t, s.IncrementUsage("groq", date, 1, 80))

	requests, tokens, err := s.GetUsage("groq", date)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests)
	assert.Equal(t, int64(200), tokens)
}

func TestAlertStore_PutAlert(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "alerts")
	defer cleanup()

	s := NewAlertStore(db)
	require.NoError(t, s.PutAlert(stores.Alert{
		ID:        "alert-1",
		Type:      "PROVIDER_RATE_LIMITED",
		Message:   "groq rate limited",
		Severity:  stores.SeverityWarning,
		Source:    "provider_router",
		Timestamp: time.Now(),
	}))
}

func TestKVStore_SetGetDeleteRoundTrip(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "kv")
	defer cleanup()

	s := NewKVStore(db)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "virtual_time:enabled", "true", 0))
	v, ok, err := s.Get(ctx, "virtual_time:enabled")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", v)

	require.NoError(t, s.Delete(ctx, "virtual_time:enabled"))
	_, ok, err = s.Get(ctx, "virtual_time:enabled")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVStore_ExpiredKeyIsNotReturned(t *testing.T) {
	db, cleanup := internaltesting.NewTestDB(t, "kv")
	defer cleanup()

	s := NewKVStore(db)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short_lived", "value", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short_lived")
	require.NoError(t, err)
	assert.False(t, ok)
}
