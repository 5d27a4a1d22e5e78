package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/agents"
	"github.com/aristath/sentinel-core/internal/calendar"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/modecontrol"
	"github.com/aristath/sentinel-core/internal/stores"
)

type memModeConfigStore struct {
	cfg modecontrol.Config
}

func (s *memModeConfigStore) LoadModeConfig(context.Context) (modecontrol.Config, error) {
	return s.cfg, nil
}

func (s *memModeConfigStore) SaveModeConfig(_ context.Context, cfg modecontrol.Config) error {
	s.cfg = cfg
	return nil
}

type memDecisionStore struct {
	decisions []stores.CycleDecision
}

func (s *memDecisionStore) PutDecision(d stores.CycleDecision) error {
	s.decisions = append(s.decisions, d)
	return nil
}
func (s *memDecisionStore) PutDiscussion(stores.AgentSignal) error { return nil }
func (s *memDecisionStore) ListDecisions(stores.DecisionFilter, int) ([]stores.CycleDecision, error) {
	return s.decisions, nil
}
func (s *memDecisionStore) ListDiscussions(string) ([]stores.AgentSignal, error) { return nil, nil }

// stubAgent always emits a fixed signal in a fixed phase.
type stubAgent struct {
	name   string
	phase  stores.Phase
	signal stores.Signal
	conf   float64
	ind    map[string]interface{}
}

func (a *stubAgent) Name() string               { return a.name }
func (a *stubAgent) Phase() stores.Phase         { return a.phase }
func (a *stubAgent) ParallelGroup() string       { return "" }
func (a *stubAgent) Process(ctx context.Context, deps agents.Deps, state *agents.State) (stores.AgentSignal, error) {
	return stores.AgentSignal{Signal: a.signal, Confidence: a.conf, Indicators: a.ind}, nil
}

func newTestOrchestrator(t *testing.T, finalSignal stores.Signal, confidence float64) (*Orchestrator, *memDecisionStore) {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.New(log, nil)
	require.NoError(t, clk.SetVirtual(context.Background(), time.Date(2026, 7, 31, 15, 0, 0, 0, time.UTC)))

	cal := calendar.New(calendar.AlwaysOpenSchedule())
	cfgStore := &memModeConfigStore{}
	decStore := &memDecisionStore{}

	storesByMode := map[modecontrol.Mode]modecontrol.StoreSet{
		modecontrol.SimClosed: {Decisions: decStore},
	}
	mode, err := modecontrol.New(log, clk, cal, cfgStore, storesByMode, modecontrol.SimClosed)
	require.NoError(t, err)

	exec := &stubAgent{
		name:   "execution",
		phase:  stores.PhaseExecution,
		signal: finalSignal,
		conf:   confidence,
		ind: map[string]interface{}{
			"entry_price": 100.0,
			"quantity":    1.0,
			"stop_loss":   95.0,
			"take_profit": 115.0,
		},
	}
	rt := agents.New(log, agents.Deps{Clock: clk}, []agents.PhaseSpec{
		{Phase: stores.PhaseExecution, Agents: []agents.Agent{exec}},
	}, nil, 0)

	orch, err := New(log, clk, mode, rt, nil, Config{
		Instrument:    "AAPL",
		CycleCron:     "*/15 * * * *",
		MinConfidence: 0.6,
		PollInterval:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	return orch, decStore
}

func TestNew_RejectsInvalidCron(t *testing.T) {
	log := zerolog.Nop()
	clk := clock.New(log, nil)
	cal := calendar.New(calendar.AlwaysOpenSchedule())
	cfgStore := &memModeConfigStore{}
	mode, err := modecontrol.New(log, clk, cal, cfgStore, map[modecontrol.Mode]modecontrol.StoreSet{}, modecontrol.SimClosed)
	require.NoError(t, err)
	rt := agents.New(log, agents.Deps{Clock: clk}, nil, nil, 0)

	_, err = New(log, clk, mode, rt, nil, Config{CycleCron: "not a cron expression"})
	assert.Error(t, err)
}

func TestRunCycleGated_PersistsDecisionOnBuySignal(t *testing.T) {
	orch, decStore := newTestOrchestrator(t, stores.SignalBuy, 0.9)

	gated, err := orch.RunCycleGated(context.Background())
	require.NoError(t, err)
	assert.False(t, gated)

	require.Len(t, decStore.decisions, 1)
	assert.Equal(t, stores.SignalBuy, decStore.decisions[0].FinalSignal)
	assert.Equal(t, "AAPL", decStore.decisions[0].Instrument)
}

func TestRunCycleGated_SkipsWhenMarketClosed(t *testing.T) {
	orch, decStore := newTestOrchestrator(t, stores.SignalHold, 0.1)

	// Replace the always-open mode controller with one built on an empty
	// calendar.Schedule (no open days), so it stays in SIM_CLOSED, and make
	// sure ForceMarketOpen does not override the gate.
	orch.cfg.ForceMarketOpen = false
	orch.mode = closedModeController(t, orch.clock)

	gated, err := orch.RunCycleGated(context.Background())
	require.NoError(t, err)
	assert.True(t, gated)
	assert.Empty(t, decStore.decisions)
}

func closedModeController(t *testing.T, clk *clock.Clock) *modecontrol.Controller {
	t.Helper()
	log := zerolog.Nop()
	cal := calendar.New(calendar.Schedule{})
	cfgStore := &memModeConfigStore{}
	decStore := &memDecisionStore{}
	mode, err := modecontrol.New(log, clk, cal, cfgStore, map[modecontrol.Mode]modecontrol.StoreSet{
		modecontrol.SimClosed: {Decisions: decStore},
	}, modecontrol.SimClosed)
	require.NoError(t, err)
	return mode
}

func TestRunOnce_PersistsDecisionBelowMinConfidence(t *testing.T) {
	orch, decStore := newTestOrchestrator(t, stores.SignalBuy, 0.1)

	gated, err := orch.RunCycleGated(context.Background())
	require.NoError(t, err)
	assert.False(t, gated)
	require.Len(t, decStore.decisions, 1)
	// low confidence: the decision is still persisted. The positions
	// manager is nil in this fixture and runOnce skips execution when it
	// is nil, so whether the confidence gate itself held is not observed.
}
