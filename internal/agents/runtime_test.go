package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/stores"
)

type staticAgent struct {
	name   string
	phase  stores.Phase
	signal stores.Signal
	conf   float64
	fail   bool
}

func (a *staticAgent) Name() string         { return a.name }
func (a *staticAgent) Phase() stores.Phase   { return a.phase }
func (a *staticAgent) ParallelGroup() string { return "" }

func (a *staticAgent) Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error) {
	if a.fail {
		return stores.AgentSignal{}, errors.New("boom")
	}
	return stores.AgentSignal{Signal: a.signal, Confidence: a.conf, Reasoning: "static"}, nil
}

// slowFirstAgent is the first-configured agent in its phase but finishes
// after its sibling, exercising that aggregation order follows
// configuration, not completion order.
type slowFirstAgent struct {
	staticAgent
	delay time.Duration
}

func (a *slowFirstAgent) Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error) {
	time.Sleep(a.delay)
	return a.staticAgent.Process(ctx, deps, state)
}

type recordingDecisionStore struct {
	discussions []stores.AgentSignal
}

func (r *recordingDecisionStore) PutDecision(d stores.CycleDecision) error { return nil }
func (r *recordingDecisionStore) PutDiscussion(s stores.AgentSignal) error {
	r.discussions = append(r.discussions, s)
	return nil
}
func (r *recordingDecisionStore) ListDecisions(filter stores.DecisionFilter, limit int) ([]stores.CycleDecision, error) {
	return nil, nil
}
func (r *recordingDecisionStore) ListDiscussions(cycleID string) ([]stores.AgentSignal, error) {
	return nil, nil
}

func TestRuntime_AggregatesExecutionPhaseSignal(t *testing.T) {
	clk := clock.New(zerolog.Nop(), nil)
	discStore := &recordingDecisionStore{}

	phases := []PhaseSpec{
		{Phase: stores.PhaseAnalysis, Agents: []Agent{&staticAgent{name: "technical", phase: stores.PhaseAnalysis, signal: stores.SignalBuy, conf: 0.7}}},
		{Phase: stores.PhaseExecution, Agents: []Agent{&staticAgent{name: "execution", phase: stores.PhaseExecution, signal: stores.SignalBuy, conf: 0.9}}},
	}

	rt := New(zerolog.Nop(), Deps{Clock: clk}, phases, discStore, 0.5)
	decision, err := rt.RunCycle(context.Background(), CycleContext{Instrument: "AAPL", Timestamp: time.Now(), Mode: "SIM_OPEN"})
	require.NoError(t, err)

	assert.Equal(t, stores.SignalBuy, decision.FinalSignal)
	assert.Equal(t, 0.9, decision.Confidence)
	require.Len(t, discStore.discussions, 2)
}

func TestRuntime_FailedAgentRecordsHoldAndContinues(t *testing.T) {
	clk := clock.New(zerolog.Nop(), nil)
	discStore := &recordingDecisionStore{}

	phases := []PhaseSpec{
		{Phase: stores.PhaseAnalysis, Agents: []Agent{
			&staticAgent{name: "technical", phase: stores.PhaseAnalysis, fail: true},
			&staticAgent{name: "fundamental", phase: stores.PhaseAnalysis, signal: stores.SignalSell, conf: 0.6},
		}},
	}

	rt := New(zerolog.Nop(), Deps{Clock: clk}, phases, discStore, 0.5)
	decision, err := rt.RunCycle(context.Background(), CycleContext{Instrument: "AAPL", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Len(t, decision.AgentSignals, 2)
	var sawHold bool
	for _, s := range decision.AgentSignals {
		if s.AgentName == "technical" {
			assert.Equal(t, stores.SignalHold, s.Signal)
			assert.Equal(t, 0.0, s.Confidence)
			sawHold = true
		}
	}
	assert.True(t, sawHold)
}

func TestRuntime_AggregatesSignalsInConfiguredOrderRegardlessOfCompletionOrder(t *testing.T) {
	clk := clock.New(zerolog.Nop(), nil)
	discStore := &recordingDecisionStore{}

	first := &slowFirstAgent{
		staticAgent: staticAgent{name: "technical", phase: stores.PhaseAnalysis, signal: stores.SignalBuy, conf: 0.7},
		delay:       20 * time.Millisecond,
	}
	second := &staticAgent{name: "fundamental", phase: stores.PhaseAnalysis, signal: stores.SignalSell, conf: 0.5}

	phases := []PhaseSpec{
		{Phase: stores.PhaseAnalysis, Agents: []Agent{first, second}},
	}

	rt := New(zerolog.Nop(), Deps{Clock: clk}, phases, discStore, 0.5)
	decision, err := rt.RunCycle(context.Background(), CycleContext{Instrument: "AAPL", Timestamp: time.Now()})
	require.NoError(t, err)

	require.Len(t, decision.AgentSignals, 2)
	assert.Equal(t, "technical", decision.AgentSignals[0].AgentName)
	assert.Equal(t, "fundamental", decision.AgentSignals[1].AgentName)
	require.Len(t, discStore.discussions, 2)
	assert.Equal(t, "technical", discStore.discussions[0].AgentName)
	assert.Equal(t, "fundamental", discStore.discussions[1].AgentName)
}

func TestRuntime_NoExecutionSignalFallsBackToPortfolio(t *testing.T) {
	clk := clock.New(zerolog.Nop(), nil)
	phases := []PhaseSpec{
		{Phase: stores.PhasePortfolio, Agents: []Agent{&staticAgent{name: "portfolio_manager", phase: stores.PhasePortfolio, signal: stores.SignalHold, conf: 0.4}}},
	}

	rt := New(zerolog.Nop(), Deps{Clock: clk}, phases, nil, 0.5)
	decision, err := rt.RunCycle(context.Background(), CycleContext{Instrument: "AAPL", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, stores.SignalHold, decision.FinalSignal)
}
