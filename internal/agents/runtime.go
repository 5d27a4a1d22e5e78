// Package agents implements AgentRuntime: a fixed DAG of named agents run
// in barrier-joined phases, producing a deterministic, auditable
// CycleDecision from concurrently-gathered signals.
package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/providers"
	"github.com/aristath/sentinel-core/internal/stores"
)

// CycleContext is the input to a single runCycle invocation.
type CycleContext struct {
	Instrument  string
	Timestamp   time.Time
	CycleNumber int64
	MarketHours bool
	Mode        string
}

// State is the mutable, shared scratchpad threaded through every agent in
// a cycle. Agents append to Signals and may read prior phases' signals but
// never mutate another agent's entry.
type State struct {
	Cycle   CycleContext
	Signals []stores.AgentSignal

	mu sync.Mutex
}

// Append records one agent's signal under lock, in the order agents
// finish; RunCycle re-sorts the result with sortSignals before
// aggregation and persistence.
func (s *State) Append(sig stores.AgentSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Signals = append(s.Signals, sig)
}

// SignalsFor returns a snapshot of every signal recorded so far for the
// given phase, in recorded order.
func (s *State) SignalsFor(phase stores.Phase) []stores.AgentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stores.AgentSignal
	for _, sig := range s.Signals {
		if sig.Phase == phase {
			out = append(out, sig)
		}
	}
	return out
}

// Agent is the contract every node in the DAG implements: a (conceptually)
// pure function from shared state to the one signal it contributes.
type Agent interface {
	Name() string
	Phase() stores.Phase
	// ParallelGroup is an optional hint passed to ProviderRouter as the
	// preferred-provider seed for siblings in the same phase.
	ParallelGroup() string
	Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error)
}

// Deps are the capabilities an Agent may use. Agents with no LLM need may
// ignore Router entirely.
type Deps struct {
	Router *providers.Router
	Clock  *clock.Clock
}

// PhaseSpec is one barrier-joined stage: the ordered set of agents run
// concurrently within it, in the configured order for tie-breaking the
// final aggregation.
type PhaseSpec struct {
	Phase  stores.Phase
	Agents []Agent
}

// Runtime executes the fixed DAG: ANALYSIS -> DEBATE -> RISK -> PORTFOLIO
// -> EXECUTION.
type Runtime struct {
	log     zerolog.Logger
	deps    Deps
	phases  []PhaseSpec
	discStore stores.DecisionStore
	minConfidence float64

	// phaseRank and agentRank give each (phase, agent) pair its configured
	// position so signals gathered concurrently can be sorted back into a
	// deterministic order before aggregation and persistence, per the
	// phase-order-then-configured-agent-order rule.
	phaseRank map[stores.Phase]int
	agentRank map[stores.Phase]map[string]int
}

// New constructs a Runtime from an ordered phase list. discStore may be
// nil in tests that don't need discussion persistence.
func New(log zerolog.Logger, deps Deps, phases []PhaseSpec, discStore stores.DecisionStore, minConfidence float64) *Runtime {
	phaseRank := make(map[stores.Phase]int, len(phases))
	agentRank := make(map[stores.Phase]map[string]int, len(phases))
	for i, ps := range phases {
		phaseRank[ps.Phase] = i
		ranks := make(map[string]int, len(ps.Agents))
		for j, agent := range ps.Agents {
			ranks[agent.Name()] = j
		}
		agentRank[ps.Phase] = ranks
	}

	return &Runtime{
		log:           log.With().Str("component", "agent_runtime").Logger(),
		deps:          deps,
		phases:        phases,
		discStore:     discStore,
		minConfidence: minConfidence,
		phaseRank:     phaseRank,
		agentRank:     agentRank,
	}
}

// sortSignals orders sigs by phase order, then by the agent's configured
// index within that phase, so the result is identical across runs
// regardless of which goroutine happened to finish first.
func (r *Runtime) sortSignals(sigs []stores.AgentSignal) []stores.AgentSignal {
	out := append([]stores.AgentSignal(nil), sigs...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := r.phaseRank[out[i].Phase], r.phaseRank[out[j].Phase]
		if pi != pj {
			return pi < pj
		}
		return r.agentRank[out[i].Phase][out[i].AgentName] < r.agentRank[out[j].Phase][out[j].AgentName]
	})
	return out
}

// RunCycle executes every phase in order, barrier-joining agents within a
// phase, and aggregates the final signal deterministically.
func (r *Runtime) RunCycle(ctx context.Context, cc CycleContext) (stores.CycleDecision, error) {
	cycleID := uuid.NewString()
	state := &State{Cycle: cc}

	for _, ps := range r.phases {
		r.runPhase(ctx, ps, state, cycleID)
	}

	ordered := r.sortSignals(state.Signals)

	for _, sig := range ordered {
		sig.CycleID = cycleID
		if r.discStore != nil {
			if err := r.discStore.PutDiscussion(sig); err != nil {
				r.log.Warn().Err(err).Str("agent", sig.AgentName).Msg("failed to persist discussion")
			}
		}
	}

	decision := r.aggregate(cycleID, cc, ordered)
	return decision, nil
}

// runPhase executes every agent in ps concurrently and barrier-joins
// before returning, per the spec's phase-barrier synchronization rule.
func (r *Runtime) runPhase(ctx context.Context, ps PhaseSpec, state *State, cycleID string) {
	var wg sync.WaitGroup
	wg.Add(len(ps.Agents))

	for _, agent := range ps.Agents {
		agent := agent
		go func() {
			defer wg.Done()
			start := time.Now()

			sig, err := r.runAgentSafely(ctx, agent, state)
			sig.CycleID = cycleID
			sig.AgentName = agent.Name()
			sig.Phase = ps.Phase
			if sig.Timestamp.IsZero() {
				sig.Timestamp = r.deps.Clock.Now(ctx)
			}

			elapsed := time.Since(start)
			if err != nil {
				r.log.Warn().Err(err).Str("agent", agent.Name()).Dur("elapsed", elapsed).Msg("agent failed, recording HOLD")
			} else {
				r.log.Debug().Str("agent", agent.Name()).Dur("elapsed", elapsed).Str("signal", string(sig.Signal)).Msg("agent completed")
			}

			state.Append(sig)
		}()
	}

	wg.Wait()
}

// runAgentSafely isolates panics and errors from one agent so a single
// failing agent never aborts the cycle; it is recorded as a HOLD signal
// with confidence 0 per the specification.
func (r *Runtime) runAgentSafely(ctx context.Context, agent Agent, state *State) (sig stores.AgentSignal, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent panic: %v", p)
			sig = stores.AgentSignal{Signal: stores.SignalHold, Confidence: 0, Reasoning: err.Error()}
		}
	}()

	sig, err = agent.Process(ctx, r.deps, state)
	if err != nil {
		return stores.AgentSignal{Signal: stores.SignalHold, Confidence: 0, Reasoning: fmt.Sprintf("agent error: %v", err)}, err
	}
	return sig, nil
}

// signalsForPhase filters an already-ordered signal slice down to one
// phase, preserving its relative order.
func signalsForPhase(sigs []stores.AgentSignal, phase stores.Phase) []stores.AgentSignal {
	var out []stores.AgentSignal
	for _, sig := range sigs {
		if sig.Phase == phase {
			out = append(out, sig)
		}
	}
	return out
}

// aggregate produces the final CycleDecision from the EXECUTION phase's
// signal when present, falling back to the first PORTFOLIO-phase signal
// (HOLD when neither phase produced one). ordered is sortSignals' output, so identical inputs
// always yield an identical decision and AgentSignals[] round-trips in
// phase order then configured agent order within a phase.
func (r *Runtime) aggregate(cycleID string, cc CycleContext, ordered []stores.AgentSignal) stores.CycleDecision {
	decision := stores.CycleDecision{
		CycleID:      cycleID,
		Instrument:   cc.Instrument,
		Timestamp:    cc.Timestamp,
		Mode:         cc.Mode,
		AgentSignals: ordered,
	}

	if exec := signalsForPhase(ordered, stores.PhaseExecution); len(exec) > 0 {
		final := exec[0]
		decision.FinalSignal = final.Signal
		decision.Confidence = final.Confidence
		decision.Reasoning = final.Reasoning
		return decision
	}

	portfolio := signalsForPhase(ordered, stores.PhasePortfolio)
	if len(portfolio) == 0 {
		decision.FinalSignal = stores.SignalHold
		decision.Reasoning = "no portfolio or execution signal produced"
		return decision
	}

	decision.FinalSignal = portfolio[0].Signal
	decision.Confidence = portfolio[0].Confidence
	decision.Reasoning = portfolio[0].Reasoning
	return decision
}
