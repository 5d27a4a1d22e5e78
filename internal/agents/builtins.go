package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aristath/sentinel-core/internal/external"
	"github.com/aristath/sentinel-core/internal/providers"
	"github.com/aristath/sentinel-core/internal/stores"
)

// TechnicalAgent derives a signal directly from indicator math, with no
// LLM call — it belongs to the ANALYSIS phase.
type TechnicalAgent struct {
	indicators external.TechnicalIndicators
	timeframe  string
}

// NewTechnicalAgent constructs the ANALYSIS-phase technical agent.
func NewTechnicalAgent(indicators external.TechnicalIndicators, timeframe string) *TechnicalAgent {
	return &TechnicalAgent{indicators: indicators, timeframe: timeframe}
}

func (a *TechnicalAgent) Name() string             { return "technical" }
func (a *TechnicalAgent) Phase() stores.Phase       { return stores.PhaseAnalysis }
func (a *TechnicalAgent) ParallelGroup() string     { return "analysis" }

func (a *TechnicalAgent) Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error) {
	values, err := a.indicators.Compute(ctx, state.Cycle.Instrument, a.timeframe)
	if err != nil {
		return stores.AgentSignal{}, fmt.Errorf("compute indicators: %w", err)
	}

	signal, confidence, reasoning := classifyIndicators(values)

	indicatorsAny := make(map[string]interface{}, len(values))
	for k, v := range values {
		indicatorsAny[k] = v
	}

	return stores.AgentSignal{
		Signal:     signal,
		Confidence: confidence,
		Reasoning:  reasoning,
		Weight:     1,
		Indicators: indicatorsAny,
	}, nil
}

// classifyIndicators applies a simple momentum/oscillator heuristic: RSI
// extremes and a positive/negative MACD histogram vote for direction.
func classifyIndicators(values map[string]float64) (stores.Signal, float64, string) {
	score := 0.0
	var notes []string

	if rsi, ok := values["rsi"]; ok {
		switch {
		case rsi < 30:
			score += 1
			notes = append(notes, fmt.Sprintf("RSI %.1f oversold", rsi))
		case rsi > 70:
			score -= 1
			notes = append(notes, fmt.Sprintf("RSI %.1f overbought", rsi))
		}
	}
	if macd, ok := values["macd_hist"]; ok {
		if macd > 0 {
			score += 1
			notes = append(notes, "MACD histogram positive")
		} else if macd < 0 {
			score -= 1
			notes = append(notes, "MACD histogram negative")
		}
	}

	signal := stores.SignalHold
	confidence := 0.3
	switch {
	case score >= 1:
		signal = stores.SignalBuy
		confidence = 0.5 + 0.15*score
	case score <= -1:
		signal = stores.SignalSell
		confidence = 0.5 + 0.15*(-score)
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	if len(notes) == 0 {
		notes = append(notes, "no strong indicator signal")
	}
	return signal, confidence, strings.Join(notes, "; ")
}

// LLMAgent routes a prompt through ProviderRouter and parses a directional
// signal from the response text. It covers every agent in the DAG whose
// judgment is LLM-driven: fundamental, sentiment, macro, the two
// researchers, the three risk-posture agents, and portfolio_manager.
type LLMAgent struct {
	name          string
	phase         stores.Phase
	parallelGroup string
	buildPrompt   func(state *State) (system, user string)
	weight        float64
}

// NewLLMAgent constructs a generic LLM-backed agent.
func NewLLMAgent(name string, phase stores.Phase, parallelGroup string, weight float64, buildPrompt func(state *State) (system, user string)) *LLMAgent {
	return &LLMAgent{name: name, phase: phase, parallelGroup: parallelGroup, weight: weight, buildPrompt: buildPrompt}
}

func (a *LLMAgent) Name() string         { return a.name }
func (a *LLMAgent) Phase() stores.Phase   { return a.phase }
func (a *LLMAgent) ParallelGroup() string { return a.parallelGroup }

func (a *LLMAgent) Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error) {
	system, user := a.buildPrompt(state)

	overrides := providers.CallOverrides{}
	if a.parallelGroup != "" && deps.Router != nil {
		overrides.PreferredProvider = deps.Router.NextParallelGroupHint()
	}

	resp, err := deps.Router.Call(ctx, system, user, overrides)
	if err != nil {
		return stores.AgentSignal{}, fmt.Errorf("%s: llm call: %w", a.name, err)
	}

	signal, confidence := parseSignal(resp.Text)
	return stores.AgentSignal{
		Signal:     signal,
		Confidence: confidence,
		Weight:     a.weight,
		Reasoning:  resp.Text,
	}, nil
}

// parseSignal extracts a directional verdict from free-form LLM text. It
// looks for the first of BUY/SELL/HOLD as a case-insensitive whole word;
// absence defaults to HOLD with low confidence, matching the spec's
// requirement that agent failure modes never abort the cycle.
func parseSignal(text string) (stores.Signal, float64) {
	switch verdictPattern.FindString(strings.ToUpper(text)) {
	case "BUY":
		return stores.SignalBuy, 0.6
	case "SELL":
		return stores.SignalSell, 0.6
	default:
		return stores.SignalHold, 0.4
	}
}

var verdictPattern = regexp.MustCompile(`\b(BUY|SELL|HOLD)\b`)

// ExecutionAgent derives entry/stop/target levels from the latest tick and
// emits the final tradable signal for the cycle.
type ExecutionAgent struct {
	marketData external.MarketDataSource
	stopPct    float64
	targetPct  float64
}

// NewExecutionAgent constructs the EXECUTION-phase agent. stopPct/targetPct
// are fractional distances from entry price (e.g. 0.02 = 2%).
func NewExecutionAgent(marketData external.MarketDataSource, stopPct, targetPct float64) *ExecutionAgent {
	return &ExecutionAgent{marketData: marketData, stopPct: stopPct, targetPct: targetPct}
}

func (a *ExecutionAgent) Name() string         { return "execution" }
func (a *ExecutionAgent) Phase() stores.Phase   { return stores.PhaseExecution }
func (a *ExecutionAgent) ParallelGroup() string { return "" }

func (a *ExecutionAgent) Process(ctx context.Context, deps Deps, state *State) (stores.AgentSignal, error) {
	portfolio := state.SignalsFor(stores.PhasePortfolio)
	if len(portfolio) == 0 {
		return stores.AgentSignal{Signal: stores.SignalHold, Confidence: 0, Reasoning: "no portfolio decision to execute"}, nil
	}
	decision := portfolio[0]
	if decision.Signal == stores.SignalHold {
		return stores.AgentSignal{Signal: stores.SignalHold, Confidence: decision.Confidence, Reasoning: decision.Reasoning}, nil
	}

	tick, err := a.marketData.GetLatestTick(ctx, state.Cycle.Instrument)
	if err != nil {
		return stores.AgentSignal{}, fmt.Errorf("get latest tick: %w", err)
	}

	var stop, target float64
	if decision.Signal == stores.SignalBuy {
		stop = tick.Price * (1 - a.stopPct)
		target = tick.Price * (1 + a.targetPct)
	} else {
		stop = tick.Price * (1 + a.stopPct)
		target = tick.Price * (1 - a.targetPct)
	}

	return stores.AgentSignal{
		Signal:     decision.Signal,
		Confidence: decision.Confidence,
		Weight:     1,
		Reasoning:  fmt.Sprintf("entry=%.4f stop=%.4f target=%.4f (%s)", tick.Price, stop, target, decision.Reasoning),
		Indicators: map[string]interface{}{"entry_price": tick.Price, "stop_loss": stop, "take_profit": target},
	}, nil
}
