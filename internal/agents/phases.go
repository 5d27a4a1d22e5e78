package agents

import (
	"context"

	"github.com/aristath/sentinel-core/internal/external"
	"github.com/aristath/sentinel-core/internal/stores"
)

// DefaultPhases builds the fixed DAG described for this system:
// ANALYSIS(technical, fundamental, sentiment, macro) ->
// DEBATE(bull_researcher, bear_researcher) ->
// RISK(aggressive, conservative, neutral) -> PORTFOLIO(portfolio_manager)
// -> EXECUTION(execution).
func DefaultPhases(indicators external.TechnicalIndicators, news external.NewsFeed, marketData external.MarketDataSource, timeframe string) []PhaseSpec {
	return []PhaseSpec{
		{
			Phase: stores.PhaseAnalysis,
			Agents: []Agent{
				NewTechnicalAgent(indicators, timeframe),
				NewLLMAgent("fundamental", stores.PhaseAnalysis, "analysis", 1, fundamentalPrompt),
				NewLLMAgent("sentiment", stores.PhaseAnalysis, "analysis", 1, sentimentPrompt(news)),
				NewLLMAgent("macro", stores.PhaseAnalysis, "analysis", 1, macroPrompt),
			},
		},
		{
			Phase: stores.PhaseDebate,
			Agents: []Agent{
				NewLLMAgent("bull_researcher", stores.PhaseDebate, "debate", 1, bullPrompt),
				NewLLMAgent("bear_researcher", stores.PhaseDebate, "debate", 1, bearPrompt),
			},
		},
		{
			Phase: stores.PhaseRisk,
			Agents: []Agent{
				NewLLMAgent("aggressive", stores.PhaseRisk, "risk", 1, riskPosturePrompt("aggressive")),
				NewLLMAgent("conservative", stores.PhaseRisk, "risk", 1, riskPosturePrompt("conservative")),
				NewLLMAgent("neutral", stores.PhaseRisk, "risk", 1, riskPosturePrompt("neutral")),
			},
		},
		{
			Phase:  stores.PhasePortfolio,
			Agents: []Agent{NewLLMAgent("portfolio_manager", stores.PhasePortfolio, "", 1, portfolioPrompt)},
		},
		{
			Phase:  stores.PhaseExecution,
			Agents: []Agent{NewExecutionAgent(marketData, 0.02, 0.04)},
		},
	}
}

func fundamentalPrompt(state *State) (string, string) {
	return "You are a fundamental equity analyst. Respond with a single verdict BUY, SELL, or HOLD followed by a short rationale.",
		"Instrument: " + state.Cycle.Instrument + ". Assess fundamentals and give your verdict."
}

func macroPrompt(state *State) (string, string) {
	return "You are a macroeconomic strategist. Respond with BUY, SELL, or HOLD based on prevailing macro conditions.",
		"Instrument: " + state.Cycle.Instrument + ". Assess macro tailwinds/headwinds and give your verdict."
}

func sentimentPrompt(news external.NewsFeed) func(state *State) (string, string) {
	return func(state *State) (string, string) {
		system := "You are a news sentiment analyst. Respond with BUY, SELL, or HOLD based on recent coverage tone."
		user := "Instrument: " + state.Cycle.Instrument + ". Summarize sentiment and give your verdict."
		if items, err := news.LatestNews(context.Background(), state.Cycle.Instrument, 5); err == nil && len(items) > 0 {
			user += "\nRecent headlines:\n"
			for _, item := range items {
				user += "- " + item.Headline + "\n"
			}
		}
		return system, user
	}
}

func bullPrompt(state *State) (string, string) {
	analysis := state.SignalsFor(stores.PhaseAnalysis)
	return "You are the bull researcher. Argue the strongest long case given the analysts' findings, ending with BUY, SELL, or HOLD.",
		summarizePriorPhase("Analysis", analysis, state.Cycle.Instrument)
}

func bearPrompt(state *State) (string, string) {
	analysis := state.SignalsFor(stores.PhaseAnalysis)
	return "You are the bear researcher. Argue the strongest short/avoid case given the analysts' findings, ending with BUY, SELL, or HOLD.",
		summarizePriorPhase("Analysis", analysis, state.Cycle.Instrument)
}

func riskPosturePrompt(posture string) func(state *State) (string, string) {
	return func(state *State) (string, string) {
		debate := state.SignalsFor(stores.PhaseDebate)
		system := "You are a " + posture + " risk committee member. Weigh the debate and respond with BUY, SELL, or HOLD."
		return system, summarizePriorPhase("Debate", debate, state.Cycle.Instrument)
	}
}

func portfolioPrompt(state *State) (string, string) {
	risk := state.SignalsFor(stores.PhaseRisk)
	system := "You are the portfolio manager. Reconcile the risk committee's votes into one final BUY, SELL, or HOLD decision for the whole portfolio."
	return system, summarizePriorPhase("Risk committee", risk, state.Cycle.Instrument)
}

func summarizePriorPhase(label string, signals []stores.AgentSignal, instrument string) string {
	out := "Instrument: " + instrument + ". " + label + " votes:\n"
	for _, s := range signals {
		out += "- " + s.AgentName + ": " + string(s.Signal) + " (" + s.Reasoning + ")\n"
	}
	return out
}
