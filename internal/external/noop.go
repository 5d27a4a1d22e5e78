package external

import "context"

// NoopMarketData is the well-typed-empty fallback MarketDataSource wired
// when no MarketDataURL is configured. Every read returns a zero-value
// result with a nil error, honoring the "never null-with-success"
// invariant this package documents; ExecutionAgent and RiskEngine see an
// unpriced instrument rather than a broken capability.
type NoopMarketData struct{}

func (NoopMarketData) GetLatestTick(ctx context.Context, instrument string) (Tick, error) {
	return Tick{Instrument: instrument}, nil
}

func (NoopMarketData) GetOHLC(ctx context.Context, instrument, timeframe string, limit int) ([]Candle, error) {
	return nil, nil
}

func (NoopMarketData) GetOptionsChain(ctx context.Context, instrument string, strikes []float64) ([]OptionContract, error) {
	return nil, nil
}

func (NoopMarketData) Subscribe(ctx context.Context, instrument string) (<-chan Tick, error) {
	ch := make(chan Tick)
	close(ch)
	return ch, nil
}

// NoopOrderExecutor rejects every order without placing anything. It is
// wired when no OrderExecURL is configured — SIM_* modes never call it
// since PositionManager books simulated fills directly.
type NoopOrderExecutor struct{}

func (NoopOrderExecutor) PlaceOrder(ctx context.Context, req OrderRequest) (ExecutionReceipt, error) {
	return ExecutionReceipt{ClientOrderID: req.ClientOrderID, Status: "REJECTED_NO_EXECUTOR_CONFIGURED"}, nil
}

// NoopTechnicalIndicators reports no indicators computed. TechnicalAgent
// treats an empty map as "no strong indicator signal" and falls back to
// HOLD, per its classification heuristic.
type NoopTechnicalIndicators struct{}

func (NoopTechnicalIndicators) Compute(ctx context.Context, instrument, timeframe string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

// NoopNewsFeed reports no news. It is wired when no NewsFeedURL is
// configured; the sentiment LLM agent still runs, just without headline
// context to react to.
type NoopNewsFeed struct{}

func (NoopNewsFeed) LatestNews(ctx context.Context, instrument string, limit int) ([]NewsItem, error) {
	return nil, nil
}

func (NoopNewsFeed) SentimentSummary(ctx context.Context, instrument string, hours int) (SentimentSummary, error) {
	return SentimentSummary{Instrument: instrument, WindowHours: hours}, nil
}
