// Package external declares the capability interfaces the core consumes
// from the outside world. Concrete broker/exchange adapters, indicator
// math, news scraping, and LLM client libraries all live behind these
// seams; the core never imports a concrete provider.
package external

import (
	"context"
	"time"
)

// Tick is a single latest-price observation for an instrument.
type Tick struct {
	Instrument string
	Price      float64
	Volume     float64
	Timestamp  time.Time
}

// Candle is one OHLC bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OptionContract is one strike/expiry leg of an options chain.
type OptionContract struct {
	Strike     float64
	Expiry     time.Time
	Kind       string // "call" | "put"
	Bid        float64
	Ask        float64
	OpenInterest int64
}

// MarketDataSource is the read/subscribe capability for instrument prices.
// Read methods return a well-typed empty value on missing data, never a nil
// with a success status.
type MarketDataSource interface {
	GetLatestTick(ctx context.Context, instrument string) (Tick, error)
	GetOHLC(ctx context.Context, instrument, timeframe string, limit int) ([]Candle, error)
	GetOptionsChain(ctx context.Context, instrument string, strikes []float64) ([]OptionContract, error)
	Subscribe(ctx context.Context, instrument string) (<-chan Tick, error)
}

// OrderSide mirrors TradeSignal.Side.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRequest is what OrderExecutor.PlaceOrder consumes; it carries the
// idempotency key the executor must honor.
type OrderRequest struct {
	ClientOrderID string
	Instrument    string
	Side          OrderSide
	Quantity      float64
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
}

// ExecutionReceipt is the result of a placed order.
type ExecutionReceipt struct {
	OrderID       string
	ClientOrderID string
	FilledPrice   float64
	FilledAt      time.Time
	Status        string
}

// OrderExecutor places orders on a venue. PlaceOrder MUST be idempotent in
// ClientOrderID: calling it twice with the same ID returns the same receipt
// without double-executing.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (ExecutionReceipt, error)
}

// TechnicalIndicators computes indicator values for an instrument/timeframe.
// The core treats the result as an opaque map; it never interprets
// indicator math itself.
type TechnicalIndicators interface {
	Compute(ctx context.Context, instrument, timeframe string) (map[string]float64, error)
}

// NewsItem is one news article/headline relevant to an instrument.
type NewsItem struct {
	Headline  string
	Source    string
	URL       string
	Timestamp time.Time
	Sentiment float64 // [-1, 1]
}

// SentimentSummary aggregates sentiment over a window.
type SentimentSummary struct {
	Instrument   string
	WindowHours  int
	MeanSentiment float64
	ArticleCount int
}

// NewsFeed supplies news and sentiment for an instrument.
type NewsFeed interface {
	LatestNews(ctx context.Context, instrument string, limit int) ([]NewsItem, error)
	SentimentSummary(ctx context.Context, instrument string, hours int) (SentimentSummary, error)
}

// CompletionParams configures a single LLMProvider.Complete call.
type CompletionParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the result of an LLMProvider.Complete call.
type Completion struct {
	Text        string
	TokensUsed  int // 0 means the provider did not report usage
	TokensIsEst bool
}

// LLMProvider is a single language-model backend as seen by ProviderRouter.
// Each configured provider gets one LLMProvider implementation.
type LLMProvider interface {
	Complete(ctx context.Context, systemPrompt, userMessage string, params CompletionParams) (Completion, error)
}

// KeyValueStore backs Clock virtual-time synchronization and simple
// counters shared across sibling processes.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Pattern string // non-empty when received via a pattern subscription
	Payload []byte
}

// PubSub is the upstream publish/subscribe capability FanOutGateway relays
// to downstream client sockets.
type PubSub interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	PSubscribe(ctx context.Context, pattern string) error
	PUnsubscribe(ctx context.Context, pattern string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	GetMessage(ctx context.Context, timeout time.Duration) (Message, bool, error)
}
