// Package stores declares the thin persistence seams the core writes
// through: DecisionStore, TradeStore, UsageStore, AlertStore. Concrete
// implementations live in sqlite and s3archive subpackages; callers in the
// core depend only on these interfaces.
package stores

import "time"

// Phase is the stage of the agent pipeline an AgentSignal belongs to.
type Phase string

const (
	PhaseAnalysis  Phase = "ANALYSIS"
	PhaseDebate    Phase = "DEBATE"
	PhaseRisk      Phase = "RISK"
	PhasePortfolio Phase = "PORTFOLIO"
	PhaseExecution Phase = "EXECUTION"
)

// Signal is a trade direction or phase-specific variant.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// AgentSignal is one agent's contribution to a cycle.
type AgentSignal struct {
	CycleID    string
	AgentName  string
	Phase      Phase
	Signal     Signal
	Confidence float64
	Weight     float64
	Reasoning  string
	Indicators map[string]interface{}
	Timestamp  time.Time
}

// CycleDecision is one cycle's final, auditable output.
type CycleDecision struct {
	CycleID      string
	Instrument   string
	Timestamp    time.Time
	FinalSignal  Signal
	Confidence   float64
	Reasoning    string
	AgentSignals []AgentSignal
	Mode         string
}

// DecisionFilter narrows listDecisions/listDiscussions results.
type DecisionFilter struct {
	Instrument string
	Mode       string
	Since      time.Time
	Until      time.Time
}

// DecisionStore persists cycle decisions and their per-agent discussion
// trail, and is rebound to a mode-scoped backend on every ModeController
// transition so LIVE and simulated data never collide.
type DecisionStore interface {
	PutDecision(d CycleDecision) error
	PutDiscussion(s AgentSignal) error
	ListDecisions(filter DecisionFilter, limit int) ([]CycleDecision, error)
	ListDiscussions(cycleID string) ([]AgentSignal, error)
}

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionActive  PositionStatus = "ACTIVE"
	PositionClosed  PositionStatus = "CLOSED"
	PositionPending PositionStatus = "PENDING"
)

// Position is an open or closed market position.
type Position struct {
	PositionID   string
	Instrument   string
	Side         Signal
	Quantity     float64
	EntryPrice   float64
	CurrentPrice float64
	StopLoss     *float64
	TakeProfit   *float64
	Status       PositionStatus
	EntryAt      time.Time
	ExitAt       *time.Time
	ExitPrice    *float64
	Commission   float64
	Tags         []string
}

// Trade is a closed-loop record of an executed position, kept separately
// from Position for audit/reporting independent of the live position index.
type Trade struct {
	TradeID    string
	PositionID string
	Instrument string
	Side       Signal
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	RealizedPL float64
	OpenedAt   time.Time
	ClosedAt   time.Time
	Reason     string
}

// TradeFilter narrows ListTrades results.
type TradeFilter struct {
	Instrument string
	Since      time.Time
	Until      time.Time
}

// TradeStore persists trades and the position index.
type TradeStore interface {
	PutTrade(t Trade) error
	ListTrades(filter TradeFilter) ([]Trade, error)
	PutPosition(p Position) error
	UpdatePosition(p Position) error
	ListPositions(status PositionStatus) ([]Position, error)
	GetPosition(positionID string) (Position, bool, error)
}

// UsageStore persists per-provider, per-date token/request counters so
// ProviderRouter usage accounting survives restart.
type UsageStore interface {
	IncrementUsage(provider string, date time.Time, requests, tokens int64) error
	GetUsage(provider string, date time.Time) (requests, tokens int64, err error)
}

// Severity is an Alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is a structured notification routed by AlertRouter.
type Alert struct {
	ID        string
	Type      string
	Message   string
	Severity  Severity
	Details   map[string]interface{}
	Source    string
	Timestamp time.Time
}

// AlertStore is the durable, always-on AlertRouter backend.
type AlertStore interface {
	PutAlert(a Alert) error
}
