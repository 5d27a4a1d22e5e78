// Package events defines the typed alert/event payloads routed through
// AlertRouter and the operator SSE stream. Event data follows a
// discriminated-union style: a concrete Go type per event, serialized
// through EventWithData's custom MarshalJSON/UnmarshalJSON.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the shape of an event's Data payload.
type EventType string

const (
	ModeTransitioned       EventType = "MODE_TRANSITIONED"
	ProviderStatusChanged  EventType = "PROVIDER_STATUS_CHANGED"
	ProviderRateLimited    EventType = "PROVIDER_RATE_LIMITED"
	CircuitBreakerTripped  EventType = "CIRCUIT_BREAKER_TRIPPED"
	CircuitBreakerReset    EventType = "CIRCUIT_BREAKER_RESET"
	CycleDecisionRecorded  EventType = "CYCLE_DECISION_RECORDED"
	TradeSignalGenerated   EventType = "TRADE_SIGNAL_GENERATED"
	RiskAssessmentRejected EventType = "RISK_ASSESSMENT_REJECTED"
	PositionOpened         EventType = "POSITION_OPENED"
	PositionClosed         EventType = "POSITION_CLOSED"
	GatewayClientConnected EventType = "GATEWAY_CLIENT_CONNECTED"
	GatewayClientDropped   EventType = "GATEWAY_CLIENT_DROPPED"
	ErrorOccurred          EventType = "ERROR_OCCURRED"
	SystemStatusChanged    EventType = "SYSTEM_STATUS_CHANGED"
)

// EventData is the interface every typed event payload implements.
type EventData interface {
	EventType() EventType
}

// ModeTransitionedData contains data for ModeTransitioned events.
type ModeTransitionedData struct {
	FromMode string `json:"from_mode"`
	ToMode   string `json:"to_mode"`
	Reason   string `json:"reason"`
	Manual   bool   `json:"manual"`
}

func (d *ModeTransitionedData) EventType() EventType { return ModeTransitioned }

// ProviderStatusChangedData contains data for ProviderStatusChanged events.
type ProviderStatusChangedData struct {
	Provider           string  `json:"provider"`
	Healthy            bool    `json:"healthy"`
	TokensToday        int64   `json:"tokens_today"`
	EstimatedCostToday float64 `json:"estimated_cost_today"`
}

func (d *ProviderStatusChangedData) EventType() EventType { return ProviderStatusChanged }

// ProviderRateLimitedData contains data for ProviderRateLimited events.
type ProviderRateLimitedData struct {
	Provider   string `json:"provider"`
	RetryAfter string `json:"retry_after,omitempty"`
}

func (d *ProviderRateLimitedData) EventType() EventType { return ProviderRateLimited }

// CircuitBreakerTrippedData contains data for CircuitBreakerTripped events.
type CircuitBreakerTrippedData struct {
	Provider     string `json:"provider"`
	FailureCount int    `json:"failure_count"`
	CooldownSecs int     `json:"cooldown_secs"`
}

func (d *CircuitBreakerTrippedData) EventType() EventType { return CircuitBreakerTripped }

// CircuitBreakerResetData contains data for CircuitBreakerReset events.
type CircuitBreakerResetData struct {
	Provider string `json:"provider"`
}

func (d *CircuitBreakerResetData) EventType() EventType { return CircuitBreakerReset }

// CycleDecisionRecordedData contains data for CycleDecisionRecorded events.
type CycleDecisionRecordedData struct {
	CycleID    string `json:"cycle_id"`
	Mode       string `json:"mode"`
	NumSignals int    `json:"num_signals"`
}

func (d *CycleDecisionRecordedData) EventType() EventType { return CycleDecisionRecorded }

// TradeSignalGeneratedData contains data for TradeSignalGenerated events.
type TradeSignalGeneratedData struct {
	CycleID  string  `json:"cycle_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

func (d *TradeSignalGeneratedData) EventType() EventType { return TradeSignalGenerated }

// RiskAssessmentRejectedData contains data for RiskAssessmentRejected events.
type RiskAssessmentRejectedData struct {
	CycleID string `json:"cycle_id"`
	Symbol  string `json:"symbol"`
	Reason  string `json:"reason"`
}

func (d *RiskAssessmentRejectedData) EventType() EventType { return RiskAssessmentRejected }

// PositionOpenedData contains data for PositionOpened events.
type PositionOpenedData struct {
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

func (d *PositionOpenedData) EventType() EventType { return PositionOpened }

// PositionClosedData contains data for PositionClosed events.
type PositionClosedData struct {
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	ExitPrice  float64 `json:"exit_price"`
	RealizedPL float64 `json:"realized_pl"`
	Reason     string  `json:"reason"`
}

func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// GatewayClientConnectedData contains data for GatewayClientConnected events.
type GatewayClientConnectedData struct {
	ClientID string `json:"client_id"`
}

func (d *GatewayClientConnectedData) EventType() EventType { return GatewayClientConnected }

// GatewayClientDroppedData contains data for GatewayClientDropped events.
type GatewayClientDroppedData struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"`
}

func (d *GatewayClientDroppedData) EventType() EventType { return GatewayClientDropped }

// ErrorEventData contains data for ErrorOccurred events.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// SystemStatusChangedData contains data for SystemStatusChanged events.
type SystemStatusChangedData struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (d *SystemStatusChangedData) EventType() EventType { return SystemStatusChanged }

// EventWithData is an event envelope carrying a typed Data payload.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData.
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData.
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case ModeTransitioned:
			eventData = &ModeTransitionedData{}
		case ProviderStatusChanged:
			eventData = &ProviderStatusChangedData{}
		case ProviderRateLimited:
			eventData = &ProviderRateLimitedData{}
		case CircuitBreakerTripped:
			eventData = &CircuitBreakerTrippedData{}
		case CircuitBreakerReset:
			eventData = &CircuitBreakerResetData{}
		case CycleDecisionRecorded:
			eventData = &CycleDecisionRecordedData{}
		case TradeSignalGenerated:
			eventData = &TradeSignalGeneratedData{}
		case RiskAssessmentRejected:
			eventData = &RiskAssessmentRejectedData{}
		case PositionOpened:
			eventData = &PositionOpenedData{}
		case PositionClosed:
			eventData = &PositionClosedData{}
		case GatewayClientConnected:
			eventData = &GatewayClientConnectedData{}
		case GatewayClientDropped:
			eventData = &GatewayClientDroppedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		case SystemStatusChanged:
			eventData = &SystemStatusChangedData{}
		default:
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if err := json.Unmarshal(aux.Data, eventData); err != nil {
				return err
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for event types with no registered struct.
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
