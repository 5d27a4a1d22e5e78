package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestModeTransitionedData_EventType(t *testing.T) {
	d := &ModeTransitionedData{FromMode: "SIM_CLOSED", ToMode: "SIM_OPEN"}
	assert.Equal(t, ModeTransitioned, d.EventType())
}

func TestProviderStatusChangedData_EventType(t *testing.T) {
	d := &ProviderStatusChangedData{Provider: "groq"}
	assert.Equal(t, ProviderStatusChanged, d.EventType())
}

func TestEventWithData_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		data EventData
	}{
		{"mode_transitioned", &ModeTransitionedData{FromMode: "SIM_CLOSED", ToMode: "LIVE", Manual: true, Reason: "operator override"}},
		{"provider_status", &ProviderStatusChangedData{Provider: "cohere", Healthy: true, TokensToday: 1200, EstimatedCostToday: 0.18}},
		{"provider_rate_limited", &ProviderRateLimitedData{Provider: "ai21", RetryAfter: "30s"}},
		{"circuit_breaker_tripped", &CircuitBreakerTrippedData{Provider: "groq", FailureCount: 5, CooldownSecs: 60}},
		{"circuit_breaker_reset", &CircuitBreakerResetData{Provider: "groq"}},
		{"cycle_decision_recorded", &CycleDecisionRecordedData{CycleID: "c-1", Mode: "SIM_OPEN", NumSignals: 3}},
		{"trade_signal_generated", &TradeSignalGeneratedData{CycleID: "c-1", Symbol: "AAPL", Side: "buy", Quantity: 10}},
		{"risk_assessment_rejected", &RiskAssessmentRejectedData{CycleID: "c-1", Symbol: "AAPL", Reason: "exceeds max position pct"}},
		{"position_opened", &PositionOpenedData{PositionID: "p-1", Symbol: "AAPL", Side: "buy", Quantity: 10, EntryPrice: 150}},
		{"position_closed", &PositionClosedData{PositionID: "p-1", Symbol: "AAPL", ExitPrice: 155, RealizedPL: 50, Reason: "take_profit"}},
		{"gateway_client_connected", &GatewayClientConnectedData{ClientID: "ws-1"}},
		{"gateway_client_dropped", &GatewayClientDroppedData{ClientID: "ws-1", Reason: "idle_timeout"}},
		{"error_occurred", &ErrorEventData{Error: "boom", Context: map[string]interface{}{"cycle_id": "c-1"}}},
		{"system_status_changed", &SystemStatusChangedData{Status: "degraded", Timestamp: "2026-07-31T00:00:00Z"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := &EventWithData{
				Type:      tc.data.EventType(),
				Timestamp: time.Now().UTC().Truncate(time.Second),
				Module:    "test",
				Data:      tc.data,
			}

			raw, err := json.Marshal(evt)
			require.NoError(t, err)

			var decoded EventWithData
			require.NoError(t, json.Unmarshal(raw, &decoded))

			assert.Equal(t, evt.Type, decoded.Type)
			assert.Equal(t, evt.Module, decoded.Module)
			assert.Equal(t, evt.Timestamp.Unix(), decoded.Timestamp.Unix())
			assert.Equal(t, tc.data.EventType(), decoded.Data.EventType())

			wantBytes, err := json.Marshal(tc.data)
			require.NoError(t, err)
			gotBytes, err := json.Marshal(decoded.Data)
			require.NoError(t, err)
			assert.JSONEq(t, string(wantBytes), string(gotBytes))
		})
	}
}

func TestEventWithData_UnknownTypeFallsBackToGeneric(t *testing.T) {
	raw := []byte(`{"type":"SOMETHING_NEW","timestamp":"2026-07-31T00:00:00Z","module":"test","data":{"foo":"bar"}}`)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, "bar", generic.Data["foo"])
}

func TestBus_EmitDeliversToSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	received := make(chan EventWithData, 1)
	cancel := bus.Subscribe(func(e EventWithData) {
		received <- e
	})
	defer cancel()

	bus.Emit("orchestrator", &CycleDecisionRecordedData{CycleID: "c-9", Mode: "SIM_OPEN", NumSignals: 2})

	select {
	case e := <-received:
		assert.Equal(t, CycleDecisionRecorded, e.Type)
		assert.Equal(t, "orchestrator", e.Module)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(testLogger())

	var count int
	cancel := bus.Subscribe(func(EventWithData) { count++ })
	cancel()

	bus.Emit("orchestrator", &CycleDecisionRecordedData{CycleID: "c-1"})
	assert.Equal(t, 0, count)
}
