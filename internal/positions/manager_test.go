package positions

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/stores"
)

type memTradeStore struct {
	mu        sync.Mutex
	trades    []stores.Trade
	positions map[string]stores.Position
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{positions: make(map[string]stores.Position)}
}

func (s *memTradeStore) PutTrade(t stores.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

func (s *memTradeStore) ListTrades(stores.TradeFilter) ([]stores.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stores.Trade(nil), s.trades...), nil
}

func (s *memTradeStore) PutPosition(p stores.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.PositionID] = p
	return nil
}

func (s *memTradeStore) UpdatePosition(p stores.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.PositionID] = p
	return nil
}

func (s *memTradeStore) ListPositions(status stores.PositionStatus) ([]stores.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stores.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memTradeStore) GetPosition(positionID string) (stores.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[positionID]
	return p, ok, nil
}

func testManager(t *testing.T, cfg Config) (*Manager, *memTradeStore) {
	t.Helper()
	store := newMemTradeStore()
	clk := clock.New(zerolog.Nop(), nil)
	m, err := New(zerolog.Nop(), clk, store, nil, nil, nil, cfg)
	require.NoError(t, err)
	return m, store
}

func TestOpen_DecrementsCashAndRecordsPosition(t *testing.T) {
	m, store := testManager(t, Config{InitialCash: 10000, MaxOpenPositions: 5})

	p, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 10, 100, nil, nil, nil)

	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 9000.0, m.State().AvailableCash)
	assert.Len(t, store.positions, 1)
}

func TestOpen_RejectsWhenInsufficientCash(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 500})

	p, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 10, 100, nil, nil, nil)

	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestOpen_RejectsAtMaxOpenPositions(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 100000, MaxOpenPositions: 1})

	_, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 1, 100, nil, nil, nil)
	require.NoError(t, err)

	p, err := m.Open(context.Background(), "MSFT", stores.SignalBuy, 1, 100, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestClose_RealizesPnLAndFreesCash(t *testing.T) {
	m, store := testManager(t, Config{InitialCash: 10000})

	p, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 10, 100, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	ok, err := m.Close(context.Background(), p.PositionID, 110, "MANUAL")
	require.NoError(t, err)
	assert.True(t, ok)

	state := m.State()
	assert.Equal(t, 0, state.OpenPositionCount)
	assert.InDelta(t, 100.0, state.TotalPnL, 0.001)
	assert.Len(t, store.trades, 1)
	assert.InDelta(t, 100.0, store.trades[0].RealizedPL, 0.001)
}

func TestUpdateMarketPrices_AutoClosesOnStopLoss(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 10000})

	stop := 95.0
	p, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 10, 100, &stop, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	err = m.UpdateMarketPrices(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 94})
	require.NoError(t, err)

	state := m.State()
	assert.Equal(t, 0, state.OpenPositionCount)
	assert.Less(t, state.TotalPnL, 0.0)
}

func TestUpdateMarketPrices_AutoClosesOnTakeProfit(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 10000})

	target := 110.0
	p, err := m.Open(context.Background(), "AAPL", stores.SignalBuy, 10, 100, nil, &target, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	err = m.UpdateMarketPrices(context.Background(), []string{"AAPL"}, map[string]float64{"AAPL": 111})
	require.NoError(t, err)

	state := m.State()
	assert.Equal(t, 0, state.OpenPositionCount)
	assert.Greater(t, state.TotalPnL, 0.0)
}

func TestExecuteTradingDecision_HoldIsNoOp(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 10000})

	result, err := m.ExecuteTradingDecision(context.Background(), "AAPL", stores.SignalHold, 0.5, nil)

	require.NoError(t, err)
	assert.Equal(t, "HELD", result.Action)
}

func TestExecuteTradingDecision_OpensOnBuy(t *testing.T) {
	m, _ := testManager(t, Config{InitialCash: 10000})

	details := map[string]interface{}{"entry_price": 100.0, "quantity": 5.0}
	result, err := m.ExecuteTradingDecision(context.Background(), "AAPL", stores.SignalBuy, 0.7, details)

	require.NoError(t, err)
	assert.Equal(t, "OPENED", result.Action)
	require.NotNil(t, result.Position)
}
