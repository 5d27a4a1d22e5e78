package modecontrol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/calendar"
	"github.com/aristath/sentinel-core/internal/clock"
)

type memConfigStore struct {
	mu  sync.Mutex
	cfg Config
}

func (m *memConfigStore) LoadModeConfig(ctx context.Context) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, nil
}

func (m *memConfigStore) SaveModeConfig(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

func newTestController(t *testing.T, start Mode) (*Controller, *clock.Clock) {
	t.Helper()
	clk := clock.New(zerolog.Nop(), nil)
	require.NoError(t, clk.SetVirtual(context.Background(), time.Date(2026, 1, 5, 3, 0, 0, 0, time.UTC))) // Monday, pre-open

	cal := calendar.New(calendar.DefaultSchedule())
	c, err := New(zerolog.Nop(), clk, cal, &memConfigStore{}, nil, start)
	require.NoError(t, err)
	return c, clk
}

func TestController_TickAutoSwitchesClosedToOpen(t *testing.T) {
	c, clk := newTestController(t, SimClosed)
	ctx := context.Background()

	require.NoError(t, clk.SetVirtual(ctx, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))) // within session

	res, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, SimOpen, res.Current)
}

func TestController_TickAutoSwitchesOpenToClosed(t *testing.T) {
	c, clk := newTestController(t, SimOpen)
	ctx := context.Background()

	require.NoError(t, clk.SetVirtual(ctx, time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC))) // after close

	res, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, SimClosed, res.Current)
}

func TestController_TickNeverAutoPromotesToLive(t *testing.T) {
	c, clk := newTestController(t, SimOpen)
	ctx := context.Background()
	require.NoError(t, clk.SetVirtual(ctx, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))

	res, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChange, res.Outcome)
	assert.Equal(t, SimOpen, res.Current)
}

func TestController_ManualOverrideBlocksAutoSwitch(t *testing.T) {
	c, clk := newTestController(t, SimClosed)
	ctx := context.Background()

	_, err := c.SetManual(ctx, SimOpen, false, nil)
	require.NoError(t, err)

	require.NoError(t, clk.SetVirtual(ctx, time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC))) // after close, would normally switch

	res, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChange, res.Outcome)
	assert.Equal(t, SimOpen, res.Current)
}

func TestController_SetManualToLiveRequiresConfirmation(t *testing.T) {
	c, _ := newTestController(t, SimOpen)
	ctx := context.Background()

	res, err := c.SetManual(ctx, Live, true, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmationRequired, res.Outcome)
	assert.Equal(t, SimOpen, c.snapshotCurrent())

	res, err = c.SetManual(ctx, Live, false, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, Live, res.Current)
}

func TestController_SetManualWithHistoricalReplaySeedsClockAndInfo(t *testing.T) {
	c, clk := newTestController(t, SimClosed)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 9, 15, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 15, 30, 0, 0, time.UTC)
	replay := &HistoricalReplayConfig{StartDate: start, EndDate: &end, Interval: time.Minute}

	_, err := c.SetManual(ctx, SimOpen, false, replay)
	require.NoError(t, err)

	assert.True(t, clk.IsVirtual(ctx))
	assert.True(t, clk.Now(ctx).Equal(start))

	info := c.ModeInfo(ctx)
	require.NotNil(t, info.HistoricalReplay)
	assert.True(t, info.HistoricalReplay.StartDate.Equal(start))
	require.NotNil(t, info.HistoricalReplay.EndDate)
	assert.True(t, info.HistoricalReplay.EndDate.Equal(end))
	assert.Equal(t, time.Minute, info.HistoricalReplay.Interval)
}

func TestController_ClearManualReturnsControlToCalendar(t *testing.T) {
	c, clk := newTestController(t, SimClosed)
	ctx := context.Background()

	_, err := c.SetManual(ctx, SimOpen, false, nil)
	require.NoError(t, err)
	require.NoError(t, c.ClearManual(ctx))

	require.NoError(t, clk.SetVirtual(ctx, time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)))
	res, err := c.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, res.Outcome)
	assert.Equal(t, SimClosed, res.Current)
}
