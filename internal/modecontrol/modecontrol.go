// Package modecontrol implements ModeController: the FSM deciding whether
// the system is trading in simulation against a closed or open market, or
// live, and rebinding decision/trade persistence to mode-scoped backends so
// live and simulated data never collide.
package modecontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/calendar"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/stores"
)

// Mode is one of the three operating modes. External labels differ from
// the internal names so status surfaces read "paper_mock"/"paper_live"/
// "live" while the FSM itself stays legible.
type Mode string

const (
	SimClosed Mode = "SIM_CLOSED"
	SimOpen   Mode = "SIM_OPEN"
	Live      Mode = "LIVE"
)

// ExternalLabel returns the operator-facing name for m.
func (m Mode) ExternalLabel() string {
	switch m {
	case SimClosed:
		return "paper_mock"
	case SimOpen:
		return "paper_live"
	case Live:
		return "live"
	default:
		return string(m)
	}
}

// ParseExternalLabel is the inverse of ExternalLabel.
func ParseExternalLabel(label string) (Mode, error) {
	switch label {
	case "paper_mock":
		return SimClosed, nil
	case "paper_live":
		return SimOpen, nil
	case "live":
		return Live, nil
	default:
		return "", fmt.Errorf("unknown mode label %q", label)
	}
}

// HistoricalReplayConfig configures a backtest-style replay window. Only
// meaningful in SIM_CLOSED/SIM_OPEN.
type HistoricalReplayConfig struct {
	StartDate time.Time
	EndDate   *time.Time
	Interval  time.Duration
}

// Config is the persisted, atomically-written mode configuration.
type Config struct {
	ManualOverride   *Mode
	HistoricalReplay *HistoricalReplayConfig
}

// ConfigStore persists Config atomically; callers never observe a partial
// write (manual override and historical replay change together).
type ConfigStore interface {
	LoadModeConfig(ctx context.Context) (Config, error)
	SaveModeConfig(ctx context.Context, cfg Config) error
}

// Outcome is the result of setManual/tick/clearManual.
type Outcome string

const (
	OutcomeTransitioned         Outcome = "TRANSITIONED"
	OutcomeNoChange             Outcome = "NO_CHANGE"
	OutcomeConfirmationRequired Outcome = "CONFIRMATION_REQUIRED"
)

// Result is returned by every mutating operation.
type Result struct {
	Outcome  Outcome
	Previous Mode
	Current  Mode
}

// Info is the read-only snapshot modeInfo() returns.
type Info struct {
	Current             Mode
	ManualOverride      *Mode
	SuggestedByCalendar Mode
	CalendarStatus      calendar.Status
	HistoricalReplay    *HistoricalReplayConfig
	Config              Config
}

// StoreSet is the pair of mode-scoped stores ModeController rebinds on
// every transition, keyed by mode so LIVE and simulated data never share a
// backend.
type StoreSet struct {
	Decisions stores.DecisionStore
	Trades    stores.TradeStore
}

// Controller is the Mode FSM.
type Controller struct {
	log      zerolog.Logger
	clock    *clock.Clock
	calendar *calendar.Calendar
	cfgStore ConfigStore

	storesByMode map[Mode]StoreSet

	mu      sync.RWMutex
	current Mode
	cfg     Config
}

// New constructs a Controller starting in startMode with storesByMode
// providing at least an entry for startMode. Missing entries fall back to
// the SIM_CLOSED entry, so a repository that hasn't configured a dedicated
// LIVE store yet doesn't panic on boot.
func New(log zerolog.Logger, clk *clock.Clock, cal *calendar.Calendar, cfgStore ConfigStore, storesByMode map[Mode]StoreSet, startMode Mode) (*Controller, error) {
	ctx := context.Background()
	cfg, err := cfgStore.LoadModeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mode config: %w", err)
	}

	c := &Controller{
		log:          log.With().Str("component", "mode_controller").Logger(),
		clock:        clk,
		calendar:     cal,
		cfgStore:     cfgStore,
		storesByMode: storesByMode,
		current:      startMode,
		cfg:          cfg,
	}
	if cfg.ManualOverride != nil {
		c.current = *cfg.ManualOverride
	}
	return c, nil
}

// CurrentStores returns the DecisionStore/TradeStore bound to the current
// mode, falling back to SIM_CLOSED's pair if the current mode has none
// registered.
func (c *Controller) CurrentStores() StoreSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storesForLocked(c.current)
}

func (c *Controller) storesForLocked(m Mode) StoreSet {
	if s, ok := c.storesByMode[m]; ok {
		return s
	}
	return c.storesByMode[SimClosed]
}

// ModeInfo returns a point-in-time snapshot.
func (c *Controller) ModeInfo(ctx context.Context) Info {
	now := c.clock.Now(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return Info{
		Current:             c.current,
		ManualOverride:      c.cfg.ManualOverride,
		SuggestedByCalendar: Mode(c.calendar.SuggestedMode(now)),
		CalendarStatus:      c.calendar.Status(now),
		HistoricalReplay:    c.cfg.HistoricalReplay,
		Config:              c.cfg,
	}
}

// SetManual pins the mode to m. Transitioning into LIVE requires
// requireConfirmation to be false (i.e. the caller already confirmed);
// passing true returns CONFIRMATION_REQUIRED without transitioning.
// historicalReplay, when non-nil, is written atomically alongside the
// manual override (§4.2/§5) and seeds the shared Clock at its start date
// so replay begins precisely at the configured instant; pass nil to leave
// any existing replay window untouched.
func (c *Controller) SetManual(ctx context.Context, m Mode, requireConfirmation bool, historicalReplay *HistoricalReplayConfig) (Result, error) {
	if m == Live && requireConfirmation {
		return Result{Outcome: OutcomeConfirmationRequired, Current: c.snapshotCurrent()}, nil
	}

	c.mu.Lock()
	previous := c.current
	if previous == m && historicalReplay == nil {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNoChange, Previous: previous, Current: previous}, nil
	}

	newCfg := c.cfg
	override := m
	newCfg.ManualOverride = &override
	if historicalReplay != nil {
		newCfg.HistoricalReplay = historicalReplay
	}

	if err := c.cfgStore.SaveModeConfig(ctx, newCfg); err != nil {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("save mode config: %w", err)
	}

	c.cfg = newCfg
	c.current = m
	c.mu.Unlock()

	if historicalReplay != nil {
		if err := c.clock.SetVirtual(ctx, historicalReplay.StartDate); err != nil {
			c.log.Warn().Err(err).Msg("failed to seed virtual clock from historical replay config")
		}
	}

	c.log.Info().Str("from", string(previous)).Str("to", string(m)).Bool("manual", true).Msg("mode transitioned")
	return Result{Outcome: OutcomeTransitioned, Previous: previous, Current: m}, nil
}

// ClearManual removes the manual override, returning control to the
// calendar-driven auto-switch on the next Tick.
func (c *Controller) ClearManual(ctx context.Context) error {
	c.mu.Lock()
	newCfg := c.cfg
	newCfg.ManualOverride = nil
	if err := c.cfgStore.SaveModeConfig(ctx, newCfg); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("save mode config: %w", err)
	}
	c.cfg = newCfg
	c.mu.Unlock()
	return nil
}

func (c *Controller) snapshotCurrent() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Tick evaluates the calendar against the current instant and applies the
// auto-switch rule: a manual override blocks any transition; absent one,
// SIM_CLOSED auto-switches to SIM_OPEN when the market opens, and
// SIM_OPEN/LIVE auto-switch to SIM_CLOSED when it closes. SIM_OPEN never
// auto-promotes to LIVE — that always requires an explicit SetManual call.
func (c *Controller) Tick(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.cfg.ManualOverride != nil {
		current := c.current
		c.mu.Unlock()
		return Result{Outcome: OutcomeNoChange, Previous: current, Current: current}, nil
	}

	now := c.clock.Now(ctx)
	suggested := Mode(c.calendar.SuggestedMode(now))
	previous := c.current

	var next Mode
	switch previous {
	case SimClosed:
		if suggested == SimOpen {
			next = SimOpen
		} else {
			next = SimClosed
		}
	case SimOpen, Live:
		if suggested == SimClosed {
			next = SimClosed
		} else {
			next = previous
		}
	default:
		next = previous
	}

	if next == previous {
		c.mu.Unlock()
		return Result{Outcome: OutcomeNoChange, Previous: previous, Current: previous}, nil
	}

	c.current = next
	c.mu.Unlock()

	c.log.Info().Str("from", string(previous)).Str("to", string(next)).Bool("manual", false).Msg("mode auto-transitioned")
	return Result{Outcome: OutcomeTransitioned, Previous: previous, Current: next}, nil
}
