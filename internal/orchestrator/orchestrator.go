// Package orchestrator implements the Orchestrator: the periodic driver
// that gates on ModeController/MarketCalendar, runs one AgentRuntime cycle,
// persists its decision, and hands approved signals to PositionManager.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/agents"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/modecontrol"
	"github.com/aristath/sentinel-core/internal/positions"
	"github.com/aristath/sentinel-core/internal/stores"
)

// Config holds the orchestrator's tunables.
type Config struct {
	Instrument      string
	CycleCron       string // e.g. "*/15 * * * *"; parsed once at construction
	MinConfidence   float64
	ForceMarketOpen bool // test/demo hook: skip the calendar gate
	PollInterval    time.Duration
}

// Orchestrator is the periodic driver described in the specification.
type Orchestrator struct {
	log       zerolog.Logger
	clock     *clock.Clock
	mode      *modecontrol.Controller
	runtime   *agents.Runtime
	positions *positions.Manager
	cfg       Config
	schedule  cron.Schedule

	cycleNumber int64
}

// New constructs an Orchestrator. cfg.CycleCron must be a valid standard
// five-field cron expression; New returns an error otherwise.
func New(log zerolog.Logger, clk *clock.Clock, mode *modecontrol.Controller, runtime *agents.Runtime, posMgr *positions.Manager, cfg Config) (*Orchestrator, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CycleCron)
	if err != nil {
		return nil, fmt.Errorf("parse cycle cron %q: %w", cfg.CycleCron, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &Orchestrator{
		log:       log.With().Str("component", "orchestrator").Logger(),
		clock:     clk,
		mode:      mode,
		runtime:   runtime,
		positions: posMgr,
		cfg:       cfg,
		schedule:  schedule,
	}, nil
}

// Run blocks, driving cycles at the configured cron cadence relative to
// Clock.Now (so historical replay advances deterministically), until ctx is
// canceled. Between cycles it polls at cfg.PollInterval rather than
// sleeping for the full interval in wall-clock time, so a virtual-clock
// advance is never missed.
func (o *Orchestrator) Run(ctx context.Context) {
	next := o.schedule.Next(o.clock.Now(ctx))

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := o.clock.Now(ctx)
			if now.Before(next) {
				continue
			}
			if _, err := o.RunCycleGated(ctx); err != nil {
				o.log.Error().Err(err).Msg("cycle failed")
			}
			next = o.schedule.Next(now)
		}
	}
}

// RunCycleGated implements the gate-then-run sequence: tick ModeController;
// if the market is closed and not forced open, report gated=true and do
// nothing; otherwise run one cycle end to end.
func (o *Orchestrator) RunCycleGated(ctx context.Context) (gated bool, err error) {
	result, err := o.mode.Tick(ctx)
	if err != nil {
		return false, fmt.Errorf("mode tick: %w", err)
	}

	marketOpen := o.cfg.ForceMarketOpen || result.Current != modecontrol.SimClosed
	if !marketOpen {
		o.log.Debug().Msg("market closed, skipping cycle")
		return true, nil
	}

	deadline := o.cfg.PollInterval
	if cycleDur := o.estimateCycleInterval(ctx); cycleDur > 0 {
		deadline = cycleDur / 2
	}
	cycleCtx, cancel := context.WithTimeout(ctx, maxDuration(deadline, time.Second))
	defer cancel()

	if err := o.runOnce(cycleCtx, result.Current); err != nil {
		return false, err
	}
	return false, nil
}

func (o *Orchestrator) estimateCycleInterval(ctx context.Context) time.Duration {
	now := o.clock.Now(ctx)
	next := o.schedule.Next(now)
	return next.Sub(now)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// runOnce executes steps 2-5 of the specification's orchestrator sequence
// for a single cycle.
func (o *Orchestrator) runOnce(ctx context.Context, mode modecontrol.Mode) error {
	o.cycleNumber++

	cc := agents.CycleContext{
		Instrument:  o.cfg.Instrument,
		Timestamp:   o.clock.Now(ctx),
		CycleNumber: o.cycleNumber,
		MarketHours: true,
		Mode:        mode.ExternalLabel(),
	}

	decision, err := o.runtime.RunCycle(ctx, cc)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}

	storeSet := o.mode.CurrentStores()
	if storeSet.Decisions != nil {
		if err := storeSet.Decisions.PutDecision(decision); err != nil {
			o.log.Warn().Err(err).Msg("failed to persist cycle decision")
		}
	}

	if (decision.FinalSignal == stores.SignalBuy || decision.FinalSignal == stores.SignalSell) && decision.Confidence >= o.cfg.MinConfidence {
		if o.positions != nil {
			details := detailsFromDecision(decision)
			if _, err := o.positions.ExecuteTradingDecision(ctx, decision.Instrument, decision.FinalSignal, decision.Confidence, details); err != nil {
				o.log.Warn().Err(err).Msg("failed to execute trading decision")
			}
		}
	}

	return nil
}

// detailsFromDecision extracts the entry/stop/target levels the execution
// agent computed, if present, for PositionManager.ExecuteTradingDecision.
func detailsFromDecision(decision stores.CycleDecision) map[string]interface{} {
	for i := len(decision.AgentSignals) - 1; i >= 0; i-- {
		sig := decision.AgentSignals[i]
		if sig.Phase == stores.PhaseExecution && sig.Indicators != nil {
			return sig.Indicators
		}
	}
	return nil
}
