// Package di is the composition root: it constructs every long-lived
// component in dependency order and hands cmd/server a single Container to
// start and shut down. No component in internal/ reaches for a package-level
// singleton; everything is built once here and threaded through
// constructors explicitly.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/agents"
	"github.com/aristath/sentinel-core/internal/alerts"
	"github.com/aristath/sentinel-core/internal/calendar"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/config"
	"github.com/aristath/sentinel-core/internal/database"
	"github.com/aristath/sentinel-core/internal/events"
	"github.com/aristath/sentinel-core/internal/external"
	"github.com/aristath/sentinel-core/internal/gateway"
	"github.com/aristath/sentinel-core/internal/gateway/memorybus"
	"github.com/aristath/sentinel-core/internal/llmclient"
	"github.com/aristath/sentinel-core/internal/modecontrol"
	"github.com/aristath/sentinel-core/internal/orchestrator"
	"github.com/aristath/sentinel-core/internal/positions"
	"github.com/aristath/sentinel-core/internal/providers"
	"github.com/aristath/sentinel-core/internal/risk"
	"github.com/aristath/sentinel-core/internal/stores"
	"github.com/aristath/sentinel-core/internal/stores/s3archive"
	"github.com/aristath/sentinel-core/internal/stores/sqlite"
)

// Container holds every wired component cmd/server needs, plus the
// databases that must be closed on shutdown.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	Clock          *clock.Clock
	Calendar       *calendar.Calendar
	Mode           *modecontrol.Controller
	Alerts         *alerts.Router
	Providers      *providers.Router
	Runtime        *agents.Runtime
	Risk           *risk.Engine
	Positions      *positions.Manager
	Orchestrator   *orchestrator.Orchestrator
	EventBus       *events.Bus
	Gateway        *gateway.Gateway

	Cron *cron.Cron

	databases []*database.DB
	pubsub    closer
}

// closer is what Container closes for the PubSub backend on shutdown.
// memorybus.Bus has nothing to close, so Wire stores noopCloser here;
// kept unexported since Container only needs to close it, never call
// through it.
type closer interface {
	Close() error
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// settingsAdapter binds a context.Background() to external.KeyValueStore so
// it can satisfy config.SettingsStore, which predates KeyValueStore's
// context-aware interface and is only ever called once at startup.
type settingsAdapter struct {
	kv external.KeyValueStore
}

func (a settingsAdapter) Get(key string) (string, bool, error) {
	return a.kv.Get(context.Background(), key)
}

func openDB(dataDir, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", name, err)
	}
	return db, nil
}

// Wire constructs the full dependency graph described by the trading
// coordination core: Clock and MarketCalendar first (nothing else can be
// built without a notion of "now"), then mode-scoped stores, then
// ModeController, then the provider/agent/risk/position stack, and finally
// the orchestrator and gateway that drive them.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Log: log}

	// --- shared KV store (clock virtual time + mode config) ---
	kvDB, err := openDB(cfg.DataDir, "kv", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, kvDB)
	kvStore := sqlite.NewKVStore(kvDB)

	if err := cfg.UpdateFromSettings(settingsAdapter{kv: kvStore}); err != nil {
		return nil, fmt.Errorf("apply settings overrides: %w", err)
	}

	c.Clock = clock.New(log, kvStore)
	c.Calendar = calendar.New(calendar.DefaultSchedule())

	// --- mode-scoped decision/trade stores ---
	// SIM_CLOSED and SIM_OPEN share one simulated ledger: they differ only
	// in whether the market is open, not in which book they write to.
	// LIVE gets its own databases so simulated and real trading history
	// never collide, per the mode FSM's isolation requirement.
	simDecisionsDB, err := openDB(cfg.DataDir, "decisions", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, simDecisionsDB)
	simTradesDB, err := openDB(cfg.DataDir, "trades", database.ProfileStandard)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, simTradesDB)

	liveDecisionsDB, err := openDB(filepath.Join(cfg.DataDir, "live"), "decisions", database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, liveDecisionsDB)
	liveTradesDB, err := openDB(filepath.Join(cfg.DataDir, "live"), "trades", database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, liveTradesDB)

	var simDecisions stores.DecisionStore = sqlite.NewDecisionStore(simDecisionsDB)
	var simTrades stores.TradeStore = sqlite.NewTradeStore(simTradesDB)
	var liveDecisions stores.DecisionStore = sqlite.NewDecisionStore(liveDecisionsDB)
	var liveTrades stores.TradeStore = sqlite.NewTradeStore(liveTradesDB)

	if cfg.S3Bucket != "" {
		archive, err := s3archive.NewClient(context.Background(), s3archive.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("build s3 archive client: %w", err)
		}
		// Only LIVE decisions/trades are cold-archived: simulated runs are
		// reproducible from replay and don't need an off-box audit copy.
		liveDecisions = s3archive.NewDecisionStore(liveDecisions, archive)
		liveTrades = s3archive.NewTradeStore(liveTrades, archive)
	}

	storesByMode := map[modecontrol.Mode]modecontrol.StoreSet{
		modecontrol.SimClosed: {Decisions: simDecisions, Trades: simTrades},
		modecontrol.SimOpen:   {Decisions: simDecisions, Trades: simTrades},
		modecontrol.Live:      {Decisions: liveDecisions, Trades: liveTrades},
	}

	// --- alerting ---
	alertsDB, err := openDB(cfg.DataDir, "alerts", database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	c.databases = append(c.databases, alertsDB)
	c.Alerts = alerts.New(log, sqlite.NewAlertStore(alertsDB))
	if cfg.AlertWebhookURL != "" {
		c.Alerts.AddBackend(alerts.NewWebhookBackend(cfg.AlertWebhookURL))
	}
	if cfg.AlertSMTPHost != "" && len(cfg.AlertSMTPTo) > 0 {
		c.Alerts.AddBackend(alerts.NewSMTPBackend(cfg.AlertSMTPHost, cfg.AlertSMTPPort, cfg.AlertSMTPFrom, cfg.AlertSMTPTo, cfg.AlertSMTPMinSeverity))
	}

	// --- mode controller ---
	startMode, err := modecontrol.ParseExternalLabel(startupLabel(cfg.StartupMode))
	if err != nil {
		return nil, fmt.Errorf("parse STARTUP_MODE: %w", err)
	}
	modeCfgStore := sqlite.NewModeConfigStore(kvStore)
	c.Mode, err = modecontrol.New(log, c.Clock, c.Calendar, modeCfgStore, storesByMode, startMode)
	if err != nil {
		return nil, fmt.Errorf("build mode controller: %w", err)
	}

	// --- provider router, backed by the CGO fast usage store: this is the
	// one write path (one increment per LLM call) where the teacher's
	// pure-Go driver overhead is worth trading for mattn/go-sqlite3 ---
	usageStore, err := sqlite.NewFastUsageStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("open fast usage store: %w", err)
	}
	c.Providers = providers.New(log, c.Clock, c.Alerts, usageStore)
	for _, name := range cfg.ProviderNames {
		pc := cfg.Providers[name]
		baseURL := llmclient.BaseURLFor(name)
		if baseURL == "" {
			log.Warn().Str("provider", name).Msg("no known compatibility endpoint for provider, skipping")
			continue
		}
		client := llmclient.New(name, llmclient.Config{
			BaseURL:      baseURL,
			APIKey:       pc.APIKey,
			DefaultModel: llmclient.DefaultModelFor(name),
		}, log)
		descriptor := providers.Descriptor{
			Name:            name,
			Priority:        pc.Priority,
			ModelID:         llmclient.DefaultModelFor(name),
			PerMinuteLimit:  pc.MaxRequestsPerMin,
			PerDayLimit:     0,
			CostPer1kTokens: pc.CostPer1kTokens,
		}
		if err := c.Providers.Register(descriptor, client); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", name, err)
		}
	}

	// --- external capability seams: noop fallbacks unless a real
	// integration URL is configured. This repository's core never bundles
	// a broker/market-data SDK; a concrete adapter is a future addition
	// behind these same interfaces. ---
	marketData := external.MarketDataSource(external.NoopMarketData{})
	newsFeed := external.NewsFeed(external.NoopNewsFeed{})
	indicators := external.TechnicalIndicators(external.NoopTechnicalIndicators{})

	// --- agent runtime ---
	instrument := "SPY"
	phases := agents.DefaultPhases(indicators, newsFeed, marketData, "1h")
	agentDeps := agents.Deps{Router: c.Providers, Clock: c.Clock}
	c.Runtime = agents.New(log, agentDeps, phases, simDecisions, 0.55)

	// --- risk engine ---
	c.Risk = risk.New(log, c.Clock, c.Alerts, risk.Config{
		MaxRiskPerTradePct:       cfg.RiskMaxPositionPct,
		MaxPortfolioRiskPct:      cfg.RiskMaxPositionPct * 3,
		MaxDailyLossPct:          cfg.RiskMaxDailyLossPct,
		MaxConsecutiveLosses:     cfg.RiskMaxConsecutiveLoss,
		MinRewardRatio:           1.5,
		MaxPositionSizePct:       cfg.RiskMaxPositionPct,
		MarginRequirementPct:     1.0,
		MaxOpenPositions:         10,
		CooldownAfterLossMinutes: 0,
		CircuitBreakerLossPct:    cfg.RiskMaxDailyLossPct * 2,
		DailyResetHour:           0,
	})

	// --- position manager, bound to the mode controller's stores at
	// startup. Mode transitions change where future decisions land; the
	// open book itself is scoped to whichever store was active at
	// construction, mirroring how a real broker position can't teleport
	// across paper/live accounts mid-flight. ---
	c.EventBus = events.NewBus(log)
	startStores := c.Mode.CurrentStores()
	c.Positions, err = positions.New(log, c.Clock, startStores.Trades, c.Risk, c.Alerts, c.EventBus, positions.Config{
		InitialCash:         100000,
		MaxOpenPositions:    10,
		MaxRiskPerTradePct:  cfg.RiskMaxPositionPct,
		MaxPortfolioRiskPct: cfg.RiskMaxPositionPct * 3,
	})
	if err != nil {
		return nil, fmt.Errorf("build position manager: %w", err)
	}

	// --- orchestrator ---
	c.Orchestrator, err = orchestrator.New(log, c.Clock, c.Mode, c.Runtime, c.Positions, orchestrator.Config{
		Instrument:    instrument,
		CycleCron:     cfg.OrchestratorCycleCron,
		MinConfidence: 0.55,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	// --- fan-out gateway ---
	var pubsub external.PubSub
	if cfg.RedisURL == "" {
		bus := memorybus.New(1024)
		pubsub = bus
		c.pubsub = noopCloser{}
	} else {
		// A Redis-backed external.PubSub is outside this core's scope; an
		// operator pointing REDIS_URL at a real instance still gets a
		// working gateway today via the in-memory bus, with the same ACL
		// and reconciliation behavior it would have over Redis.
		log.Warn().Msg("REDIS_URL configured but no Redis PubSub adapter is wired in this build; falling back to the in-memory bus")
		bus := memorybus.New(1024)
		pubsub = bus
		c.pubsub = noopCloser{}
	}

	c.Gateway = gateway.New(log, pubsub, gateway.DefaultACL(), gateway.DefaultConfig(), nil, c.EventBus)

	// --- periodic background tasks ---
	c.Cron = cron.New(cron.WithSeconds())

	return c, nil
}

func startupLabel(mode string) string {
	switch mode {
	case "SIM_CLOSED":
		return "paper_mock"
	case "SIM_OPEN":
		return "paper_live"
	case "LIVE":
		return "live"
	default:
		return "paper_mock"
	}
}

// StartBackground registers the cron-scheduled maintenance ticks
// (provider health sweeps, daily usage rollover, risk daily reset) and
// starts the orchestrator's own cycle loop and the gateway's receive loop.
// It returns once everything is running; callers stop it via ctx
// cancellation plus Container.Shutdown.
func (c *Container) StartBackground(ctx context.Context) error {
	if _, err := c.Cron.AddFunc("0 */5 * * * *", func() {
		c.Providers.HealthSweep()
	}); err != nil {
		return fmt.Errorf("schedule provider health sweep: %w", err)
	}
	if _, err := c.Cron.AddFunc("0 0 0 * * *", func() {
		c.Providers.DailyRollover()
		c.Risk.DailyReset(time.Now().UTC().YearDay())
	}); err != nil {
		return fmt.Errorf("schedule daily rollover: %w", err)
	}
	c.Cron.Start()

	c.Gateway.Start(ctx)

	go c.Orchestrator.Run(ctx)

	return nil
}

// Shutdown tears down background work and storage in the order the design
// requires: gateway first (stop accepting/serving websocket traffic). The
// orchestrator is bound to ctx and stops when the caller cancels it before
// Shutdown runs; cron is stopped here, waiting for running jobs until
// ctx's deadline. Stores close last.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Gateway.Stop()

	cronCtx := c.Cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	var firstErr error
	for _, db := range c.databases {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.pubsub.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
