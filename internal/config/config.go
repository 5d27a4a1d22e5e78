// Package config provides configuration management functionality.
//
// This package handles loading configuration from environment variables (.env
// file) and updating configuration from a settings store. Settings store
// values take precedence over environment variables so provider API keys and
// broker credentials can be rotated without a restart.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
// 3. Update from settings store (takes precedence)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderConfig holds the static configuration for a single LLM provider
// registered with the ProviderRouter.
type ProviderConfig struct {
	Name             string
	APIKey           string
	CostPer1kTokens  float64
	MaxRequestsPerMin int
	Priority         int
}

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	LogLevel string // debug, info, warn, error
	Pretty   bool   // pretty-print console logging instead of JSON
	Port     int    // HTTP server port

	// StartupMode is the mode the ModeController boots into before any
	// manual override or calendar-derived suggestion is applied.
	StartupMode string

	// RequireLiveConfirmation is loaded from REQUIRE_LIVE_CONFIRMATION but
	// no component reads it: ModeController.SetManual always requires the
	// caller's confirm flag before entering LIVE, whatever this is set to.
	RequireLiveConfirmation bool

	// Providers is the set of LLM providers available to the
	// ProviderRouter, keyed by name for deterministic iteration order
	// downstream callers can rely on for parallel-group spreading.
	ProviderNames []string
	Providers     map[string]ProviderConfig

	// MarketDataSource / OrderExecutor connection settings. The core only
	// ever sees these through the internal/external interfaces; these
	// fields exist purely to construct whichever adapter is wired at
	// startup.
	MarketDataURL  string
	OrderExecURL   string
	NewsFeedURL    string

	// RedisURL names a Redis instance for the PubSub capability used by
	// FanOutGateway. No Redis adapter is wired: the in-memory memorybus
	// implementation is used whether or not this is set.
	RedisURL string

	// S3/R2 cold-archival settings for the optional ContractStores
	// decorator. Archival is disabled unless Bucket is non-empty.
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// AlertWebhookURL / AlertSMTP* configure AlertRouter backends beyond
	// the always-on AlertStore backend.
	AlertWebhookURL string
	AlertSMTPHost   string
	AlertSMTPPort   int
	AlertSMTPFrom   string
	AlertSMTPTo     []string
	AlertSMTPMinSeverity string

	RiskMaxPositionPct     float64
	RiskMaxDailyLossPct    float64
	RiskMaxConsecutiveLoss int

	OrchestratorCycleCron string
}

// Load reads configuration from environment variables.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("SENTINEL_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                 absDataDir,
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		Pretty:                  getEnvAsBool("LOG_PRETTY", false),
		Port:                    getEnvAsInt("PORT", 8080),
		StartupMode:             getEnv("STARTUP_MODE", "SIM_CLOSED"),
		RequireLiveConfirmation: getEnvAsBool("REQUIRE_LIVE_CONFIRMATION", true),
		MarketDataURL:           getEnv("MARKET_DATA_URL", ""),
		OrderExecURL:            getEnv("ORDER_EXEC_URL", ""),
		NewsFeedURL:             getEnv("NEWS_FEED_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		S3Bucket:                getEnv("S3_BUCKET", ""),
		S3Region:                getEnv("S3_REGION", "auto"),
		S3Endpoint:              getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:           getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:       getEnv("S3_SECRET_ACCESS_KEY", ""),
		AlertWebhookURL:         getEnv("ALERT_WEBHOOK_URL", ""),
		AlertSMTPHost:           getEnv("ALERT_SMTP_HOST", ""),
		AlertSMTPPort:           getEnvAsInt("ALERT_SMTP_PORT", 587),
		AlertSMTPFrom:           getEnv("ALERT_SMTP_FROM", ""),
		AlertSMTPTo:             splitCSV(getEnv("ALERT_SMTP_TO", "")),
		AlertSMTPMinSeverity:    getEnv("ALERT_SMTP_MIN_SEVERITY", "CRITICAL"),
		RiskMaxPositionPct:      getEnvAsFloat("RISK_MAX_POSITION_PCT", 0.1),
		RiskMaxDailyLossPct:     getEnvAsFloat("RISK_MAX_DAILY_LOSS_PCT", 0.03),
		RiskMaxConsecutiveLoss:  getEnvAsInt("RISK_MAX_CONSECUTIVE_LOSS", 3),
		OrchestratorCycleCron:   getEnv("ORCHESTRATOR_CYCLE_CRON", "*/15 * * * *"),
	}

	cfg.Providers = loadProviders()
	for name := range cfg.Providers {
		cfg.ProviderNames = append(cfg.ProviderNames, name)
	}
	sort.Strings(cfg.ProviderNames)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SettingsStore is the narrow read seam UpdateFromSettings needs. The
// composition root (internal/di) satisfies it by wrapping an
// external.KeyValueStore in settingsAdapter.
type SettingsStore interface {
	Get(key string) (string, bool, error)
}

// UpdateFromSettings overlays rotatable secrets (provider API keys, broker
// credentials) from a settings store on top of the environment-derived
// configuration. Settings store values take precedence; an empty or missing
// value keeps the environment fallback.
func (c *Config) UpdateFromSettings(store SettingsStore) error {
	for name, pc := range c.Providers {
		v, ok, err := store.Get("provider_api_key:" + name)
		if err != nil {
			return fmt.Errorf("failed to get provider_api_key for %s from settings: %w", name, err)
		}
		if ok && v != "" {
			pc.APIKey = v
			c.Providers[name] = pc
		}
	}

	if v, ok, err := store.Get("alert_webhook_url"); err != nil {
		return fmt.Errorf("failed to get alert_webhook_url from settings: %w", err)
	} else if ok && v != "" {
		c.AlertWebhookURL = v
	}

	return nil
}

// Validate checks required configuration invariants. Provider credentials
// are optional in SIM modes; LIVE mode readiness is checked by
// ModeController at transition time, not here.
func (c *Config) Validate() error {
	if c.RiskMaxPositionPct <= 0 || c.RiskMaxPositionPct > 1 {
		return fmt.Errorf("RISK_MAX_POSITION_PCT must be in (0, 1], got %v", c.RiskMaxPositionPct)
	}
	if c.RiskMaxDailyLossPct <= 0 || c.RiskMaxDailyLossPct > 1 {
		return fmt.Errorf("RISK_MAX_DAILY_LOSS_PCT must be in (0, 1], got %v", c.RiskMaxDailyLossPct)
	}
	return nil
}

func loadProviders() map[string]ProviderConfig {
	providers := map[string]ProviderConfig{}
	// Providers are enumerated by name so operators can add one via env
	// vars alone; names mirror the original load-balanced providers.
	names := []struct {
		key      string
		cost     float64
		priority int
	}{
		{"groq", 0.0, 1},
		{"cohere", 0.15, 2},
		{"ai21", 0.2, 3},
	}
	for i, n := range names {
		upper := envKeyFromName(n.key)
		apiKey := getEnv(upper+"_API_KEY", "")
		if apiKey == "" {
			continue
		}
		providers[n.key] = ProviderConfig{
			Name:              n.key,
			APIKey:            apiKey,
			CostPer1kTokens:   getEnvAsFloat(upper+"_COST_PER_1K", n.cost),
			MaxRequestsPerMin: getEnvAsInt(upper+"_MAX_RPM", 30),
			Priority:          getEnvAsInt(upper+"_PRIORITY", i+1),
		}
	}
	return providers
}

// splitCSV splits a comma-separated env value, trimming blanks, returning
// nil for an empty input so callers can treat "no recipients" as unset.
func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if part := strings.TrimSpace(v[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func envKeyFromName(name string) string {
	out := make([]byte, 0, len(name))
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
