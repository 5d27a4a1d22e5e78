// Package providers implements ProviderRouter: selection among configured
// LLM providers under per-minute/per-day rate limits and a rolling failure
// window, with circuit breaking, failover, and usage accounting that
// survives restart.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/alerts"
	"github.com/aristath/sentinel-core/internal/clock"
	"github.com/aristath/sentinel-core/internal/external"
	"github.com/aristath/sentinel-core/internal/remotecall"
	"github.com/aristath/sentinel-core/internal/stores"
)

// Status is a provider's runtime availability.
type Status string

const (
	StatusAvailable   Status = "AVAILABLE"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusError       Status = "ERROR"
	StatusUnavailable Status = "UNAVAILABLE"
)

// Descriptor is a provider's static configuration. Names are unique within
// a Router and immutable after construction.
type Descriptor struct {
	Name            string
	Priority        int // lower = preferred
	ModelID         string
	PerMinuteLimit  int
	PerDayLimit     int
	PerDayTokenQuota int // 0 = unbounded
	CostPer1kTokens float64
}

// State is a provider's mutable runtime state.
type State struct {
	Status              Status
	RequestsThisMinute   int
	RequestsToday        int64
	TokensToday          int64
	MinuteWindowStart    time.Time
	LastErrorMessage     string
	LastErrorAt          time.Time
	CooldownUntil        time.Time
	ConsecutiveFailures  int
}

// Snapshot is the read-only view status() returns, including the
// supplemented per-provider cost accounting.
type Snapshot struct {
	Descriptor         Descriptor
	State              State
	EstimatedCostToday float64
}

const (
	circuitFailureThreshold = 2
	circuitCooldown         = 30 * time.Second
	unavailableCooldown     = 24 * time.Hour
	softThrottleCount       = 20 // requests/minute above which a provider is deprioritized, not excluded
	dailyRolloverHour       = 0
)

type provider struct {
	descriptor Descriptor
	state      State
	client     external.LLMProvider
}

// Router selects providers, enforces limits, and fails over on error.
type Router struct {
	log      zerolog.Logger
	clock    *clock.Clock
	alerter  *alerts.Router
	usage    stores.UsageStore

	mu        sync.Mutex
	providers []*provider

	roundRobinIdx int
}

// New constructs a Router with no providers; add them with Register, in
// any order — pickEligible sorts eligible providers by priority.
func New(log zerolog.Logger, clk *clock.Clock, alerter *alerts.Router, usage stores.UsageStore) *Router {
	return &Router{
		log:     log.With().Str("component", "provider_router").Logger(),
		clock:   clk,
		alerter: alerter,
		usage:   usage,
	}
}

// Register adds a provider, loading its today's usage counters from the
// UsageStore so accounting survives restart.
func (r *Router) Register(descriptor Descriptor, client external.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.providers {
		if p.descriptor.Name == descriptor.Name {
			return fmt.Errorf("provider %s already registered", descriptor.Name)
		}
	}

	p := &provider{descriptor: descriptor, client: client, state: State{Status: StatusAvailable}}
	if r.usage != nil {
		requests, tokens, err := r.usage.GetUsage(descriptor.Name, r.clock.Now(context.Background()))
		if err != nil {
			return fmt.Errorf("load usage for %s: %w", descriptor.Name, err)
		}
		p.state.RequestsToday = requests
		p.state.TokensToday = tokens
	}
	r.providers = append(r.providers, p)
	return nil
}

// CallOverrides configures a single Call invocation.
type CallOverrides struct {
	Model             string
	Temperature       float64
	MaxTokens         int
	PreferredProvider string
}

// Response is the result of a successful Call.
type Response struct {
	Text       string
	Provider   string
	TokensUsed int
	Model      string
}

// Call selects an eligible provider, attempts the completion, and fails
// over to the next eligible provider on failure. It returns the aggregated
// last error when no provider remains eligible.
func (r *Router) Call(ctx context.Context, systemPrompt, userMessage string, overrides CallOverrides) (Response, error) {
	var lastErr error

	for {
		p := r.pickEligible(overrides.PreferredProvider)
		if p == nil {
			if lastErr == nil {
				lastErr = fmt.Errorf("no eligible providers configured")
			}
			r.alerter.Route(alerts.Alert{
				Type:     "ALL_PROVIDERS_FAILED",
				Message:  "no eligible LLM provider remains",
				Severity: stores.SeverityCritical,
				Source:   "provider_router",
			})
			return Response{}, fmt.Errorf("all providers failed: %w", lastErr)
		}

		params := external.CompletionParams{
			Model:       firstNonEmpty(overrides.Model, p.descriptor.ModelID),
			Temperature: overrides.Temperature,
			MaxTokens:   overrides.MaxTokens,
		}

		policy := remotecall.DefaultPolicy(remotecall.DefaultClassifier)
		var completion external.Completion
		result := remotecall.Do(ctx, policy, func(ctx context.Context) error {
			c, err := p.client.Complete(ctx, systemPrompt, userMessage, params)
			if err != nil {
				return err
			}
			completion = c
			return nil
		})

		if result.LastErr == nil {
			r.recordSuccess(p, completion, systemPrompt, userMessage)
			return Response{
				Text:       completion.Text,
				Provider:   p.descriptor.Name,
				TokensUsed: completion.TokensUsed,
				Model:      params.Model,
			}, nil
		}

		lastErr = result.LastErr
		r.recordFailure(p, result)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// pickEligible applies the selection algorithm: eligible = available,
// circuit closed, within rate limits; preferred provider wins if eligible;
// otherwise lowest priority, with soft-throttled providers deprioritized.
func (r *Router) pickEligible(preferred string) *provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now(context.Background())
	r.recoverLocked(now)

	var eligible []*provider
	for _, p := range r.providers {
		if r.isEligibleLocked(p, now) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	if preferred != "" {
		for _, p := range eligible {
			if p.descriptor.Name == preferred {
				return p
			}
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		iThrottled := eligible[i].state.RequestsThisMinute > softThrottleCount
		jThrottled := eligible[j].state.RequestsThisMinute > softThrottleCount
		if iThrottled != jThrottled {
			return !iThrottled
		}
		return eligible[i].descriptor.Priority < eligible[j].descriptor.Priority
	})

	return eligible[0]
}

func (r *Router) isEligibleLocked(p *provider, now time.Time) bool {
	if p.state.Status != StatusAvailable {
		return false
	}
	if p.descriptor.PerMinuteLimit > 0 {
		r.rollMinuteWindowLocked(p, now)
		if p.state.RequestsThisMinute >= p.descriptor.PerMinuteLimit {
			return false
		}
	}
	if p.descriptor.PerDayLimit > 0 && p.state.RequestsToday >= int64(p.descriptor.PerDayLimit) {
		return false
	}
	if p.descriptor.PerDayTokenQuota > 0 && p.state.TokensToday >= int64(p.descriptor.PerDayTokenQuota) {
		return false
	}
	return true
}

func (r *Router) rollMinuteWindowLocked(p *provider, now time.Time) {
	if now.Sub(p.state.MinuteWindowStart) >= time.Minute {
		p.state.MinuteWindowStart = now
		p.state.RequestsThisMinute = 0
	}
}

// recoverLocked clears cooldowns that have elapsed. Callers must hold r.mu.
func (r *Router) recoverLocked(now time.Time) {
	for _, p := range r.providers {
		if !p.state.CooldownUntil.IsZero() && !now.After(p.state.CooldownUntil) {
			continue
		}
		if p.state.Status == StatusRateLimited || p.state.Status == StatusError {
			p.state.Status = StatusAvailable
			p.state.ConsecutiveFailures = 0
			r.alerter.Route(alerts.Alert{
				Type:     "CIRCUIT_BREAKER_RESET",
				Message:  fmt.Sprintf("%s recovered", p.descriptor.Name),
				Severity: stores.SeverityInfo,
				Source:   "provider_router",
				Details:  map[string]interface{}{"provider": p.descriptor.Name},
			})
		}
	}
}

func (r *Router) recordSuccess(p *provider, completion external.Completion, systemPrompt, userMessage string) {
	r.mu.Lock()
	now := r.clock.Now(context.Background())
	r.rollMinuteWindowLocked(p, now)
	p.state.RequestsThisMinute++
	p.state.RequestsToday++

	tokens := int64(completion.TokensUsed)
	if tokens == 0 {
		tokens = int64(approximateTokens(systemPrompt, userMessage, completion.Text))
	}
	p.state.TokensToday += tokens
	p.state.ConsecutiveFailures = 0
	name := p.descriptor.Name
	quota := p.descriptor.PerDayTokenQuota
	tokensToday := p.state.TokensToday
	r.mu.Unlock()

	if r.usage != nil {
		if err := r.usage.IncrementUsage(name, now, 1, tokens); err != nil {
			r.log.Warn().Err(err).Str("provider", name).Msg("failed to persist usage")
		}
	}

	r.alertOnQuotaThreshold(name, quota, tokensToday-tokens, tokensToday)
}

func approximateTokens(parts ...string) int {
	words := 0
	for _, s := range parts {
		inWord := false
		for _, r := range s {
			if r == ' ' || r == '\n' || r == '\t' {
				inWord = false
				continue
			}
			if !inWord {
				words++
				inWord = true
			}
		}
	}
	return words
}

var quotaThresholds = []float64{0.75, 0.90, 0.95, 1.0}

func (r *Router) alertOnQuotaThreshold(provider string, quota int, prevTokens, tokensToday int64) {
	if quota <= 0 {
		return
	}
	pct := float64(tokensToday) / float64(quota)
	prevPct := float64(prevTokens) / float64(quota)
	for _, threshold := range quotaThresholds {
		if prevPct < threshold && pct >= threshold {
			severity := stores.SeverityWarning
			if threshold >= 1.0 {
				severity = stores.SeverityCritical
			}
			r.alerter.Route(alerts.Alert{
				Type:     "PROVIDER_QUOTA_THRESHOLD",
				Message:  fmt.Sprintf("%s crossed %.0f%% of daily token quota", provider, threshold*100),
				Severity: severity,
				Source:   "provider_router",
				Details:  map[string]interface{}{"provider": provider, "threshold": threshold},
			})
		}
	}
}

func (r *Router) recordFailure(p *provider, result remotecall.Result) {
	r.mu.Lock()
	now := r.clock.Now(context.Background())
	p.state.LastErrorMessage = result.LastErr.Error()
	p.state.LastErrorAt = now

	switch result.Classification {
	case remotecall.RateLimit:
		p.state.Status = StatusRateLimited
		p.state.CooldownUntil = result.CooldownUntil
	case remotecall.Unavailable, remotecall.Permanent:
		p.state.Status = StatusUnavailable
		p.state.CooldownUntil = now.Add(unavailableCooldown)
	default: // Transient, exhausted local retries
		p.state.ConsecutiveFailures++
		if p.state.ConsecutiveFailures >= circuitFailureThreshold {
			p.state.Status = StatusError
			p.state.CooldownUntil = now.Add(circuitCooldown)
		}
	}
	name := p.descriptor.Name
	status := p.state.Status
	cooldown := p.state.CooldownUntil
	r.mu.Unlock()

	severity := stores.SeverityWarning
	if status == StatusUnavailable {
		severity = stores.SeverityCritical
	}
	if status != StatusAvailable {
		r.alerter.Route(alerts.Alert{
			Type:     fmt.Sprintf("PROVIDER_%s", status),
			Message:  fmt.Sprintf("%s transitioned to %s: %s", name, status, result.LastErr),
			Severity: severity,
			Source:   "provider_router",
			Details:  map[string]interface{}{"provider": name, "cooldown_until": cooldown},
		})
	}
}

// Status returns a point-in-time snapshot of every registered provider,
// including the supplemented estimated daily cost.
func (r *Router) Status() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.providers))
	for _, p := range r.providers {
		out[p.descriptor.Name] = Snapshot{
			Descriptor:         p.descriptor,
			State:              p.state,
			EstimatedCostToday: float64(p.state.TokensToday) / 1000.0 * p.descriptor.CostPer1kTokens,
		}
	}
	return out
}

// NextParallelGroupHint returns a rotating provider-name suggestion that
// AgentRuntime can pass as CallOverrides.PreferredProvider for sibling
// agents within the same phase, so concurrent callers spread across
// similarly-priced providers instead of racing for the same top choice.
func (r *Router) NextParallelGroupHint() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.providers) == 0 {
		return ""
	}
	p := r.providers[r.roundRobinIdx%len(r.providers)]
	r.roundRobinIdx++
	return p.descriptor.Name
}

// HealthSweep clears elapsed cooldowns outside of the Call path; intended
// to be invoked by a periodic cron tick per the domain-stack wiring.
func (r *Router) HealthSweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoverLocked(r.clock.Now(context.Background()))
}

// DailyRollover zeroes today's counters; intended to be invoked at the
// configured daily rollover hour.
func (r *Router) DailyRollover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		p.state.RequestsToday = 0
		p.state.TokensToday = 0
	}
}
