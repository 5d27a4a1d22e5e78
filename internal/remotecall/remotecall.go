// Package remotecall holds the retry/backoff/error-classification logic
// for outbound calls. ProviderRouter routes every LLM completion through
// Do; the gateway's pub/sub calls and the store writes call their
// backends directly and do not go through Do.
package remotecall

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Classification is the outcome of classifying a failed remote call.
type Classification string

const (
	Transient   Classification = "TRANSIENT"
	RateLimit   Classification = "RATE_LIMIT"
	Unavailable Classification = "UNAVAILABLE"
	Permanent   Classification = "PERMANENT"
)

// Classifier inspects an error (and, where available, response metadata)
// and returns a Classification plus an optional cooldown hint for
// RateLimit results.
type Classifier func(err error) (Classification, time.Duration)

// Policy parameterizes a single Do call.
type Policy struct {
	Deadline   time.Duration // overall deadline across all attempts; 0 = no deadline
	MaxAttempts int          // bounded retry count for TRANSIENT classifications
	BackoffBase time.Duration // base for exponential backoff: BackoffBase * 2^attempt
	Classify    Classifier
}

// DefaultPolicy matches spec defaults: small fixed retry count with
// 0.2s * 2^attempt backoff.
func DefaultPolicy(classify Classifier) Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: 200 * time.Millisecond,
		Classify:    classify,
	}
}

// Result carries the outcome of a Do call for callers that need the final
// classification (e.g. ProviderRouter updating circuit-breaker state).
type Result struct {
	Attempts       int
	LastErr        error
	Classification Classification
	CooldownUntil  time.Time // set only when Classification == RateLimit
}

// Do executes fn, retrying locally on TRANSIENT classifications with
// exponential backoff up to MaxAttempts, honoring ctx cancellation and an
// overall Deadline. RATE_LIMIT, UNAVAILABLE, and PERMANENT classifications
// return immediately without local retry — callers are expected to fail
// over to a peer (ProviderRouter) or surface a structured failure.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) Result {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}

	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var result Result
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1

		err := fn(ctx)
		if err == nil {
			result.LastErr = nil
			result.Classification = ""
			return result
		}

		result.LastErr = err
		class, cooldown := p.Classify(err)
		result.Classification = class

		switch class {
		case Transient:
			if attempt == p.MaxAttempts-1 {
				return result
			}
			backoff := time.Duration(float64(p.BackoffBase) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				result.LastErr = ctx.Err()
				return result
			case <-time.After(backoff):
			}
		case RateLimit:
			result.CooldownUntil = time.Now().Add(cooldown)
			return result
		case Unavailable, Permanent:
			return result
		default:
			return result
		}
	}

	return result
}

var (
	rateLimitPhrase = regexp.MustCompile(`(?i)rate limit|429`)
	tryAgainIn      = regexp.MustCompile(`(?i)try again in\s+(?:(\d+)m)?(\d+(?:\.\d+)?)s`)
	retryInUnits    = regexp.MustCompile(`(?i)retry in\s+(\d+)\s*(second|minute)s?`)
	unixMsReset     = regexp.MustCompile(`(?i)reset(?:\s*at|=)?\s*(\d{10,13})`)

	modelNotFound = regexp.MustCompile(`(?i)model not found|no endpoints found|404`)
)

const defaultRateLimitCooldown = 5 * time.Minute

// DefaultClassifier implements the classification rules: explicit rate-limit
// signals, narrowly-scoped model-unavailable signals, and everything else as
// transient (deadline exceeded included).
func DefaultClassifier(err error) (Classification, time.Duration) {
	if err == nil {
		return Transient, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient, 0
	}

	msg := err.Error()

	if rateLimitPhrase.MatchString(msg) {
		return RateLimit, parseRateLimitCooldown(msg)
	}

	if modelNotFound.MatchString(msg) {
		return Unavailable, 0
	}

	return Transient, 0
}

// parseRateLimitCooldown recognizes the patterns the specification commits
// to: "try again in X[mY]s", "retry in N {seconds|minutes}", and unix-ms
// reset timestamps. Anything else falls back to a default 5 minute cooldown.
func parseRateLimitCooldown(msg string) time.Duration {
	if m := tryAgainIn.FindStringSubmatch(msg); m != nil {
		var minutes float64
		if m[1] != "" {
			minutes, _ = strconv.ParseFloat(m[1], 64)
		}
		seconds, _ := strconv.ParseFloat(m[2], 64)
		return time.Duration(minutes*60+seconds) * time.Second
	}

	if m := retryInUnits.FindStringSubmatch(msg); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := strings.ToLower(m[2])
		if unit == "minute" {
			return time.Duration(n) * time.Minute
		}
		return time.Duration(n) * time.Second
	}

	if m := unixMsReset.FindStringSubmatch(msg); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			resetAt := time.UnixMilli(ms)
			if d := time.Until(resetAt); d > 0 {
				return d
			}
		}
	}

	return defaultRateLimitCooldown
}
