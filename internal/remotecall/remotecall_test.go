package remotecall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	policy := DefaultPolicy(nil)
	policy.BackoffBase = time.Millisecond

	res := Do(context.Background(), policy, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.Equal(t, 3, attempts)
	assert.NoError(t, res.LastErr)
}

func TestDo_RateLimitStopsImmediately(t *testing.T) {
	attempts := 0
	policy := DefaultPolicy(nil)

	res := Do(context.Background(), policy, func(context.Context) error {
		attempts++
		return errors.New("rate limit reached, try again in 2m30s")
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, RateLimit, res.Classification)
	require.False(t, res.CooldownUntil.IsZero())
	assert.InDelta(t, 150*time.Second, time.Until(res.CooldownUntil), float64(2*time.Second))
}

func TestDo_UnavailableStopsImmediately(t *testing.T) {
	attempts := 0
	res := Do(context.Background(), DefaultPolicy(nil), func(context.Context) error {
		attempts++
		return errors.New("model not found")
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, Unavailable, res.Classification)
}

func TestDo_ExhaustsMaxAttemptsOnPersistentTransient(t *testing.T) {
	attempts := 0
	policy := Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, Classify: DefaultClassifier}

	res := Do(context.Background(), policy, func(context.Context) error {
		attempts++
		return errors.New("connection refused")
	})

	assert.Equal(t, 3, attempts)
	assert.Equal(t, Transient, res.Classification)
	assert.Error(t, res.LastErr)
}

func TestParseRateLimitCooldown_Forms(t *testing.T) {
	cases := []struct {
		msg  string
		want time.Duration
	}{
		{"rate limit reached, try again in 45s", 45 * time.Second},
		{"rate limit reached, try again in 1m30s", 90 * time.Second},
		{"429: retry in 2 minutes", 2 * time.Minute},
		{"429: retry in 10 seconds", 10 * time.Second},
		{"rate limit, unknown format", defaultRateLimitCooldown},
	}

	for _, tc := range cases {
		got := parseRateLimitCooldown(tc.msg)
		assert.Equal(t, tc.want, got, tc.msg)
	}
}

func TestDefaultClassifier_BenignModelMentionIsTransient(t *testing.T) {
	class, _ := DefaultClassifier(errors.New("the model response was truncated unexpectedly"))
	assert.Equal(t, Transient, class)
}

func TestDefaultClassifier_DeadlineExceededIsTransient(t *testing.T) {
	class, _ := DefaultClassifier(context.DeadlineExceeded)
	assert.Equal(t, Transient, class)
}
