// Package memorybus implements external.PubSub purely in-process, for
// local development and tests where no Redis (or similar) broker is
// configured. It matches the semantics FanOutGateway depends on: exact and
// pattern subscriptions, a GetMessage that blocks at most a timeout, and
// idempotent (un)subscribe calls.
package memorybus

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aristath/sentinel-core/internal/external"
)

// Bus is an in-memory publish/subscribe hub.
type Bus struct {
	mu       sync.Mutex
	channels map[string]bool
	patterns map[string]*regexp.Regexp
	queue    chan external.Message
}

// New constructs a Bus with a bounded internal delivery queue.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Bus{
		channels: make(map[string]bool),
		patterns: make(map[string]*regexp.Regexp),
		queue:    make(chan external.Message, queueSize),
	}
}

// Subscribe marks channel as one the process is listening on. Idempotent.
func (b *Bus) Subscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[channel] = true
	return nil
}

// Unsubscribe removes channel from the listened set. Idempotent.
func (b *Bus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channel)
	return nil
}

// PSubscribe registers a Redis-style glob pattern (`*`, `?`).
func (b *Bus) PSubscribe(ctx context.Context, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns[pattern] = globToRegexp(pattern)
	return nil
}

// PUnsubscribe removes a pattern subscription. Idempotent.
func (b *Bus) PUnsubscribe(ctx context.Context, pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.patterns, pattern)
	return nil
}

// Publish enqueues payload for delivery to any matching channel/pattern
// subscription. A full queue drops the message rather than blocking the
// publisher, matching the "gateway must never block upstream" guarantee.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subscribed := b.channels[channel]
	var matchedPattern string
	if !subscribed {
		for pattern, re := range b.patterns {
			if re.MatchString(channel) {
				subscribed = true
				matchedPattern = pattern
				break
			}
		}
	}
	b.mu.Unlock()

	if !subscribed {
		return nil
	}

	msg := external.Message{Channel: channel, Pattern: matchedPattern, Payload: payload}
	select {
	case b.queue <- msg:
	default:
	}
	return nil
}

// GetMessage blocks up to timeout waiting for the next delivery. It returns
// ok=false (never an error) on timeout, so the gateway's receive loop can
// idle gracefully when nothing is subscribed.
func (b *Bus) GetMessage(ctx context.Context, timeout time.Duration) (external.Message, bool, error) {
	select {
	case msg := <-b.queue:
		return msg, true, nil
	case <-time.After(timeout):
		return external.Message{}, false, nil
	case <-ctx.Done():
		return external.Message{}, false, ctx.Err()
	}
}

// globToRegexp translates a Redis-style glob (`*` matches any run of
// characters, `?` matches exactly one) into an anchored regexp.
func globToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
