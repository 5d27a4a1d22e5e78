package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Subscriber receives events emitted through a Bus.
type Subscriber func(EventWithData)

// Bus fans typed events out to in-process subscribers (the SSE handler,
// AlertRouter backends) and logs every emission, matching the teacher's
// events.Manager pattern generalized beyond map[string]interface{} payloads.
type Bus struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[int]Subscriber
	next int
}

// NewBus creates an event bus scoped to the given logger.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "events").Logger(),
		subs: make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber and returns an unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit publishes an event to every current subscriber and logs it.
func (b *Bus) Emit(module string, data EventData) {
	evt := EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}
	b.log.Info().
		Str("event_type", string(evt.Type)).
		Str("module", module).
		Msg("event emitted")

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// EmitError emits an ErrorOccurred event.
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	b.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}
