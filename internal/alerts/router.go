// Package alerts implements AlertRouter: a fan-out to zero or more
// notification backends where one backend's failure never blocks another's
// delivery, and the durable store backend is the only mandatory one.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/stores"
)

// Alert is the payload routed to every backend. It mirrors stores.Alert but
// is kept distinct so callers don't need to depend on the stores package
// just to raise an alert.
type Alert struct {
	Type      string
	Message   string
	Severity  stores.Severity
	Details   map[string]interface{}
	Source    string
	Timestamp time.Time
}

// Backend delivers one Alert. SendAlert returning false (with no error)
// means the backend declined delivery (e.g. below its severity floor); an
// error means delivery failed outright. Either way the Router logs and
// moves on to the next backend.
type Backend interface {
	Name() string
	SendAlert(ctx context.Context, a Alert) (bool, error)
}

// Router fans an Alert out to every registered Backend. It never blocks one
// backend's failure from reaching the others.
type Router struct {
	log      zerolog.Logger
	store    stores.AlertStore
	backends []Backend

	mu      sync.Mutex
	seq     int
}

// New constructs a Router with its mandatory durable backend. Optional
// backends (webhook, SMTP) are added via AddBackend.
func New(log zerolog.Logger, store stores.AlertStore) *Router {
	return &Router{
		log:   log.With().Str("component", "alert_router").Logger(),
		store: store,
	}
}

// AddBackend registers an optional best-effort backend such as a webhook or
// SMTP sender.
func (r *Router) AddBackend(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// Route persists the alert via the mandatory store and attempts delivery
// through every optional backend, isolating failures from one another. It
// returns the number of backends (excluding the store) that accepted the
// alert.
func (r *Router) Route(a Alert) int {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	record := stores.Alert{
		ID:        uuid.NewString(),
		Type:      a.Type,
		Message:   a.Message,
		Severity:  a.Severity,
		Details:   a.Details,
		Source:    a.Source,
		Timestamp: a.Timestamp,
	}

	if r.store != nil {
		if err := r.store.PutAlert(record); err != nil {
			r.log.Error().Err(err).Str("type", a.Type).Msg("failed to persist alert")
		}
	}

	r.log.Info().
		Str("type", a.Type).
		Str("severity", string(a.Severity)).
		Str("source", a.Source).
		Msg(a.Message)

	r.mu.Lock()
	backends := append([]Backend(nil), r.backends...)
	r.mu.Unlock()

	delivered := 0
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, b := range backends {
		ok, err := b.SendAlert(ctx, a)
		if err != nil {
			r.log.Warn().Err(err).Str("backend", b.Name()).Str("type", a.Type).Msg("alert backend failed")
			continue
		}
		if ok {
			delivered++
		}
	}

	return delivered
}
