package alerts

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-core/internal/stores"
)

type memAlertStore struct {
	mu   sync.Mutex
	puts []stores.Alert
}

func (m *memAlertStore) PutAlert(a stores.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, a)
	return nil
}

type fakeBackend struct {
	name    string
	fail    bool
	calls   int
	mu      sync.Mutex
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) SendAlert(ctx context.Context, a Alert) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return false, assert.AnError
	}
	return true, nil
}

func TestRouter_PersistsAndFansOut(t *testing.T) {
	store := &memAlertStore{}
	ok := &fakeBackend{name: "ok"}
	broken := &fakeBackend{name: "broken", fail: true}

	r := New(zerolog.Nop(), store)
	r.AddBackend(broken)
	r.AddBackend(ok)

	delivered := r.Route(Alert{Type: "TEST", Message: "hello", Severity: stores.SeverityWarning, Source: "test"})

	assert.Equal(t, 1, delivered)
	require.Len(t, store.puts, 1)
	assert.Equal(t, "TEST", store.puts[0].Type)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, broken.calls)
}

func TestRouter_NoBackendsStillPersists(t *testing.T) {
	store := &memAlertStore{}
	r := New(zerolog.Nop(), store)

	delivered := r.Route(Alert{Type: "TEST", Message: "solo", Severity: stores.SeverityInfo})

	assert.Equal(t, 0, delivered)
	require.Len(t, store.puts, 1)
}
