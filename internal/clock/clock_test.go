package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKV() *memoryKV { return &memoryKV{data: map[string]string{}} }

func (m *memoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestClock_NowIsRealByDefault(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	before := time.Now()
	got := c.Now(context.Background())
	after := time.Now()

	assert.False(t, c.IsVirtual(context.Background()))
	assert.True(t, !got.Before(before) && !got.After(after.Add(time.Second)))
}

func TestClock_SetVirtualThenNowReturnsIt(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	pinned := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.SetVirtual(context.Background(), pinned))

	got := c.Now(context.Background())
	assert.True(t, got.Equal(pinned))
	assert.True(t, c.IsVirtual(context.Background()))
}

func TestClock_AdvanceMovesVirtualTimeForward(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	start := time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetVirtual(context.Background(), start))

	require.NoError(t, c.Advance(context.Background(), 15*time.Minute))

	got := c.Now(context.Background())
	assert.True(t, got.Equal(start.Add(15*time.Minute)))
}

func TestClock_ClearVirtualReturnsToWallClock(t *testing.T) {
	c := New(zerolog.Nop(), nil)
	require.NoError(t, c.SetVirtual(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, c.ClearVirtual(context.Background()))

	assert.False(t, c.IsVirtual(context.Background()))
	assert.WithinDuration(t, time.Now(), c.Now(context.Background()), time.Second)
}

func TestClock_SyncsAcrossInstancesViaSharedStore(t *testing.T) {
	kv := newMemoryKV()
	producer := New(zerolog.Nop(), kv)
	consumer := New(zerolog.Nop(), kv)

	pinned := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	require.NoError(t, producer.SetVirtual(context.Background(), pinned))

	got := consumer.Now(context.Background())
	assert.True(t, got.Equal(pinned))
	assert.True(t, consumer.IsVirtual(context.Background()))
}
