package memorybus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToExactSubscription(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Subscribe(context.Background(), "market:tick:AAPL"))

	require.NoError(t, b.Publish(context.Background(), "market:tick:AAPL", []byte(`{"price":1}`)))

	msg, ok, err := b.GetMessage(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "market:tick:AAPL", msg.Channel)
}

func TestBus_DeliversToPatternSubscription(t *testing.T) {
	b := New(4)
	require.NoError(t, b.PSubscribe(context.Background(), "market:tick:*"))

	require.NoError(t, b.Publish(context.Background(), "market:tick:MSFT", []byte(`{}`)))

	msg, ok, err := b.GetMessage(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "market:tick:*", msg.Pattern)
}

func TestBus_PublishWithoutSubscriberIsNoOp(t *testing.T) {
	b := New(4)

	require.NoError(t, b.Publish(context.Background(), "unsubscribed:channel", []byte(`{}`)))

	_, ok, err := b.GetMessage(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBus_GetMessageTimesOutWhenIdle(t *testing.T) {
	b := New(4)

	start := time.Now()
	_, ok, err := b.GetMessage(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
