package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/sentinel-core/internal/gateway/memorybus"
)

func newTestServer(t *testing.T) (*httptest.Server, *Gateway) {
	t.Helper()
	bus := memorybus.New(16)
	gw := New(zerolog.Nop(), bus, DefaultACL(), Config{
		MaxChannelsPerClient:  10,
		MaxWildcardsPerClient: 2,
		DefaultRole:           "user",
		ReceivePollTimeout:    50 * time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gw.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	t.Cleanup(srv.Close)
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx := context.Background()
	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) ServerMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)
	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestGateway_ConnectSendsWelcome(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, ctx := dial(t, srv)

	msg := readMessage(t, ctx, conn)

	assert.Equal(t, "connected", msg.Type)
	assert.NotEmpty(t, msg.ClientID)
	assert.Equal(t, "user", msg.Role)
}

func TestGateway_SubscribeRespectsACL(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, ctx := dial(t, srv)
	readMessage(t, ctx, conn) // connected

	req, _ := json.Marshal(ClientMessage{Action: "subscribe", Channels: []string{"market:tick:AAPL", "engine:decision:AAPL"}, RequestID: "r1"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, "subscribed", msg.Type)
	assert.Equal(t, "r1", msg.RequestID)
	assert.Contains(t, msg.Channels, "market:tick:AAPL")
	require.Len(t, msg.Errors, 1)
}

func TestGateway_PingReturnsPong(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, ctx := dial(t, srv)
	readMessage(t, ctx, conn) // connected

	req, _ := json.Marshal(ClientMessage{Action: "ping", RequestID: "p1"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p1", msg.RequestID)
}

func TestGateway_DataDeliveredAfterSubscribe(t *testing.T) {
	srv, gw := newTestServer(t)
	conn, ctx := dial(t, srv)
	readMessage(t, ctx, conn) // connected

	req, _ := json.Marshal(ClientMessage{Action: "subscribe", Channels: []string{"market:tick:AAPL"}})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))
	readMessage(t, ctx, conn) // subscribed

	// reconcileUpstream has already run before the subscribed reply was
	// sent; confirm the client is registered before publishing
	require.Eventually(t, func() bool { return gw.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	payload, _ := json.Marshal(map[string]float64{"price": 101.5})
	require.NoError(t, gw.pubsub.Publish(ctx, "market:tick:AAPL", payload))

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, "data", msg.Type)
	assert.Equal(t, "market:tick:AAPL", msg.Channel)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("market:tick:*", "market:tick:AAPL"))
	assert.False(t, matchGlob("market:tick:*", "engine:decision:AAPL"))
	assert.True(t, matchGlob("market:tick:?APL", "market:tick:AAPL"))
}
