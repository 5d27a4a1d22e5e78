// Package gateway implements FanOutGateway: a dumb forwarder that accepts
// long-lived websocket client connections, subscribes upstream on their
// behalf, and relays pub/sub traffic with ACL enforcement and one
// process-global sequence counter shared by all clients. It carries no
// trading logic of its own.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/sentinel-core/internal/events"
	"github.com/aristath/sentinel-core/internal/external"
)

// Config holds the gateway's guardrail constants.
type Config struct {
	MaxChannelsPerClient   int
	MaxWildcardsPerClient  int
	DefaultRole            string
	ReceivePollTimeout     time.Duration
}

// DefaultConfig matches the reference gateway's guardrail defaults.
func DefaultConfig() Config {
	return Config{
		MaxChannelsPerClient:  50,
		MaxWildcardsPerClient: 5,
		DefaultRole:           "user",
		ReceivePollTimeout:    1 * time.Second,
	}
}

// Authenticator assigns a role to an inbound connection, e.g. from a
// bearer token or API key query parameter. It never implements business
// logic beyond identity -> role mapping.
type Authenticator func(r *http.Request) (role string, ok bool)

// Gateway is FanOutGateway.
type Gateway struct {
	log    zerolog.Logger
	pubsub external.PubSub
	acl    ACL
	cfg    Config
	authn  Authenticator
	bus    *events.Bus

	seq uint64

	mu                sync.RWMutex
	clients           map[string]*client
	channelSubscribers map[string]map[string]bool // channel -> client IDs
	patternSubscribers map[string]map[string]bool // pattern -> client IDs

	upstreamChannels map[string]bool
	upstreamPatterns map[string]bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New constructs a Gateway forwarding from pubsub under acl/cfg.
func New(log zerolog.Logger, pubsub external.PubSub, acl ACL, cfg Config, authn Authenticator, bus *events.Bus) *Gateway {
	if authn == nil {
		authn = func(r *http.Request) (string, bool) { return cfg.DefaultRole, true }
	}
	return &Gateway{
		log:                log.With().Str("component", "gateway").Logger(),
		pubsub:             pubsub,
		acl:                acl,
		cfg:                cfg,
		authn:              authn,
		bus:                bus,
		clients:            make(map[string]*client),
		channelSubscribers: make(map[string]map[string]bool),
		patternSubscribers: make(map[string]map[string]bool),
		upstreamChannels:   make(map[string]bool),
		upstreamPatterns:   make(map[string]bool),
	}
}

func (g *Gateway) nextSeq() uint64 {
	return atomic.AddUint64(&g.seq, 1)
}

// Start launches the receive loop relaying upstream pub/sub messages to
// subscribed clients. It idles gracefully via ReceivePollTimeout when no
// subscriptions exist yet.
func (g *Gateway) Start(ctx context.Context) {
	g.runMu.Lock()
	if g.running {
		g.runMu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.running = true
	g.runMu.Unlock()

	go g.receiveLoop(runCtx)
}

// Stop ends the receive loop. It does not close existing client
// connections; callers close those via ServeHTTP's return.
func (g *Gateway) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.running = false
}

func (g *Gateway) receiveLoop(ctx context.Context) {
	timeout := g.cfg.ReceivePollTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := g.pubsub.GetMessage(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.log.Warn().Err(err).Msg("pubsub receive error")
			continue
		}
		if !ok {
			continue
		}
		g.dispatch(ctx, msg)
	}
}

// dispatch fans one upstream message out to every client subscribed to its
// channel or to a matching pattern, processing one message at a time
// without holding the poll loop.
func (g *Gateway) dispatch(ctx context.Context, msg external.Message) {
	var payload interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		payload = string(msg.Payload)
	}

	g.mu.RLock()
	recipients := make(map[string]bool)
	for id := range g.channelSubscribers[msg.Channel] {
		recipients[id] = true
	}
	for pattern, ids := range g.patternSubscribers {
		if matchGlob(pattern, msg.Channel) {
			for id := range ids {
				recipients[id] = true
			}
		}
	}
	clientsByID := make(map[string]*client, len(recipients))
	for id := range recipients {
		if c, ok := g.clients[id]; ok {
			clientsByID[id] = c
		}
	}
	g.mu.RUnlock()

	for id, c := range clientsByID {
		out := ServerMessage{
			Type:      "data",
			Seq:       g.nextSeq(),
			Timestamp: isoNow(),
			Channel:   msg.Channel,
			Pattern:   msg.Pattern,
			Data:      payload,
		}
		if err := c.send(ctx, out); err != nil {
			g.log.Debug().Err(err).Str("client", id).Msg("send failed, disconnecting client")
			g.disconnect(id, "send failure")
		}
	}
}

// ServeHTTP upgrades the request to a websocket connection and services it
// until the client disconnects or the context is canceled.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role, ok := g.authn(r)
	if !ok {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	id := uuid.NewString()
	c := newClient(id, role, conn)

	g.mu.Lock()
	g.clients[id] = c
	g.mu.Unlock()

	g.log.Info().Str("client", id).Str("role", role).Msg("client connected")
	if g.bus != nil {
		g.bus.Emit("gateway", &events.GatewayClientConnectedData{ClientID: id})
	}

	ctx := r.Context()
	_ = c.send(ctx, ServerMessage{Type: "connected", Seq: g.nextSeq(), Timestamp: isoNow(), ClientID: id, Role: role})

	g.readLoop(ctx, c)

	g.disconnect(id, "connection closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				g.log.Debug().Str("client", c.id).Msg("websocket closed normally")
			} else if ctx.Err() != nil {
				g.log.Debug().Str("client", c.id).Msg("read cancelled by context")
			} else {
				g.log.Debug().Err(err).Str("client", c.id).Msg("unexpected websocket read error")
			}
			return
		}

		var in ClientMessage
		if err := json.Unmarshal(data, &in); err != nil {
			_ = c.send(ctx, ServerMessage{Type: "error", Seq: g.nextSeq(), Timestamp: isoNow(), Error: "invalid JSON"})
			continue
		}

		switch in.Action {
		case "subscribe":
			g.handleSubscribe(ctx, c, in)
		case "unsubscribe":
			g.handleUnsubscribe(ctx, c, in)
		case "ping":
			_ = c.send(ctx, ServerMessage{Type: "pong", Seq: g.nextSeq(), Timestamp: isoNow(), RequestID: in.RequestID})
		default:
			_ = c.send(ctx, ServerMessage{Type: "error", Seq: g.nextSeq(), Timestamp: isoNow(), Error: fmt.Sprintf("unknown action: %s", in.Action), RequestID: in.RequestID})
		}
	}
}

func (g *Gateway) handleSubscribe(ctx context.Context, c *client, in ClientMessage) {
	var subscribed []string
	var errs []string

	for _, ch := range in.Channels {
		if c.subscriptionCount() >= g.cfg.MaxChannelsPerClient {
			errs = append(errs, fmt.Sprintf("max channels exceeded (%d)", g.cfg.MaxChannelsPerClient))
			break
		}
		wildcard := isWildcard(ch)
		if wildcard && c.wildcardCount() >= g.cfg.MaxWildcardsPerClient {
			errs = append(errs, fmt.Sprintf("max wildcard subscriptions exceeded (%d)", g.cfg.MaxWildcardsPerClient))
			continue
		}
		if !g.acl.Allows(c.role, ch) {
			errs = append(errs, fmt.Sprintf("access denied to channel: %s", ch))
			continue
		}

		c.mu.Lock()
		if wildcard {
			c.subscribedPatterns[ch] = true
		} else {
			c.subscribedChannels[ch] = true
		}
		c.mu.Unlock()

		g.mu.Lock()
		if wildcard {
			if g.patternSubscribers[ch] == nil {
				g.patternSubscribers[ch] = make(map[string]bool)
			}
			g.patternSubscribers[ch][c.id] = true
		} else {
			if g.channelSubscribers[ch] == nil {
				g.channelSubscribers[ch] = make(map[string]bool)
			}
			g.channelSubscribers[ch][c.id] = true
		}
		g.mu.Unlock()

		subscribed = append(subscribed, ch)
	}

	if len(subscribed) > 0 {
		g.reconcileUpstream(ctx)
	}

	_ = c.send(ctx, ServerMessage{
		Type:      "subscribed",
		Seq:       g.nextSeq(),
		Timestamp: isoNow(),
		Channels:  subscribed,
		Errors:    errs,
		RequestID: in.RequestID,
	})
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, c *client, in ClientMessage) {
	var unsubscribed []string

	for _, ch := range in.Channels {
		wildcard := isWildcard(ch)

		c.mu.Lock()
		var had bool
		if wildcard {
			if c.subscribedPatterns[ch] {
				delete(c.subscribedPatterns, ch)
				had = true
			}
		} else if c.subscribedChannels[ch] {
			delete(c.subscribedChannels, ch)
			had = true
		}
		c.mu.Unlock()

		if !had {
			continue
		}

		g.mu.Lock()
		if wildcard {
			delete(g.patternSubscribers[ch], c.id)
		} else {
			delete(g.channelSubscribers[ch], c.id)
		}
		g.mu.Unlock()

		unsubscribed = append(unsubscribed, ch)
	}

	if len(unsubscribed) > 0 {
		g.reconcileUpstream(ctx)
	}

	_ = c.send(ctx, ServerMessage{
		Type:      "unsubscribed",
		Seq:       g.nextSeq(),
		Timestamp: isoNow(),
		Channels:  unsubscribed,
		RequestID: in.RequestID,
	})
}

// reconcileUpstream recomputes the full upstream subscription set from
// every client's current subscriptions, subscribing to newly-needed
// channels/patterns and unsubscribing from ones no client wants anymore.
// It never blocks waiting for upstream acknowledgment.
func (g *Gateway) reconcileUpstream(ctx context.Context) {
	g.mu.RLock()
	wantChannels := make(map[string]bool, len(g.channelSubscribers))
	for ch, subs := range g.channelSubscribers {
		if len(subs) > 0 {
			wantChannels[ch] = true
		}
	}
	wantPatterns := make(map[string]bool, len(g.patternSubscribers))
	for p, subs := range g.patternSubscribers {
		if len(subs) > 0 {
			wantPatterns[p] = true
		}
	}
	g.mu.RUnlock()

	g.mu.Lock()
	for ch := range wantChannels {
		if !g.upstreamChannels[ch] {
			if err := g.pubsub.Subscribe(ctx, ch); err != nil {
				g.log.Warn().Err(err).Str("channel", ch).Msg("upstream subscribe failed")
				continue
			}
			g.upstreamChannels[ch] = true
		}
	}
	for ch := range g.upstreamChannels {
		if !wantChannels[ch] {
			if err := g.pubsub.Unsubscribe(ctx, ch); err != nil {
				g.log.Warn().Err(err).Str("channel", ch).Msg("upstream unsubscribe failed")
				continue
			}
			delete(g.upstreamChannels, ch)
		}
	}
	for p := range wantPatterns {
		if !g.upstreamPatterns[p] {
			if err := g.pubsub.PSubscribe(ctx, p); err != nil {
				g.log.Warn().Err(err).Str("pattern", p).Msg("upstream psubscribe failed")
				continue
			}
			g.upstreamPatterns[p] = true
		}
	}
	for p := range g.upstreamPatterns {
		if !wantPatterns[p] {
			if err := g.pubsub.PUnsubscribe(ctx, p); err != nil {
				g.log.Warn().Err(err).Str("pattern", p).Msg("upstream punsubscribe failed")
				continue
			}
			delete(g.upstreamPatterns, p)
		}
	}
	g.mu.Unlock()
}

// disconnect removes a client from every subscription index and recomputes
// the upstream subscription set, per the disconnect contract.
func (g *Gateway) disconnect(id string, reason string) {
	g.mu.Lock()
	if _, ok := g.clients[id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.clients, id)
	for _, subs := range g.channelSubscribers {
		delete(subs, id)
	}
	for _, subs := range g.patternSubscribers {
		delete(subs, id)
	}
	g.mu.Unlock()

	g.reconcileUpstream(context.Background())

	g.log.Info().Str("client", id).Str("reason", reason).Msg("client disconnected")
	if g.bus != nil {
		g.bus.Emit("gateway", &events.GatewayClientDroppedData{ClientID: id, Reason: reason})
	}
}

// ClientCount returns the number of currently connected clients.
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}
