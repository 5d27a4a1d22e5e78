package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// client is one connected websocket session. All outbound frames are
// serialized through send, which owns the connection-level write lock so
// concurrent dispatch (a pub/sub delivery racing a pong reply) never
// interleaves writes on the same socket.
type client struct {
	id   string
	role string
	conn *websocket.Conn

	connectedAt time.Time

	mu                 sync.Mutex
	subscribedChannels map[string]bool
	subscribedPatterns map[string]bool
	messagesSent       int64
	lastMessageAt      time.Time
}

func newClient(id, role string, conn *websocket.Conn) *client {
	return &client{
		id:                 id,
		role:               role,
		conn:               conn,
		connectedAt:        time.Now(),
		subscribedChannels: make(map[string]bool),
		subscribedPatterns: make(map[string]bool),
	}
}

func (c *client) send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}
	c.messagesSent++
	c.lastMessageAt = time.Now()
	return nil
}

func (c *client) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribedChannels) + len(c.subscribedPatterns)
}

func (c *client) wildcardCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribedPatterns)
}

func (c *client) channelsSnapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exact := make([]string, 0, len(c.subscribedChannels))
	for ch := range c.subscribedChannels {
		exact = append(exact, ch)
	}
	patterns := make([]string, 0, len(c.subscribedPatterns))
	for p := range c.subscribedPatterns {
		patterns = append(patterns, p)
	}
	return exact, patterns
}
