package api

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
)

// Hub fans relayed script events out to WebSocket clients.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds c to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes c and closes its send queue. Repeated calls are
// harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Publish sends ev to every client whose filters match it. A client whose
// queue is full misses the event; the miss is counted in Dropped.
func (h *Hub) Publish(ev ScriptEvent) {
	channel := ScriptChannel(ev.Kind)
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("encoding script event", "kind", ev.Kind, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, ev.Index) && !c.deliver(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events slow clients have missed.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// WSClient is one WebSocket connection and its subscription filters. An
// event reaches the client when its channel is subscribed (or
// ChannelAllScripts is) and, if any indexes are set, its script index is
// one of them.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	indexes  map[int]struct{}
	closed   bool
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		indexes:  make(map[int]struct{}),
	}
}

// deliver queues data without blocking. It reports false when the queue is
// full; a closed client swallows data.
func (c *WSClient) deliver(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) wants(channel string, index int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exact := c.channels[channel]
	_, all := c.channels[ChannelAllScripts]
	if !exact && !all {
		return false
	}
	if len(c.indexes) == 0 {
		return true
	}
	_, ok := c.indexes[index]
	return ok
}

func (c *WSClient) subscribe(p WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range p.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, i := range p.Indexes {
		c.indexes[i] = struct{}{}
	}
}

func (c *WSClient) unsubscribe(p WSSubscribePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range p.Channels {
		delete(c.channels, ch)
	}
	for _, i := range p.Indexes {
		delete(c.indexes, i)
	}
}

// filters returns the current subscription as a payload.
func (c *WSClient) filters() WSSubscribePayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := WSSubscribePayload{Channels: make([]string, 0, len(c.channels))}
	for ch := range c.channels {
		p.Channels = append(p.Channels, ch)
	}
	for i := range c.indexes {
		p.Indexes = append(p.Indexes, i)
	}
	sort.Strings(p.Channels)
	sort.Ints(p.Indexes)
	return p
}
