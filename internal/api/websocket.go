package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Message types of the WebSocket protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelAllScripts receives every script event.
	ChannelAllScripts = "script.*"

	wsSendBufferSize = 256
)

// WSConfig holds WebSocket connection limits. Intervals are in seconds.
type WSConfig struct {
	MaxMessageSize int
	PingInterval   int
	PongTimeout    int
}

// DefaultWSConfig returns the limits used when none are given.
func DefaultWSConfig() WSConfig {
	return WSConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

func (c WSConfig) readWait() time.Duration {
	return time.Duration(c.PingInterval+c.PongTimeout) * time.Second
}

func (c WSConfig) writeWait() time.Duration {
	return time.Duration(c.PongTimeout) * time.Second
}

// WSMessage is a message sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, script indexes.
// Without indexes a client sees every script.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Indexes  []int    `json:"indexes,omitempty"`
}

// ScriptEvent is the payload of a relayed script message.
type ScriptEvent struct {
	Index int             `json:"index"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

// ScriptChannel is the WebSocket channel of script events of kind, e.g.
// "script.checkpoint".
func ScriptChannel(kind string) string {
	return "script." + kind
}

// subscribeScriptEvents subscribes to every script topic of the namespace
// and relays each message to the hub.
func (s *Server) subscribeScriptEvents() error {
	if s.events == nil {
		return nil
	}
	topic := s.topics.AllScriptTopics()
	s.logger.Info("relaying script events to WebSocket clients", "topic", topic)
	return s.events.Subscribe(topic, s.qos, s.relayScriptEvent)
}

func (s *Server) relayScriptEvent(topic string, payload []byte) error {
	st, ok := s.topics.ParseScriptTopic(topic)
	if !ok {
		return nil
	}
	if !json.Valid(payload) {
		s.logger.Warn("dropping malformed script event", "topic", topic)
		return nil
	}
	s.hub.Publish(ScriptEvent{Index: st.Index, Kind: st.Kind, Data: json.RawMessage(payload)})
	return nil
}

// handleWebSocket upgrades the request. Browsers are held to the CORS
// origin list.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.Register(client)
	s.logger.Debug("websocket relay attached", "subject", info(r).Subject)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg WSConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(cfg.readWait())) }
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any message counts.
		//nolint:errcheck // as above
		extend()
		c.handle(data)
	}
}

func (c *WSClient) writePump(cfg WSConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // the write below fails on a dead connection
		c.conn.SetWriteDeadline(time.Now().Add(cfg.writeWait()))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // closing anyway
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil || (len(p.Channels) == 0 && len(p.Indexes) == 0) {
			c.reply(req.ID, WSTypeError, errorPayload("payload must name channels or indexes"))
			return
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(p)
		} else {
			c.unsubscribe(p)
		}
		c.reply(req.ID, WSTypeResponse, c.filters())
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

// reply answers a request. Replies go through the same queue as events.
func (c *WSClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.deliver(data)
	}
}
