package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one message. A returned error is logged.
type MessageHandler = func(topic string, payload []byte) error

// Client is the broker connection shared by the remotes and script events
// of one runner process. It announces the runner on Topics.RunnerStatus and
// restores its subscriptions after every reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	topics   Topics
	clientID string

	connected atomic.Bool
	attempts  atomic.Int32

	subMu sync.Mutex
	subs  map[string]subscription

	hookMu       sync.RWMutex
	log          Logger
	onConnect    func()
	onDisconnect func(error)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to ten seconds for the session.
// The runner is announced online once connected and offline by the broker
// if the connection is later lost.
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		topics:   topics,
		clientID: cfg.Broker.ClientID,
		subs:     make(map[string]subscription),
	}

	will := newRunnerStatus(c.clientID, StatusOffline, ReasonConnection)
	opts := clientOptions(cfg, topics.RunnerStatus(c.clientID), will).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) { c.reconnecting() })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: no session after %v", ErrConnect, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	// The connect handler runs asynchronously; callers may publish now.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.attempts.Store(0)

	c.subMu.Lock()
	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
	}
	c.subMu.Unlock()

	c.announce(StatusOnline, "")

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	c.hookMu.RLock()
	fn := c.onDisconnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// reconnecting counts attempts and gives up past reconnect.max_attempts.
// Zero means retry forever.
func (c *Client) reconnecting() {
	n := int(c.attempts.Add(1))
	limit := c.cfg.Reconnect.MaxAttempts
	log := c.logger()

	if limit > 0 && n > limit {
		if log != nil {
			log.Error("MQTT reconnect attempts exhausted", "client_id", c.clientID, "attempts", limit)
		}
		go c.client.Disconnect(0)
		return
	}
	if log != nil {
		log.Warn("MQTT reconnecting", "client_id", c.clientID, "attempt", n)
	}
}

func (c *Client) announce(status, reason string) pahomqtt.Token {
	s := newRunnerStatus(c.clientID, status, reason)
	return c.client.Publish(c.topics.RunnerStatus(c.clientID), byte(c.cfg.QoS), true, s.payload())
}

// Close announces a graceful shutdown and disconnects. It is a no-op on a
// client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(StatusOffline, ReasonShutdown).WaitTimeout(operationWait)
	}
	c.client.Disconnect(disconnectGrace)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers fn for the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers fn for lost connections.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and reconnects are reported.
func (c *Client) SetLogger(log Logger) {
	c.hookMu.Lock()
	c.log = log
	c.hookMu.Unlock()
}

func (c *Client) logger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.log
}

// Subscriptions returns the tracked topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// dispatch adapts handler to paho. Panics and errors are logged; a
// misbehaving script handler must not take the connection down.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.logger(); log != nil {
					log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.logger(); log != nil {
				log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
