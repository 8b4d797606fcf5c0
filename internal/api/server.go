package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/history"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/internal/scripts"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// schemaIndex is the script index used to build instances whose schema is
// served. Those instances are never configured.
const schemaIndex = 0

// Subscriber is the message source of the WebSocket relay.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// Connection reports broker connectivity for /metrics.
type Connection interface {
	IsConnected() bool
}

var (
	_ Subscriber = (*mqtt.Client)(nil)
	_ Connection = (*mqtt.Client)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       WSConfig
	Logger   *logging.Logger
	Registry *scripts.Registry

	// Scripts builds the instances whose schemas are served.
	Scripts scripts.Deps

	// History is optional; execution endpoints return 503 without it.
	History history.Repository

	// Events is optional; it feeds the WebSocket relay from Topics.
	Events Subscriber
	Topics mqtt.Topics
	QoS    byte

	// Broker is optional and only reported in /metrics.
	Broker Connection

	Version string
}

// Server is the HTTP API server of the script monitor.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     WSConfig
	logger    *logging.Logger
	registry  *scripts.Registry
	scripts   scripts.Deps
	history   history.Repository
	events    Subscriber
	topics    mqtt.Topics
	qos       byte
	broker    Connection
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("script registry is required")
	}

	ws := deps.WS
	if ws == (WSConfig{}) {
		ws = DefaultWSConfig()
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     ws,
		logger:    deps.Logger,
		registry:  deps.Registry,
		scripts:   deps.Scripts,
		history:   deps.History,
		events:    deps.Events,
		topics:    deps.Topics,
		qos:       deps.QoS,
		broker:    deps.Broker,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the script topics of the
// namespace and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if err := s.subscribeScriptEvents(); err != nil {
		s.logger.Warn("failed to subscribe to script events for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.events != nil {
		if err := s.events.Unsubscribe(s.topics.AllScriptTopics()); err != nil {
			s.logger.Debug("unsubscribing script events", "error", err)
		}
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
