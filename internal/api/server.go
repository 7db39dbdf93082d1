package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/audit"
	"github.com/nerrad567/ddc-bridge/internal/bridges/ddc"
	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DisplaySource lists configured displays. *registry.Registry satisfies it.
type DisplaySource interface {
	Snapshot() []registry.Info
	Get(index int) (registry.Info, bool)
}

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	State(ctx context.Context, index int) (map[string]engine.FeatureView, error)
	Tick(ctx context.Context) (engine.TickResult, error)
	Stats() engine.Stats
}

// CommandRouter applies commands. *engine.Router satisfies it.
type CommandRouter interface {
	Handle(ctx context.Context, source, identifier string, payload []byte) engine.Outcome
}

// HealthSource reports the current bridge health. *ddc.HealthReporter
// satisfies it.
type HealthSource interface {
	Current() ddc.HealthMessage
}

// ConnectionState reports whether a dependency is connected.
type ConnectionState interface {
	IsConnected() bool
}

// Database is the part of *database.DB the metrics endpoint reads.
type Database interface {
	Stats() sql.DBStats
	Path() string
	GetMigrationStatus(ctx context.Context) ([]database.MigrationRecord, []database.Migration, error)
}

// BrokerStats reports the embedded broker's client count. *broker.Broker
// satisfies it.
type BrokerStats interface {
	Clients() int
}

// HealthChecker is a dependency the readiness endpoint can ping.
// *mqtt.Client, *database.DB and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Displays DisplaySource
	Engine   Engine
	Router   CommandRouter
	Health   HealthSource             // optional
	Commands audit.Repository         // optional: command log listing
	MQTT     ConnectionState          // optional
	DB       Database                 // optional
	Broker   BrokerStats              // optional: embedded broker only
	Checks   map[string]HealthChecker // optional: readiness checks by name
	Version  string
}

// Server is the HTTP API server. It is created with New and started with
// Start.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	displays  DisplaySource
	engine    Engine
	router    CommandRouter
	health    HealthSource
	commands  audit.Repository
	mqtt      ConnectionState
	db        Database
	broker    BrokerStats
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates an API server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Displays == nil || deps.Engine == nil {
		return nil, fmt.Errorf("display source and engine are required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("command router is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		displays:  deps.Displays,
		engine:    deps.Engine,
		router:    deps.Router,
		health:    deps.Health,
		commands:  deps.Commands,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		broker:    deps.Broker,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// errors (port in use) are returned directly.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}(s.server)

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then closes
// remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
