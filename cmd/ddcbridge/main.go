// DDC Bridge - monitor control over MQTT
//
// ddcbridge keeps the input source and gamer mode of DDC/CI monitors in
// sync with retained MQTT state topics, announces every display to Home
// Assistant through MQTT discovery, and applies commands received on
// {prefix}/command/{display}:{feature}.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/api"
	"github.com/nerrad567/ddc-bridge/internal/audit"
	"github.com/nerrad567/ddc-bridge/internal/bridges/ddc"
	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
	"github.com/nerrad567/ddc-bridge/internal/ddc/hw/ddcutil"
	"github.com/nerrad567/ddc-bridge/internal/ddc/hw/simulated"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/broker"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ddc-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// auditQueueSize bounds command log entries waiting to be written.
const auditQueueSize = 256

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ddcbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Readiness checks served by the API, filled in as dependencies connect.
	checks := make(map[string]api.HealthChecker)

	// Embedded broker (optional). Started first so the client below can
	// connect to it.
	var embedded *broker.Broker
	if cfg.MQTT.Embedded.Enabled {
		b, startErr := broker.Start(broker.Config{
			Address: cfg.MQTT.Embedded.Address,
			Logger:  log.Logger,
		})
		if startErr != nil {
			return fmt.Errorf("starting embedded broker: %w", startErr)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
		embedded = b
		log.Info("embedded broker started", "address", b.Address())
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	checks["mqtt"] = mqttClient
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"topic_prefix", cfg.MQTT.TopicPrefix,
	)

	var observers engine.Observers

	// Command log (optional)
	var (
		db       *database.DB
		commands audit.Repository
	)
	if cfg.Database.Enabled {
		db, commands, err = openCommandLog(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		recorder := audit.NewRecorder(commands, auditQueueSize, log)
		defer func() {
			recorder.Close()
			if dropped := recorder.Dropped(); dropped > 0 {
				log.Warn("command log entries dropped", "count", dropped)
			}
		}()
		observers = append(observers, recorder)
		checks["database"] = db
	} else {
		log.Info("command log disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Bridge.ID)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		observers = append(observers, influxClient)
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	port := newPort(cfg, log)

	devices, err := registry.DevicesFromConfig(cfg.Displays)
	if err != nil {
		return fmt.Errorf("building display table: %w", err)
	}
	reg, err := registry.New(port, devices)
	if err != nil {
		return fmt.Errorf("creating display registry: %w", err)
	}
	defer func() {
		log.Info("releasing display handles")
		reg.Close()
	}()
	reg.SetLogger(log)

	// The engine publishes through the bridge and the bridge reports engine
	// stats, so the engine is bound to the bridge after both exist.
	stats := &lateStats{}
	bridge, err := ddc.NewBridge(ddc.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Topics:         mqttClient.Topics(),
		QoS:            byte(cfg.MQTT.QoS),
		MQTTClient:     mqttClient,
		HealthInterval: cfg.GetHealthInterval(),
		Displays:       reg,
		Devices:        reg,
		Stats:          stats,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	eng := engine.New(engine.Config{
		PollInterval:     cfg.GetPollInterval(),
		HardwareTimeout:  cfg.GetHardwareTimeout(),
		FailureThreshold: cfg.Bridge.FailureThreshold,
		Parallelism:      cfg.Bridge.Parallelism,
	}, reg, port, bridge)
	eng.SetLogger(log)
	if len(observers) > 0 {
		eng.SetObserver(observers)
	}
	stats.eng = eng
	bridge.SetRouter(eng.Router())

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(engineCtx)
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()
	log.Info("reconciliation started",
		"displays", len(devices),
		"poll_interval", cfg.GetPollInterval(),
		"backend", cfg.Hardware.Backend,
	)

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			Logger:   log,
			Displays: reg,
			Engine:   eng,
			Router:   eng.Router(),
			Health:   bridge.Health(),
			MQTT:     mqttClient,
			Checks:   checks,
			Version:  version,
		}
		if embedded != nil {
			deps.Broker = embedded
		}
		if db != nil {
			deps.Commands = commands
			deps.DB = db
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, engine loop, bridge,
	// registry, InfluxDB, command log, MQTT, embedded broker.

	log.Info("ddcbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DDCBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DDCBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newPort builds the configured hardware backend.
func newPort(cfg *config.Config, log *logging.Logger) hw.Port {
	if cfg.Hardware.Backend == "simulated" {
		log.Warn("using simulated displays", "count", cfg.Hardware.Simulated.Displays)
		return simulated.NewWithDisplays(cfg.Hardware.Simulated.Displays)
	}

	p := ddcutil.New(ddcutil.Config{
		Binary:    cfg.Hardware.DDCUtil.Binary,
		ExtraArgs: cfg.Hardware.DDCUtil.ExtraArgs,
	})
	p.SetLogger(log)
	return p
}

// openCommandLog opens the database, applies migrations and prunes rows
// older than the configured retention.
func openCommandLog(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, audit.Repository, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	repo := audit.NewSQLiteRepository(db.DB)

	if retention := cfg.GetRetention(); retention > 0 {
		pruned, err := repo.Prune(ctx, time.Now().Add(-retention))
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("pruning command log failed", "error", err)
		} else if pruned > 0 {
			log.Info("command log pruned", "rows", pruned, "retention", retention)
		}
	}

	return db, repo, nil
}

// lateStats lets the health reporter read engine counters from an engine
// that is created after the bridge.
type lateStats struct {
	eng *engine.Engine
}

func (s *lateStats) Stats() engine.Stats {
	if s.eng == nil {
		return engine.Stats{}
	}
	return s.eng.Stats()
}
