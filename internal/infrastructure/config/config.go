package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Load
// and Validate. Startup treats it as fatal.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the root configuration structure for the DDC bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig    `yaml:"bridge"`
	Hardware HardwareConfig  `yaml:"hardware"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Database DatabaseConfig  `yaml:"database"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	API      APIConfig       `yaml:"api"`
	Logging  LoggingConfig   `yaml:"logging"`
	Displays []DisplayConfig `yaml:"displays"`
}

// BridgeConfig contains reconciliation settings.
type BridgeConfig struct {
	// ID names this bridge instance. It prefixes discovery object IDs and is
	// the via_device of every announced display.
	ID string `yaml:"id"`

	// PollInterval is the reconciliation period in seconds. Default: 20
	PollInterval int `yaml:"poll_interval"`

	// FailureThreshold is the number of consecutive fully-failed ticks after
	// which a display is marked degraded. Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// Parallelism bounds how many displays are reconciled concurrently.
	// 0 means one goroutine per display.
	Parallelism int `yaml:"parallelism"`

	// HealthInterval is the health publication period in seconds. Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// HardwareConfig selects and tunes the DDC/CI backend.
type HardwareConfig struct {
	// Backend is "ddcutil" or "simulated". Default: "ddcutil"
	Backend string `yaml:"backend"`

	// TimeoutMS bounds every individual hardware call. Default: 500
	TimeoutMS int `yaml:"timeout_ms"`

	DDCUtil   DDCUtilConfig   `yaml:"ddcutil"`
	Simulated SimulatedConfig `yaml:"simulated"`
}

// DDCUtilConfig configures the ddcutil command line backend.
type DDCUtilConfig struct {
	Binary    string   `yaml:"binary"`
	ExtraArgs []string `yaml:"extra_args"`
}

// SimulatedConfig configures the in-memory backend.
type SimulatedConfig struct {
	// Displays is the number of simulated monitors. Default: 1
	Displays int `yaml:"displays"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every bridge topic. Default: "ddc"
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant discovery root. Default: "homeassistant"
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// Embedded runs an in-process broker for single-box installs.
	Embedded EmbeddedBrokerConfig `yaml:"embedded"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// EmbeddedBrokerConfig configures the optional in-process MQTT broker.
type EmbeddedBrokerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DatabaseConfig contains SQLite settings for the command audit log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long command log rows are kept. 0 keeps
	// everything. Default: 30
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DisplayConfig describes one logical display. The list position of a
// display has no meaning; ID is its stable index.
type DisplayConfig struct {
	// ID is required. A nil ID means the key was missing.
	ID *int `yaml:"id"`

	// Name is shown in discovery documents. Default: "Display {id}"
	Name         string `yaml:"name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`

	// Serial, when set, binds the display to the monitor reporting this
	// serial number instead of to its enumeration position.
	Serial string `yaml:"serial"`

	// Features lists the capabilities to synchronise. Default: every
	// feature with an option table below.
	Features []string `yaml:"features"`

	// Inputs maps input names to VCP 0x60 values. When empty the MCCS
	// standard input names are used.
	Inputs map[string]int `yaml:"inputs"`

	// GamerModes maps preset names to VCP 0xDC values. When empty the
	// built-in preset table is used.
	GamerModes map[string]int `yaml:"gamer_modes"`

	// Fallback overrides the symbol published for unmapped raw values,
	// keyed by feature.
	Fallback map[string]string `yaml:"fallback"`
}

// knownFeatures are the feature keys a display may list.
var knownFeatures = map[string]bool{
	"input":      true,
	"gamer_mode": true,
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DDCBRIDGE_SECTION_KEY
// For example: DDCBRIDGE_MQTT_HOST, DDCBRIDGE_POLL_INTERVAL
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:               "ddc_mqtt",
			PollInterval:     20,
			FailureThreshold: 3,
			HealthInterval:   30,
		},
		Hardware: HardwareConfig{
			Backend:   "ddcutil",
			TimeoutMS: 500,
			DDCUtil: DDCUtilConfig{
				Binary: "ddcutil",
			},
			Simulated: SimulatedConfig{
				Displays: 1,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ddcbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix:     "ddc",
			DiscoveryPrefix: "homeassistant",
			Embedded: EmbeddedBrokerConfig{
				Address: ":1883",
			},
		},
		Database: DatabaseConfig{
			Path:          "./data/ddcbridge.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DDCBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DDCBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DDCBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DDCBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DDCBRIDGE_POLL_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.PollInterval = secs
		}
	}
	if v := os.Getenv("DDCBRIDGE_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}

	if v := os.Getenv("DDCBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DDCBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("DDCBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
// The returned error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.PollInterval < 1 {
		errs = append(errs, "bridge.poll_interval must be at least 1 second")
	}
	if c.Bridge.FailureThreshold < 1 {
		errs = append(errs, "bridge.failure_threshold must be at least 1")
	}
	if c.Bridge.Parallelism < 0 {
		errs = append(errs, "bridge.parallelism must not be negative")
	}

	switch c.Hardware.Backend {
	case "ddcutil":
		if c.Hardware.DDCUtil.Binary == "" {
			errs = append(errs, "hardware.ddcutil.binary is required")
		}
	case "simulated":
		if c.Hardware.Simulated.Displays < 0 {
			errs = append(errs, "hardware.simulated.displays must not be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("hardware.backend %q must be ddcutil or simulated", c.Hardware.Backend))
	}
	if c.Hardware.TimeoutMS < 1 {
		errs = append(errs, "hardware.timeout_ms must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and contain no wildcards")
	}
	if c.MQTT.DiscoveryPrefix == "" || strings.ContainsAny(c.MQTT.DiscoveryPrefix, "+#") {
		errs = append(errs, "mqtt.discovery_prefix must be non-empty and contain no wildcards")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.validateDisplays()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDisplays() []string {
	var errs []string

	if len(c.Displays) == 0 {
		return []string{"at least one display must be configured"}
	}

	seen := make(map[int]bool, len(c.Displays))
	for i, d := range c.Displays {
		where := fmt.Sprintf("displays[%d]", i)

		switch {
		case d.ID == nil:
			errs = append(errs, where+".id is required")
		case *d.ID < 0:
			errs = append(errs, where+".id must not be negative")
		case seen[*d.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %d is duplicated", where, *d.ID))
		default:
			seen[*d.ID] = true
		}

		for _, f := range d.Features {
			if !knownFeatures[f] {
				errs = append(errs, fmt.Sprintf("%s.features: unknown feature %q", where, f))
			}
		}
		errs = append(errs, validateOptionMap(where+".inputs", d.Inputs)...)
		errs = append(errs, validateOptionMap(where+".gamer_modes", d.GamerModes)...)

		for f := range d.Fallback {
			if !knownFeatures[f] {
				errs = append(errs, fmt.Sprintf("%s.fallback: unknown feature %q", where, f))
			}
		}
	}

	return errs
}

func validateOptionMap(where string, m map[string]int) []string {
	var errs []string
	codes := make(map[int]string, len(m))
	for name, code := range m {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, where+": option names must not be empty")
		}
		if code < 0 || code > 0xFFFF {
			errs = append(errs, fmt.Sprintf("%s.%s: code %d out of range 0-65535", where, name, code))
		}
		if other, dup := codes[code]; dup {
			errs = append(errs, fmt.Sprintf("%s: code %d used by both %q and %q", where, code, other, name))
		}
		codes[code] = name
	}
	return errs
}

// HasFeature reports whether the display synchronises feature f.
func (d DisplayConfig) HasFeature(f string) bool {
	return slices.Contains(d.EffectiveFeatures(), f)
}

// EffectiveFeatures returns the configured features, or the defaults when
// none are listed: input always, gamer_mode as well.
func (d DisplayConfig) EffectiveFeatures() []string {
	if len(d.Features) > 0 {
		return d.Features
	}
	return []string{"input", "gamer_mode"}
}

// Index returns the display id, or -1 when it is missing.
func (d DisplayConfig) Index() int {
	if d.ID == nil {
		return -1
	}
	return *d.ID
}

// DisplayName returns the configured name or "Display {id}".
func (d DisplayConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("Display %d", d.Index())
}

// GetPollInterval returns the reconciliation period as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// GetHealthInterval returns the health publication period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetHardwareTimeout returns the per-call hardware timeout as a Duration.
func (c *Config) GetHardwareTimeout() time.Duration {
	return time.Duration(c.Hardware.TimeoutMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetRetention returns the command log retention, or 0 to keep everything.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
