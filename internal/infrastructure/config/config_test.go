package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  id: "desk"
  poll_interval: 10
hardware:
  backend: "simulated"
  timeout_ms: 250
mqtt:
  broker:
    host: "broker.local"
    port: 1884
displays:
  - id: 0
    inputs:
      HDMI: 17
      DisplayPort: 15
  - id: 1
    name: "Side monitor"
    features: ["input"]
    inputs:
      HDMI: 17
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "desk" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "desk")
	}
	if cfg.GetPollInterval() != 10*time.Second {
		t.Errorf("GetPollInterval() = %v, want 10s", cfg.GetPollInterval())
	}
	if cfg.GetRetention() != 30*24*time.Hour {
		t.Errorf("GetRetention() = %v, want 720h", cfg.GetRetention())
	}
	if cfg.GetHardwareTimeout() != 250*time.Millisecond {
		t.Errorf("GetHardwareTimeout() = %v, want 250ms", cfg.GetHardwareTimeout())
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if len(cfg.Displays) != 2 {
		t.Fatalf("len(Displays) = %d, want 2", len(cfg.Displays))
	}
	if cfg.Displays[0].Inputs["DisplayPort"] != 15 {
		t.Errorf("Displays[0].Inputs[DisplayPort] = %d, want 15", cfg.Displays[0].Inputs["DisplayPort"])
	}
	if cfg.Displays[1].DisplayName() != "Side monitor" {
		t.Errorf("DisplayName() = %q", cfg.Displays[1].DisplayName())
	}
	if cfg.Displays[0].Index() != 0 {
		t.Errorf("Displays[0].Index() = %d, want 0", cfg.Displays[0].Index())
	}
	if cfg.Displays[0].DisplayName() != "Display 0" {
		t.Errorf("DisplayName() = %q, want %q", cfg.Displays[0].DisplayName(), "Display 0")
	}
	if cfg.Displays[1].HasFeature("gamer_mode") {
		t.Error("Displays[1] should not have gamer_mode")
	}

	// Defaults survive a partial file.
	if cfg.Bridge.FailureThreshold != 3 {
		t.Errorf("Bridge.FailureThreshold = %d, want 3", cfg.Bridge.FailureThreshold)
	}
	if cfg.MQTT.TopicPrefix != "ddc" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "ddc")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
bridge:
  poll_interval: 0
displays:
  - id: 0
    inputs:
      HDMI: 17
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for poll_interval 0, got nil")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoad_DisplayWithoutID(t *testing.T) {
	content := `
displays:
  - name: Left
    inputs:
      HDMI: 17
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected error for display without id, got nil")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(err.Error(), "displays[0].id is required") {
		t.Errorf("Load() error = %q, want missing id", err.Error())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
hardware:
  backend: "ddcutil"
displays:
  - id: 0
    inputs:
      HDMI: 17
`
	t.Setenv("DDCBRIDGE_MQTT_HOST", "env-broker")
	t.Setenv("DDCBRIDGE_MQTT_PORT", "8883")
	t.Setenv("DDCBRIDGE_POLL_INTERVAL", "5")
	t.Setenv("DDCBRIDGE_HARDWARE_BACKEND", "simulated")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.Bridge.PollInterval != 5 {
		t.Errorf("Bridge.PollInterval = %d, want 5", cfg.Bridge.PollInterval)
	}
	if cfg.Hardware.Backend != "simulated" {
		t.Errorf("Hardware.Backend = %q, want simulated", cfg.Hardware.Backend)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Displays = []DisplayConfig{{ID: intPtr(0), Inputs: map[string]int{"HDMI": 17, "DisplayPort": 15}}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "no displays",
			mutate:  func(c *Config) { c.Displays = nil },
			wantErr: "at least one display",
		},
		{
			name: "duplicate display id",
			mutate: func(c *Config) {
				c.Displays = append(c.Displays, DisplayConfig{ID: intPtr(0), Inputs: map[string]int{"HDMI": 17}})
			},
			wantErr: "is duplicated",
		},
		{
			name:    "negative display id",
			mutate:  func(c *Config) { c.Displays[0].ID = intPtr(-1) },
			wantErr: "must not be negative",
		},
		{
			name:    "missing display id",
			mutate:  func(c *Config) { c.Displays[0].ID = nil },
			wantErr: "displays[0].id is required",
		},
		{
			name: "second display missing id",
			mutate: func(c *Config) {
				c.Displays = append(c.Displays, DisplayConfig{Name: "Right"})
			},
			wantErr: "displays[1].id is required",
		},
		{
			name:    "inputs optional",
			mutate:  func(c *Config) { c.Displays[0].Inputs = nil },
			wantErr: "",
		},
		{
			name:    "duplicate input code",
			mutate:  func(c *Config) { c.Displays[0].Inputs["HDMI2"] = 17 },
			wantErr: "code 17 used by both",
		},
		{
			name:    "code out of range",
			mutate:  func(c *Config) { c.Displays[0].GamerModes = map[string]int{"FPS": 70000} },
			wantErr: "out of range",
		},
		{
			name:    "unknown feature",
			mutate:  func(c *Config) { c.Displays[0].Features = []string{"brightness"} },
			wantErr: "unknown feature",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Hardware.Backend = "dxva2" },
			wantErr: "hardware.backend",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "wildcard in prefix",
			mutate:  func(c *Config) { c.MQTT.TopicPrefix = "ddc/#" },
			wantErr: "mqtt.topic_prefix",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Bridge.FailureThreshold = 0 },
			wantErr: "failure_threshold",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Database.RetentionDays = -1 },
			wantErr: "retention_days",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error does not wrap ErrInvalidConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDisplayConfig_EffectiveFeatures(t *testing.T) {
	d := DisplayConfig{}
	got := d.EffectiveFeatures()
	if len(got) != 2 || got[0] != "input" || got[1] != "gamer_mode" {
		t.Errorf("EffectiveFeatures() = %v, want [input gamer_mode]", got)
	}

	d.Features = []string{"gamer_mode"}
	if d.HasFeature("input") {
		t.Error("HasFeature(input) = true with explicit feature list")
	}
}

func intPtr(v int) *int { return &v }
