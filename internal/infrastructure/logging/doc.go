// Package logging provides structured logging for the DDC bridge.
//
// It wraps log/slog so every record carries the same default fields
// (service, version) and honours the level and format from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("display switched", "display", 0, "input", "HDMI")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
