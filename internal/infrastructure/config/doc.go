// Package config handles loading and validating the DDC bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (DDCBRIDGE_*)
//   - Validation of required fields and display option tables
//   - Default value handling
//
// Any validation failure wraps ErrInvalidConfig and aborts startup.
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.ID)
package config
