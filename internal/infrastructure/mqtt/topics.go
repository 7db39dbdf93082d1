package mqtt

import (
	"fmt"
	"strings"
)

// Default topic roots.
const (
	DefaultTopicPrefix     = "ddc"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Bridge and display status payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge's MQTT topics under a configurable prefix.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.NewTopics("ddc", "homeassistant")
//	topics.DisplayState(0, "input")
//	// Returns: "ddc/display/0/input/state"
type Topics struct {
	// Prefix is the bridge's topic root.
	Prefix string

	// Discovery is the Home Assistant discovery root.
	Discovery string
}

// NewTopics returns topic builders, substituting defaults for empty roots.
func NewTopics(prefix, discovery string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if discovery == "" {
		discovery = DefaultDiscoveryPrefix
	}
	return Topics{
		Prefix:    strings.TrimSuffix(prefix, "/"),
		Discovery: strings.TrimSuffix(discovery, "/"),
	}
}

// =============================================================================
// Display Topics
// =============================================================================

// DisplayState returns the retained state topic of one display feature.
//
// Example: ddc/display/0/input/state
func (t Topics) DisplayState(index int, feature string) string {
	return fmt.Sprintf("%s/display/%d/%s/state", t.Prefix, index, feature)
}

// DisplayAvailability returns the retained availability topic of a display.
//
// Example: ddc/display/0/availability
func (t Topics) DisplayAvailability(index int) string {
	return fmt.Sprintf("%s/display/%d/availability", t.Prefix, index)
}

// Command returns the command topic for an identifier.
//
// Example: ddc/command/0:input
func (t Topics) Command(identifier string) string {
	return fmt.Sprintf("%s/command/%s", t.Prefix, identifier)
}

// AllCommands returns a wildcard pattern matching every command topic.
//
// Example: ddc/command/+
func (t Topics) AllCommands() string {
	return t.Prefix + "/command/+"
}

// CommandIdentifier extracts the identifier from a command topic. It
// reports false when topic is not a command topic of this prefix.
func (t Topics) CommandIdentifier(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// =============================================================================
// Bridge Topics
// =============================================================================

// Status returns the bridge status topic. It carries the LWT.
//
// Example: ddc/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Health returns the bridge health topic.
//
// Example: ddc/health
func (t Topics) Health() string {
	return t.Prefix + "/health"
}

// =============================================================================
// Discovery Topics
// =============================================================================

// DiscoveryConfig returns the Home Assistant discovery topic for an entity.
//
// Example: homeassistant/select/ddc_mqtt_display_0_input/config
func (t Topics) DiscoveryConfig(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.Discovery, component, objectID)
}
