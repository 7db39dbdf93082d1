package ddc

import (
	"fmt"

	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/mqtt"
)

// discoveryComponent is the Home Assistant entity type for every feature.
const discoveryComponent = "select"

// featureNames are the entity names shown in Home Assistant.
var featureNames = map[vcp.Feature]string{
	vcp.FeatureInput:     "Input Source",
	vcp.FeatureGamerMode: "Gamer Mode",
}

// SelectConfig is a Home Assistant MQTT select discovery document.
type SelectConfig struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id"`
	StateTopic       string         `json:"state_topic"`
	CommandTopic     string         `json:"command_topic"`
	Options          []string       `json:"options"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	Device           DeviceInfo     `json:"device"`
}

// Availability is one entry of a discovery availability list.
type Availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

// DeviceInfo groups a display's entities under one Home Assistant device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// ObjectID returns the discovery object id of one display feature.
//
// Example: ddc_mqtt_display_0_input
func ObjectID(bridgeID string, index int, feature vcp.Feature) string {
	return fmt.Sprintf("%s_display_%d_%s", bridgeID, index, feature)
}

// DeviceIdentifier returns the Home Assistant device identifier of a display.
func DeviceIdentifier(bridgeID string, index int) string {
	return fmt.Sprintf("%s_display_%d", bridgeID, index)
}

// BuildSelectConfig builds the discovery document for one display feature.
// An entity is available only while both the display and the bridge are.
func BuildSelectConfig(topics mqtt.Topics, bridgeID string, d registry.Device, feature vcp.Feature) (SelectConfig, error) {
	entry, ok := d.Codec.Entry(feature)
	if !ok {
		return SelectConfig{}, fmt.Errorf("%w: display %d has no %q", vcp.ErrUnknownFeature, d.Index, feature)
	}

	name, ok := featureNames[feature]
	if !ok {
		name = string(feature)
	}
	objectID := ObjectID(bridgeID, d.Index, feature)

	return SelectConfig{
		Name:         name,
		UniqueID:     objectID,
		ObjectID:     objectID,
		StateTopic:   topics.DisplayState(d.Index, string(feature)),
		CommandTopic: topics.Command(fmt.Sprintf("%d:%s", d.Index, feature)),
		Options:      selectOptions(entry),
		Availability: []Availability{
			{
				Topic:               topics.DisplayAvailability(d.Index),
				PayloadAvailable:    mqtt.PayloadOnline,
				PayloadNotAvailable: mqtt.PayloadOffline,
			},
			{
				Topic:               topics.Status(),
				PayloadAvailable:    mqtt.PayloadOnline,
				PayloadNotAvailable: mqtt.PayloadOffline,
			},
		},
		AvailabilityMode: "all",
		Device: DeviceInfo{
			Identifiers:  []string{DeviceIdentifier(bridgeID, d.Index)},
			Name:         d.Name,
			Manufacturer: d.Manufacturer,
			Model:        d.Model,
			SerialNumber: d.Serial,
			ViaDevice:    bridgeID,
		},
	}, nil
}

// selectOptions lists the configured names plus the fallback symbol, so
// every state the bridge can publish is a valid option.
func selectOptions(entry vcp.Entry) []string {
	names := entry.Options.Names()
	if fb := entry.FallbackName(); !entry.Options.Has(fb) {
		names = append(names, fb)
	}
	return names
}
