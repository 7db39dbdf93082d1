// Package broker runs an embedded MQTT broker.
//
// When mqtt.embedded.enabled is set the bridge starts this broker before
// connecting its own client to it, so a single process provides both the
// bus and the displays on it. Tests use it in place of an external
// Mosquitto.
package broker
