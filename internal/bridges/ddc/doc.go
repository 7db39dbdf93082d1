// Package ddc implements the MQTT side of the DDC/CI display bridge.
//
// The engine reads and writes monitors; this package is its bus adapter:
//
//	┌─────────────────┐   MQTT   ┌─────────────────┐          ┌──────────┐
//	│  Home Assistant │◄────────►│   DDC Bridge    │◄────────►│  engine  │◄──► DDC/CI
//	└─────────────────┘          │   (this pkg)    │          └──────────┘
//	                             └─────────────────┘
//
// # Key Responsibilities
//
//   - Publish retained state, availability and discovery documents
//     (implements engine.Publisher)
//   - Subscribe to {prefix}/command/+ and feed each command to the
//     engine's router, in arrival order per display
//   - Publish a retained health document periodically
//
// Discovery documents describe each display feature as a Home Assistant
// select entity. An entity is available only while both its display and
// the bridge (via the LWT on {prefix}/status) are online.
package ddc
