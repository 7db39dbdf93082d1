// Package engine synchronises retained bus state with DDC/CI display
// hardware.
//
// Two paths touch hardware:
//
//   - Tick (driven by Run every poll interval) refreshes the registry, reads
//     every feature of every display in parallel, and publishes only what
//     changed. A display whose reads all fail for FailureThreshold
//     consecutive ticks is degraded: its availability goes offline and its
//     last value stays frozen until a read succeeds again.
//   - Router.Handle parses a "{index}:{feature}" identifier and a symbolic
//     payload, validates it against the display's option table, writes it,
//     and publishes the new state. Commands are never retried.
//
// Both paths run under the display's registry lease, so for any display
// reads, writes and their state publications are totally ordered.
package engine
