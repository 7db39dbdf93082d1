// Package hw defines the hardware access port for DDC/CI displays.
//
// The engine never talks to a bus directly. It enumerates displays and
// reads or writes VCP features through a Port; the ddcutil and simulated
// sub-packages provide implementations. All failures are reported through
// the sentinels in errors.go.
package hw
