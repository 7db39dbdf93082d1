package vcp

// Feature is the bus-facing key of a controllable display setting.
type Feature string

// Supported features.
const (
	FeatureInput     Feature = "input"
	FeatureGamerMode Feature = "gamer_mode"
)

// Code is an MCCS VCP feature code.
type Code uint8

// VCP codes used by the bridge.
const (
	// CodeInputSource selects the active video input (MCCS 0x60).
	CodeInputSource Code = 0x60

	// CodeGamerMode selects the display application preset (MCCS 0xDC).
	// AOC monitors expose their gamer presets here.
	CodeGamerMode Code = 0xDC
)

// Unknown is the default symbol for raw values absent from an option table.
const Unknown = "Unknown"

// CodeFor returns the VCP code carrying feature f.
func CodeFor(f Feature) (Code, bool) {
	switch f {
	case FeatureInput:
		return CodeInputSource, true
	case FeatureGamerMode:
		return CodeGamerMode, true
	default:
		return 0, false
	}
}

// StandardInputs returns the MCCS input source names for VCP 0x60.
func StandardInputs() map[string]uint16 {
	return map[string]uint16{
		"VGA-1":         0x01,
		"VGA-2":         0x02,
		"DVI-1":         0x03,
		"DVI-2":         0x04,
		"Composite-1":   0x05,
		"Composite-2":   0x06,
		"S-Video-1":     0x07,
		"S-Video-2":     0x08,
		"Tuner-1":       0x09,
		"Tuner-2":       0x0A,
		"Tuner-3":       0x0B,
		"Component-1":   0x0C,
		"Component-2":   0x0D,
		"Component-3":   0x0E,
		"DisplayPort-1": 0x0F,
		"DisplayPort-2": 0x10,
		"HDMI-1":        0x11,
		"HDMI-2":        0x12,
	}
}

// AOCGamerModes returns the gamer preset table for AOC monitors (VCP 0xDC).
func AOCGamerModes() map[string]uint16 {
	return map[string]uint16{
		"OFF":     0,
		"FPS":     11,
		"RTS":     12,
		"Racing":  13,
		"Gamer 1": 14,
		"Gamer 2": 15,
		"Gamer 3": 16,
	}
}
