package registry

import (
	"fmt"

	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/config"
)

// DevicesFromConfig builds device definitions and their codecs from the
// displays section. Option tables come from the display's inputs and
// gamer_modes maps, or from the built-in tables when those are empty.
func DevicesFromConfig(displays []config.DisplayConfig) ([]Device, error) {
	devices := make([]Device, 0, len(displays))
	for i, d := range displays {
		if d.ID == nil || *d.ID < 0 {
			return nil, fmt.Errorf("%w: displays[%d] has no valid id", config.ErrInvalidConfig, i)
		}
		entries := make([]vcp.Entry, 0, 2)
		for _, key := range d.EffectiveFeatures() {
			f := vcp.Feature(key)
			code, ok := vcp.CodeFor(f)
			if !ok {
				return nil, fmt.Errorf("%w: display %d: %w: %q", config.ErrInvalidConfig, *d.ID, vcp.ErrUnknownFeature, key)
			}

			table, err := optionTable(f, d)
			if err != nil {
				return nil, fmt.Errorf("%w: display %d %s: %w", config.ErrInvalidConfig, *d.ID, key, err)
			}
			entries = append(entries, vcp.Entry{
				Feature:  f,
				Code:     code,
				Options:  table,
				Fallback: d.Fallback[key],
			})
		}

		codec, err := vcp.NewCodec(entries...)
		if err != nil {
			return nil, fmt.Errorf("%w: display %d: %w", config.ErrInvalidConfig, *d.ID, err)
		}

		manufacturer, model := d.Manufacturer, d.Model
		if manufacturer == "" {
			manufacturer = "AOC"
		}
		if model == "" {
			model = "Monitor"
		}
		devices = append(devices, Device{
			Index:        *d.ID,
			Name:         d.DisplayName(),
			Manufacturer: manufacturer,
			Model:        model,
			Serial:       d.Serial,
			Codec:        codec,
		})
	}
	return devices, nil
}

func optionTable(f vcp.Feature, d config.DisplayConfig) (*vcp.OptionTable, error) {
	switch f {
	case vcp.FeatureInput:
		if len(d.Inputs) == 0 {
			return vcp.NewOptionTable(vcp.StandardInputs())
		}
		return vcp.NewOptionTableInts(d.Inputs)
	case vcp.FeatureGamerMode:
		if len(d.GamerModes) == 0 {
			return vcp.NewOptionTable(vcp.AOCGamerModes())
		}
		return vcp.NewOptionTableInts(d.GamerModes)
	default:
		return nil, vcp.ErrUnknownFeature
	}
}
