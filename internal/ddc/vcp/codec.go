package vcp

import (
	"fmt"
)

// Entry binds a feature to its VCP code and option table.
type Entry struct {
	Feature Feature
	Code    Code
	Options *OptionTable

	// Fallback is published for raw values missing from Options.
	// Empty means Unknown.
	Fallback string
}

// FallbackName returns the symbol published for unmapped raw values.
func (e Entry) FallbackName() string {
	if e.Fallback == "" {
		return Unknown
	}
	return e.Fallback
}

// Codec is the per-display feature codec. It is immutable after NewCodec
// and safe for concurrent use.
type Codec struct {
	entries map[Feature]Entry
	order   []Feature
}

// NewCodec builds a codec from entries in capability order.
func NewCodec(entries ...Entry) (*Codec, error) {
	c := &Codec{
		entries: make(map[Feature]Entry, len(entries)),
		order:   make([]Feature, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Feature == "" {
			return nil, fmt.Errorf("vcp: entry for code 0x%02X has no feature key", uint8(e.Code))
		}
		if _, dup := c.entries[e.Feature]; dup {
			return nil, fmt.Errorf("%w: feature %q listed twice", ErrDuplicateOption, e.Feature)
		}
		if e.Options == nil || e.Options.Len() == 0 {
			return nil, fmt.Errorf("vcp: feature %q has no options", e.Feature)
		}
		c.entries[e.Feature] = e
		c.order = append(c.order, e.Feature)
	}
	return c, nil
}

// Features returns the codec's features in capability order.
func (c *Codec) Features() []Feature {
	out := make([]Feature, len(c.order))
	copy(out, c.order)
	return out
}

// Entry returns the entry for f.
func (c *Codec) Entry(f Feature) (Entry, bool) {
	e, ok := c.entries[f]
	return e, ok
}

// Has reports whether f is configured.
func (c *Codec) Has(f Feature) bool {
	_, ok := c.entries[f]
	return ok
}

// Decode maps a raw value to its symbol. It never fails: unmapped values
// and unknown features decode to the fallback symbol and known=false.
func (c *Codec) Decode(f Feature, raw uint16) (symbol string, known bool) {
	e, ok := c.entries[f]
	if !ok {
		return Unknown, false
	}
	if name, ok := e.Options.Name(raw); ok {
		return name, true
	}
	return e.FallbackName(), false
}

// Encode maps a symbol to its raw value.
func (c *Codec) Encode(f Feature, symbol string) (uint16, error) {
	e, ok := c.entries[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, f)
	}
	raw, ok := e.Options.Raw(symbol)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an option of %s", ErrInvalidSymbol, symbol, f)
	}
	return raw, nil
}
