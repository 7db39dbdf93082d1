package vcp

import (
	"errors"
	"fmt"
	"sort"
)

// OptionTable is an immutable bijection between symbolic names and raw VCP
// values. Names are kept in ascending raw order.
type OptionTable struct {
	names  []string
	byName map[string]uint16
	byRaw  map[uint16]string
}

// NewOptionTable builds a table from a name → raw map.
// Repeated raw values are rejected with ErrDuplicateOption.
func NewOptionTable(options map[string]uint16) (*OptionTable, error) {
	t := &OptionTable{
		names:  make([]string, 0, len(options)),
		byName: make(map[string]uint16, len(options)),
		byRaw:  make(map[uint16]string, len(options)),
	}

	for name, raw := range options {
		if name == "" {
			return nil, errors.New("vcp: empty option name")
		}
		if other, ok := t.byRaw[raw]; ok {
			a, b := other, name
			if b < a {
				a, b = b, a
			}
			return nil, fmt.Errorf("%w: %q and %q share raw value %d", ErrDuplicateOption, a, b, raw)
		}
		t.byName[name] = raw
		t.byRaw[raw] = name
		t.names = append(t.names, name)
	}

	sort.Slice(t.names, func(i, j int) bool {
		return t.byName[t.names[i]] < t.byName[t.names[j]]
	})

	return t, nil
}

// NewOptionTableInts is NewOptionTable for configuration maps.
func NewOptionTableInts(options map[string]int) (*OptionTable, error) {
	m := make(map[string]uint16, len(options))
	for name, raw := range options {
		if raw < 0 || raw > 0xFFFF {
			return nil, fmt.Errorf("vcp: option %q raw value %d out of range", name, raw)
		}
		m[name] = uint16(raw)
	}
	return NewOptionTable(m)
}

// MustOptionTable is NewOptionTable that panics on error. It is meant for
// built-in tables.
func MustOptionTable(options map[string]uint16) *OptionTable {
	t, err := NewOptionTable(options)
	if err != nil {
		panic(err)
	}
	return t
}

// Names returns the option names in ascending raw order.
func (t *OptionTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Raw returns the raw value for name.
func (t *OptionTable) Raw(name string) (uint16, bool) {
	raw, ok := t.byName[name]
	return raw, ok
}

// Name returns the name for a raw value.
func (t *OptionTable) Name(raw uint16) (string, bool) {
	name, ok := t.byRaw[raw]
	return name, ok
}

// Has reports whether name is in the table.
func (t *OptionTable) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Len returns the number of options.
func (t *OptionTable) Len() int {
	return len(t.names)
}
