package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// Identifier addresses one feature of one display, as carried by the last
// segment of a command topic: "{index}:{feature}".
type Identifier struct {
	Device  int
	Feature vcp.Feature
}

// String formats the identifier in wire form.
func (id Identifier) String() string {
	return strconv.Itoa(id.Device) + ":" + string(id.Feature)
}

// maxIndexDigits bounds the index so parsing never overflows.
const maxIndexDigits = 6

// ParseIdentifier parses "{index}:{feature}". The index is unsigned decimal
// without sign, padding or whitespace; the feature key is lower-case
// letters, digits and underscores. Anything else is ErrMalformedIdentifier.
func ParseIdentifier(s string) (Identifier, error) {
	idx, feat, ok := strings.Cut(s, ":")
	if !ok {
		return Identifier{}, fmt.Errorf("%w: %q has no ':' separator", ErrMalformedIdentifier, s)
	}

	if idx == "" || len(idx) > maxIndexDigits {
		return Identifier{}, fmt.Errorf("%w: %q has an invalid index", ErrMalformedIdentifier, s)
	}
	for _, r := range idx {
		if r < '0' || r > '9' {
			return Identifier{}, fmt.Errorf("%w: %q has an invalid index", ErrMalformedIdentifier, s)
		}
	}
	if len(idx) > 1 && idx[0] == '0' {
		return Identifier{}, fmt.Errorf("%w: %q has a zero-padded index", ErrMalformedIdentifier, s)
	}

	if feat == "" {
		return Identifier{}, fmt.Errorf("%w: %q has no feature", ErrMalformedIdentifier, s)
	}
	for _, r := range feat {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return Identifier{}, fmt.Errorf("%w: %q has an invalid feature key", ErrMalformedIdentifier, s)
		}
	}

	n, err := strconv.Atoi(idx)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %q: %w", ErrMalformedIdentifier, s, err)
	}
	return Identifier{Device: n, Feature: vcp.Feature(feat)}, nil
}
