package callsite

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Dispatch is the invocation mechanism of a call site.
type Dispatch uint8

// The zero Dispatch is not a valid kind.
const (
	Static Dispatch = iota + 1
	Special
	Virtual
	Interface
)

// Valid reports whether d is one of the four dispatch kinds.
func (d Dispatch) Valid() bool {
	switch d {
	case Static, Special, Virtual, Interface:
		return true
	}
	return false
}

// String returns "static", "special", "virtual" or "interface". Any other
// value is a bug in whoever produced it and panics.
func (d Dispatch) String() string {
	switch d {
	case Static:
		return "static"
	case Special:
		return "special"
	case Virtual:
		return "virtual"
	case Interface:
		return "interface"
	}
	panic(unreachable(d))
}

// Dispatches lists the four kinds in declaration order.
func Dispatches() []Dispatch {
	return []Dispatch{Static, Special, Virtual, Interface}
}

// ParseDispatch accepts a kind word ("virtual") or the matching instruction
// mnemonic ("invokevirtual").
func ParseDispatch(s string) (Dispatch, error) {
	word := strings.TrimPrefix(s, "invoke")
	for _, d := range Dispatches() {
		if d.String() == word {
			return d, nil
		}
	}
	return 0, errors.Errorf("unknown dispatch kind %q", s)
}

func unreachable(d Dispatch) string {
	return fmt.Sprintf("callsite: unreachable: invalid dispatch kind %d", uint8(d))
}
