// Package status describes the small status workflows of complaints and
// reservations.
package status

import (
	"errors"
	"strings"
)

var (
	ErrUnknown    = errors.New("unknown status")
	ErrTransition = errors.New("status transition not allowed")
)

// Machine maps each status to the statuses it may move to. A status with no
// outgoing edges is terminal.
type Machine map[string][]string

func (m Machine) Valid(s string) bool {
	_, ok := m[s]
	return ok
}

func (m Machine) Terminal(s string) bool {
	return len(m[s]) == 0
}

// Check normalizes to and reports whether from -> to is allowed.
func (m Machine) Check(from, to string) (string, error) {
	to = Normalize(to)
	if !m.Valid(to) {
		return "", ErrUnknown
	}
	for _, next := range m[from] {
		if next == to {
			return to, nil
		}
	}
	return "", ErrTransition
}

func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
