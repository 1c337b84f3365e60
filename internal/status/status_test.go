package status

import (
	"errors"
	"testing"
)

func TestMachine(t *testing.T) {
	m := Machine{
		"OPEN":   {"DONE", "CLOSED"},
		"DONE":   {"CLOSED"},
		"CLOSED": nil,
	}

	tests := []struct {
		from, to string
		want     string
		err      error
	}{
		{from: "OPEN", to: " done ", want: "DONE"},
		{from: "OPEN", to: "CLOSED", want: "CLOSED"},
		{from: "DONE", to: "OPEN", err: ErrTransition},
		{from: "DONE", to: "DONE", err: ErrTransition},
		{from: "CLOSED", to: "DONE", err: ErrTransition},
		{from: "OPEN", to: "ARCHIVED", err: ErrUnknown},
	}
	for _, tc := range tests {
		got, err := m.Check(tc.from, tc.to)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Fatalf("%s->%s: expected %v, got %v", tc.from, tc.to, tc.err, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s->%s: got %q, %v", tc.from, tc.to, got, err)
		}
	}

	if !m.Terminal("CLOSED") || m.Terminal("OPEN") {
		t.Fatalf("unexpected terminal states")
	}
	if m.Valid("closed") {
		t.Fatalf("Valid must be exact")
	}
}
