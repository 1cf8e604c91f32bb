package status

import (
	"fmt"
	"slices"
)

// Status is the delivery state of a persisted message.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// validTransitions defines the forward-only moves a message status may make.
var validTransitions = map[Status][]Status{
	Sending:   {Sent, Failed},
	Sent:      {Delivered, Read, Failed},
	Delivered: {Read},
	Read:      {},
	Failed:    {},
}

// ordered lists every status once, in lifecycle order.
var ordered = []Status{Sending, Sent, Delivered, Read, Failed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// CanAdvance reports whether a message in state from may move to state to.
func CanAdvance(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Advance returns the status after applying to on top of from. A move that
// is not allowed, including any regression, leaves the status unchanged and
// reports false.
func Advance(from, to Status) (Status, bool) {
	if !CanAdvance(from, to) {
		return from, false
	}
	return to, true
}

// Sources lists every status that may move directly to to, in lifecycle
// order. The store builds its conditional updates from it so the check and
// the write happen in one statement.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range ordered {
		if CanAdvance(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Parse converts a stored string into a Status.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}
