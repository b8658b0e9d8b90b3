package ranges

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a range.
type Status string

const (
	// StatusNotStarted - created, nothing allocated yet
	StatusNotStarted Status = "not_started"

	// StatusPending - selected for work, allocating
	StatusPending Status = "pending"

	// StatusCompleted - every suffix allocated; terminal
	StatusCompleted Status = "completed"
)

// legacyPending lists stored values written by older deployments that mean "in progress".
var legacyPending = map[string]struct{}{
	"running": {},
	"paused":  {},
	"error":   {},
}

// ParseStatus maps a stored status string onto the closed Status enum.
// Unrecognized values are rejected rather than propagated.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch Status(s) {
	case StatusNotStarted, StatusPending, StatusCompleted:
		return Status(s), nil
	}
	if _, ok := legacyPending[s]; ok {
		return StatusPending, nil
	}
	return "", fmt.Errorf("unrecognized status %q", raw)
}

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusCompleted:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// transitions lists every edge of the state machine.
// PENDING -> PENDING is the per-allocation self loop.
var transitions = map[Status][]Status{
	StatusNotStarted: {StatusPending},
	StatusPending:    {StatusPending, StatusCompleted},
	StatusCompleted:  nil,
}

// CanTransition reports whether the scheduler may move a range from one state to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
