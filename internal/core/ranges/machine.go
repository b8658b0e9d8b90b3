package ranges

import (
	"fmt"
	"sort"
)

// Selection is the range the scheduler should work on next.
type Selection struct {
	Range Range
	// NeedsStart is set when the range is NOT_STARTED and must be
	// durably moved to PENDING before the first allocation.
	NeedsStart bool
}

// SelectNext picks the next range to work on.
// Any PENDING range wins over every NOT_STARTED range; ties break on the
// lexicographically lowest key. Invalid and completed ranges are never picked.
func SelectNext(all []Range) (Selection, bool) {
	var pending, notStarted []Range
	for _, r := range all {
		if r.Validate() != nil {
			continue
		}
		switch r.Status {
		case StatusPending:
			pending = append(pending, r)
		case StatusNotStarted:
			notStarted = append(notStarted, r)
		}
	}

	if len(pending) > 0 {
		return Selection{Range: lowestKey(pending)}, true
	}
	if len(notStarted) > 0 {
		return Selection{Range: lowestKey(notStarted), NeedsStart: true}, true
	}
	return Selection{}, false
}

func lowestKey(rs []Range) Range {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key < rs[j].Key })
	return rs[0]
}

// IsComplete reports whether every suffix of the range has been allocated.
func IsComplete(r Range) bool {
	return r.LastAllocated >= r.MaxValue()
}

// TransitionOnSelect moves a NOT_STARTED range to PENDING.
// It is a no-op on a PENDING range; changed reports whether a write is needed.
func TransitionOnSelect(r Range) (next Range, changed bool) {
	if r.Status == StatusPending || !CanTransition(r.Status, StatusPending) {
		return r, false
	}
	r.Status = StatusPending
	return r, true
}

// TransitionOnComplete marks a fully allocated range COMPLETED exactly once.
func TransitionOnComplete(r Range) (next Range, changed bool) {
	if !IsComplete(r) || !CanTransition(r.Status, StatusCompleted) {
		return r, false
	}
	r.Status = StatusCompleted
	return r, true
}

// ValidateManualStatus checks an operator-requested status against the counter,
// so manual edits cannot break the status invariants. Operators may also move
// a range backwards, which CanTransition never allows the scheduler to do.
func ValidateManualStatus(r Range, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unrecognized status %q", ErrInvalidTransition, to)
	}
	switch to {
	case StatusNotStarted:
		if r.LastAllocated != 0 {
			return fmt.Errorf("%w: range %s already allocated %d suffixes", ErrInvalidTransition, r.Key, r.LastAllocated)
		}
	case StatusPending:
		if IsComplete(r) {
			return fmt.Errorf("%w: range %s is fully allocated", ErrInvalidTransition, r.Key)
		}
	case StatusCompleted:
		if !IsComplete(r) {
			return fmt.Errorf("%w: range %s has %d suffixes left", ErrInvalidTransition, r.Key, r.Remaining())
		}
	}
	return nil
}
