package ranges

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rng(key string, st Status, last int64) Range {
	return Range{Key: key, DigitWidth: 5, LastAllocated: last, HasSeparator: true, Status: st}
}

func TestSelectNext_PendingBeatsNotStarted(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []Range
		wantKey string
		start   bool
	}{
		{
			name:    "single pending among not started",
			ranges:  []Range{rng("1000", StatusNotStarted, 0), rng("9000", StatusPending, 50), rng("0001", StatusNotStarted, 0)},
			wantKey: "9000",
		},
		{
			name:    "lowest pending key",
			ranges:  []Range{rng("B", StatusPending, 1), rng("A", StatusPending, 7), rng("0", StatusNotStarted, 0)},
			wantKey: "A",
		},
		{
			name:    "not started when nothing pending",
			ranges:  []Range{rng("2626", StatusNotStarted, 0), rng("1111", StatusCompleted, 100000), rng("2525", StatusNotStarted, 0)},
			wantKey: "2525",
			start:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, ok := SelectNext(tt.ranges)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, sel.Range.Key)
			assert.Equal(t, tt.start, sel.NeedsStart)
		})
	}
}

func TestSelectNext_AnyMixAlwaysPrefersPending(t *testing.T) {
	// Exhaustive over small mixes: whenever a pending range exists it is chosen.
	statuses := []Status{StatusNotStarted, StatusPending, StatusCompleted}
	for a := range statuses {
		for b := range statuses {
			for c := range statuses {
				mix := []Range{
					rngFor("A", statuses[a]),
					rngFor("B", statuses[b]),
					rngFor("C", statuses[c]),
				}
				sel, ok := SelectNext(mix)
				hasPending := statuses[a] == StatusPending || statuses[b] == StatusPending || statuses[c] == StatusPending
				if hasPending {
					require.True(t, ok)
					assert.Equal(t, StatusPending, sel.Range.Status, "mix %v", mix)
					assert.False(t, sel.NeedsStart)
				}
			}
		}
	}
}

func rngFor(key string, st Status) Range {
	switch st {
	case StatusCompleted:
		return rng(key, st, 100000)
	case StatusPending:
		return rng(key, st, 10)
	}
	return rng(key, st, 0)
}

func TestSelectNext_NoWork(t *testing.T) {
	_, ok := SelectNext(nil)
	assert.False(t, ok)

	_, ok = SelectNext([]Range{rng("1", StatusCompleted, 100000)})
	assert.False(t, ok)
}

func TestSelectNext_SkipsMalformed(t *testing.T) {
	bad := Range{Key: "0000", DigitWidth: 0, Status: StatusPending}
	good := rng("9999", StatusNotStarted, 0)

	sel, ok := SelectNext([]Range{bad, good})
	require.True(t, ok)
	assert.Equal(t, "9999", sel.Range.Key)
}

func TestIsComplete(t *testing.T) {
	r := rng("2626", StatusPending, 99999)
	assert.False(t, IsComplete(r))

	r.LastAllocated = 100000
	assert.True(t, IsComplete(r))
}

func TestTransitionOnSelect_Idempotent(t *testing.T) {
	r := rng("2626", StatusNotStarted, 0)

	next, changed := TransitionOnSelect(r)
	assert.True(t, changed)
	assert.Equal(t, StatusPending, next.Status)
	assert.Equal(t, int64(0), next.LastAllocated)

	again, changed := TransitionOnSelect(next)
	assert.False(t, changed)
	assert.Equal(t, next, again)
}

func TestTransitionOnComplete(t *testing.T) {
	r := rng("2626", StatusPending, 99999)
	_, changed := TransitionOnComplete(r)
	assert.False(t, changed, "incomplete range must not complete")

	r.LastAllocated = 100000
	done, changed := TransitionOnComplete(r)
	assert.True(t, changed)
	assert.Equal(t, StatusCompleted, done.Status)

	_, changed = TransitionOnComplete(done)
	assert.False(t, changed, "completion happens exactly once")
}

func TestTransitions_FollowMachineEdges(t *testing.T) {
	done := rng("2626", StatusCompleted, 100000)
	next, changed := TransitionOnSelect(done)
	assert.False(t, changed, "completed is terminal")
	assert.Equal(t, done, next)

	// Never started but counter at max: the scheduler must start it first.
	skipped := rng("2626", StatusNotStarted, 100000)
	next, changed = TransitionOnComplete(skipped)
	assert.False(t, changed)
	assert.Equal(t, StatusNotStarted, next.Status)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusNotStarted, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusCompleted))

	assert.False(t, CanTransition(StatusNotStarted, StatusCompleted))
	assert.False(t, CanTransition(StatusPending, StatusNotStarted))
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
	assert.False(t, CanTransition(StatusCompleted, StatusCompleted))
}

func TestValidateManualStatus(t *testing.T) {
	tests := []struct {
		r       Range
		to      Status
		wantErr bool
	}{
		{rng("A", StatusNotStarted, 0), StatusPending, false},
		{rng("A", StatusPending, 0), StatusNotStarted, false},
		{rng("A", StatusPending, 3), StatusNotStarted, true},
		{rng("A", StatusPending, 3), StatusCompleted, true},
		{rng("A", StatusPending, 100000), StatusCompleted, false},
		{rng("A", StatusCompleted, 100000), StatusPending, true},
		{rng("A", StatusPending, 3), Status("paused"), true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d_to_%s", tt.r.Status, tt.r.LastAllocated, tt.to), func(t *testing.T) {
			err := ValidateManualStatus(tt.r, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
