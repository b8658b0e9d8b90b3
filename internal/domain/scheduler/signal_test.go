package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rangescan/internal/core/ranges"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSignal_CoalescesAndNeverBlocks(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Consume())

	s.Raise()
	s.Raise()
	s.Raise()

	assert.True(t, s.Consume())
	assert.False(t, s.Consume())
}

func TestJournal_BoundedAndOrdered(t *testing.T) {
	j := newJournal()
	for i := 0; i < journalSize+10; i++ {
		j.note("A", ranges.StatusPending, testTime)
	}

	r := j.report()
	assert.Len(t, r.Transitions, journalSize)
	assert.Equal(t, uint64(journalSize+10), r.Seq)
	assert.Equal(t, uint64(11), r.Transitions[0].Seq)
}

func TestSelfReport_Explains(t *testing.T) {
	j := newJournal()
	j.note("A", ranges.StatusPending, testTime)
	mark := j.report().Seq
	j.note("B", ranges.StatusPending, testTime)

	r := j.report()
	assert.True(t, r.Explains("B", ranges.StatusPending, mark))
	assert.False(t, r.Explains("A", ranges.StatusPending, mark), "written before the mark")
	assert.False(t, r.Explains("B", ranges.StatusCompleted, mark))
}

func TestSuccessRate(t *testing.T) {
	assert.True(t, successRate(0, 0).IsZero())
	assert.Equal(t, "33.33", successRate(1, 3).String())
	assert.Equal(t, "100", successRate(4, 4).String())
}
