package scheduler

import (
	"sync"
	"time"

	"rangescan/internal/core/ranges"
)

// journalSize bounds how many self-transitions are kept.
const journalSize = 256

// Transition is a status write performed by the scheduler itself.
type Transition struct {
	Seq    uint64
	Key    string
	Status ranges.Status
	At     time.Time
}

// SelfReport is what the scheduler tells the change monitor about its own work.
type SelfReport struct {
	// ActiveRangeKey is the range currently being advanced, empty when idle.
	ActiveRangeKey string
	// Seq is the sequence number of the newest transition.
	Seq uint64
	// Transitions is oldest first.
	Transitions []Transition
}

// Explains reports whether the scheduler wrote status for key after the
// journal was at mark.
func (r SelfReport) Explains(key string, status ranges.Status, mark uint64) bool {
	for i := len(r.Transitions) - 1; i >= 0; i-- {
		t := r.Transitions[i]
		if t.Seq <= mark {
			return false
		}
		if t.Key == key && t.Status == status {
			return true
		}
	}
	return false
}

// journal is written by the scheduler loop and read by the monitor.
type journal struct {
	mu      sync.RWMutex
	active  string
	seq     uint64
	entries []Transition
}

func newJournal() *journal {
	return &journal{entries: make([]Transition, 0, journalSize)}
}

// note records a status write. It is called before the write is issued so
// the write is never visible in the store ahead of its journal entry.
func (j *journal) note(key string, status ranges.Status, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	if len(j.entries) == journalSize {
		copy(j.entries, j.entries[1:])
		j.entries = j.entries[:journalSize-1]
	}
	j.entries = append(j.entries, Transition{Seq: j.seq, Key: key, Status: status, At: at})
}

func (j *journal) setActive(key string) {
	j.mu.Lock()
	j.active = key
	j.mu.Unlock()
}

func (j *journal) report() SelfReport {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return SelfReport{
		ActiveRangeKey: j.active,
		Seq:            j.seq,
		Transitions:    append([]Transition(nil), j.entries...),
	}
}
