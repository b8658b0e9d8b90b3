// Package monitor detects range changes made outside the scheduler and raises
// the scheduler's interrupt signal so it re-runs selection.
package monitor

import (
	"context"
	"time"

	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/scheduler"
	"rangescan/pkg/logger"
)

// ChangeKind classifies a difference between two snapshots.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeStatus  ChangeKind = "status"
	ChangeConfig  ChangeKind = "config"
)

// Change is one external modification found by Compare.
type Change struct {
	Kind ChangeKind
	Key  string
	From ranges.Status
	To   ranges.Status
}

// Interrupts reports whether the change should make the scheduler re-select.
// Removing a range the scheduler is not working on cannot affect it.
func (c Change) Interrupts(activeKey string) bool {
	if c.Kind == ChangeRemoved {
		return c.Key == activeKey
	}
	return true
}

// Observation is a status snapshot plus the scheduler journal position read
// just before the snapshot was taken.
type Observation struct {
	ranges.StatusSnapshot
	JournalMark uint64
}

// Compare lists the external changes between prev and curr.
// Status writes the scheduler journaled after prev was taken are its own and
// are not reported.
func Compare(prev, curr Observation, self scheduler.SelfReport) []Change {
	before := make(map[string]ranges.StatusEntry, len(prev.Entries))
	for _, e := range prev.Entries {
		before[e.Key] = e
	}

	var changes []Change
	seen := make(map[string]bool, len(curr.Entries))
	for _, e := range curr.Entries {
		seen[e.Key] = true
		old, existed := before[e.Key]
		switch {
		case !existed:
			changes = append(changes, Change{Kind: ChangeAdded, Key: e.Key, To: e.Status})
		case old.Status != e.Status:
			if !self.Explains(e.Key, e.Status, prev.JournalMark) {
				changes = append(changes, Change{Kind: ChangeStatus, Key: e.Key, From: old.Status, To: e.Status})
			}
		case e.RecentlyModified:
			if !self.Explains(e.Key, e.Status, prev.JournalMark) {
				changes = append(changes, Change{Kind: ChangeConfig, Key: e.Key, From: old.Status, To: e.Status})
			}
		}
	}

	for _, e := range prev.Entries {
		if !seen[e.Key] {
			changes = append(changes, Change{Kind: ChangeRemoved, Key: e.Key, From: e.Status})
		}
	}
	return changes
}

// Source provides status snapshots; ranges.Store satisfies it.
type Source interface {
	StatusSnapshot(ctx context.Context, since time.Time) (ranges.StatusSnapshot, error)
}

// Reporter exposes the scheduler's own writes; *scheduler.Scheduler satisfies it.
type Reporter interface {
	SelfReport() scheduler.SelfReport
}

// Interrupter is raised when a change needs re-selection; *scheduler.Signal satisfies it.
type Interrupter interface {
	Raise()
}

// Recorder receives detected changes, e.g. to export metrics.
type Recorder interface {
	ChangeDetected(kind string)
}

// Config holds monitor settings.
type Config struct {
	Interval time.Duration
}

// Monitor polls the store on a fixed interval.
type Monitor struct {
	cfg         Config
	source      Source
	reporter    Reporter
	interrupter Interrupter
	recorder    Recorder
	log         *logger.Logger

	prev *Observation
}

// New creates a monitor. recorder may be nil.
func New(cfg Config, source Source, reporter Reporter, interrupter Interrupter, recorder Recorder, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.Default()
	}
	return &Monitor{
		cfg:         cfg,
		source:      source,
		reporter:    reporter,
		interrupter: interrupter,
		recorder:    recorder,
		log:         log.WithComponent("monitor"),
	}
}

// Run polls until ctx is done. Poll errors are logged and the previous
// baseline is kept.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Infow("change monitor started", "interval", m.cfg.Interval)
	defer m.log.Infow("change monitor stopped")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.pollAndLog(ctx)
		}
	}
}

func (m *Monitor) pollAndLog(ctx context.Context) {
	if _, err := m.Poll(ctx); err != nil && ctx.Err() == nil {
		m.log.Warnw("status snapshot failed, keeping previous baseline", "error", err)
	}
}

// Poll takes one snapshot, compares it with the previous one and raises the
// interrupt when needed. The first snapshot only sets the baseline.
func (m *Monitor) Poll(ctx context.Context) ([]Change, error) {
	mark := m.reporter.SelfReport().Seq

	var since time.Time
	if m.prev != nil {
		since = m.prev.TakenAt
	}
	snap, err := m.source.StatusSnapshot(ctx, since)
	if err != nil {
		return nil, err
	}
	curr := Observation{StatusSnapshot: snap, JournalMark: mark}

	if m.prev == nil {
		m.prev = &curr
		m.log.Debugw("baseline snapshot taken", "ranges", len(snap.Entries))
		return nil, nil
	}

	self := m.reporter.SelfReport()
	changes := Compare(*m.prev, curr, self)
	m.prev = &curr

	interrupt := false
	for _, c := range changes {
		m.log.Infow("external range change",
			"range_key", c.Key,
			"kind", c.Kind,
			"from", c.From,
			"to", c.To,
			"active_range_key", self.ActiveRangeKey,
		)
		if m.recorder != nil {
			m.recorder.ChangeDetected(string(c.Kind))
		}
		if c.Interrupts(self.ActiveRangeKey) {
			interrupt = true
		}
	}
	if interrupt {
		m.interrupter.Raise()
	}
	return changes, nil
}
