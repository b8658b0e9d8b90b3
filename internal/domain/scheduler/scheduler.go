// Package scheduler drives allocation on exactly one range at a time.
//
// A cycle takes a snapshot of all ranges, selects one through the state
// machine in the ranges package and then loops allocate, lookup, record until
// the range completes or the change monitor raises the interrupt signal.
// The store's atomic increment is the only source of progress; nothing is
// counted locally, so a restart resumes at LastAllocated+1.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"rangescan/internal/core/apperror"
	appctx "rangescan/internal/core/context"
	"rangescan/internal/core/id"
	"rangescan/internal/core/ranges"
	"rangescan/pkg/logger"
)

var tracer = otel.Tracer("rangescan/scheduler")

// Phases used in logs and error details.
const (
	PhaseSnapshot = "snapshot"
	PhaseStart    = "start"
	PhaseAllocate = "allocate"
	PhaseLookup   = "lookup"
	PhaseRecord   = "record"
	PhaseJournal  = "journal"
	PhaseComplete = "complete"
)

// Config holds the scheduler's timing knobs.
type Config struct {
	// IdleInterval is how long to sleep when no range has work, and after a failed cycle.
	IdleInterval time.Duration
	// Pacing is the minimum delay between consecutive allocations. Zero disables pacing.
	Pacing time.Duration
	// LookupTimeout bounds one Resolve call including its retries.
	LookupTimeout time.Duration
	// SinkTimeout bounds EnsureDestination plus Append for one result.
	SinkTimeout time.Duration
	// StoreTimeout bounds single store calls made on the detached context.
	StoreTimeout time.Duration
	// MaxConsecutiveFailures makes Run give up after that many store failures in a row.
	// Zero means never give up.
	MaxConsecutiveFailures int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		IdleInterval:           30 * time.Second,
		Pacing:                 500 * time.Millisecond,
		LookupTimeout:          45 * time.Second,
		SinkTimeout:            15 * time.Second,
		StoreTimeout:           10 * time.Second,
		MaxConsecutiveFailures: 10,
	}
}

// Recorder receives scheduler events, e.g. to export metrics.
type Recorder interface {
	Allocated(key string)
	Resolved(key string, result ranges.AttemptResult, elapsed time.Duration)
	Completed(key string)
	Interrupted()
	CycleFailed(code string)
}

type nopRecorder struct{}

func (nopRecorder) Allocated(string)                                     {}
func (nopRecorder) Resolved(string, ranges.AttemptResult, time.Duration) {}
func (nopRecorder) Completed(string)                                     {}
func (nopRecorder) Interrupted()                                         {}
func (nopRecorder) CycleFailed(string)                                   {}

// Deps are the scheduler's collaborators. Store, Resolver and Sink are required.
type Deps struct {
	Store    ranges.Store
	Resolver ranges.Resolver
	Sink     ranges.Sink

	// Attempts journals every allocation. Optional.
	Attempts ranges.AttemptLog
	// Signal is shared with the change monitor. A private one is created when nil.
	Signal *Signal
	// Recorder is optional.
	Recorder Recorder
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Logger defaults to logger.Default().
	Logger *logger.Logger
}

// Scheduler owns the processing loop. Only one goroutine may call Run or RunCycle.
type Scheduler struct {
	cfg      Config
	store    ranges.Store
	resolver ranges.Resolver
	sink     ranges.Sink
	attempts ranges.AttemptLog
	signal   *Signal
	recorder Recorder
	now      func() time.Time
	log      *logger.Logger

	limiter   *rate.Limiter
	journal   *journal
	stats     counters
	startedAt time.Time
	paused    atomic.Bool

	// loop-owned state
	provisioned map[string]bool
	malformed   map[string]string
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		store:       deps.Store,
		resolver:    deps.Resolver,
		sink:        deps.Sink,
		attempts:    deps.Attempts,
		signal:      deps.Signal,
		recorder:    deps.Recorder,
		now:         deps.Clock,
		log:         deps.Logger,
		journal:     newJournal(),
		provisioned: make(map[string]bool),
		malformed:   make(map[string]string),
	}
	if s.signal == nil {
		s.signal = NewSignal()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("scheduler")

	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}
	s.limiter = rate.NewLimiter(limit, 1)
	s.startedAt = s.now()
	return s
}

// Signal returns the interrupt signal the change monitor should raise.
func (s *Scheduler) Signal() *Signal {
	return s.signal
}

// SelfReport returns the active range and the scheduler's own status writes.
func (s *Scheduler) SelfReport() SelfReport {
	return s.journal.report()
}

// Pause stops allocation once the allocation in flight has finished.
// It is safe to call from any goroutine and reports whether the state changed.
func (s *Scheduler) Pause() bool {
	if !s.paused.CompareAndSwap(false, true) {
		return false
	}
	s.log.Infow("scheduler paused")
	s.signal.Raise()
	return true
}

// Resume undoes Pause and wakes an idle loop.
func (s *Scheduler) Resume() bool {
	if !s.paused.CompareAndSwap(true, false) {
		return false
	}
	s.log.Infow("scheduler resumed")
	s.signal.Raise()
	return true
}

// Running reports whether the scheduler is allowed to allocate.
func (s *Scheduler) Running() bool {
	return !s.paused.Load()
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	allocated := s.stats.allocated.Load()
	found := s.stats.found.Load()
	uptime := s.now().Sub(s.startedAt)
	return Stats{
		TotalAllocated: allocated,
		TotalFound:     found,
		LookupFailures: s.stats.lookupFailures.Load(),
		SinkFailures:   s.stats.sinkFailures.Load(),
		Errors:         s.stats.errors.Load(),
		Cycles:         s.stats.cycles.Load(),
		Interrupts:     s.stats.interrupts.Load(),
		Completed:      s.stats.completed.Load(),
		Running:        s.Running(),
		ActiveRangeKey: s.journal.report().ActiveRangeKey,
		StartedAt:      s.startedAt,
		Uptime:         uptime,
		UptimeSeconds:  int64(uptime / time.Second),
		SuccessRate:    successRate(found, allocated),
	}
}

// Run loops RunCycle until ctx is done.
// Cycle errors are logged and retried after the idle interval. Run only
// returns an error after MaxConsecutiveFailures store failures in a row.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infow("scheduler started",
		"idle_interval", s.cfg.IdleInterval,
		"pacing", s.cfg.Pacing,
	)
	defer s.log.Infow("scheduler stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.RunCycle(ctx)
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		s.stats.errors.Add(1)
		key, phase, code := describe(err)
		s.recorder.CycleFailed(code)
		s.log.Errorw("cycle failed",
			"range_key", key,
			"phase", phase,
			"code", code,
			"error", err,
		)

		if isStoreFailure(err) {
			failures++
			if s.cfg.MaxConsecutiveFailures > 0 && failures >= s.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("range store failed %d consecutive cycles: %w", failures, err)
			}
		} else {
			failures = 0
		}

		s.sleep(ctx, s.cfg.IdleInterval, nil)
	}
}

// RunCycle performs one selection and works the selected range until it
// completes or the interrupt signal is raised.
// While paused it idles until resumed instead.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if s.paused.Load() {
		s.journal.setActive("")
		s.signal.Consume()
		// Resume may have raised the signal just before Consume.
		if s.paused.Load() {
			s.sleep(ctx, s.cfg.IdleInterval, s.signal.C())
		}
		return nil
	}
	s.stats.cycles.Add(1)

	cycle := appctx.NewCycleContext()
	ctx = appctx.WithCycle(ctx, cycle)
	ctx, span := tracer.Start(ctx, "scheduler.cycle",
		trace.WithAttributes(attribute.String("cycle.id", cycle.CycleID)))
	defer span.End()

	// Selection is about to run, so any pending hint is already satisfied.
	s.signal.Consume()

	snap, err := s.store.GetAll(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "snapshot failed")
		return apperror.NewStoreUnavailable(err).WithDetail("phase", PhaseSnapshot)
	}
	s.reportMalformed(snap.Rejected)

	sel, ok := ranges.SelectNext(snap.Ranges)
	if !ok {
		s.journal.setActive("")
		s.log.WithContext(ctx).Debugw("no range has work, idling", "idle_interval", s.cfg.IdleInterval)
		s.sleep(ctx, s.cfg.IdleInterval, s.signal.C())
		return nil
	}

	r := sel.Range
	cycle.RangeKey = r.Key
	span.SetAttributes(attribute.String("range.key", r.Key))
	s.journal.setActive(r.Key)

	if sel.NeedsStart {
		if r, err = s.start(ctx, r); err != nil {
			span.SetStatus(codes.Error, "start failed")
			return err
		}
	}

	if err := s.advance(ctx, r); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// start durably moves a NOT_STARTED range to PENDING before anything is allocated.
func (s *Scheduler) start(ctx context.Context, r ranges.Range) (ranges.Range, error) {
	next, changed := ranges.TransitionOnSelect(r)
	if !changed {
		return r, nil
	}
	if err := s.writeStatus(ctx, next.Key, next.Status); err != nil {
		return r, apperror.NewStoreWrite(r.Key, PhaseStart, err)
	}
	s.log.WithContext(ctx).Infow("range started", "digit_width", next.DigitWidth)
	return next, nil
}

// advance runs the inner allocation loop on a PENDING range.
func (s *Scheduler) advance(ctx context.Context, r ranges.Range) error {
	log := s.log.WithContext(ctx)

	if ranges.IsComplete(r) {
		return s.complete(ctx, r)
	}
	log.Infow("advancing range",
		"last_allocated", r.LastAllocated,
		"remaining", r.Remaining(),
	)

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		updated, err := s.step(ctx, r.Key)
		if withdrawn(err) {
			// Edited or deleted before the monitor noticed; the guard refused it.
			s.stats.interrupts.Add(1)
			s.recorder.Interrupted()
			log.Infow("range changed outside the scheduler, re-running selection", "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		r = updated

		if ranges.IsComplete(r) {
			return s.complete(ctx, r)
		}

		// The allocation above has fully finished; only now look at the signal.
		if s.signal.Consume() {
			s.stats.interrupts.Add(1)
			s.recorder.Interrupted()
			log.Infow("interrupted, re-running selection", "last_allocated", r.LastAllocated)
			return nil
		}
	}
}

// step is one allocate, lookup, record triple. It runs detached from ctx's
// cancellation so shutdown never abandons an allocated identifier halfway;
// every call inside is bounded by its own timeout instead.
func (s *Scheduler) step(ctx context.Context, key string) (ranges.Range, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "scheduler.step",
		trace.WithAttributes(attribute.String("range.key", key)))
	defer span.End()

	allocCtx, cancel := s.bounded(ctx, s.cfg.StoreTimeout)
	r, err := s.store.AllocateNext(allocCtx, key)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return ranges.Range{}, apperror.NewAllocation(key, err)
	}

	alloc := ranges.NewAllocation(r)
	s.stats.allocated.Add(1)
	s.recorder.Allocated(key)
	span.SetAttributes(
		attribute.String("identifier", alloc.Identifier),
		attribute.Int64("suffix", alloc.Suffix),
	)

	attempt := ranges.Attempt{
		ID:         id.New(),
		RangeKey:   key,
		Identifier: alloc.Identifier,
		Suffix:     alloc.Suffix,
		Result:     ranges.AttemptNotFound,
	}

	started := s.now()
	outcome, err := s.resolve(ctx, alloc)
	if err != nil {
		attempt.Result = ranges.AttemptFailed
		attempt.Error = err.Error()
	}

	if outcome.Found {
		s.stats.found.Add(1)
		attempt.Result = ranges.AttemptFound
		attempt.Payload = outcome.Payload
		if err := s.record(ctx, alloc, outcome); err != nil {
			s.stats.sinkFailures.Add(1)
			attempt.Result = ranges.AttemptSinkFailed
			attempt.Error = err.Error()
			s.log.WithContext(ctx).Errorw("failed to record result",
				"phase", PhaseRecord,
				"identifier", alloc.Identifier,
				"error", err,
			)
		}
	}
	s.recorder.Resolved(key, attempt.Result, s.now().Sub(started))

	attempt.CreatedAt = s.now()
	s.journalAttempt(ctx, attempt)

	return r, nil
}

// resolve runs the lookup. A failure is returned for the journal but the
// outcome is always usable and means "not found".
func (s *Scheduler) resolve(ctx context.Context, alloc ranges.Allocation) (ranges.Outcome, error) {
	ctx, cancel := s.bounded(ctx, s.cfg.LookupTimeout)
	defer cancel()

	outcome, err := s.resolver.Resolve(ctx, alloc.Identifier)
	if err != nil {
		s.stats.lookupFailures.Add(1)
		s.log.WithContext(ctx).Warnw("lookup failed, recording as not found",
			"phase", PhaseLookup,
			"identifier", alloc.Identifier,
			"suffix", alloc.Suffix,
			"error", apperror.NewTransient(PhaseLookup, err),
		)
		return ranges.Outcome{Identifier: alloc.Identifier}, err
	}
	outcome.Identifier = alloc.Identifier
	return outcome, nil
}

// record provisions the destination once per key and appends the result.
func (s *Scheduler) record(ctx context.Context, alloc ranges.Allocation, outcome ranges.Outcome) error {
	ctx, cancel := s.bounded(ctx, s.cfg.SinkTimeout)
	defer cancel()

	key := alloc.Range.Key
	if !s.provisioned[key] {
		if err := s.sink.EnsureDestination(ctx, key); err != nil {
			return fmt.Errorf("ensure destination %s: %w", key, err)
		}
		s.provisioned[key] = true
	}

	return s.sink.Append(ctx, key, ranges.Record{
		Serial:     alloc.Suffix,
		Identifier: alloc.Identifier,
		Payload:    outcome.Payload,
		RecordedAt: s.now(),
	})
}

func (s *Scheduler) journalAttempt(ctx context.Context, a ranges.Attempt) {
	if s.attempts == nil {
		return
	}
	ctx, cancel := s.bounded(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.attempts.Record(ctx, a); err != nil {
		s.log.WithContext(ctx).Warnw("failed to journal attempt",
			"phase", PhaseJournal,
			"identifier", a.Identifier,
			"error", err,
		)
	}
}

// complete persists PENDING -> COMPLETED. The write is detached from ctx so a
// shutdown right after the final allocation still completes the range.
func (s *Scheduler) complete(ctx context.Context, r ranges.Range) error {
	next, changed := ranges.TransitionOnComplete(r)
	if !changed {
		return nil
	}

	wctx, cancel := s.bounded(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.writeStatus(wctx, next.Key, next.Status); err != nil {
		return apperror.NewStoreWrite(r.Key, PhaseComplete, err)
	}

	s.stats.completed.Add(1)
	s.recorder.Completed(r.Key)
	s.journal.setActive("")
	s.log.WithContext(ctx).Infow("range completed", "last_allocated", next.LastAllocated)
	return nil
}

// writeStatus journals the transition before issuing it, so the monitor can
// never observe the write ahead of the journal entry.
func (s *Scheduler) writeStatus(ctx context.Context, key string, status ranges.Status) error {
	s.journal.note(key, status, s.now())
	return s.store.SetStatus(ctx, key, status)
}

// reportMalformed logs each rejected range once until its reason changes.
func (s *Scheduler) reportMalformed(rejected []ranges.Rejection) {
	seen := make(map[string]bool, len(rejected))
	for _, rej := range rejected {
		seen[rej.Key] = true
		reason := rej.Err.Error()
		if s.malformed[rej.Key] == reason {
			continue
		}
		s.malformed[rej.Key] = reason
		s.log.Warnw("skipping malformed range",
			"range_key", rej.Key,
			"phase", PhaseSnapshot,
			"error", apperror.NewMalformedRange(rej.Key, reason),
		)
	}
	for key := range s.malformed {
		if !seen[key] {
			delete(s.malformed, key)
			s.log.Infow("malformed range corrected", "range_key", key)
		}
	}
}

func (s *Scheduler) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// sleep waits for d, ctx cancellation or a receive on wake.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

// describe pulls range key, phase and code out of a cycle error for logging.
func describe(err error) (key, phase, code string) {
	code = apperror.CodeInternal
	appErr, ok := apperror.AsAppError(err)
	if !ok {
		return "", "", code
	}
	code = appErr.Code
	if v, ok := appErr.Details["range_key"].(string); ok {
		key = v
	}
	if v, ok := appErr.Details["phase"].(string); ok {
		phase = v
	}
	return key, phase, code
}

// withdrawn reports an allocation the store refused because the range is gone
// or no longer pending.
func withdrawn(err error) bool {
	return errors.Is(err, ranges.ErrNotAllocatable) || errors.Is(err, ranges.ErrRangeNotFound)
}

// isStoreFailure separates connectivity-type failures from a range that
// simply stopped being allocatable because someone edited it.
func isStoreFailure(err error) bool {
	if withdrawn(err) {
		return false
	}
	return apperror.HasCode(err, apperror.CodeStoreUnavailable) ||
		apperror.HasCode(err, apperror.CodeStoreWrite) ||
		apperror.HasCode(err, apperror.CodeAllocation)
}
