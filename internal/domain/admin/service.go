// Package admin implements the operator-facing range operations shared by
// the admin API and rangectl.
package admin

import (
	"context"
	"errors"

	"rangescan/internal/core/apperror"
	"rangescan/internal/core/ranges"
	"rangescan/pkg/logger"
)

// AttemptCounter reports journaled attempt counts per result for a range.
type AttemptCounter interface {
	CountAttempts(ctx context.Context, key string) (map[string]int64, error)
}

// Listing is every range plus the rows that could not be read.
type Listing struct {
	Ranges   []ranges.Range
	Rejected []ranges.Rejection
}

// Service applies operator edits with the same invariants the scheduler relies on.
type Service struct {
	store    ranges.AdminStore
	attempts AttemptCounter
	log      *logger.Logger
}

// NewService creates the service. attempts may be nil.
func NewService(store ranges.AdminStore, attempts AttemptCounter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{store: store, attempts: attempts, log: log.WithComponent("admin")}
}

// List returns the ranges matching where, ordered by key. An empty where
// returns all of them. Rejected rows are always reported.
func (s *Service) List(ctx context.Context, where string) (Listing, error) {
	filter, err := CompileFilter(where)
	if err != nil {
		return Listing{}, err
	}
	snap, err := s.store.GetAll(ctx)
	if err != nil {
		return Listing{}, apperror.NewStoreUnavailable(err)
	}

	out := Listing{Rejected: snap.Rejected}
	for _, r := range snap.Ranges {
		ok, err := filter.Match(r)
		if err != nil {
			return Listing{}, apperror.NewValidation("filter evaluation failed").WithCause(err)
		}
		if ok {
			out.Ranges = append(out.Ranges, r)
		}
	}
	return out, nil
}

// Summary counts ranges per status, the way the status page reports progress.
type Summary struct {
	Total     int
	ByStatus  map[ranges.Status]int
	Malformed int
	Allocated int64
	Remaining int64
}

// Summary aggregates every readable range. Malformed rows are only counted.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	snap, err := s.store.GetAll(ctx)
	if err != nil {
		return Summary{}, apperror.NewStoreUnavailable(err)
	}

	out := Summary{
		Total: len(snap.Ranges) + len(snap.Rejected),
		ByStatus: map[ranges.Status]int{
			ranges.StatusNotStarted: 0,
			ranges.StatusPending:    0,
			ranges.StatusCompleted:  0,
		},
		Malformed: len(snap.Rejected),
	}
	for _, r := range snap.Ranges {
		out.ByStatus[r.Status]++
		out.Allocated += r.LastAllocated
		out.Remaining += r.Remaining()
	}
	return out, nil
}

// Get returns one range.
func (s *Service) Get(ctx context.Context, key string) (ranges.Range, error) {
	key = ranges.NormalizeKey(key)
	r, err := s.store.Get(ctx, key)
	if err != nil {
		return ranges.Range{}, s.mapError(key, err)
	}
	return r, nil
}

// Create validates and inserts a range.
func (s *Service) Create(ctx context.Context, in ranges.NewRange) (ranges.Range, error) {
	if _, err := in.Build(); err != nil {
		return ranges.Range{}, apperror.NewValidation(err.Error())
	}
	r, err := s.store.Create(ctx, in)
	if err != nil {
		return ranges.Range{}, s.mapError(ranges.NormalizeKey(in.Key), err)
	}
	logger.FromContext(ctx).Infow("range created",
		"range_key", r.Key,
		"digit_width", r.DigitWidth,
		"last_allocated", r.LastAllocated,
		"status", r.Status,
	)
	return r, nil
}

// ChangeStatus applies an operator status edit. rawStatus accepts the same
// spellings as stored values.
func (s *Service) ChangeStatus(ctx context.Context, key, rawStatus string) (ranges.Range, error) {
	key = ranges.NormalizeKey(key)
	to, err := ranges.ParseStatus(rawStatus)
	if err != nil {
		return ranges.Range{}, apperror.NewValidation(err.Error())
	}

	r, err := s.store.ChangeStatus(ctx, key, to)
	if errors.Is(err, ranges.ErrInvalidTransition) {
		return ranges.Range{}, apperror.NewInvalidTransition(key, to, err)
	}
	if err != nil {
		return ranges.Range{}, s.mapError(key, err)
	}
	logger.FromContext(ctx).Infow("range status changed", "range_key", key, "status", to)
	return r, nil
}

// Attempts returns attempt counts by result, or nil when no journal is wired.
func (s *Service) Attempts(ctx context.Context, key string) (map[string]int64, error) {
	key = ranges.NormalizeKey(key)
	if _, err := s.Get(ctx, key); err != nil {
		return nil, err
	}
	if s.attempts == nil {
		return nil, nil
	}
	counts, err := s.attempts.CountAttempts(ctx, key)
	if err != nil {
		return nil, apperror.NewStoreUnavailable(err)
	}
	return counts, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return apperror.NewStoreUnavailable(err)
	}
	return nil
}

func (s *Service) mapError(key string, err error) error {
	switch {
	case errors.Is(err, ranges.ErrRangeNotFound):
		return apperror.NewNotFound("range", key)
	case errors.Is(err, ranges.ErrRangeExists):
		return apperror.NewDuplicate("range", "key", key)
	case errors.Is(err, ranges.ErrMalformed):
		return apperror.NewMalformedRange(key, err.Error())
	default:
		s.log.Errorw("range store failure", "range_key", key, "error", err)
		return apperror.NewStoreUnavailable(err)
	}
}
