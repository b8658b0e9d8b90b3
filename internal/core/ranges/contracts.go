package ranges

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRangeNotFound is returned when no range has the requested key.
	ErrRangeNotFound = errors.New("range not found")

	// ErrNotAllocatable is returned by AllocateNext when the range is not
	// PENDING or has no suffixes left.
	ErrNotAllocatable = errors.New("range not allocatable")

	// ErrRangeExists is returned when creating a range whose key is taken.
	ErrRangeExists = errors.New("range already exists")

	// ErrTimeout is the transient error a lookup returns when it runs out of time.
	ErrTimeout = errors.New("lookup timed out")

	// ErrMalformed wraps validation failures of stored rows.
	ErrMalformed = errors.New("malformed range")

	// ErrInvalidTransition wraps operator status edits that would break the counter invariants.
	ErrInvalidTransition = errors.New("invalid status change")
)

// Rejection is a stored range that could not be mapped onto the model.
type Rejection struct {
	Key string
	Err error
}

// Snapshot is the full state of all ranges at one instant.
type Snapshot struct {
	Ranges   []Range
	Rejected []Rejection
}

// StatusEntry is one row of the change monitor's snapshot.
type StatusEntry struct {
	Key              string
	Status           Status
	RecentlyModified bool
}

// StatusSnapshot is the coarse view the change monitor compares between polls.
// TakenAt comes from the store's clock and is passed back as the next "since".
type StatusSnapshot struct {
	TakenAt time.Time
	Entries []StatusEntry
}

// Store is the persistent home of range configuration and counters.
type Store interface {
	// GetAll returns every range; rows that fail validation are listed in Rejected.
	GetAll(ctx context.Context) (Snapshot, error)

	// SetStatus persists a status change.
	SetStatus(ctx context.Context, key string, status Status) error

	// AllocateNext atomically increments LastAllocated and returns the updated range.
	// It must only succeed for PENDING ranges below MaxValue.
	AllocateNext(ctx context.Context, key string) (Range, error)

	// StatusSnapshot returns (key, status, recently modified since `since`) for all ranges.
	StatusSnapshot(ctx context.Context, since time.Time) (StatusSnapshot, error)
}

// AdminStore is the store surface used by the operator CLI and admin API.
type AdminStore interface {
	Store

	// Get returns a single range.
	Get(ctx context.Context, key string) (Range, error)

	// Create inserts a new range.
	Create(ctx context.Context, in NewRange) (Range, error)

	// ChangeStatus applies an operator status edit checked by ValidateManualStatus,
	// atomically with respect to allocation.
	ChangeStatus(ctx context.Context, key string, to Status) (Range, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Resolver performs the external lookup for one identifier.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (Outcome, error)
}

// Sink records found results. Destinations are provisioned on first use.
type Sink interface {
	// EnsureDestination creates the destination and its header row; idempotent.
	EnsureDestination(ctx context.Context, key string) error

	// Append records one result.
	Append(ctx context.Context, key string, rec Record) error

	// Close flushes and releases resources.
	Close() error
}

// AttemptLog journals every allocated identifier and what happened to it.
type AttemptLog interface {
	Record(ctx context.Context, a Attempt) error
}
