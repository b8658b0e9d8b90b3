package ranges

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memRow mirrors a stored row, including values the model would reject.
type memRow struct {
	key           string
	digitWidth    int
	lastAllocated int64
	hasSeparator  bool
	status        string
	changedAt     time.Time
}

// MemoryStore is an in-process AdminStore with the same guards as the
// Postgres store. It uses a logical clock so snapshot comparisons are deterministic.
// Use in unit tests to avoid database dependencies.
type MemoryStore struct {
	// AllocateErr, when set, is consulted before every increment.
	AllocateErr func(key string) error
	// SetStatusErr, when set, is consulted before every status write.
	SetStatusErr func(key string, status Status) error
	// OnAllocate runs after a successful increment, outside the lock.
	OnAllocate func(r Range)

	mu          sync.Mutex
	rows        map[string]*memRow
	tick        int64
	allocations map[string]int
}

// NewMemoryStore creates a store seeded with ranges.
func NewMemoryStore(seed ...Range) *MemoryStore {
	s := &MemoryStore{
		rows:        make(map[string]*memRow),
		allocations: make(map[string]int),
	}
	for _, r := range seed {
		s.Put(r)
	}
	return s
}

func (s *MemoryStore) now() time.Time {
	s.tick++
	return time.Unix(0, 0).UTC().Add(time.Duration(s.tick) * time.Millisecond)
}

// Put inserts or replaces a range, as an external writer would.
func (s *MemoryStore) Put(r Range) {
	s.PutRaw(r.Key, r.DigitWidth, r.LastAllocated, r.HasSeparator, string(r.Status))
}

// PutRaw inserts a row without validation, including malformed ones.
func (s *MemoryStore) PutRaw(key string, digitWidth int, lastAllocated int64, hasSeparator bool, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = &memRow{
		key:           key,
		digitWidth:    digitWidth,
		lastAllocated: lastAllocated,
		hasSeparator:  hasSeparator,
		status:        status,
		changedAt:     s.now(),
	}
}

// Edit applies an external change to a stored range.
func (s *MemoryStore) Edit(key string, fn func(r *Range)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return
	}
	r := Range{
		Key:           row.key,
		DigitWidth:    row.digitWidth,
		LastAllocated: row.lastAllocated,
		HasSeparator:  row.hasSeparator,
		Status:        Status(row.status),
	}
	fn(&r)
	row.digitWidth = r.DigitWidth
	row.lastAllocated = r.LastAllocated
	row.hasSeparator = r.HasSeparator
	row.status = string(r.Status)
	row.changedAt = s.now()
}

// Remove deletes a range.
func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
}

// Allocations returns how many increments succeeded for key.
func (s *MemoryStore) Allocations(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocations[key]
}

func (row *memRow) toRange() (Range, error) {
	st, err := ParseStatus(row.status)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	r := Range{
		Key:           row.key,
		DigitWidth:    row.digitWidth,
		LastAllocated: row.lastAllocated,
		HasSeparator:  row.hasSeparator,
		Status:        st,
	}
	if err := r.Validate(); err != nil {
		return Range{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

func (s *MemoryStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetAll implements Store.
func (s *MemoryStore) GetAll(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	for _, k := range s.sortedKeys() {
		r, err := s.rows[k].toRange()
		if err != nil {
			snap.Rejected = append(snap.Rejected, Rejection{Key: k, Err: err})
			continue
		}
		snap.Ranges = append(snap.Ranges, r)
	}
	return snap, nil
}

// Get implements AdminStore.
func (s *MemoryStore) Get(ctx context.Context, key string) (Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return Range{}, ErrRangeNotFound
	}
	return row.toRange()
}

// Create implements AdminStore.
func (s *MemoryStore) Create(ctx context.Context, in NewRange) (Range, error) {
	r, err := in.Build()
	if err != nil {
		return Range{}, err
	}
	s.mu.Lock()
	if _, exists := s.rows[r.Key]; exists {
		s.mu.Unlock()
		return Range{}, ErrRangeExists
	}
	s.mu.Unlock()
	s.Put(r)
	return r, nil
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(ctx context.Context, key string, status Status) error {
	if s.SetStatusErr != nil {
		if err := s.SetStatusErr(key, status); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return ErrRangeNotFound
	}
	if row.status != string(status) {
		row.status = string(status)
		row.changedAt = s.now()
	}
	return nil
}

// ChangeStatus implements AdminStore.
func (s *MemoryStore) ChangeStatus(ctx context.Context, key string, to Status) (Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[key]
	if !ok {
		return Range{}, ErrRangeNotFound
	}
	r, err := row.toRange()
	if err != nil {
		return Range{}, err
	}
	if err := ValidateManualStatus(r, to); err != nil {
		return Range{}, err
	}
	if row.status != string(to) {
		row.status = string(to)
		row.changedAt = s.now()
	}
	r.Status = to
	return r, nil
}

// AllocateNext implements Store.
func (s *MemoryStore) AllocateNext(ctx context.Context, key string) (Range, error) {
	if s.AllocateErr != nil {
		if err := s.AllocateErr(key); err != nil {
			return Range{}, err
		}
	}

	s.mu.Lock()
	row, ok := s.rows[key]
	if !ok {
		s.mu.Unlock()
		return Range{}, ErrRangeNotFound
	}
	r, err := row.toRange()
	if err != nil || r.Status != StatusPending || IsComplete(r) {
		s.mu.Unlock()
		return Range{}, ErrNotAllocatable
	}
	row.lastAllocated++
	r.LastAllocated = row.lastAllocated
	s.allocations[key]++
	s.mu.Unlock()

	if s.OnAllocate != nil {
		s.OnAllocate(r)
	}
	return r, nil
}

// StatusSnapshot implements Store.
func (s *MemoryStore) StatusSnapshot(ctx context.Context, since time.Time) (StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatusSnapshot{TakenAt: s.now()}
	for _, k := range s.sortedKeys() {
		row := s.rows[k]
		st, err := ParseStatus(row.status)
		if err != nil {
			st = Status(strings.ToLower(strings.TrimSpace(row.status)))
		}
		snap.Entries = append(snap.Entries, StatusEntry{
			Key:              k,
			Status:           st,
			RecentlyModified: row.changedAt.After(since),
		})
	}
	return snap, nil
}

// Ping implements AdminStore.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

var _ AdminStore = (*MemoryStore)(nil)
