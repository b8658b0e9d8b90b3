package ranges

import (
	"context"
	"sync"
)

// MockResolver is a test implementation of Resolver.
type MockResolver struct {
	ResolveFunc func(ctx context.Context, identifier string) (Outcome, error)

	mu    sync.Mutex
	calls []string
}

// Resolve implements Resolver.
func (m *MockResolver) Resolve(ctx context.Context, identifier string) (Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, identifier)
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, identifier)
	}
	return Outcome{Identifier: identifier, Attempts: 1}, nil
}

// Calls returns the identifiers resolved so far.
func (m *MockResolver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockSink is a test implementation of Sink that keeps records in memory.
type MockSink struct {
	AppendFunc func(ctx context.Context, key string, rec Record) error

	mu           sync.Mutex
	destinations map[string]int
	records      map[string][]Record
}

// EnsureDestination implements Sink.
func (m *MockSink) EnsureDestination(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destinations == nil {
		m.destinations = make(map[string]int)
	}
	m.destinations[key]++
	return nil
}

// Append implements Sink.
func (m *MockSink) Append(ctx context.Context, key string, rec Record) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(ctx, key, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string][]Record)
	}
	m.records[key] = append(m.records[key], rec)
	return nil
}

// Close implements Sink.
func (m *MockSink) Close() error { return nil }

// Records returns what was appended for key.
func (m *MockSink) Records(key string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records[key]...)
}

// EnsureCalls returns how many times EnsureDestination ran for key.
func (m *MockSink) EnsureCalls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destinations[key]
}

// MockAttemptLog is a test implementation of AttemptLog.
type MockAttemptLog struct {
	mu       sync.Mutex
	attempts []Attempt
}

// Record implements AttemptLog.
func (m *MockAttemptLog) Record(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

// Attempts returns the journaled attempts.
func (m *MockAttemptLog) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.attempts...)
}

// Ensure compile-time interface compliance.
var (
	_ Resolver   = (*MockResolver)(nil)
	_ Sink       = (*MockSink)(nil)
	_ AttemptLog = (*MockAttemptLog)(nil)
)
