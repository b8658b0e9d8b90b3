package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/core/apperror"
	"rangescan/internal/core/ranges"
	"rangescan/pkg/logger"
)

type fakeCounter map[string]int64

func (f fakeCounter) CountAttempts(context.Context, string) (map[string]int64, error) {
	return f, nil
}

func newService(seed ...ranges.Range) (*Service, *ranges.MemoryStore) {
	store := ranges.NewMemoryStore(seed...)
	return NewService(store, fakeCounter{"found": 2, "not_found": 5}, logger.NewNop()), store
}

func TestCreate(t *testing.T) {
	s, store := newService()
	ctx := context.Background()

	r, err := s.Create(ctx, ranges.NewRange{Key: " ab ", DigitWidth: 3, HasSeparator: true})
	require.NoError(t, err)
	assert.Equal(t, "AB", r.Key)
	assert.Equal(t, ranges.StatusNotStarted, r.Status)

	got, err := store.Get(ctx, "AB")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = s.Create(ctx, ranges.NewRange{Key: "ab", DigitWidth: 3})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	_, err = s.Create(ctx, ranges.NewRange{Key: "X", DigitWidth: 0})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestCreate_StartingNumberMakesPending(t *testing.T) {
	s, _ := newService()

	r, err := s.Create(context.Background(), ranges.NewRange{Key: "2626", DigitWidth: 5, StartingNumber: 41217})

	require.NoError(t, err)
	assert.Equal(t, ranges.StatusPending, r.Status)
	assert.Equal(t, int64(41217), r.LastAllocated)
}

func TestChangeStatus(t *testing.T) {
	s, _ := newService(
		ranges.Range{Key: "A", DigitWidth: 1, LastAllocated: 4, Status: ranges.StatusPending},
		ranges.Range{Key: "B", DigitWidth: 1, LastAllocated: 0, Status: ranges.StatusPending},
	)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		to   string
		code string
	}{
		{"rewind to not started with progress", "A", "not_started", apperror.CodeInvalidStatus},
		{"complete with suffixes left", "a", "completed", apperror.CodeInvalidStatus},
		{"unknown status", "A", "archived", apperror.CodeValidation},
		{"missing range", "Z", "pending", apperror.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ChangeStatus(ctx, tt.key, tt.to)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}

	r, err := s.ChangeStatus(ctx, "b", "NOT_STARTED")
	require.NoError(t, err)
	assert.Equal(t, ranges.StatusNotStarted, r.Status)

	r, err = s.ChangeStatus(ctx, "A", "running")
	require.NoError(t, err)
	assert.Equal(t, ranges.StatusPending, r.Status, "legacy alias")
}

func TestGetAndList(t *testing.T) {
	s, store := newService(ranges.Range{Key: "A", DigitWidth: 2, Status: ranges.StatusNotStarted})
	store.PutRaw("BAD", 0, 0, false, "pending")
	ctx := context.Background()

	r, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", r.Key)

	_, err = s.Get(ctx, "BAD")
	assert.True(t, apperror.HasCode(err, apperror.CodeMalformedRange))

	list, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list.Ranges, 1)
	require.Len(t, list.Rejected, 1)
	assert.Equal(t, "BAD", list.Rejected[0].Key)
}

func TestAttempts(t *testing.T) {
	s, _ := newService(ranges.Range{Key: "A", DigitWidth: 2, Status: ranges.StatusNotStarted})

	counts, err := s.Attempts(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["found"])

	_, err = s.Attempts(context.Background(), "Q")
	assert.True(t, apperror.HasCode(err, apperror.CodeNotFound))
}

type brokenStore struct {
	*ranges.MemoryStore
}

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestPing(t *testing.T) {
	s := NewService(brokenStore{ranges.NewMemoryStore()}, nil, logger.NewNop())

	err := s.Ping(context.Background())
	assert.True(t, apperror.HasCode(err, apperror.CodeStoreUnavailable))
}

func TestSummary(t *testing.T) {
	s, store := newService(
		ranges.Range{Key: "A", DigitWidth: 2, Status: ranges.StatusNotStarted},
		ranges.Range{Key: "B", DigitWidth: 2, LastAllocated: 40, Status: ranges.StatusPending},
		ranges.Range{Key: "C", DigitWidth: 1, LastAllocated: 10, Status: ranges.StatusCompleted},
	)
	store.PutRaw("BAD", 0, 0, false, "pending")

	sum, err := s.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 1, sum.Malformed)
	assert.Equal(t, map[ranges.Status]int{
		ranges.StatusNotStarted: 1,
		ranges.StatusPending:    1,
		ranges.StatusCompleted:  1,
	}, sum.ByStatus)
	assert.Equal(t, int64(50), sum.Allocated)
	assert.Equal(t, int64(100+60), sum.Remaining)
}
