package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"rangescan/internal/core/ranges"
)

const rangesTable = "ranges"

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// rangeRow is the stored shape of a range. digit_width is nullable and
// status is free text, so mapping onto the model can fail.
type rangeRow struct {
	Key           string `db:"key"`
	DigitWidth    *int   `db:"digit_width"`
	LastAllocated int64  `db:"last_allocated"`
	HasSeparator  bool   `db:"has_separator"`
	Status        string `db:"status"`
}

var rangeColumns = ExtractDBColumns[rangeRow]()

func (r rangeRow) toRange() (ranges.Range, error) {
	if r.DigitWidth == nil {
		return ranges.Range{}, fmt.Errorf("%w: digit_width is missing", ranges.ErrMalformed)
	}
	st, err := ranges.ParseStatus(r.Status)
	if err != nil {
		return ranges.Range{}, fmt.Errorf("%w: %v", ranges.ErrMalformed, err)
	}
	out := ranges.Range{
		Key:           r.Key,
		DigitWidth:    *r.DigitWidth,
		LastAllocated: r.LastAllocated,
		HasSeparator:  r.HasSeparator,
		Status:        st,
	}
	if err := out.Validate(); err != nil {
		return ranges.Range{}, fmt.Errorf("%w: %v", ranges.ErrMalformed, err)
	}
	return out, nil
}

// allocateSQL is the single atomic read-increment-write. The guard repeats
// the state machine: only pending (or a legacy in-progress alias) below
// 10^digit_width may advance.
const allocateSQL = `
UPDATE ranges
SET last_allocated = last_allocated + 1
WHERE key = $1
  AND lower(status) IN ('pending', 'running', 'paused', 'error')
  AND digit_width BETWEEN 1 AND 18
  AND last_allocated < power(10::numeric, digit_width)
RETURNING key, digit_width, last_allocated, has_separator, status`

// RangeStore implements ranges.AdminStore on PostgreSQL.
type RangeStore struct {
	pool *Pool
	txm  *TxManager
}

// NewRangeStore creates a range store.
func NewRangeStore(pool *Pool, txm *TxManager) *RangeStore {
	return &RangeStore{pool: pool, txm: txm}
}

var _ ranges.AdminStore = (*RangeStore)(nil)

func listQuery() squirrel.SelectBuilder {
	return builder.Select(rangeColumns...).From(rangesTable).OrderBy("key")
}

// GetAll implements ranges.Store.
func (s *RangeStore) GetAll(ctx context.Context) (ranges.Snapshot, error) {
	sql, args, err := listQuery().ToSql()
	if err != nil {
		return ranges.Snapshot{}, fmt.Errorf("build list: %w", err)
	}

	var rows []rangeRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return ranges.Snapshot{}, fmt.Errorf("list ranges: %w", err)
	}

	snap := ranges.Snapshot{Ranges: make([]ranges.Range, 0, len(rows))}
	for _, row := range rows {
		r, err := row.toRange()
		if err != nil {
			snap.Rejected = append(snap.Rejected, ranges.Rejection{Key: row.Key, Err: err})
			continue
		}
		snap.Ranges = append(snap.Ranges, r)
	}
	return snap, nil
}

// Get implements ranges.AdminStore.
func (s *RangeStore) Get(ctx context.Context, key string) (ranges.Range, error) {
	row, err := s.getRow(ctx, key, false)
	if err != nil {
		return ranges.Range{}, err
	}
	return row.toRange()
}

func (s *RangeStore) getRow(ctx context.Context, key string, forUpdate bool) (rangeRow, error) {
	q := builder.Select(rangeColumns...).From(rangesTable).Where(squirrel.Eq{"key": key})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return rangeRow{}, fmt.Errorf("build get: %w", err)
	}

	var row rangeRow
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return rangeRow{}, ranges.ErrRangeNotFound
		}
		return rangeRow{}, fmt.Errorf("get range %s: %w", key, err)
	}
	return row, nil
}

func insertQuery(r ranges.Range) squirrel.InsertBuilder {
	return builder.Insert(rangesTable).
		Columns(rangeColumns...).
		Values(r.Key, r.DigitWidth, r.LastAllocated, r.HasSeparator, string(r.Status))
}

// Create implements ranges.AdminStore.
func (s *RangeStore) Create(ctx context.Context, in ranges.NewRange) (ranges.Range, error) {
	r, err := in.Build()
	if err != nil {
		return ranges.Range{}, err
	}

	sql, args, err := insertQuery(r).ToSql()
	if err != nil {
		return ranges.Range{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ranges.Range{}, ranges.ErrRangeExists
		}
		return ranges.Range{}, fmt.Errorf("insert range %s: %w", r.Key, err)
	}
	return r, nil
}

func statusUpdate(key string, status ranges.Status) squirrel.UpdateBuilder {
	return builder.Update(rangesTable).
		Set("status", string(status)).
		Where(squirrel.Eq{"key": key})
}

// SetStatus implements ranges.Store.
func (s *RangeStore) SetStatus(ctx context.Context, key string, status ranges.Status) error {
	ctx, span := tracer.Start(ctx, "ranges.set_status", trace.WithAttributes(
		attribute.String("range.key", key),
		attribute.String("range.status", string(status)),
	))
	defer span.End()

	sql, args, err := statusUpdate(key, status).ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set status of %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ranges.ErrRangeNotFound
	}
	return nil
}

// ChangeStatus implements ranges.AdminStore. The row is locked so the
// check and the write see the same counter as a concurrent allocation.
func (s *RangeStore) ChangeStatus(ctx context.Context, key string, to ranges.Status) (ranges.Range, error) {
	var out ranges.Range
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		row, err := s.getRow(ctx, key, true)
		if err != nil {
			return err
		}
		r, err := row.toRange()
		if err != nil {
			return err
		}
		if err := ranges.ValidateManualStatus(r, to); err != nil {
			return err
		}
		if err := s.SetStatus(ctx, key, to); err != nil {
			return err
		}
		r.Status = to
		out = r
		return nil
	})
	return out, err
}

// AllocateNext implements ranges.Store.
func (s *RangeStore) AllocateNext(ctx context.Context, key string) (ranges.Range, error) {
	ctx, span := tracer.Start(ctx, "ranges.allocate_next", trace.WithAttributes(
		attribute.String("range.key", key),
	))
	defer span.End()

	var row rangeRow
	err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &row, allocateSQL, key)
	if err != nil {
		if pgxscan.NotFound(err) {
			return ranges.Range{}, s.whyNotAllocatable(ctx, key)
		}
		span.RecordError(err)
		return ranges.Range{}, fmt.Errorf("allocate next for %s: %w", key, err)
	}

	r, err := row.toRange()
	if err != nil {
		return ranges.Range{}, err
	}
	span.SetAttributes(attribute.Int64("range.last_allocated", r.LastAllocated))
	return r, nil
}

// whyNotAllocatable tells a missing range apart from one the guard refused.
func (s *RangeStore) whyNotAllocatable(ctx context.Context, key string) error {
	if _, err := s.getRow(ctx, key, false); errors.Is(err, ranges.ErrRangeNotFound) {
		return ranges.ErrRangeNotFound
	}
	return ranges.ErrNotAllocatable
}

type statusRow struct {
	Key              string `db:"key"`
	Status           string `db:"status"`
	RecentlyModified bool   `db:"recently_modified"`
}

func snapshotQuery(since time.Time) squirrel.SelectBuilder {
	return builder.Select("key", "status").
		Column(squirrel.Expr("changed_at > ? AS recently_modified", since)).
		From(rangesTable).
		OrderBy("key")
}

// StatusSnapshot implements ranges.Store. The database clock is read before
// the rows so a change racing the read is reported again next time rather
// than missed.
func (s *RangeStore) StatusSnapshot(ctx context.Context, since time.Time) (ranges.StatusSnapshot, error) {
	sql, args, err := snapshotQuery(since).ToSql()
	if err != nil {
		return ranges.StatusSnapshot{}, fmt.Errorf("build snapshot: %w", err)
	}

	var snap ranges.StatusSnapshot
	var rows []statusRow
	err = s.txm.ReadOnly(ctx, func(ctx context.Context) error {
		q := s.txm.GetQuerier(ctx)
		if err := q.QueryRow(ctx, "SELECT clock_timestamp()").Scan(&snap.TakenAt); err != nil {
			return fmt.Errorf("read database clock: %w", err)
		}
		if err := pgxscan.Select(ctx, q, &rows, sql, args...); err != nil {
			return fmt.Errorf("status snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return ranges.StatusSnapshot{}, err
	}

	snap.Entries = make([]ranges.StatusEntry, 0, len(rows))
	for _, row := range rows {
		st, err := ranges.ParseStatus(row.Status)
		if err != nil {
			// Keep the raw value so edits between two bad values still register.
			st = ranges.Status(strings.ToLower(strings.TrimSpace(row.Status)))
		}
		snap.Entries = append(snap.Entries, ranges.StatusEntry{
			Key:              row.Key,
			Status:           st,
			RecentlyModified: row.RecentlyModified,
		})
	}
	return snap, nil
}

// Ping implements ranges.AdminStore.
func (s *RangeStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
