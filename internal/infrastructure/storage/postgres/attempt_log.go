package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"rangescan/internal/core/ranges"
)

const attemptsTable = "lookup_attempts"

type attemptRow struct {
	ID         uuid.UUID `db:"id"`
	RangeKey   string    `db:"range_key"`
	Identifier string    `db:"identifier"`
	Suffix     int64     `db:"suffix"`
	Result     string    `db:"result"`
	Payload    string    `db:"payload"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
}

// AttemptLog journals allocation attempts in lookup_attempts.
type AttemptLog struct {
	txm *TxManager
}

// NewAttemptLog creates an attempt log.
func NewAttemptLog(txm *TxManager) *AttemptLog {
	return &AttemptLog{txm: txm}
}

var _ ranges.AttemptLog = (*AttemptLog)(nil)

func attemptInsert(a ranges.Attempt) squirrel.InsertBuilder {
	return builder.Insert(attemptsTable).
		SetMap(StructToMap(attemptRow{
			ID:         a.ID,
			RangeKey:   a.RangeKey,
			Identifier: a.Identifier,
			Suffix:     a.Suffix,
			Result:     string(a.Result),
			Payload:    a.Payload,
			Error:      a.Error,
			CreatedAt:  a.CreatedAt,
		})).
		Suffix("ON CONFLICT (id) DO NOTHING")
}

// Record implements ranges.AttemptLog.
func (l *AttemptLog) Record(ctx context.Context, a ranges.Attempt) error {
	sql, args, err := attemptInsert(a).ToSql()
	if err != nil {
		return fmt.Errorf("build attempt insert: %w", err)
	}
	if _, err := l.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("record attempt %s: %w", a.Identifier, err)
	}
	return nil
}

// AttemptSummary counts attempts per result for one range.
type AttemptSummary struct {
	Result string `db:"result"`
	Count  int64  `db:"count"`
}

func summaryQuery(key string) squirrel.SelectBuilder {
	return builder.Select("result", "count(*) AS count").
		From(attemptsTable).
		Where(squirrel.Eq{"range_key": key}).
		GroupBy("result").
		OrderBy("result")
}

// Summary returns attempt counts by result for key.
func (l *AttemptLog) Summary(ctx context.Context, key string) ([]AttemptSummary, error) {
	sql, args, err := summaryQuery(key).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary: %w", err)
	}
	var out []AttemptSummary
	if err := pgxscan.Select(ctx, l.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("attempt summary for %s: %w", key, err)
	}
	return out, nil
}

// CountAttempts returns Summary as a result -> count map.
func (l *AttemptLog) CountAttempts(ctx context.Context, key string) (map[string]int64, error) {
	rows, err := l.Summary(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Result] = r.Count
	}
	return out, nil
}
