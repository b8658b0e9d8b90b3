package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"rangescan/internal/core/ranges"
)

// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLength = 63

// ResultSink records found results in one table per range.
type ResultSink struct {
	txm    *TxManager
	prefix string

	mu      sync.Mutex
	created map[string]bool
}

// NewResultSink creates a table sink. Tables are named prefix + lower(key).
func NewResultSink(txm *TxManager, prefix string) *ResultSink {
	if prefix == "" {
		prefix = "results_"
	}
	return &ResultSink{txm: txm, prefix: prefix, created: make(map[string]bool)}
}

var _ ranges.Sink = (*ResultSink)(nil)

// TableName maps a range key onto a valid table name. Names that would be
// truncated by the server get a hash suffix so distinct keys never collide.
func TableName(prefix, key string) string {
	name := prefix + strings.ToLower(key)
	if len(name) <= maxIdentifierLength {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s_%08x", name[:maxIdentifierLength-9], h.Sum32())
}

func (s *ResultSink) table(key string) string {
	return pgx.Identifier{TableName(s.prefix, key)}.Sanitize()
}

// EnsureDestination implements ranges.Sink.
func (s *ResultSink) EnsureDestination(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[key] {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		serial      BIGINT PRIMARY KEY,
		identifier  TEXT NOT NULL,
		payload     TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`, s.table(key))
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create result table for %s: %w", key, err)
	}
	s.created[key] = true
	return nil
}

func (s *ResultSink) appendQuery(key string, rec ranges.Record) squirrel.InsertBuilder {
	return builder.Insert(s.table(key)).
		Columns("serial", "identifier", "payload", "recorded_at").
		Values(rec.Serial, rec.Identifier, rec.Payload, rec.RecordedAt).
		Suffix("ON CONFLICT (serial) DO UPDATE SET payload = EXCLUDED.payload, recorded_at = EXCLUDED.recorded_at")
}

// Append implements ranges.Sink. Replaying a serial overwrites the earlier row.
func (s *ResultSink) Append(ctx context.Context, key string, rec ranges.Record) error {
	sql, args, err := s.appendQuery(key, rec).ToSql()
	if err != nil {
		return fmt.Errorf("build result insert: %w", err)
	}
	if _, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("append result %s: %w", rec.Identifier, err)
	}
	return nil
}

// Close implements ranges.Sink. The pool is owned by the caller.
func (s *ResultSink) Close() error { return nil }
