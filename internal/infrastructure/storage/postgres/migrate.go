package postgres

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"rangescan/pkg/logger"
)

// The same files can be applied by hand with
// `goose -dir internal/infrastructure/storage/postgres/migrations postgres $DSN up`.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationDir = "migrations"

// gooseLogger routes goose output through the service logger.
type gooseLogger struct {
	log *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Infof(strings.TrimSuffix(format, "\n"), v...)
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}

func setupGoose(log *logger.Logger) error {
	goose.SetBaseFS(migrationFS)
	goose.SetLogger(gooseLogger{log: log.WithComponent("migrations")})
	return goose.SetDialect("postgres")
}

// Migrate applies every embedded migration not yet recorded by goose and
// returns the schema version before and after.
func Migrate(ctx context.Context, pool *Pool, log *logger.Logger) (from, to int64, err error) {
	if log == nil {
		log = logger.Default()
	}
	if err := setupGoose(log); err != nil {
		return 0, 0, fmt.Errorf("configure goose: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool.Pool)
	defer db.Close()

	from, err = goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationDir); err != nil {
		return from, from, fmt.Errorf("apply migrations: %w", err)
	}
	to, err = goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return from, 0, fmt.Errorf("read schema version: %w", err)
	}
	return from, to, nil
}
