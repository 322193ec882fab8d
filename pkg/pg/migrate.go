package pg

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// logger is the subset of slog.Logger migration output is routed through.
type logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// Migrate applies schema migrations from an embedded filesystem using goose.
// The pgx pool is bridged to database/sql, which goose requires; the wrapper
// shares the underlying connections.
func Migrate(ctx context.Context, pool *pgxpool.Pool, migrations fs.FS, dir string, cfg Config, log logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration db handle", "error", err)
		}
	}(db)

	goose.SetLogger(newSlogAdapter(log))
	goose.SetBaseFS(migrations)
	goose.SetTableName(cfg.MigrationsTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	return nil
}

// migrateSlogAdapter bridges goose's Printf-style logging to structured
// logging. Fatalf maps to ErrorContext; goose returns the error separately.
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) *migrateSlogAdapter {
	return &migrateSlogAdapter{log: log}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), "migration failed", "detail", sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), "migration", "detail", sprintf(format, v...))
}
