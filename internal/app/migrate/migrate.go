package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Runner applies goose migrations against the analytics database.
type Runner struct {
	db  *sql.DB
	dir string
}

// NewRunner opens a database handle for migration work.
func NewRunner(databaseURL, dir string) (*Runner, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	return &Runner{db: db, dir: dir}, nil
}

// Ensure applies all pending migrations.
func (r *Runner) Ensure(ctx context.Context) error {
	if err := goose.UpContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Status prints migration status to stdout.
func (r *Runner) Status(ctx context.Context) error {
	return goose.StatusContext(ctx, r.db, r.dir)
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	return goose.DownContext(ctx, r.db, r.dir)
}

// Ping verifies database connectivity.
func (r *Runner) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *Runner) Close() error {
	return r.db.Close()
}
