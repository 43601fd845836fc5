package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/logomark/internal/domain"
	_ "github.com/lib/pq"
)

const runSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	input_dir TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresRunStore struct {
	db *sql.DB
}

func NewPostgresRunStore(ctx context.Context, dsn string) (*PostgresRunStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresRunStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, runSchemaSQL); err != nil {
		return fmt.Errorf("ensure runs schema: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRunStore) Create(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, status, input_dir, output_dir, processed, skipped, failed, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID,
		run.Status,
		run.InputDir,
		run.OutputDir,
		run.Processed,
		run.Skipped,
		run.Failed,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, id string) (domain.Run, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, input_dir, output_dir, processed, skipped, failed, error, created_at, updated_at
		 FROM runs
		 WHERE id = $1`,
		id,
	)

	var run domain.Run
	if err := row.Scan(
		&run.ID,
		&run.Status,
		&run.InputDir,
		&run.OutputDir,
		&run.Processed,
		&run.Skipped,
		&run.Failed,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, false, nil
		}
		return domain.Run{}, false, fmt.Errorf("query run: %w", err)
	}

	return run, true, nil
}

func (s *PostgresRunStore) UpdateStatus(ctx context.Context, id, status string) (domain.Run, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("update run status: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresRunStore) Finish(ctx context.Context, id, status string, summary domain.RunSummary) (domain.Run, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
		 SET status = $1, processed = $2, skipped = $3, failed = $4, error = $5, updated_at = $6
		 WHERE id = $7`,
		status,
		summary.Processed,
		summary.Skipped,
		summary.Failed,
		summary.Error,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Run{}, fmt.Errorf("finish run: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresRunStore) mustGet(ctx context.Context, id string) (domain.Run, error) {
	run, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	if !ok {
		return domain.Run{}, ErrRunNotFound
	}
	return run, nil
}
