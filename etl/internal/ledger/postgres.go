package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores runs in the etl_runs table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at connString.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// One writer per run.
	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Record(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO etl_runs (run_id, state, reason, record_count, primary_key, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			record_count = EXCLUDED.record_count,
			primary_key = EXCLUDED.primary_key,
			finished_at = EXCLUDED.finished_at
	`

	_, err := p.pool.Exec(ctx, query,
		run.RunID, run.State, run.Reason, run.RecordCount, run.PrimaryKey,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, runID string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT run_id, state, reason, record_count, primary_key, started_at, finished_at
		FROM etl_runs
		WHERE run_id = $1
	`

	var run Run
	err := p.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID, &run.State, &run.Reason, &run.RecordCount, &run.PrimaryKey,
		&run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT run_id, state, reason, record_count, primary_key, started_at, finished_at
		FROM etl_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.RunID, &run.State, &run.Reason, &run.RecordCount, &run.PrimaryKey,
			&run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
