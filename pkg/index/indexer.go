// Package index implements the Trajectory Indexer (C10): a checkpointed
// tailer over the Trajectory Writer's JSONL files, upserting a summary row
// per trajectory into Postgres for the Query API to read.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPollInterval is how often Run re-scans baseDir for new or grown
// trajectory files when the caller doesn't set one.
const DefaultPollInterval = 5 * time.Second

// Indexer owns the Postgres connection pool backing trajectory_index and
// index_checkpoints, and the tailing loop that keeps them current.
type Indexer struct {
	pool *pgxpool.Pool
}

// New runs pending migrations then opens the runtime connection pool.
func New(ctx context.Context, dsn string) (*Indexer, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	return &Indexer{pool: pool}, nil
}

// Close releases the connection pool.
func (ix *Indexer) Close() {
	ix.pool.Close()
}

// TailOnce discovers every structured trajectory file under baseDir and
// tails each from its last checkpoint, returning the number of new rows
// indexed across all files.
func (ix *Indexer) TailOnce(ctx context.Context, baseDir string) (int, error) {
	files, err := discoverFiles(baseDir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, path := range files {
		n, err := tailFile(ctx, ix.pool, path)
		if err != nil {
			slog.Error("index: tailing failed, will retry next pass", "path", path, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// Run tails baseDir on pollInterval until ctx is cancelled. A zero
// pollInterval falls back to DefaultPollInterval.
func (ix *Indexer) Run(ctx context.Context, baseDir string, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		n, err := ix.TailOnce(ctx, baseDir)
		if err != nil {
			slog.Error("index: tail pass failed", "error", err)
		} else if n > 0 {
			slog.Info("index: tailed new trajectories", "count", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
