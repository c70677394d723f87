package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymind/orchestrator/pkg/trajectory"
)

// upsertRecord inserts or refreshes one trajectory's summary row, keyed by
// task_id so re-tailing an already-indexed line (e.g. after a crash
// replays from a stale checkpoint) is idempotent rather than duplicating.
func upsertRecord(ctx context.Context, pool *pgxpool.Pool, rec trajectory.StructuredRecord) error {
	t := rec.Trajectory
	_, err := pool.Exec(ctx, `
		INSERT INTO trajectory_index (
			task_id, task_type, success, termination_reason,
			started_at, ended_at, duration_ms,
			step_count, tool_call_count, total_tokens, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (task_id) DO UPDATE SET
			task_type = EXCLUDED.task_type,
			success = EXCLUDED.success,
			termination_reason = EXCLUDED.termination_reason,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			step_count = EXCLUDED.step_count,
			tool_call_count = EXCLUDED.tool_call_count,
			total_tokens = EXCLUDED.total_tokens,
			indexed_at = now()
	`,
		t.TaskID, string(t.TaskType), t.Success, string(t.Termination),
		t.StartedAt, t.EndedAt, t.DurationMS,
		len(t.Steps), t.ToolCalls, t.TokensUsed,
	)
	if err != nil {
		return fmt.Errorf("index: upsert task %q: %w", t.TaskID, err)
	}
	return nil
}

// checkpoint returns the last recorded byte offset for path, 0 if unseen.
func checkpoint(ctx context.Context, pool *pgxpool.Pool, path string) (int64, error) {
	var offset int64
	err := pool.QueryRow(ctx, `SELECT byte_offset FROM index_checkpoints WHERE file_path = $1`, path).Scan(&offset)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("index: read checkpoint %q: %w", path, err)
	}
	return offset, nil
}

// saveCheckpoint records the byte offset reached for path.
func saveCheckpoint(ctx context.Context, pool *pgxpool.Pool, path string, offset int64) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO index_checkpoints (file_path, byte_offset, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (file_path) DO UPDATE SET byte_offset = EXCLUDED.byte_offset, updated_at = now()
	`, path, offset)
	if err != nil {
		return fmt.Errorf("index: save checkpoint %q: %w", path, err)
	}
	return nil
}
