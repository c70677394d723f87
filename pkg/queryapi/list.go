package queryapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymind/orchestrator/pkg/index"
)

// DefaultListLimit bounds how many rows listRecords returns when the
// caller doesn't set Limit.
const DefaultListLimit = 50

// MaxListLimit is the hard ceiling on Limit regardless of what a caller
// requests.
const MaxListLimit = 500

// ListParams filters a trajectory_index scan (§4.11): task_type,
// termination_reason, since (a started_at lower bound), and limit. Zero
// values mean "no filter" for the string fields and Since, and a zero
// Limit falls back to DefaultListLimit.
type ListParams struct {
	TaskType          string     `form:"task_type"`
	TerminationReason string     `form:"termination_reason"`
	Since             *time.Time `form:"-"`
	Limit             int        `form:"limit,default=50" binding:"min=0,max=500"`
}

// ListResult is the set of trajectory_index rows matching a ListParams
// filter, plus the total row count matching the same filters (ignoring
// Limit) for callers that want to know how much was left out.
type ListResult struct {
	Records []index.TrajectoryIndexRecord `json:"records"`
	Total   int                           `json:"total"`
}

// listRecords runs a filtered scan of trajectory_index ordered
// newest-first by started_at, capped at limit rows.
func listRecords(ctx context.Context, pool *pgxpool.Pool, p ListParams) (*ListResult, error) {
	var where []string
	var args []any

	if p.TaskType != "" {
		args = append(args, p.TaskType)
		where = append(where, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if p.TerminationReason != "" {
		args = append(args, p.TerminationReason)
		where = append(where, fmt.Sprintf("termination_reason = $%d", len(args)))
	}
	if p.Since != nil {
		args = append(args, *p.Since)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM trajectory_index %s`, whereClause)
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("queryapi: count: %w", err)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	args = append(args, limit)
	listQuery := fmt.Sprintf(`
		SELECT task_id, task_type, success, termination_reason,
			started_at, ended_at, duration_ms,
			step_count, tool_call_count, total_tokens, indexed_at
		FROM trajectory_index
		%s
		ORDER BY started_at DESC
		LIMIT $%d
	`, whereClause, len(args))

	rows, err := pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("queryapi: list: %w", err)
	}
	defer rows.Close()

	records := make([]index.TrajectoryIndexRecord, 0, limit)
	for rows.Next() {
		var r index.TrajectoryIndexRecord
		if err := rows.Scan(
			&r.TaskID, &r.TaskType, &r.Success, &r.TerminationReason,
			&r.StartedAt, &r.EndedAt, &r.DurationMS,
			&r.StepCount, &r.ToolCallCount, &r.TotalTokens, &r.IndexedAt,
		); err != nil {
			return nil, fmt.Errorf("queryapi: scan row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryapi: iterate rows: %w", err)
	}

	return &ListResult{Records: records, Total: total}, nil
}

// terminationCount is one row of the termination-reason aggregate.
type terminationCount struct {
	TerminationReason string `json:"termination_reason"`
	Count             int    `json:"count"`
}

// countByTermination aggregates trajectory_index rows by termination_reason.
func countByTermination(ctx context.Context, pool *pgxpool.Pool) ([]terminationCount, error) {
	rows, err := pool.Query(ctx, `
		SELECT termination_reason, count(*)
		FROM trajectory_index
		GROUP BY termination_reason
		ORDER BY count(*) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("queryapi: aggregate by termination_reason: %w", err)
	}
	defer rows.Close()

	var out []terminationCount
	for rows.Next() {
		var c terminationCount
		if err := rows.Scan(&c.TerminationReason, &c.Count); err != nil {
			return nil, fmt.Errorf("queryapi: scan aggregate row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryapi: iterate aggregate rows: %w", err)
	}
	return out, nil
}

// findStartedAt looks up a single row's started_at, the period key needed
// to resolve which trajectories_<period>.jsonl file a full fetch must scan.
func findStartedAt(ctx context.Context, pool *pgxpool.Pool, taskID string) (*index.TrajectoryIndexRecord, error) {
	var r index.TrajectoryIndexRecord
	err := pool.QueryRow(ctx, `
		SELECT task_id, task_type, success, termination_reason,
			started_at, ended_at, duration_ms,
			step_count, tool_call_count, total_tokens, indexed_at
		FROM trajectory_index
		WHERE task_id = $1
	`, taskID).Scan(
		&r.TaskID, &r.TaskType, &r.Success, &r.TerminationReason,
		&r.StartedAt, &r.EndedAt, &r.DurationMS,
		&r.StepCount, &r.ToolCallCount, &r.TotalTokens, &r.IndexedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
