package index

import "time"

// TrajectoryIndexRecord is one row of the trajectory_index table: the
// summary fields the Query API filters and aggregates on, derived from a
// trajectory.StructuredRecord without carrying its full step log into
// Postgres.
type TrajectoryIndexRecord struct {
	TaskID            string
	TaskType          string
	Success           bool
	TerminationReason string
	StartedAt         time.Time
	EndedAt           time.Time
	DurationMS        int64
	StepCount         int
	ToolCallCount     int
	TotalTokens       int
	IndexedAt         time.Time
}
