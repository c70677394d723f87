package trajectory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Reader is the read side of the period-partitioned JSONL layout a Writer
// produces — the Query API's only way to reach a trajectory's full step
// log, since trajectory_index (pkg/index) only carries summary columns.
type Reader struct {
	baseDir  string
	grouping Grouping
}

// NewReader returns a Reader over the same baseDir/grouping a Writer was
// constructed with.
func NewReader(baseDir string, grouping Grouping) *Reader {
	if grouping == "" {
		grouping = GroupingDaily
	}
	return &Reader{baseDir: baseDir, grouping: grouping}
}

// FindByTaskID scans the structured trajectory file for period at and
// returns the first record whose TaskID matches. Returns nil, nil if no
// such record is found in that period's file — the caller is expected to
// already know which period a task_id falls in (e.g. from
// trajectory_index.started_at).
func (r *Reader) FindByTaskID(taskID string, at time.Time) (*TrajectoryResult, error) {
	// Sharing Writer's private pathFor keeps the period-directory naming
	// (§6.5) in exactly one place; a Reader never writes through it.
	w := &Writer{baseDir: r.baseDir, grouping: r.grouping}
	path := w.pathFor("trajectories", at)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("trajectory: open %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec StructuredRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.TaskID == taskID {
			result := rec.Trajectory
			return &result, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trajectory: scan %q: %w", path, err)
	}
	return nil, nil
}
