package queryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaymind/orchestrator/pkg/index"
	"github.com/relaymind/orchestrator/pkg/task"
	"github.com/relaymind/orchestrator/pkg/trajectory"
)

func newTestServer(t *testing.T) (*Server, *index.Indexer, string) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	ix, err := index.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(ix.Close)

	dir := t.TempDir()
	reader := trajectory.NewReader(dir, trajectory.GroupingDaily)

	// The Query API owns its own connection pool, independent of the
	// Indexer's internal one, since in production they run as separate
	// processes against the same database.
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewServer(pool, reader), ix, dir
}

// writeAndIndex appends one structured trajectory record to dir's daily
// file and runs a single tail pass so it lands in trajectory_index.
func writeAndIndex(t *testing.T, ix *index.Indexer, dir, taskID string, taskType task.Type, reason trajectory.TerminationReason, success bool) {
	t.Helper()
	w := trajectory.NewWriter(dir, trajectory.GroupingDaily)
	now := time.Now().UTC().Truncate(time.Second)
	result := trajectory.TrajectoryResult{
		TaskID:      taskID,
		TaskType:    taskType,
		Description: "test task",
		Success:     success,
		Answer:      "done",
		Steps:       []trajectory.Step{{StepID: 1, Kind: trajectory.StepAnswer, StartedAt: now}},
		StartedAt:   now.Add(-time.Second),
		EndedAt:     now,
		DurationMS:  1000,
		TokensUsed:  10,
		ToolCalls:   1,
		Termination: reason,
	}
	require.NoError(t, w.WriteStructured(result, now))

	n, err := ix.TailOnce(context.Background(), dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
}

func TestServer_ListTrajectories_EmptyInitially(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/trajectories", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.Records)
}

func TestServer_ListTrajectories_FiltersByTerminationReason(t *testing.T) {
	srv, ix, dir := newTestServer(t)
	writeAndIndex(t, ix, dir, "task-a", task.TypeCode, trajectory.TerminationAnswer, true)
	writeAndIndex(t, ix, dir, "task-b", task.TypeCode, trajectory.TerminationMaxSteps, false)

	req := httptest.NewRequest(http.MethodGet, "/trajectories?termination_reason=max_steps", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Records, 1)
	assert.Equal(t, "task-b", result.Records[0].TaskID)
}

func TestServer_ListTrajectories_RespectsLimit(t *testing.T) {
	srv, ix, dir := newTestServer(t)
	writeAndIndex(t, ix, dir, "task-a", task.TypeCode, trajectory.TerminationAnswer, true)
	writeAndIndex(t, ix, dir, "task-b", task.TypeCode, trajectory.TerminationAnswer, true)

	req := httptest.NewRequest(http.MethodGet, "/trajectories?limit=1", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 2, result.Total, "total ignores limit")
}

func TestServer_ListTrajectories_InvalidSinceParam(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/trajectories?since=not-a-date", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetTrajectory_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/trajectories/missing", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetTrajectory_Found(t *testing.T) {
	srv, ix, dir := newTestServer(t)
	writeAndIndex(t, ix, dir, "task-full", task.TypeCode, trajectory.TerminationAnswer, true)

	req := httptest.NewRequest(http.MethodGet, "/trajectories/task-full", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result trajectory.TrajectoryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "task-full", result.TaskID)
}

func TestServer_TerminationStats(t *testing.T) {
	srv, ix, dir := newTestServer(t)
	writeAndIndex(t, ix, dir, "task-a", task.TypeCode, trajectory.TerminationAnswer, true)
	writeAndIndex(t, ix, dir, "task-b", task.TypeCode, trajectory.TerminationAnswer, true)
	writeAndIndex(t, ix, dir, "task-c", task.TypeCode, trajectory.TerminationMaxSteps, false)

	req := httptest.NewRequest(http.MethodGet, "/trajectories/stats", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Counts []terminationCount `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Counts, 2)
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
