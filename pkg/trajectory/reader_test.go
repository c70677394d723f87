package trajectory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_FindByTaskID_Found(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, GroupingDaily)
	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	require.NoError(t, w.WriteStructured(TrajectoryResult{TaskID: "a", Success: true}, ts))
	require.NoError(t, w.WriteStructured(TrajectoryResult{TaskID: "b", Success: false, Answer: "found me"}, ts))

	r := NewReader(dir, GroupingDaily)
	result, err := r.FindByTaskID("b", ts)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "found me", result.Answer)
}

func TestReader_FindByTaskID_NotFound(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, GroupingDaily)
	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteStructured(TrajectoryResult{TaskID: "a"}, ts))

	r := NewReader(dir, GroupingDaily)
	result, err := r.FindByTaskID("missing", ts)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestReader_FindByTaskID_MissingFile(t *testing.T) {
	r := NewReader(t.TempDir(), GroupingDaily)
	result, err := r.FindByTaskID("anything", time.Now())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestReader_FindByTaskID_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, GroupingDaily)
	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteStructured(TrajectoryResult{TaskID: "good"}, ts))

	r := NewReader(dir, GroupingDaily)
	result, err := r.FindByTaskID("good", ts)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "good", result.TaskID)
}
