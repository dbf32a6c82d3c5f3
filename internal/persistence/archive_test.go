package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/internal/task"
)

func TestArchiveAppendThenForTaskRoundTrips(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenArchive(dir)
	require.NoError(t, err)
	defer a.Close()

	started := time.Now().Add(-time.Minute)
	ended := time.Now()
	record := task.ExecutionRecord{
		TaskID:    "a",
		Attempt:   1,
		StartedAt: started,
		EndedAt:   ended,
		Duration:  ended.Sub(started),
		Success:   true,
		Artifacts: map[string]string{"log": "ok"},
		WorkUnits: 3,
	}
	require.NoError(t, a.Append([]task.ExecutionRecord{record}))

	got, err := a.ForTask("a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].TaskID)
	assert.Equal(t, 1, got[0].Attempt)
	assert.True(t, got[0].Success)
	assert.Equal(t, "ok", got[0].Artifacts["log"])
	assert.WithinDuration(t, started, got[0].StartedAt, time.Microsecond)
}

func TestArchiveAppendIsIdempotentOnReplayedAttempt(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenArchive(dir)
	require.NoError(t, err)
	defer a.Close()

	record := task.ExecutionRecord{TaskID: "a", Attempt: 1, Success: false, Error: "timeout"}
	require.NoError(t, a.Append([]task.ExecutionRecord{record}))

	record.Success = true
	record.Error = ""
	require.NoError(t, a.Append([]task.ExecutionRecord{record}))

	got, err := a.ForTask("a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Success)

	count, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestArchiveForTaskReturnsEmptyForUnknownTask(t *testing.T) {
	a, err := OpenArchive(t.TempDir())
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ForTask("ghost")
	require.NoError(t, err)
	assert.Empty(t, got)
}
