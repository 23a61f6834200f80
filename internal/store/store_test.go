// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tubescribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJob(owner string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		OwnerType: OwnerUser,
		OwnerID:   owner,
		Tier:      "pro",
		Status:    JobPending,
		Method:    MethodAuto,
		Format:    "srt",
		SourceURL: "https://www.youtube.com/playlist?list=PLx",
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	j.WebhookURL = "https://example.com/hook"
	require.NoError(t, s.CreateJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, JobPending, got.Status)
	assert.Equal(t, MethodAuto, got.Method)
	assert.Equal(t, "https://example.com/hook", got.WebhookURL)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobStatusAndZip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	require.NoError(t, s.CreateJob(ctx, j))

	require.NoError(t, s.UpdateJobStatus(ctx, j.ID, JobProcessing, ""))
	require.NoError(t, s.SetJobZip(ctx, j.ID, "/data/archives/job.zip"))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobProcessing, got.Status)
	assert.Equal(t, "/data/archives/job.zip", got.ZipPath)

	err = s.UpdateJobStatus(ctx, "missing", JobFailed, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddJobProgressIsAtomicUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	j.TotalVideos = 40
	require.NoError(t, s.CreateJob(ctx, j))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				assert.NoError(t, s.AddJobProgress(ctx, j.ID, 0, 1))
			} else {
				assert.NoError(t, s.AddJobProgress(ctx, j.ID, 1, 0))
			}
		}(i)
	}
	wg.Wait()

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.CompletedVideos)
	assert.Equal(t, 10, got.FailedVideos)
}

func TestCountActiveJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, status := range []JobStatus{JobPending, JobProcessing, JobPaused, JobCompleted, JobFailed, JobCancelled} {
		j := newJob("u1")
		require.NoError(t, s.CreateJob(ctx, j))
		require.NoError(t, s.UpdateJobStatus(ctx, j.ID, status, ""))
	}
	other := newJob("u2")
	require.NoError(t, s.CreateJob(ctx, other))

	n, err := s.CountActiveJobs(ctx, OwnerUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "pending, processing and paused hold slots")
}

func makeTasks(jobID string, videoIDs ...string) []*Task {
	tasks := make([]*Task, 0, len(videoIDs))
	for i, v := range videoIDs {
		tasks = append(tasks, &Task{
			ID:       uuid.NewString(),
			JobID:    jobID,
			Position: i,
			VideoID:  v,
			URL:      "https://www.youtube.com/watch?v=" + v,
			Status:   TaskPending,
		})
	}
	return tasks
}

func TestCreateTasksIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	require.NoError(t, s.CreateJob(ctx, j))

	tasks := makeTasks(j.ID, "a1", "b2", "c3")
	require.NoError(t, s.CreateTasks(ctx, tasks))

	// Re-enqueueing the same videos must not duplicate rows.
	dup := makeTasks(j.ID, "a1", "b2", "c3")
	require.NoError(t, s.CreateTasks(ctx, dup))

	got, err := s.ListTasks(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a1", got[0].VideoID)
	assert.Equal(t, "c3", got[2].VideoID)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	require.NoError(t, s.CreateJob(ctx, j))
	tasks := makeTasks(j.ID, "a1", "b2")
	require.NoError(t, s.CreateTasks(ctx, tasks))

	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[0].ID, TaskProcessing, ""))
	require.NoError(t, s.CompleteTask(ctx, tasks[0].ID, "captions", "en", "hello world", "First Video"))

	got, err := s.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, "captions", got.Method)
	assert.Equal(t, "hello world", got.Transcript)
	assert.Equal(t, "First Video", got.Title)

	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[1].ID, TaskRetryPending, "rate limited"))
	pending, err := s.ListTasksByStatus(ctx, j.ID, TaskRetryPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b2", pending[0].VideoID)
}

func TestTaskDurationAndTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	require.NoError(t, s.CreateJob(ctx, j))
	tasks := makeTasks(j.ID, "a1")
	tasks[0].DurationSeconds = 754.2
	require.NoError(t, s.CreateTasks(ctx, tasks))

	got, err := s.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.InDelta(t, 754.2, got.DurationSeconds, 0.001)
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[0].ID, TaskProcessing, ""))
	got, err = s.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())
	firstStart := got.StartedAt

	// A retry re-entering processing keeps the original start.
	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[0].ID, TaskRetryPending, "rate limited"))
	require.NoError(t, s.UpdateTaskStatus(ctx, tasks[0].ID, TaskProcessing, ""))
	got, err = s.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, firstStart, got.StartedAt)

	require.NoError(t, s.CompleteTask(ctx, tasks[0].ID, "ai", "en", "text", "T"))
	got, err = s.GetTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, got.CompletedAt.IsZero())
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestFailPendingTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := newJob("u1")
	require.NoError(t, s.CreateJob(ctx, j))
	tasks := makeTasks(j.ID, "a1", "b2", "c3")
	require.NoError(t, s.CreateTasks(ctx, tasks))
	require.NoError(t, s.CompleteTask(ctx, tasks[0].ID, "captions", "en", "done", "T"))

	n, err := s.FailPendingTasks(ctx, j.ID, "cancelled by user")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.ListTasks(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got[0].Status, "finished work survives cancellation")
	assert.Equal(t, TaskFailed, got[1].Status)
	assert.Equal(t, "cancelled by user", got[1].Error)
}

func TestStatusActive(t *testing.T) {
	assert.True(t, JobPending.Active())
	assert.True(t, JobProcessing.Active())
	assert.True(t, JobPaused.Active())
	assert.False(t, JobCompleted.Active())
	assert.False(t, JobCancelled.Active())
}

func TestErrNotFoundUnwraps(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTaskStatus(context.Background(), "missing", TaskFailed, "")
	assert.True(t, errors.Is(err, ErrNotFound))
}
