// SPDX-License-Identifier: MIT

package store

import "time"

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
	JobPaused     JobStatus = "paused"
)

// Active reports whether the job still counts against the owner's
// concurrent-job limit.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing || s == JobPaused
}

// TaskStatus is the lifecycle state of one video within a job.
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskProcessing   TaskStatus = "processing"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskRetryPending TaskStatus = "retry_pending"
)

// OwnerType distinguishes authenticated users from guest sessions.
type OwnerType string

const (
	OwnerUser  OwnerType = "user"
	OwnerGuest OwnerType = "guest"
)

// Method is the requested acquisition path.
type Method string

const (
	// MethodAuto tries captions first and falls back to AI transcription.
	MethodAuto Method = "auto"
	// MethodCaptionsOnly never downloads audio.
	MethodCaptionsOnly Method = "captions_only"
	// MethodAIOnly skips the caption ladder entirely.
	MethodAIOnly Method = "ai_only"
)

// Job is one bulk transcription job.
type Job struct {
	ID        string
	OwnerType OwnerType
	OwnerID   string
	Tier      string
	Status    JobStatus
	Method    Method
	Format    string // txt, srt, vtt or json
	SourceURL string

	TotalVideos     int
	CompletedVideos int
	FailedVideos    int

	ZipPath    string
	WebhookURL string
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is one video inside a job.
type Task struct {
	ID       string
	JobID    string
	Position int
	VideoID  string
	URL      string
	Title    string
	Status   TaskStatus

	// DurationSeconds is the video length reported by playlist expansion;
	// 0 when the listing omitted it.
	DurationSeconds float64

	// Method records the path that actually produced the transcript:
	// "captions" or "ai".
	Method     string
	Language   string
	Transcript string
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time

	// StartedAt and CompletedAt bracket processing; zero until the task
	// reaches the corresponding state.
	StartedAt   time.Time
	CompletedAt time.Time
}
