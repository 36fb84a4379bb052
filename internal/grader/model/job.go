package model

import "time"

// JobStatus represents the lifecycle state of a grading job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobSuperseded JobStatus = "superseded"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobSuperseded:
		return true
	}
	return false
}

// GradingJob identifies one in-flight or completed grading attempt.
// At most one non-terminal job exists per (context, user) key.
type GradingJob struct {
	ID            string    `json:"id"`
	ContextKey    string    `json:"context_key"`
	UserID        string    `json:"user_id"`
	TaskID        string    `json:"task_id"`
	Status        JobStatus `json:"status"`
	IncludeStaff  bool      `json:"include_staff"`
	ProblemID     string    `json:"problem_id"`
	Language      string    `json:"language"`
	Version       string    `json:"version"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExecutionState is the coarse polling state exposed to callers.
type ExecutionState string

const (
	ExecutionRunning ExecutionState = "running"
	ExecutionFailure ExecutionState = "failure"
	ExecutionSuccess ExecutionState = "success"
	ExecutionNone    ExecutionState = "none"
)

// PollResult is the polling contract response.
type PollResult struct {
	ExecutionState ExecutionState `json:"execution_state"`
	Report         *GradeReport   `json:"report"`
}
