package model

import "time"

// GradeRequest is the input to one grading round.
type GradeRequest struct {
	ProblemID    string `json:"problem_id"`
	Language     string `json:"language"`
	Version      string `json:"version"`
	Source       string `json:"source"`
	IncludeStaff bool   `json:"include_staff"`
}

// SubmitRequest starts asynchronous grading for a submission context.
type SubmitRequest struct {
	ContextKey   string `json:"context_key"`
	UserID       string `json:"user_id"`
	ProblemID    string `json:"problem_id"`
	Language     string `json:"language"`
	Version      string `json:"version"`
	Source       string `json:"source"`
	IncludeStaff bool   `json:"include_staff"`
}

// TaskPayload is the queue message carrying one grading task to a worker.
type TaskPayload struct {
	TaskID       string    `json:"task_id"`
	JobID        string    `json:"job_id"`
	ContextKey   string    `json:"context_key"`
	UserID       string    `json:"user_id"`
	ProblemID    string    `json:"problem_id"`
	Language     string    `json:"language"`
	Version      string    `json:"version"`
	Source       string    `json:"source"`
	IncludeStaff bool      `json:"include_staff"`
	TraceID      string    `json:"trace_id,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
