// Package taskqueue carries grading tasks to workers and tracks per-task
// lifecycle records for the poll flow.
package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// TaskState is the lifecycle of one enqueued grading attempt.
type TaskState string

const (
	StateQueued    TaskState = "queued"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	// StateUnknown covers tasks with no record: never enqueued here, or the
	// record already expired.
	StateUnknown TaskState = "unknown"
)

const (
	stateKeyPrefix  = "grader:task:state:"
	DefaultStateTTL = 24 * time.Hour
)

// TaskInfo is a task's last recorded lifecycle event.
type TaskInfo struct {
	State     TaskState `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	Revoked   bool      `json:"revoked"`
}

// States keeps one record per task id in the cache, with a TTL so abandoned
// tasks age out on their own.
type States struct {
	cache cache.BasicOps
	ttl   time.Duration
}

func NewStates(c cache.BasicOps, ttl time.Duration) *States {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &States{cache: c, ttl: ttl}
}

// Info reads a task's record. Missing or expired records come back as
// StateUnknown, never as an error.
func (s *States) Info(ctx context.Context, taskID string) (TaskInfo, error) {
	if taskID == "" {
		return TaskInfo{State: StateUnknown}, nil
	}
	raw, err := s.cache.Get(ctx, stateKey(taskID))
	if err != nil {
		return TaskInfo{}, appErr.Wrapf(err, appErr.CacheError, "read task state failed")
	}
	if raw == "" {
		return TaskInfo{State: StateUnknown}, nil
	}
	var info TaskInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return TaskInfo{}, appErr.Wrapf(err, appErr.TaskStateInvalid, "decode task state failed")
	}
	if info.State == "" {
		info.State = StateUnknown
	}
	return info, nil
}

// Mark records a state transition, preserving the revoked flag.
func (s *States) Mark(ctx context.Context, taskID string, state TaskState) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	info, err := s.Info(ctx, taskID)
	if err != nil {
		return err
	}
	info.State = state
	info.UpdatedAt = time.Now().UTC()
	return s.write(ctx, taskID, info)
}

// Revoke flags the task so a worker that has not started it yet drops it.
// A task that is already running is unaffected.
func (s *States) Revoke(ctx context.Context, taskID string) error {
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	info, err := s.Info(ctx, taskID)
	if err != nil {
		return err
	}
	info.Revoked = true
	info.UpdatedAt = time.Now().UTC()
	return s.write(ctx, taskID, info)
}

// Revoked reports the revoked flag; unknown tasks are not revoked.
func (s *States) Revoked(ctx context.Context, taskID string) (bool, error) {
	info, err := s.Info(ctx, taskID)
	if err != nil {
		return false, err
	}
	return info.Revoked, nil
}

func (s *States) write(ctx context.Context, taskID string, info TaskInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return appErr.Wrap(err, appErr.TaskStateInvalid)
	}
	if err := s.cache.Set(ctx, stateKey(taskID), string(data), s.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "write task state failed")
	}
	return nil
}

func stateKey(taskID string) string {
	return stateKeyPrefix + taskID
}
