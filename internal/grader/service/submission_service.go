package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/repository"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/taskqueue"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/contextkey"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"
)

// DefaultPollGrace is how long after the last attempt a queued or unknown
// task still reads as running. Past it, a task that never surfaced a state
// is presumed lost.
const DefaultPollGrace = 10 * time.Minute

// SubmissionService drives the async job lifecycle: one active job per
// (context, user) key, re-submission supersedes, polling reads the coarse
// state.
type SubmissionService struct {
	jobs    repository.JobRepository
	results *repository.ResultStore
	queue   *taskqueue.Queue
	grace   time.Duration
}

func NewSubmissionService(jobs repository.JobRepository, results *repository.ResultStore, queue *taskqueue.Queue) *SubmissionService {
	return NewSubmissionServiceWithGrace(jobs, results, queue, DefaultPollGrace)
}

func NewSubmissionServiceWithGrace(jobs repository.JobRepository, results *repository.ResultStore, queue *taskqueue.Queue, grace time.Duration) *SubmissionService {
	if grace <= 0 {
		grace = DefaultPollGrace
	}
	return &SubmissionService{
		jobs:    jobs,
		results: results,
		queue:   queue,
		grace:   grace,
	}
}

// StartAsync starts grading for a submission key. A still-active prior job
// is revoked and superseded first; the new job is inserted queued and its
// task published. The prior attempt may still finish before the revoke
// lands; results overwrite by completion order.
func (s *SubmissionService) StartAsync(ctx context.Context, req model.SubmitRequest) (*model.GradingJob, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	active, err := s.jobs.GetActiveByKey(ctx, nil, req.ContextKey, req.UserID)
	switch {
	case err == nil:
		s.supersede(ctx, active)
	case appErr.Is(err, appErr.JobNotFound):
		// First attempt for this key.
	default:
		return nil, err
	}

	now := time.Now().UTC()
	job := &model.GradingJob{
		ID:            uuid.NewString(),
		ContextKey:    req.ContextKey,
		UserID:        req.UserID,
		Status:        model.JobQueued,
		IncludeStaff:  req.IncludeStaff,
		ProblemID:     req.ProblemID,
		Language:      req.Language,
		Version:       req.Version,
		LastAttemptAt: now,
	}
	if err := s.jobs.Create(ctx, nil, job); err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	payload := model.TaskPayload{
		TaskID:       taskID,
		JobID:        job.ID,
		ContextKey:   req.ContextKey,
		UserID:       req.UserID,
		ProblemID:    req.ProblemID,
		Language:     req.Language,
		Version:      req.Version,
		Source:       req.Source,
		IncludeStaff: req.IncludeStaff,
		TraceID:      traceFrom(ctx),
		EnqueuedAt:   now,
	}
	if err := s.queue.Enqueue(ctx, payload); err != nil {
		if statusErr := s.jobs.UpdateStatus(ctx, nil, job.ID, model.JobFailed); statusErr != nil {
			logger.Warn(ctx, "mark unpublished job failed",
				zap.String("job_id", job.ID), zap.Error(statusErr))
		}
		return nil, err
	}

	if err := s.jobs.AttachTask(ctx, nil, job.ID, taskID); err != nil {
		// The task is already on the wire; polling degrades to the grace
		// window until the worker writes job state.
		logger.Warn(ctx, "attach task to job failed",
			zap.String("job_id", job.ID), zap.String("task_id", taskID), zap.Error(err))
	}
	job.TaskID = taskID

	logger.Info(ctx, "grading job started",
		zap.String("job_id", job.ID),
		zap.String("task_id", taskID),
		zap.String("context_key", req.ContextKey),
		zap.String("problem_id", req.ProblemID))
	return job, nil
}

// supersede retires a prior active job: best-effort revoke of its task, then
// mark the row superseded. Failures are logged, not fatal; the new attempt
// starts regardless.
func (s *SubmissionService) supersede(ctx context.Context, job *model.GradingJob) {
	if job.TaskID != "" {
		if err := s.queue.States().Revoke(ctx, job.TaskID); err != nil {
			logger.Warn(ctx, "revoke prior grading task failed",
				zap.String("task_id", job.TaskID), zap.Error(err))
		}
	}
	if err := s.jobs.MarkSuperseded(ctx, nil, job.ID); err != nil {
		logger.Warn(ctx, "supersede prior grading job failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Poll reports the submission key's coarse execution state. staffDetail
// controls whether the staff pass keeps its per-case output and error text;
// its counts always pass through.
func (s *SubmissionService) Poll(ctx context.Context, contextKey, userID string, staffDetail bool) (*model.PollResult, error) {
	if contextKey == "" {
		return nil, appErr.ValidationError("context_key", "required")
	}
	if userID == "" {
		return nil, appErr.ValidationError("user_id", "required")
	}

	latest, err := s.jobs.GetLatestByKey(ctx, nil, contextKey, userID)
	if err != nil {
		if !appErr.Is(err, appErr.JobNotFound) {
			return nil, err
		}
		latest = nil
	}

	if latest != nil && !latest.Status.Terminal() && s.attemptRunning(ctx, latest) {
		return &model.PollResult{ExecutionState: model.ExecutionRunning}, nil
	}

	if latest != nil && latest.Status == model.JobFailed {
		return &model.PollResult{ExecutionState: model.ExecutionFailure}, nil
	}

	report, err := s.results.Get(ctx, contextKey, userID)
	if err != nil {
		if appErr.Is(err, appErr.ResultNotFound) {
			return &model.PollResult{ExecutionState: model.ExecutionNone}, nil
		}
		return nil, err
	}
	if !staffDetail {
		report = report.Redacted()
	}
	return &model.PollResult{ExecutionState: model.ExecutionSuccess, Report: report}, nil
}

// attemptRunning decides whether a non-terminal job counts as running: its
// task reports running, or the task has not surfaced a state yet and the
// attempt is still inside the grace window.
func (s *SubmissionService) attemptRunning(ctx context.Context, job *model.GradingJob) bool {
	state := taskqueue.StateUnknown
	if job.TaskID != "" {
		info, err := s.queue.States().Info(ctx, job.TaskID)
		if err != nil {
			logger.Warn(ctx, "read task state failed",
				zap.String("task_id", job.TaskID), zap.Error(err))
		} else {
			state = info.State
		}
	}
	switch state {
	case taskqueue.StateRunning:
		return true
	case taskqueue.StateQueued, taskqueue.StateUnknown:
		return time.Since(job.LastAttemptAt) < s.grace
	}
	return false
}

func validateSubmit(req model.SubmitRequest) error {
	if req.ContextKey == "" {
		return appErr.ValidationError("context_key", "required")
	}
	if req.UserID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	if req.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if req.Language == "" {
		return appErr.ValidationError("language", "required")
	}
	if req.Version == "" {
		return appErr.ValidationError("version", "required")
	}
	if strings.TrimSpace(req.Source) == "" {
		return appErr.ValidationError("source", "required")
	}
	return nil
}

func traceFrom(ctx context.Context) string {
	if v := ctx.Value(contextkey.TraceID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
