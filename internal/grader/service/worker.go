package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/repository"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/taskqueue"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/contextkey"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"
)

// Grader produces a grade report for one request.
type Grader interface {
	Grade(ctx context.Context, req model.GradeRequest) (*model.GradeReport, error)
}

// Worker consumes grading tasks, grades them and persists the outcome. A
// report whose error fields are set still succeeds the task: the learner's
// code failing is a grading result. Only engine faults fail the task and
// hand it back to the queue's retry machinery.
type Worker struct {
	grader  Grader
	jobs    repository.JobRepository
	results *repository.ResultStore
	queue   *taskqueue.Queue
}

func NewWorker(grader Grader, jobs repository.JobRepository, results *repository.ResultStore, queue *taskqueue.Queue) *Worker {
	return &Worker{
		grader:  grader,
		jobs:    jobs,
		results: results,
		queue:   queue,
	}
}

// Register subscribes the worker to the grading topic. Consumption begins
// when the broker starts.
func (w *Worker) Register(ctx context.Context) error {
	return w.queue.Consume(ctx, w.Handle)
}

// Handle processes one grading task end to end.
func (w *Worker) Handle(ctx context.Context, task model.TaskPayload) error {
	if task.TraceID != "" {
		ctx = context.WithValue(ctx, contextkey.TraceID, task.TraceID)
	}

	revoked, err := w.queue.States().Revoked(ctx, task.TaskID)
	if err != nil {
		logger.Warn(ctx, "read revoke flag failed",
			zap.String("task_id", task.TaskID), zap.Error(err))
	}
	if revoked {
		logger.Info(ctx, "dropping revoked grading task",
			zap.String("task_id", task.TaskID), zap.String("job_id", task.JobID))
		return nil
	}

	w.mark(ctx, task, taskqueue.StateRunning, model.JobRunning)

	report, gradeErr := w.grader.Grade(ctx, model.GradeRequest{
		ProblemID:    task.ProblemID,
		Language:     task.Language,
		Version:      task.Version,
		Source:       task.Source,
		IncludeStaff: task.IncludeStaff,
	})

	if report != nil {
		if err := w.results.Put(ctx, task.ContextKey, task.UserID, report); err != nil {
			logger.Error(ctx, "store grade report failed",
				zap.String("task_id", task.TaskID), zap.Error(err))
			w.mark(ctx, task, taskqueue.StateFailed, model.JobFailed)
			return err
		}
	}

	if gradeErr != nil {
		logger.Error(ctx, "grading task failed",
			zap.String("task_id", task.TaskID),
			zap.String("job_id", task.JobID), zap.Error(gradeErr))
		w.mark(ctx, task, taskqueue.StateFailed, model.JobFailed)
		return gradeErr
	}

	w.mark(ctx, task, taskqueue.StateSucceeded, model.JobSucceeded)
	logger.Info(ctx, "grading task completed",
		zap.String("task_id", task.TaskID), zap.String("job_id", task.JobID))
	return nil
}

// mark records the task and job transitions. Bookkeeping failures are
// logged, never fatal: they must not abort or re-run a grading attempt.
func (w *Worker) mark(ctx context.Context, task model.TaskPayload, state taskqueue.TaskState, status model.JobStatus) {
	if err := w.queue.States().Mark(ctx, task.TaskID, state); err != nil {
		logger.Warn(ctx, "record task state failed",
			zap.String("task_id", task.TaskID),
			zap.String("state", string(state)), zap.Error(err))
	}
	if task.JobID == "" {
		return
	}
	err := w.jobs.UpdateStatus(ctx, nil, task.JobID, status)
	if err != nil && !appErr.Is(err, appErr.JobNotFound) {
		logger.Warn(ctx, "record job status failed",
			zap.String("job_id", task.JobID),
			zap.String("status", string(status)), zap.Error(err))
	}
}
