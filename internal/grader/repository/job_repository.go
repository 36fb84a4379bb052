package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/db"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const (
	jobCacheKeyPrefix = "grader:job:"

	defaultJobCacheTTL      = 30 * time.Minute
	defaultJobCacheEmptyTTL = 5 * time.Minute
)

const jobColumns = "id, context_key, user_id, task_id, status, include_staff, problem_id, language, version, last_attempt_at, created_at, updated_at"

// JobRepository persists grading jobs. Key-based lookups always hit the
// database because job rows churn during the supersede flow; only GetByID
// goes through the cache.
type JobRepository interface {
	// Create inserts a new job row.
	Create(ctx context.Context, tx db.Transaction, job *model.GradingJob) error
	// GetByID returns the job, or JobNotFound.
	GetByID(ctx context.Context, tx db.Transaction, id string) (*model.GradingJob, error)
	// GetActiveByKey returns the newest non-terminal job for the key, or JobNotFound.
	GetActiveByKey(ctx context.Context, tx db.Transaction, contextKey, userID string) (*model.GradingJob, error)
	// GetLatestByKey returns the newest job for the key regardless of status, or JobNotFound.
	GetLatestByKey(ctx context.Context, tx db.Transaction, contextKey, userID string) (*model.GradingJob, error)
	// AttachTask records the queue task driving the job.
	AttachTask(ctx context.Context, tx db.Transaction, jobID, taskID string) error
	// UpdateStatus moves the job to the given status, or JobNotFound.
	UpdateStatus(ctx context.Context, tx db.Transaction, jobID string, status model.JobStatus) error
	// MarkSuperseded retires the job if it is still non-terminal. A job that
	// already reached a terminal status is left untouched.
	MarkSuperseded(ctx context.Context, tx db.Transaction, jobID string) error
}

// SQLJobRepository implements JobRepository over either supported SQL
// driver, with cache-aside reads. Queries are written with ? placeholders
// and rebound per driver.
type SQLJobRepository struct {
	dbp      db.Provider
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewJobRepository creates a repository with default cache TTLs.
func NewJobRepository(database db.Database, cacheClient cache.Cache) JobRepository {
	return NewJobRepositoryWithTTL(database, cacheClient, defaultJobCacheTTL, defaultJobCacheEmptyTTL)
}

// NewJobRepositoryWithTTL creates a repository with custom cache TTLs.
func NewJobRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) JobRepository {
	return NewJobRepositoryWithProvider(db.NewStaticProvider(database), cacheClient, ttl, emptyTTL)
}

// NewJobRepositoryWithProvider creates a repository that resolves its
// database through the provider on every call, so the ledger survives a
// connection swap.
func NewJobRepositoryWithProvider(provider db.Provider, cacheClient cache.Cache, ttl, emptyTTL time.Duration) JobRepository {
	return &SQLJobRepository{
		dbp:      provider,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *SQLJobRepository) Create(ctx context.Context, tx db.Transaction, job *model.GradingJob) error {
	if job == nil {
		return appErr.ValidationError("job", "required")
	}
	if job.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if job.ContextKey == "" {
		return appErr.ValidationError("context_key", "required")
	}
	if job.UserID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	if job.ProblemID == "" {
		return appErr.ValidationError("problem_id", "required")
	}
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	if job.LastAttemptAt.IsZero() {
		job.LastAttemptAt = time.Now().UTC()
	}

	query := `INSERT INTO grading_jobs (id, context_key, user_id, task_id, status, include_staff, problem_id, language, version, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querier := db.GetQuerier(r.dbp.Current(), tx)
	_, err := querier.Exec(ctx, db.Rebind(querier, query),
		job.ID, job.ContextKey, job.UserID, job.TaskID, string(job.Status),
		job.IncludeStaff, job.ProblemID, job.Language, job.Version, job.LastAttemptAt)
	if err != nil {
		return appErr.Wrapf(err, appErr.JobCreateFailed, "insert grading job failed")
	}

	if r.cache != nil && tx == nil {
		r.setJobCache(ctx, job)
	}
	return nil
}

func (r *SQLJobRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*model.GradingJob, error) {
	if id == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	if r.cache != nil && tx == nil {
		job, err := cache.GetWithCached[*model.GradingJob](
			ctx,
			r.cache,
			jobCacheKey(id),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(job *model.GradingJob) bool { return job == nil },
			marshalJob,
			unmarshalJob,
			func(ctx context.Context) (*model.GradingJob, error) {
				job, err := r.getByIDFromDB(ctx, nil, id)
				if err != nil {
					if appErr.Is(err, appErr.JobNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return job, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, appErr.New(appErr.JobNotFound)
		}
		return job, nil
	}
	return r.getByIDFromDB(ctx, tx, id)
}

func (r *SQLJobRepository) GetActiveByKey(ctx context.Context, tx db.Transaction, contextKey, userID string) (*model.GradingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM grading_jobs
		WHERE context_key = ? AND user_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(ctx, tx, query,
		contextKey, userID, string(model.JobQueued), string(model.JobRunning))
}

func (r *SQLJobRepository) GetLatestByKey(ctx context.Context, tx db.Transaction, contextKey, userID string) (*model.GradingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM grading_jobs
		WHERE context_key = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.getOne(ctx, tx, query, contextKey, userID)
}

func (r *SQLJobRepository) AttachTask(ctx context.Context, tx db.Transaction, jobID, taskID string) error {
	if jobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if taskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	query := `UPDATE grading_jobs SET task_id = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, tx, jobID, query, taskID, time.Now().UTC(), jobID)
}

func (r *SQLJobRepository) UpdateStatus(ctx context.Context, tx db.Transaction, jobID string, status model.JobStatus) error {
	if jobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if status == "" {
		return appErr.ValidationError("status", "required")
	}
	query := `UPDATE grading_jobs SET status = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, tx, jobID, query, string(status), time.Now().UTC(), jobID)
}

func (r *SQLJobRepository) MarkSuperseded(ctx context.Context, tx db.Transaction, jobID string) error {
	if jobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	query := `UPDATE grading_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`

	querier := db.GetQuerier(r.dbp.Current(), tx)
	_, err := querier.Exec(ctx, db.Rebind(querier, query),
		string(model.JobSuperseded), time.Now().UTC(), jobID,
		string(model.JobQueued), string(model.JobRunning))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "supersede grading job failed")
	}
	// Zero rows affected means the job already finished; that race is fine.
	if r.cache != nil && tx == nil {
		r.invalidateJobCache(ctx, jobID)
	}
	return nil
}

// update runs a single-row UPDATE and maps zero affected rows to JobNotFound.
func (r *SQLJobRepository) update(ctx context.Context, tx db.Transaction, jobID, query string, args ...interface{}) error {
	querier := db.GetQuerier(r.dbp.Current(), tx)
	result, err := querier.Exec(ctx, db.Rebind(querier, query), args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update grading job failed")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read affected rows failed")
	}
	if affected == 0 {
		return appErr.New(appErr.JobNotFound).WithDetail("job_id", jobID)
	}
	if r.cache != nil && tx == nil {
		r.invalidateJobCache(ctx, jobID)
	}
	return nil
}

func (r *SQLJobRepository) getOne(ctx context.Context, tx db.Transaction, query string, args ...interface{}) (*model.GradingJob, error) {
	querier := db.GetQuerier(r.dbp.Current(), tx)
	row := querier.QueryRow(ctx, db.Rebind(querier, query), args...)
	return scanJob(row)
}

func (r *SQLJobRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, id string) (*model.GradingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM grading_jobs WHERE id = ?`
	return r.getOne(ctx, tx, query, id)
}

func scanJob(row db.Row) (*model.GradingJob, error) {
	var job model.GradingJob
	var taskID *string
	var status string

	err := row.Scan(
		&job.ID, &job.ContextKey, &job.UserID, &taskID, &status,
		&job.IncludeStaff, &job.ProblemID, &job.Language, &job.Version,
		&job.LastAttemptAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.JobNotFound)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan grading job failed")
	}
	if taskID != nil {
		job.TaskID = *taskID
	}
	job.Status = model.JobStatus(status)
	return &job, nil
}

func (r *SQLJobRepository) setJobCache(ctx context.Context, job *model.GradingJob) {
	data := marshalJob(job)
	if data == "" {
		return
	}
	_ = r.cache.Set(ctx, jobCacheKey(job.ID), data, cache.JitterTTL(r.ttl))
}

func (r *SQLJobRepository) invalidateJobCache(ctx context.Context, jobID string) {
	_ = r.cache.Del(ctx, jobCacheKey(jobID))
}

func jobCacheKey(id string) string {
	return jobCacheKeyPrefix + id
}

func marshalJob(job *model.GradingJob) string {
	if job == nil {
		return ""
	}
	data, err := json.Marshal(job)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJob(data string) (*model.GradingJob, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var job model.GradingJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}
