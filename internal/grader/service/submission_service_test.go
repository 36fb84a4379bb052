package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/db"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/mq"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/repository"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/taskqueue"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []publishedMessage
	publishErr error
}

func (f *fakeBroker) Publish(_ context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

func (f *fakeBroker) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBroker) Subscribe(context.Context, string, mq.HandlerFunc) error {
	return nil
}

func (f *fakeBroker) SubscribeWithOptions(context.Context, string, mq.HandlerFunc, *mq.SubscribeOptions) error {
	return nil
}

func (f *fakeBroker) Start() error                 { return nil }
func (f *fakeBroker) Stop() error                  { return nil }
func (f *fakeBroker) Pause() error                 { return nil }
func (f *fakeBroker) Resume() error                { return nil }
func (f *fakeBroker) Ping(_ context.Context) error { return nil }
func (f *fakeBroker) Close() error                 { return nil }

var _ mq.MessageQueue = (*fakeBroker)(nil)

// fakeJobRepo is an in-memory JobRepository. Reads hand out copies so tests
// cannot mutate stored rows by accident.
type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.GradingJob
	order     []string
	createErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.GradingJob)}
}

func (r *fakeJobRepo) Create(_ context.Context, _ db.Transaction, job *model.GradingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	stored := *job
	r.jobs[job.ID] = &stored
	r.order = append(r.order, job.ID)
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, _ db.Transaction, id string) (*model.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, appErr.New(appErr.JobNotFound)
	}
	out := *job
	return &out, nil
}

func (r *fakeJobRepo) GetActiveByKey(_ context.Context, _ db.Transaction, contextKey, userID string) (*model.GradingJob, error) {
	return r.newestMatch(contextKey, userID, true)
}

func (r *fakeJobRepo) GetLatestByKey(_ context.Context, _ db.Transaction, contextKey, userID string) (*model.GradingJob, error) {
	return r.newestMatch(contextKey, userID, false)
}

func (r *fakeJobRepo) newestMatch(contextKey, userID string, activeOnly bool) (*model.GradingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		job := r.jobs[r.order[i]]
		if job.ContextKey != contextKey || job.UserID != userID {
			continue
		}
		if activeOnly && job.Status.Terminal() {
			continue
		}
		out := *job
		return &out, nil
	}
	return nil, appErr.New(appErr.JobNotFound)
}

func (r *fakeJobRepo) AttachTask(_ context.Context, _ db.Transaction, jobID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return appErr.New(appErr.JobNotFound)
	}
	job.TaskID = taskID
	return nil
}

func (r *fakeJobRepo) UpdateStatus(_ context.Context, _ db.Transaction, jobID string, status model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return appErr.New(appErr.JobNotFound)
	}
	job.Status = status
	return nil
}

func (r *fakeJobRepo) MarkSuperseded(_ context.Context, _ db.Transaction, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if ok && !job.Status.Terminal() {
		job.Status = model.JobSuperseded
	}
	return nil
}

var _ repository.JobRepository = (*fakeJobRepo)(nil)

type submissionFixture struct {
	svc     *SubmissionService
	repo    *fakeJobRepo
	results *repository.ResultStore
	broker  *fakeBroker
	states  *taskqueue.States
	redis   *miniredis.Miniredis
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	repo := newFakeJobRepo()
	results := repository.NewResultStore(c, 0)
	broker := &fakeBroker{}
	states := taskqueue.NewStates(c, 0)
	queue := taskqueue.New(taskqueue.Config{}, broker, states)

	return &submissionFixture{
		svc:     NewSubmissionService(repo, results, queue),
		repo:    repo,
		results: results,
		broker:  broker,
		states:  states,
		redis:   srv,
	}
}

func submitRequest() model.SubmitRequest {
	return model.SubmitRequest{
		ContextKey:   "course-v1:demo+block@1",
		UserID:       "user-7",
		ProblemID:    "two-sum",
		Language:     "python",
		Version:      "3.12",
		Source:       "print(input())",
		IncludeStaff: true,
	}
}

func TestStartAsyncPublishesTask(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	job, err := fx.svc.StartAsync(ctx, submitRequest())
	if err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	if job.ID == "" || job.TaskID == "" {
		t.Fatalf("job must carry fresh ids: %+v", job)
	}
	if job.Status != model.JobQueued {
		t.Errorf("got status %q, want queued", job.Status)
	}

	if len(fx.broker.published) != 1 {
		t.Fatalf("got %d published messages, want 1", len(fx.broker.published))
	}
	pub := fx.broker.published[0]
	if pub.topic != taskqueue.DefaultTopic {
		t.Errorf("published to %q, want %q", pub.topic, taskqueue.DefaultTopic)
	}
	var payload model.TaskPayload
	if err := json.Unmarshal(pub.msg.Body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TaskID != job.TaskID || payload.JobID != job.ID {
		t.Errorf("payload ids %s/%s do not match job %s/%s",
			payload.TaskID, payload.JobID, job.TaskID, job.ID)
	}
	if payload.Source != "print(input())" || !payload.IncludeStaff {
		t.Errorf("payload lost submission fields: %+v", payload)
	}

	info, err := fx.states.Info(ctx, job.TaskID)
	if err != nil {
		t.Fatalf("task state read failed: %v", err)
	}
	if info.State != taskqueue.StateQueued {
		t.Errorf("got task state %q, want queued", info.State)
	}

	stored, err := fx.repo.GetByID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("job row missing: %v", err)
	}
	if stored.TaskID != job.TaskID {
		t.Errorf("task id not attached to the row: %+v", stored)
	}
}

func TestStartAsyncSupersedesPrior(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	prior := &model.GradingJob{
		ID:            "job-old",
		ContextKey:    "course-v1:demo+block@1",
		UserID:        "user-7",
		TaskID:        "task-old",
		Status:        model.JobRunning,
		ProblemID:     "two-sum",
		LastAttemptAt: time.Now().UTC(),
	}
	if err := fx.repo.Create(ctx, nil, prior); err != nil {
		t.Fatalf("seed prior job: %v", err)
	}

	job, err := fx.svc.StartAsync(ctx, submitRequest())
	if err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}

	old, _ := fx.repo.GetByID(ctx, nil, "job-old")
	if old.Status != model.JobSuperseded {
		t.Errorf("prior job status %q, want superseded", old.Status)
	}
	revoked, err := fx.states.Revoked(ctx, "task-old")
	if err != nil {
		t.Fatalf("read revoke flag: %v", err)
	}
	if !revoked {
		t.Error("prior task must be revoked")
	}
	if job.ID == "job-old" {
		t.Error("a fresh job row must be created")
	}
	if len(fx.broker.published) != 1 {
		t.Errorf("got %d publishes, want 1", len(fx.broker.published))
	}
}

func TestStartAsyncLeavesOtherKeysAlone(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	other := &model.GradingJob{
		ID:         "job-other",
		ContextKey: "course-v1:demo+block@1",
		UserID:     "user-8",
		Status:     model.JobQueued,
		ProblemID:  "two-sum",
	}
	if err := fx.repo.Create(ctx, nil, other); err != nil {
		t.Fatalf("seed other job: %v", err)
	}

	if _, err := fx.svc.StartAsync(ctx, submitRequest()); err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	got, _ := fx.repo.GetByID(ctx, nil, "job-other")
	if got.Status != model.JobQueued {
		t.Errorf("another user's job was touched: %+v", got)
	}
}

func TestStartAsyncValidation(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*model.SubmitRequest)
	}{
		{"missing context", func(r *model.SubmitRequest) { r.ContextKey = "" }},
		{"missing user", func(r *model.SubmitRequest) { r.UserID = "" }},
		{"missing problem", func(r *model.SubmitRequest) { r.ProblemID = "" }},
		{"missing language", func(r *model.SubmitRequest) { r.Language = "" }},
		{"missing version", func(r *model.SubmitRequest) { r.Version = "" }},
		{"blank source", func(r *model.SubmitRequest) { r.Source = "   \n" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := submitRequest()
			tc.mutate(&req)
			_, err := fx.svc.StartAsync(ctx, req)
			if !appErr.Is(err, appErr.ValidationFailed) {
				t.Fatalf("got %v, want ValidationFailed", err)
			}
		})
	}
	if len(fx.broker.published) != 0 {
		t.Errorf("invalid requests must not publish, got %d", len(fx.broker.published))
	}
}

func TestStartAsyncEnqueueFailure(t *testing.T) {
	fx := newSubmissionFixture(t)
	fx.broker.publishErr = errors.New("kafka unreachable")
	ctx := context.Background()

	_, err := fx.svc.StartAsync(ctx, submitRequest())
	if !appErr.Is(err, appErr.TaskEnqueueFailed) {
		t.Fatalf("got %v, want TaskEnqueueFailed", err)
	}

	latest, err := fx.repo.GetLatestByKey(ctx, nil, "course-v1:demo+block@1", "user-7")
	if err != nil {
		t.Fatalf("job row missing: %v", err)
	}
	if latest.Status != model.JobFailed {
		t.Errorf("unpublished job status %q, want failed", latest.Status)
	}
}

func TestPollNone(t *testing.T) {
	fx := newSubmissionFixture(t)

	got, err := fx.svc.Poll(context.Background(), "course-v1:demo+block@1", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionNone || got.Report != nil {
		t.Errorf("got %+v, want none with no report", got)
	}
}

func TestPollRunningFromTaskState(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	job, err := fx.svc.StartAsync(ctx, submitRequest())
	if err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}
	if err := fx.states.Mark(ctx, job.TaskID, taskqueue.StateRunning); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	got, err := fx.svc.Poll(ctx, job.ContextKey, job.UserID, false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionRunning {
		t.Errorf("got %q, want running", got.ExecutionState)
	}
}

func TestPollGraceWindow(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	// A queued job inside the grace window counts as running even when its
	// task has no state record at all.
	fresh := &model.GradingJob{
		ID:            "job-fresh",
		ContextKey:    "ctx-a",
		UserID:        "user-7",
		Status:        model.JobQueued,
		ProblemID:     "two-sum",
		LastAttemptAt: time.Now().UTC(),
	}
	if err := fx.repo.Create(ctx, nil, fresh); err != nil {
		t.Fatalf("seed fresh job: %v", err)
	}
	got, err := fx.svc.Poll(ctx, "ctx-a", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionRunning {
		t.Errorf("fresh attempt: got %q, want running", got.ExecutionState)
	}

	// Past the window the same shape degrades to none.
	stale := &model.GradingJob{
		ID:            "job-stale",
		ContextKey:    "ctx-b",
		UserID:        "user-7",
		Status:        model.JobQueued,
		ProblemID:     "two-sum",
		LastAttemptAt: time.Now().UTC().Add(-20 * time.Minute),
	}
	if err := fx.repo.Create(ctx, nil, stale); err != nil {
		t.Fatalf("seed stale job: %v", err)
	}
	got, err = fx.svc.Poll(ctx, "ctx-b", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionNone {
		t.Errorf("stale attempt: got %q, want none", got.ExecutionState)
	}
}

func TestPollFailureWinsOverStoredReport(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	failed := &model.GradingJob{
		ID:         "job-failed",
		ContextKey: "course-v1:demo+block@1",
		UserID:     "user-7",
		Status:     model.JobFailed,
		ProblemID:  "two-sum",
	}
	if err := fx.repo.Create(ctx, nil, failed); err != nil {
		t.Fatalf("seed failed job: %v", err)
	}
	report := &model.GradeReport{Sample: model.NewRunReport(model.RunTypeSample, 1)}
	if err := fx.results.Put(ctx, "course-v1:demo+block@1", "user-7", report); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	got, err := fx.svc.Poll(ctx, "course-v1:demo+block@1", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionFailure || got.Report != nil {
		t.Errorf("got %+v, want failure with no report", got)
	}
}

func TestPollSuccessRedaction(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	done := &model.GradingJob{
		ID:         "job-done",
		ContextKey: "course-v1:demo+block@1",
		UserID:     "user-7",
		Status:     model.JobSucceeded,
		ProblemID:  "two-sum",
	}
	if err := fx.repo.Create(ctx, nil, done); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	staff := model.NewRunReport(model.RunTypeStaff, 2)
	staff.Correct = 2
	staff.Output = []model.TestCaseResult{
		{Index: 1, TestInput: "secret in", ExpectedOutput: "secret out", ActualOutput: "secret out", Correct: true},
	}
	staff.Error = []string{"internal note"}
	report := &model.GradeReport{
		Sample: model.NewRunReport(model.RunTypeSample, 1),
		Staff:  staff,
	}
	if err := fx.results.Put(ctx, "course-v1:demo+block@1", "user-7", report); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	learner, err := fx.svc.Poll(ctx, "course-v1:demo+block@1", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if learner.ExecutionState != model.ExecutionSuccess {
		t.Fatalf("got %q, want success", learner.ExecutionState)
	}
	if learner.Report.Staff.Output != nil || learner.Report.Staff.Error != nil {
		t.Error("staff details must be redacted for non-staff callers")
	}
	if learner.Report.Staff.TotalTests != 2 || learner.Report.Staff.Correct != 2 {
		t.Error("staff counts must survive redaction")
	}

	staffView, err := fx.svc.Poll(ctx, "course-v1:demo+block@1", "user-7", true)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(staffView.Report.Staff.Output) != 1 || len(staffView.Report.Staff.Error) != 1 {
		t.Error("staff callers keep the full staff pass")
	}
}

func TestPollSupersededFallsThroughToResult(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	superseded := &model.GradingJob{
		ID:         "job-super",
		ContextKey: "course-v1:demo+block@1",
		UserID:     "user-7",
		Status:     model.JobSuperseded,
		ProblemID:  "two-sum",
	}
	if err := fx.repo.Create(ctx, nil, superseded); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	report := &model.GradeReport{Sample: model.NewRunReport(model.RunTypeSample, 3)}
	if err := fx.results.Put(ctx, "course-v1:demo+block@1", "user-7", report); err != nil {
		t.Fatalf("seed report: %v", err)
	}

	got, err := fx.svc.Poll(ctx, "course-v1:demo+block@1", "user-7", false)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if got.ExecutionState != model.ExecutionSuccess || got.Report == nil {
		t.Errorf("got %+v, want success with the stored report", got)
	}
}
