// Package controller exposes the grading HTTP API.
package controller

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/http/middleware"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/response"
)

// Grader produces one grade report synchronously.
type Grader interface {
	Grade(ctx context.Context, req model.GradeRequest) (*model.GradeReport, error)
}

// Submitter drives the asynchronous grading lifecycle.
type Submitter interface {
	StartAsync(ctx context.Context, req model.SubmitRequest) (*model.GradingJob, error)
	Poll(ctx context.Context, contextKey, userID string, staffDetail bool) (*model.PollResult, error)
}

// GraderController handles grading HTTP endpoints.
type GraderController struct {
	grader      Grader
	submissions Submitter
	registry    *executor.Registry
}

// NewGraderController creates a new GraderController.
func NewGraderController(grader Grader, submissions Submitter, registry *executor.Registry) *GraderController {
	return &GraderController{grader: grader, submissions: submissions, registry: registry}
}

// Grade runs one synchronous grading round against the sample cases.
// Learner-caused outcomes (compile errors, wrong answers, unsupported
// language) come back inside the report; only engine faults produce an
// error envelope.
func (h *GraderController) Grade(c *gin.Context) {
	var req GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	report, err := h.grader.Grade(c.Request.Context(), model.GradeRequest{
		ProblemID: req.ProblemID,
		Language:  req.Language,
		Version:   req.Version,
		Source:    req.Source,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// Submit starts asynchronous grading for the caller's submission context.
func (h *GraderController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		response.BadRequest(c, "Missing caller identity")
		return
	}

	job, err := h.submissions.StartAsync(c.Request.Context(), model.SubmitRequest{
		ContextKey:   req.ContextKey,
		UserID:       userID,
		ProblemID:    req.ProblemID,
		Language:     req.Language,
		Version:      req.Version,
		Source:       req.Source,
		IncludeStaff: req.IncludeStaff,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{
		JobID:  job.ID,
		TaskID: job.TaskID,
		Status: string(job.Status),
	})
}

// Result polls grading progress for the caller's submission context. Staff
// callers get the full report; everyone else gets staff detail redacted.
func (h *GraderController) Result(c *gin.Context) {
	contextKey := c.Param("context")
	if contextKey == "" {
		response.BadRequest(c, "Invalid submission context")
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		response.BadRequest(c, "Missing caller identity")
		return
	}

	result, err := h.submissions.Poll(c.Request.Context(), contextKey, userID, middleware.IsStaff(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Languages lists the executor catalog.
func (h *GraderController) Languages(c *gin.Context) {
	defs := h.registry.Definitions()
	items := make([]LanguageInfo, 0, len(defs))
	for _, def := range defs {
		items = append(items, LanguageInfo{
			ID:          def.ID(),
			Language:    def.Language,
			Version:     def.Version,
			DisplayName: def.DisplayName,
			Image:       def.Image,
			Family:      string(def.Family()),
		})
	}
	response.Success(c, LanguagesResponse{Languages: items})
}

// GradeRequest defines the synchronous grading payload.
type GradeRequest struct {
	ProblemID string `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Version   string `json:"version" binding:"required"`
	Source    string `json:"source" binding:"required"`
}

// SubmitRequest defines the asynchronous submission payload.
type SubmitRequest struct {
	ContextKey   string `json:"context_key" binding:"required"`
	ProblemID    string `json:"problem_id" binding:"required"`
	Language     string `json:"language" binding:"required"`
	Version      string `json:"version" binding:"required"`
	Source       string `json:"source" binding:"required"`
	IncludeStaff bool   `json:"include_staff"`
}

// SubmitResponse returns the created job coordinates.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// LanguageInfo describes one executor catalog entry.
type LanguageInfo struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Version     string `json:"version"`
	DisplayName string `json:"display_name"`
	Image       string `json:"image"`
	Family      string `json:"family"`
}

// LanguagesResponse lists the available execution environments.
type LanguagesResponse struct {
	Languages []LanguageInfo `json:"languages"`
}
