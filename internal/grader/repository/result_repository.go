// Package repository persists grading jobs and their results.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const resultKeyPrefix = "grader:result:"

// ResultStore keeps the latest grade report per (context, user) key. Reports
// overwrite each other by completion order: the accepted model is that a
// re-submission's result simply replaces whatever was stored before.
type ResultStore struct {
	cache cache.BasicOps
	ttl   time.Duration
}

// NewResultStore builds a store; ttl 0 keeps reports until overwritten.
func NewResultStore(c cache.BasicOps, ttl time.Duration) *ResultStore {
	return &ResultStore{cache: c, ttl: ttl}
}

// Put stores the report for the key, replacing any previous one.
func (s *ResultStore) Put(ctx context.Context, contextKey, userID string, report *model.GradeReport) error {
	if contextKey == "" {
		return appErr.ValidationError("context_key", "required")
	}
	if userID == "" {
		return appErr.ValidationError("user_id", "required")
	}
	if report == nil {
		return appErr.ValidationError("report", "required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "encode grade report failed")
	}
	if err := s.cache.Set(ctx, resultKey(contextKey, userID), string(data), s.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store grade report failed")
	}
	return nil
}

// Get returns the stored report, or ResultNotFound when none exists.
func (s *ResultStore) Get(ctx context.Context, contextKey, userID string) (*model.GradeReport, error) {
	raw, err := s.cache.Get(ctx, resultKey(contextKey, userID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read grade report failed")
	}
	if raw == "" {
		return nil, appErr.New(appErr.ResultNotFound)
	}
	var report model.GradeReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "decode grade report failed")
	}
	return &report, nil
}

func resultKey(contextKey, userID string) string {
	return resultKeyPrefix + contextKey + ":" + userID
}
