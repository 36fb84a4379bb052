// Package testdata locates problems and their test cases for grading runs.
//
// Two providers cover the deployment modes. Local reads an on-disk tree laid
// out as <root>/<problem>/<run_type>/<N>/{input.in,output.out}. Pack
// materializes the same tree per problem from compressed archives in object
// storage, behind a locally cached, lock-guarded fetch.
package testdata

import (
	"context"
	"strings"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const (
	// InputFileName and ExpectedFileName are the fixed per-case file names.
	InputFileName    = "input.in"
	ExpectedFileName = "output.out"
)

// Provider resolves problems and their ordered test cases.
type Provider interface {
	// Problem returns the grading knobs for a problem.
	Problem(ctx context.Context, problemID string) (model.ProblemInfo, error)

	// Cases returns the run type's cases in ascending numeric order. An
	// existing problem with no cases for the run type yields an empty
	// slice, not an error.
	Cases(ctx context.Context, problemID string, runType model.RunType) ([]model.TestCase, error)
}

// DesignByName reports whether a problem id marks a design problem by naming
// convention alone: the lower-cased id ends in "design problem" or "-design".
// A manifest design field, when present, wins over the convention.
func DesignByName(problemID string) bool {
	id := strings.ToLower(strings.TrimSpace(problemID))
	return strings.HasSuffix(id, "design problem") || strings.HasSuffix(id, "-design")
}

// Problem ids become path components on disk and object keys remotely, so
// anything that could escape a directory is rejected up front.
func validateProblemID(problemID string) error {
	if strings.TrimSpace(problemID) == "" {
		return appErr.New(appErr.ProblemIDInvalid).WithMessage("problem id is empty")
	}
	if strings.ContainsAny(problemID, `/\`) || strings.Contains(problemID, "..") {
		return appErr.Newf(appErr.ProblemIDInvalid, "problem id %q must not contain path separators", problemID)
	}
	return nil
}
