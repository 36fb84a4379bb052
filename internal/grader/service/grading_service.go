// Package service orchestrates grading: one-shot report production, the
// async job lifecycle around it, and the queue worker that drives it.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/harness"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/sandbox"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/testdata"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"
)

// Program is the prepared-submission surface the grader drives: run test
// cases, then release the work directory.
type Program interface {
	harness.Runner
	Close() error
}

// Preparer admits submissions into the sandbox.
type Preparer interface {
	Prepare(ctx context.Context, req sandbox.PrepareRequest) (Program, error)
}

// EnginePreparer adapts *sandbox.Engine to the Preparer interface.
type EnginePreparer struct {
	Engine *sandbox.Engine
}

func (p EnginePreparer) Prepare(ctx context.Context, req sandbox.PrepareRequest) (Program, error) {
	prog, err := p.Engine.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// GradingService turns one submission into a grade report.
type GradingService struct {
	registry *executor.Registry
	preparer Preparer
	provider testdata.Provider
	harness  *harness.Harness
}

func NewGradingService(registry *executor.Registry, preparer Preparer, provider testdata.Provider, h *harness.Harness) *GradingService {
	return &GradingService{
		registry: registry,
		preparer: preparer,
		provider: provider,
		harness:  h,
	}
}

// Grade grades one submission end to end: resolve the executor, load the
// problem and its cases, prepare the program once, run the sample pass and
// (when requested) the staff pass against the same artifact.
//
// The report is always non-nil and always publishable: grading outcomes the
// learner caused (unsupported language, compile diagnostics, runtime
// failures) land in the report's error fields with a nil error. The error
// return is reserved for engine faults such as test data access or sandbox
// infrastructure, so async callers can fail the task while still having a
// report to show.
func (s *GradingService) Grade(ctx context.Context, req model.GradeRequest) (*model.GradeReport, error) {
	def, err := s.registry.LookupLanguage(req.Language, req.Version)
	if err != nil {
		return errorReport(req.IncludeStaff, appErr.GetError(err).Error()), nil
	}

	info, err := s.provider.Problem(ctx, req.ProblemID)
	if err != nil {
		logger.Error(ctx, "problem lookup failed",
			zap.String("problem_id", req.ProblemID), zap.Error(err))
		return errorReport(req.IncludeStaff, appErr.GetError(err).Error()), err
	}

	var sampleCases, staffCases []model.TestCase
	if !info.Design {
		sampleCases, err = s.provider.Cases(ctx, req.ProblemID, model.RunTypeSample)
		if err != nil {
			logger.Error(ctx, "load sample cases failed",
				zap.String("problem_id", req.ProblemID), zap.Error(err))
			return errorReport(req.IncludeStaff, appErr.GetError(err).Error()), err
		}
		if req.IncludeStaff {
			staffCases, err = s.provider.Cases(ctx, req.ProblemID, model.RunTypeStaff)
			if err != nil {
				logger.Error(ctx, "load staff cases failed",
					zap.String("problem_id", req.ProblemID), zap.Error(err))
				return errorReport(req.IncludeStaff, appErr.GetError(err).Error()), err
			}
		}
	}

	prog, err := s.preparer.Prepare(ctx, sandbox.PrepareRequest{Definition: def, Source: req.Source})
	if err != nil {
		if appErr.Is(err, appErr.CompilationError) {
			// A compile diagnostic is a grading outcome, not an engine fault.
			text := harness.TruncateDiagnostic(appErr.GetError(err).Error())
			if info.Design {
				return designErrorReport(text), nil
			}
			return errorReport(req.IncludeStaff, text), nil
		}
		logger.Error(ctx, "prepare submission failed",
			zap.String("problem_id", req.ProblemID),
			zap.String("executor", def.ID()), zap.Error(err))
		text := appErr.GetError(err).Error()
		if info.Design {
			return designErrorReport(text), err
		}
		return errorReport(req.IncludeStaff, text), err
	}
	defer func() {
		if closeErr := prog.Close(); closeErr != nil {
			logger.Warn(ctx, "release submission workdir failed", zap.Error(closeErr))
		}
	}()

	if info.Design {
		output, errs := s.harness.RunDesign(ctx, prog, info.DesignTimeout)
		return &model.GradeReport{
			IsDesignProblem: true,
			RunType:         model.RunTypeSample,
			Output:          output,
			Error:           errs,
		}, nil
	}

	report := &model.GradeReport{
		Sample: s.harness.Run(ctx, harness.RunSpec{
			RunType: model.RunTypeSample,
			Program: prog,
			Cases:   sampleCases,
			Timeout: info.RunTimeout,
		}),
	}
	if req.IncludeStaff {
		report.Staff = s.harness.Run(ctx, harness.RunSpec{
			RunType: model.RunTypeStaff,
			Program: prog,
			Cases:   staffCases,
			Timeout: info.RunTimeout,
		})
	}
	return report, nil
}

// errorReport builds the whole-submission failure shape: the sample pass
// (and the staff pass when requested) becomes the canonical zeroed error
// response.
func errorReport(includeStaff bool, text string) *model.GradeReport {
	report := &model.GradeReport{Sample: model.ErrorRunReport(model.RunTypeSample, text)}
	if includeStaff {
		report.Staff = model.ErrorRunReport(model.RunTypeStaff, text)
	}
	return report
}

func designErrorReport(text string) *model.GradeReport {
	return &model.GradeReport{
		IsDesignProblem: true,
		RunType:         model.RunTypeSample,
		Error:           []string{text},
	}
}
