// Package harness runs a prepared submission against a problem's test cases
// and folds the per-case verdicts into a run report. It decides nothing about
// where cases come from or where reports go; it only drives executions and
// judges outputs.
package harness

import (
	"context"
	"strings"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/sandbox"
)

const (
	// DefaultRunTimeout bounds each normal test-case execution.
	DefaultRunTimeout = 5 * time.Second
	// DefaultDesignTimeout bounds the single free-form run of a design
	// problem, which gets more room than a per-case run.
	DefaultDesignTimeout = 15 * time.Second

	// maxDiagnosticLines caps how much of a diagnostic ends up in a report.
	maxDiagnosticLines = 150
	truncationMarker   = "... Extra output Trimmed."
)

// Runner executes one prepared submission. *sandbox.Program satisfies it.
type Runner interface {
	Run(ctx context.Context, req sandbox.RunRequest) (*sandbox.Outcome, error)
}

// Config tunes the harness. Zero values fall back to the defaults above.
type Config struct {
	RunTimeout    time.Duration `yaml:"run_timeout" json:"run_timeout"`
	DesignTimeout time.Duration `yaml:"design_timeout" json:"design_timeout"`
	// ContinueOnError keeps judging later cases after one fails with an
	// execution diagnostic, scoring the failed case as incorrect, instead
	// of aborting the pass. Wrong answers never abort either way.
	ContinueOnError bool `yaml:"continue_on_error" json:"continue_on_error"`
}

func (c Config) withDefaults() Config {
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.DesignTimeout <= 0 {
		c.DesignTimeout = DefaultDesignTimeout
	}
	return c
}

// Harness judges prepared programs against test suites.
type Harness struct {
	cfg Config
}

func New(cfg Config) *Harness {
	return &Harness{cfg: cfg.withDefaults()}
}

// RunSpec names one judging pass over a suite of cases.
type RunSpec struct {
	RunType model.RunType
	Program Runner
	Cases   []model.TestCase
	// Timeout overrides the configured per-case timeout, e.g. from problem
	// metadata. Zero keeps the default.
	Timeout time.Duration
}

// Run executes every case in ascending order and aggregates the verdicts.
//
// A run that exceeds its time or memory limit is judged like any other
// answer, with sandbox.TimeLimitMessage as the actual output, and the pass
// continues. A run that writes to stderr aborts the pass with the truncated
// diagnostic in the report's error field and no entry for the failed case,
// unless ContinueOnError is set, in which case the case scores incorrect
// with the diagnostic as its actual output. Sandbox faults always abort.
func (h *Harness) Run(ctx context.Context, spec RunSpec) *model.RunReport {
	report := model.NewRunReport(spec.RunType, len(spec.Cases))
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = h.cfg.RunTimeout
	}

	for _, tc := range spec.Cases {
		outcome, err := spec.Program.Run(ctx, caseRequest(tc, timeout))
		if err != nil {
			report.Error = []string{TruncateDiagnostic(err.Error())}
			break
		}

		var actual string
		diagnosed := false
		switch {
		case outcome.TimedOut || outcome.OOMKilled:
			actual = sandbox.TimeLimitMessage
		case strings.TrimSpace(outcome.Stderr) != "":
			diagnostic := TruncateDiagnostic(outcome.Stderr)
			if !h.cfg.ContinueOnError {
				report.Error = []string{diagnostic}
				return report
			}
			actual = diagnostic
			diagnosed = true
		default:
			actual = outcome.Stdout
		}

		verdict := Compare(actual, tc.Expected)
		if diagnosed {
			verdict.Correct = false
		}
		if verdict.Correct {
			report.Correct++
		} else {
			report.Incorrect++
		}
		report.Output = append(report.Output, model.TestCaseResult{
			Index:          tc.Index,
			TestInput:      tc.Input,
			ExpectedOutput: verdict.Expected,
			ActualOutput:   verdict.Actual,
			Correct:        verdict.Correct,
		})
	}
	return report
}

// RunDesign executes a design problem once, with no input and the longer
// design timeout. The output is returned as-is and never judged; a timeout
// surfaces as sandbox.TimeLimitMessage in the output, a diagnostic or
// sandbox fault as the error text.
func (h *Harness) RunDesign(ctx context.Context, program Runner, timeout time.Duration) (string, []string) {
	if timeout <= 0 {
		timeout = h.cfg.DesignTimeout
	}
	outcome, err := program.Run(ctx, sandbox.RunRequest{Timeout: timeout})
	if err != nil {
		return "", []string{TruncateDiagnostic(err.Error())}
	}
	switch {
	case outcome.TimedOut || outcome.OOMKilled:
		return sandbox.TimeLimitMessage, nil
	case strings.TrimSpace(outcome.Stderr) != "":
		return "", []string{TruncateDiagnostic(outcome.Stderr)}
	}
	return outcome.Stdout, nil
}

func caseRequest(tc model.TestCase, timeout time.Duration) sandbox.RunRequest {
	req := sandbox.RunRequest{Timeout: timeout}
	if tc.InputPath != "" {
		req.InputFile = tc.InputPath
	} else {
		req.Stdin = tc.Input
	}
	return req
}

// TruncateDiagnostic bounds a diagnostic to its last lines so one runaway
// stack trace cannot bloat a stored report. Truncated text ends with a
// marker line.
func TruncateDiagnostic(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= maxDiagnosticLines {
		return text
	}
	kept := lines[len(lines)-maxDiagnosticLines:]
	return strings.Join(kept, "\n") + "\n" + truncationMarker
}
