// Package model defines the grading domain types shared across the engine.
package model

// RunType selects which test-case set and disclosure policy applies.
type RunType string

const (
	RunTypeSample RunType = "sample"
	RunTypeStaff  RunType = "staff"
)

// TestCaseResult contains the per-case comparison outcome.
type TestCaseResult struct {
	Index          int    `json:"index"`
	TestInput      string `json:"test_input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Correct        bool   `json:"correct"`
}

// RunReport aggregates one pass over a test-case set.
// TotalTests counts all discovered cases; Correct and Incorrect count only
// cases attempted before a terminal error stopped the pass.
type RunReport struct {
	RunType    RunType          `json:"run_type"`
	TotalTests int              `json:"total_tests"`
	Correct    int              `json:"correct"`
	Incorrect  int              `json:"incorrect"`
	Output     []TestCaseResult `json:"output"`
	Error      []string         `json:"error"`
}

// NewRunReport creates an empty report for a pass over total cases.
func NewRunReport(runType RunType, total int) *RunReport {
	return &RunReport{
		RunType:    runType,
		TotalTests: total,
	}
}

// ErrorRunReport builds the canonical error shape for a pass that could not
// run at all: zero counts, no per-case output, a single error entry.
func ErrorRunReport(runType RunType, text string) *RunReport {
	return &RunReport{
		RunType: runType,
		Error:   []string{text},
	}
}

// GradeReport is the top-level result for one submission. Normal problems
// carry a sample pass and optionally a staff pass; design problems carry a
// single freeform output instead.
type GradeReport struct {
	IsDesignProblem bool       `json:"is_design_problem,omitempty"`
	Sample          *RunReport `json:"sample,omitempty"`
	Staff           *RunReport `json:"staff,omitempty"`

	// Design problem fields.
	RunType RunType  `json:"run_type,omitempty"`
	Output  string   `json:"output,omitempty"`
	Error   []string `json:"error,omitempty"`
}

// Redacted returns a copy safe to show a non-staff caller: the staff pass
// keeps its counts but loses per-case output and error text.
func (g *GradeReport) Redacted() *GradeReport {
	if g == nil {
		return nil
	}
	out := *g
	if g.Staff != nil {
		staff := *g.Staff
		staff.Output = nil
		staff.Error = nil
		out.Staff = &staff
	}
	return &out
}
