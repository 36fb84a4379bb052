package testdata

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// Local serves problems straight from a directory tree.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) Problem(ctx context.Context, problemID string) (model.ProblemInfo, error) {
	dir, err := l.problemDir(problemID)
	if err != nil {
		return model.ProblemInfo{}, err
	}
	return problemInfo(dir, problemID)
}

func (l *Local) Cases(ctx context.Context, problemID string, runType model.RunType) ([]model.TestCase, error) {
	dir, err := l.problemDir(problemID)
	if err != nil {
		return nil, err
	}
	return loadCases(dir, runType)
}

func (l *Local) problemDir(problemID string) (string, error) {
	if err := validateProblemID(problemID); err != nil {
		return "", err
	}
	dir := filepath.Join(l.root, problemID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", appErr.Newf(appErr.ProblemNotFound, "problem %q not found", problemID)
	}
	return dir, nil
}

// loadCases reads dir/<runType>/<N>/{input.in,output.out} in ascending
// numeric order. Non-numeric entries are ignored; a case directory missing
// either file fails the whole load since a partially judged suite would be
// misleading.
func loadCases(dir string, runType model.RunType) ([]model.TestCase, error) {
	caseRoot := filepath.Join(dir, string(runType))
	entries, err := os.ReadDir(caseRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.TestCaseUnreadable, "read case directory failed")
	}

	numbers := make([]int, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	cases := make([]model.TestCase, 0, len(numbers))
	for _, n := range numbers {
		caseDir := filepath.Join(caseRoot, strconv.Itoa(n))
		inputPath := filepath.Join(caseDir, InputFileName)
		input, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TestCaseUnreadable, "read %s of case %d failed", InputFileName, n)
		}
		expected, err := os.ReadFile(filepath.Join(caseDir, ExpectedFileName))
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TestCaseUnreadable, "read %s of case %d failed", ExpectedFileName, n)
		}
		cases = append(cases, model.TestCase{
			Index:     n,
			Input:     string(input),
			InputPath: inputPath,
			Expected:  string(expected),
		})
	}
	return cases, nil
}

var _ Provider = (*Local)(nil)
