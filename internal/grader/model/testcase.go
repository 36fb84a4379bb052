package model

import "time"

// TestCase is one input/expected-output pair, ordered by numeric index.
// InputPath points at the on-disk input artifact for file-argument runs;
// Input holds the same text for display and stdin-fed runs.
type TestCase struct {
	Index     int
	Input     string
	InputPath string
	Expected  string
}

// ProblemInfo carries the per-problem grading knobs.
type ProblemInfo struct {
	ID            string
	Design        bool
	RunTimeout    time.Duration
	DesignTimeout time.Duration
}
