package testdata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const manifestFileName = "manifest.json"

// Manifest is the optional manifest.json at a problem's root. Any field it
// sets wins over the naming convention and the configured defaults.
type Manifest struct {
	ProblemID            string `json:"problem_id,omitempty"`
	DisplayName          string `json:"display_name,omitempty"`
	Design               *bool  `json:"design,omitempty"`
	RunTimeoutSeconds    int    `json:"run_timeout_seconds,omitempty"`
	DesignTimeoutSeconds int    `json:"design_timeout_seconds,omitempty"`
}

// readManifest loads dir/manifest.json. A missing file is not an error.
func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, appErr.Wrapf(err, appErr.ManifestInvalid, "read manifest failed")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, appErr.Wrapf(err, appErr.ManifestInvalid, "parse manifest failed")
	}
	return &m, nil
}

// problemInfo derives a problem's grading knobs from its directory: the
// naming convention first, then manifest overrides.
func problemInfo(dir, problemID string) (model.ProblemInfo, error) {
	info := model.ProblemInfo{
		ID:     problemID,
		Design: DesignByName(problemID),
	}
	m, err := readManifest(dir)
	if err != nil {
		return model.ProblemInfo{}, err
	}
	if m == nil {
		return info, nil
	}
	if m.Design != nil {
		info.Design = *m.Design
	}
	if m.RunTimeoutSeconds > 0 {
		info.RunTimeout = time.Duration(m.RunTimeoutSeconds) * time.Second
	}
	if m.DesignTimeoutSeconds > 0 {
		info.DesignTimeout = time.Duration(m.DesignTimeoutSeconds) * time.Second
	}
	return info, nil
}
