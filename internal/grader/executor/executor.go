// Package executor defines the catalog of language execution environments:
// which container image, source file and command templates serve a given
// language+version pair.
package executor

import (
	"strings"

	"github.com/google/shlex"

	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// Family groups definitions by whether they need a compile step.
type Family string

const (
	// FamilyCompiled definitions run a compile command once and execute the
	// harvested artifact.
	FamilyCompiled Family = "compiled"
	// FamilyScripted definitions execute the source file directly.
	FamilyScripted Family = "scripted"
)

// Command template placeholders understood by Definition.
const (
	PlaceholderSourceFile     = "{source_file}"
	PlaceholderExecutableFile = "{executable_file}"
	PlaceholderInputFile      = "{input_file}"
)

// Limits bounds one container execution. Zero fields fall back to the
// package defaults.
type Limits struct {
	RealtimeSeconds int   `yaml:"realtime_seconds" json:"realtime_seconds"`
	MemoryMB        int64 `yaml:"memory_mb" json:"memory_mb"`
	CPUs            int64 `yaml:"cpus" json:"cpus"`
	Pids            int64 `yaml:"pids" json:"pids"`
}

// DefaultLimits returns the stock execution limits: 15s wall clock, 128 MiB
// of memory, one CPU core, unlimited pids.
func DefaultLimits() Limits {
	return Limits{RealtimeSeconds: 15, MemoryMB: 128, CPUs: 1}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.RealtimeSeconds <= 0 {
		l.RealtimeSeconds = def.RealtimeSeconds
	}
	if l.MemoryMB <= 0 {
		l.MemoryMB = def.MemoryMB
	}
	if l.CPUs <= 0 {
		l.CPUs = def.CPUs
	}
	return l
}

// Definition describes how to build and run submissions for one
// language+version pair. Command templates use the placeholder constants
// and are expanded into argv with shell-style tokenization.
type Definition struct {
	Language       string `yaml:"language" json:"language"`
	Version        string `yaml:"version" json:"version"`
	DisplayName    string `yaml:"display_name" json:"display_name"`
	Image          string `yaml:"image" json:"image"`
	SourceFile     string `yaml:"source_file" json:"source_file"`
	ExecutableFile string `yaml:"executable_file,omitempty" json:"executable_file,omitempty"`
	CompileCmd     string `yaml:"compile_cmd,omitempty" json:"-"`
	RunCmd         string `yaml:"run_cmd" json:"-"`
	RunFileCmd     string `yaml:"run_file_cmd,omitempty" json:"-"`
	Limits         Limits `yaml:"limits" json:"-"`
}

// ID returns the registry key for this definition.
func (d Definition) ID() string {
	return ExecutorID(d.Language, d.Version)
}

// Family reports whether this definition compiles before running.
func (d Definition) Family() Family {
	if strings.TrimSpace(d.CompileCmd) != "" {
		return FamilyCompiled
	}
	return FamilyScripted
}

// ExecutorID builds the stable identifier used end-to-end for a
// language+version pair.
func ExecutorID(language, version string) string {
	return strings.ToLower(strings.TrimSpace(language)) + "-" + strings.ToLower(strings.TrimSpace(version))
}

// Validate checks the definition is complete enough to register.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Language) == "" {
		return appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(d.Version) == "" {
		return appErr.ValidationError("version", "required")
	}
	if strings.TrimSpace(d.Image) == "" {
		return appErr.ValidationError("image", "required")
	}
	if strings.TrimSpace(d.SourceFile) == "" {
		return appErr.ValidationError("source_file", "required")
	}
	if strings.TrimSpace(d.RunCmd) == "" {
		return appErr.ValidationError("run_cmd", "required")
	}
	if d.Family() == FamilyCompiled && strings.TrimSpace(d.ExecutableFile) == "" {
		return appErr.ValidationError("executable_file", "required for compiled languages")
	}
	return nil
}

// CompileCommand expands the compile template into argv. Scripted
// definitions have no compile step.
func (d Definition) CompileCommand() ([]string, error) {
	if d.Family() != FamilyCompiled {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("definition has no compile step")
	}
	return d.expand(d.CompileCmd, "")
}

// RunCommand expands the run template into argv. A non-empty inputFile
// selects the file-argument form: RunFileCmd when the definition declares
// one, otherwise the stdin form with the input file appended.
func (d Definition) RunCommand(inputFile string) ([]string, error) {
	tpl := d.RunCmd
	if inputFile != "" {
		tpl = d.RunFileCmd
		if strings.TrimSpace(tpl) == "" {
			tpl = d.RunCmd + " " + PlaceholderInputFile
		}
	}
	return d.expand(tpl, inputFile)
}

func (d Definition) expand(tpl, inputFile string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := strings.ReplaceAll(tpl, PlaceholderSourceFile, d.SourceFile)
	expanded = strings.ReplaceAll(expanded, PlaceholderExecutableFile, d.ExecutableFile)
	expanded = strings.ReplaceAll(expanded, PlaceholderInputFile, inputFile)
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}
