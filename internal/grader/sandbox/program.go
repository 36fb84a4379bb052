package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// Program is a prepared submission: source written, compile artifacts
// harvested, ready to run test cases. Each Run gets a fresh container; the
// Program itself holds no container state.
type Program struct {
	engine  *Engine
	def     executor.Definition
	workDir string
	files   []fileSpec
	limits  executor.Limits
}

// RunRequest executes the prepared program once.
type RunRequest struct {
	// Stdin is piped to the program and the write side closed. Used when
	// InputFile is empty.
	Stdin string
	// InputFile is a host path copied into the container and appended to the
	// run command as an argument.
	InputFile string
	// Timeout overrides the definition's wall-clock limit for this run.
	Timeout time.Duration
}

// Outcome reports one container execution. TimedOut means the watchdog
// force-stopped the container; OOMKilled means the kernel did.
type Outcome struct {
	Stdout    string
	Stderr    string
	ExitCode  int64
	TimedOut  bool
	OOMKilled bool
	Duration  time.Duration
}

// Definition returns the executor definition the program was prepared with.
func (p *Program) Definition() executor.Definition {
	return p.def
}

// WorkDir returns the host work directory backing this submission.
func (p *Program) WorkDir() string {
	return p.workDir
}

// Run executes the program once in a fresh container.
func (p *Program) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	files := append([]fileSpec(nil), p.files...)
	inputName := ""
	if req.InputFile != "" {
		data, err := os.ReadFile(req.InputFile)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "read input file")
		}
		inputName = filepath.Base(req.InputFile)
		files = append(files, fileSpec{Name: inputName, Data: data})
	}

	cmd, err := p.def.RunCommand(inputName)
	if err != nil {
		return nil, err
	}

	attachStdin := req.InputFile == ""
	e := p.engine

	containerID, cleanup, err := e.createContainer(ctx, p.def.Image, cmd, p.limits, attachStdin)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := e.copyFiles(ctx, containerID, files); err != nil {
		return nil, err
	}

	var attach types.HijackedResponse
	if attachStdin {
		attach, err = e.cli.ContainerAttach(detached(ctx), containerID, container.AttachOptions{
			Stream: true,
			Stdin:  true,
		})
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "attach container")
		}
		if attach.Conn != nil {
			defer attach.Close()
		}
	}

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "start container")
	}

	if attachStdin && attach.Conn != nil {
		if _, err := io.Copy(attach.Conn, strings.NewReader(req.Stdin)); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "write stdin")
		}
		if closer, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
			_ = closer.CloseWrite()
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, watchdogTimeout(p.limits, req.Timeout))
	status, err := e.waitForExit(waitCtx, containerID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			stdout, stderr, exitCode, stopErr := e.stopAfterTimeout(containerID)
			if stopErr != nil {
				return nil, stopErr
			}
			return &Outcome{
				Stdout:   stdout,
				Stderr:   stderr,
				ExitCode: exitCode,
				TimedOut: true,
				Duration: time.Since(start),
			}, nil
		}
		return nil, appErr.Wrapf(err, appErr.SandboxError, "wait for container")
	}

	inspect, err := e.cli.ContainerInspect(detached(ctx), containerID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "inspect container")
	}

	stdout, stderr, err := e.fetchLogs(detached(ctx), containerID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: status.StatusCode,
		Duration: time.Since(start),
	}
	if inspect.State != nil && inspect.State.OOMKilled {
		outcome.OOMKilled = true
	}
	return outcome, nil
}

// Close removes the submission work directory. Safe to call more than once.
func (p *Program) Close() error {
	if p.workDir == "" {
		return nil
	}
	dir := p.workDir
	p.workDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "remove work dir")
	}
	return nil
}
