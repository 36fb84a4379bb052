// Package sandbox executes untrusted submissions in throwaway Docker
// containers: one compile container per submission, one run container per
// test case, a wall-clock watchdog with forced stop, and tar-based file
// exchange. No volume is shared with the host.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"
)

// Canonical user-facing execution failure messages. They are compared and
// stored verbatim, so the trailing periods matter.
const (
	TimeLimitMessage        = "Time limit exceeded."
	CompileTimeLimitMessage = "Compilation time limit exceeded."
	CompileMemoryMessage    = "Compilation memory limit exceeded."
)

// Config controls the engine.
type Config struct {
	// WorkRoot is the host directory that holds one subdirectory per
	// prepared submission.
	WorkRoot string `yaml:"work_root" json:"work_root"`
	// PullImages makes Prepare pull executor images on first use. Leave it
	// off when images are provisioned out of band.
	PullImages bool `yaml:"pull_images" json:"pull_images"`
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{WorkRoot: filepath.Join(os.TempDir(), "grader")}
}

// Engine prepares submissions and runs them in isolated containers.
type Engine struct {
	cli dockerClient
	cfg Config

	pullMu sync.Mutex
	pulled map[string]bool
}

// NewEngine connects to the local Docker daemon using the environment
// configuration (DOCKER_HOST et al) with API version negotiation.
func NewEngine(cfg Config) (*Engine, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, err
	}
	return newEngineWithClient(cli, cfg), nil
}

func newEngineWithClient(cli dockerClient, cfg Config) *Engine {
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = DefaultConfig().WorkRoot
	}
	return &Engine{
		cli:    cli,
		cfg:    cfg,
		pulled: make(map[string]bool),
	}
}

// Close releases the Docker client.
func (e *Engine) Close() error {
	if err := e.cli.Close(); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "close docker client")
	}
	return nil
}

// Ping verifies the Docker daemon is reachable by issuing a cheap API call.
func (e *Engine) Ping(ctx context.Context) error {
	// Version negotiation happens lazily; an inspect of a bogus id forces a
	// round-trip without creating anything.
	_, err := e.cli.ContainerInspect(ctx, "grader-ping")
	if err != nil && !client.IsErrNotFound(err) {
		return appErr.Wrapf(err, appErr.SandboxError, "docker daemon unreachable")
	}
	return nil
}

// PrepareRequest carries one submission into the sandbox.
type PrepareRequest struct {
	Definition executor.Definition
	Source     string
	// Token names the submission work directory. Empty means a fresh uuid,
	// which keeps concurrent runs on the same host apart.
	Token string
}

// Prepare writes the (possibly rewritten) source under the work root and,
// for compiled definitions, runs the compile container and harvests the
// artifacts. Compile failures come back as CompilationError with the
// diagnostic as the message; infrastructure failures as SandboxError.
func (e *Engine) Prepare(ctx context.Context, req PrepareRequest) (*Program, error) {
	def := req.Definition
	if err := def.Validate(); err != nil {
		return nil, err
	}

	token := req.Token
	if token == "" {
		token = uuid.NewString()
	}
	workDir := filepath.Join(e.cfg.WorkRoot, token)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "create work dir")
	}

	source := executor.RewriteSource(def, req.Source)
	if err := os.WriteFile(filepath.Join(workDir, def.SourceFile), []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, appErr.Wrapf(err, appErr.SandboxError, "write source file")
	}

	prog := &Program{
		engine:  e,
		def:     def,
		workDir: workDir,
		limits:  def.Limits.WithDefaults(),
	}

	if err := e.ensureImage(ctx, def.Image); err != nil {
		_ = prog.Close()
		return nil, err
	}

	srcSpec := fileSpec{Name: def.SourceFile, Data: []byte(source)}
	if def.Family() == executor.FamilyScripted {
		prog.files = []fileSpec{srcSpec}
		return prog, nil
	}

	artifacts, err := e.compile(ctx, def, srcSpec, prog.limits)
	if err != nil {
		_ = prog.Close()
		return nil, err
	}
	prog.files = artifacts
	return prog, nil
}

// compile runs the definition's compile command in one container and pulls
// every produced file back out.
func (e *Engine) compile(ctx context.Context, def executor.Definition, src fileSpec, limits executor.Limits) ([]fileSpec, error) {
	cmd, err := def.CompileCommand()
	if err != nil {
		return nil, err
	}

	containerID, cleanup, err := e.createContainer(ctx, def.Image, cmd, limits, false)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := e.copyFiles(ctx, containerID, []fileSpec{src}); err != nil {
		return nil, err
	}

	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "start compile container")
	}

	waitCtx, cancel := context.WithTimeout(ctx, watchdogTimeout(limits, 0))
	status, err := e.waitForExit(waitCtx, containerID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			if _, _, _, stopErr := e.stopAfterTimeout(containerID); stopErr != nil {
				return nil, stopErr
			}
			return nil, appErr.New(appErr.CompilationError).WithMessage(CompileTimeLimitMessage)
		}
		return nil, appErr.Wrapf(err, appErr.SandboxError, "wait for compile container")
	}

	inspect, err := e.cli.ContainerInspect(detached(ctx), containerID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "inspect compile container")
	}
	if inspect.State != nil && inspect.State.OOMKilled {
		return nil, appErr.New(appErr.CompilationError).WithMessage(CompileMemoryMessage)
	}

	stdout, stderr, err := e.fetchLogs(detached(ctx), containerID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "fetch compile logs")
	}
	if stderr != "" || status.StatusCode != 0 {
		diagnostic := stderr
		if diagnostic == "" {
			diagnostic = stdout
		}
		if diagnostic == "" {
			diagnostic = fmt.Sprintf("compilation failed with exit code %d", status.StatusCode)
		}
		return nil, appErr.New(appErr.CompilationError).WithMessage(diagnostic)
	}

	artifacts, err := e.harvestWorkdir(ctx, containerID, src.Name)
	if err != nil {
		return nil, err
	}
	if !containsFile(artifacts, def.ExecutableFile) {
		return nil, appErr.Newf(appErr.SandboxError, "compile produced no %s", def.ExecutableFile)
	}
	return artifacts, nil
}

func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	if !e.cfg.PullImages {
		return nil
	}
	e.pullMu.Lock()
	done := e.pulled[ref]
	e.pullMu.Unlock()
	if done {
		return nil
	}

	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "pull image %s", ref)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "consume pull output for %s", ref)
	}

	e.pullMu.Lock()
	e.pulled[ref] = true
	e.pullMu.Unlock()
	logger.Info(ctx, "executor image pulled", zap.String("image", ref))
	return nil
}

func (e *Engine) createContainer(ctx context.Context, img string, cmd []string, limits executor.Limits, attachStdin bool) (string, func(), error) {
	resp, err := e.cli.ContainerCreate(ctx, containerConfig(img, cmd, attachStdin), hostConfig(limits), nil, nil, "")
	if err != nil {
		return "", nil, appErr.Wrapf(err, appErr.SandboxError, "create container")
	}
	cleanup := func() {
		_ = e.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}
	return resp.ID, cleanup, nil
}

func (e *Engine) copyFiles(ctx context.Context, containerID string, files []fileSpec) error {
	if len(files) == 0 {
		return nil
	}
	reader, err := makeArchive(containerWorkdir, files)
	if err != nil {
		return err
	}
	// The archive carries the working directory itself, so extraction into
	// "/" works before the container has ever started.
	err = e.cli.CopyToContainer(ctx, containerID, "/", reader, copyToContainerOptions())
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "copy files into container")
	}
	return nil
}

func (e *Engine) harvestWorkdir(ctx context.Context, containerID, skip string) ([]fileSpec, error) {
	reader, _, err := e.cli.CopyFromContainer(detached(ctx), containerID, containerWorkdir)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "copy artifacts out of container")
	}
	defer reader.Close()

	files, err := extractArchive(reader)
	if err != nil {
		return nil, err
	}
	kept := files[:0]
	for _, file := range files {
		if file.Name == skip {
			continue
		}
		kept = append(kept, file)
	}
	return kept, nil
}

func (e *Engine) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stopAfterTimeout force-stops a container whose watchdog fired and collects
// whatever it managed to write before dying.
func (e *Engine) stopAfterTimeout(containerID string) (stdout, stderr string, exitCode int64, err error) {
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopGrace)
	defer cancelStop()
	if err := e.cli.ContainerStop(stopCtx, containerID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return "", "", 0, appErr.Wrapf(err, appErr.SandboxError, "stop container after time limit")
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), postStopWait)
	defer cancelWait()
	status, waitErr := e.waitForExit(waitCtx, containerID)
	if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) && !client.IsErrNotFound(waitErr) {
		return "", "", 0, appErr.Wrapf(waitErr, appErr.SandboxError, "wait for container after time limit")
	}

	stdout, stderr, err = e.fetchLogs(context.Background(), containerID)
	if err != nil {
		return "", "", 0, err
	}

	exitCode = int64(-1)
	if status != nil {
		exitCode = status.StatusCode
	}
	return stdout, stderr, exitCode, nil
}

func (e *Engine) fetchLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	logs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", appErr.Wrapf(err, appErr.SandboxError, "fetch container logs")
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return "", "", appErr.Wrapf(err, appErr.SandboxError, "demux container logs")
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// detached falls back to the background context once ctx is done, so
// cleanup-path API calls still go through.
func detached(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}

func containsFile(files []fileSpec, name string) bool {
	for _, file := range files {
		if file.Name == name {
			return true
		}
	}
	return false
}
