package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker scripts the container lifecycle so engine tests run without a
// daemon. Container ids are handed out sequentially as container-0,
// container-1, ... in creation order.
type fakeDocker struct {
	mu          sync.Mutex
	nextID      int
	pulls       []string
	createCalls []createCall
	copyToCalls []copyToCall
	attachCalls []string
	stopCalls   []string
	removeCalls []string
	waitQueue   map[string][]waitStep
	logs        map[string][]byte
	inspect     map[string]types.ContainerJSON
	workdirTar  map[string][]byte
	attach      map[string]types.HijackedResponse
	closed      bool
}

type createCall struct {
	id         string
	config     *container.Config
	hostConfig *container.HostConfig
}

type copyToCall struct {
	containerID string
	path        string
	data        []byte
}

type waitStep struct {
	status *container.WaitResponse
	err    error
	block  bool
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		waitQueue:  make(map[string][]waitStep),
		logs:       make(map[string][]byte),
		inspect:    make(map[string]types.ContainerJSON),
		workdirTar: make(map[string][]byte),
		attach:     make(map[string]types.HijackedResponse),
	}
}

func (f *fakeDocker) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.pulls = append(f.pulls, ref)
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("container-%d", f.nextID)
	f.nextID++
	f.createCalls = append(f.createCalls, createCall{id: id, config: config, hostConfig: hostConfig})
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	f.removeCalls = append(f.removeCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.copyToCalls = append(f.copyToCalls, copyToCall{containerID: containerID, path: dstPath, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	f.attachCalls = append(f.attachCalls, containerID)
	resp := f.attach[containerID]
	f.mu.Unlock()
	return resp, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	f.mu.Lock()
	steps := f.waitQueue[containerID]
	if len(steps) == 0 {
		f.mu.Unlock()
		return statusCh, errCh
	}
	step := steps[0]
	f.waitQueue[containerID] = steps[1:]
	f.mu.Unlock()

	if step.block {
		return statusCh, errCh
	}
	if step.status != nil {
		statusCh <- *step.status
	}
	if step.err != nil {
		errCh <- step.err
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inspect[containerID], nil
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	data := f.logs[containerID]
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, types.ContainerPathStat, error) {
	f.mu.Lock()
	data, ok := f.workdirTar[containerID+"|"+srcPath]
	f.mu.Unlock()
	if !ok {
		return nil, types.ContainerPathStat{}, fmt.Errorf("path %s not found in %s", srcPath, containerID)
	}
	return io.NopCloser(bytes.NewReader(data)), types.ContainerPathStat{}, nil
}

func (f *fakeDocker) queueWait(containerID string, steps ...waitStep) {
	f.mu.Lock()
	f.waitQueue[containerID] = append(f.waitQueue[containerID], steps...)
	f.mu.Unlock()
}

func (f *fakeDocker) setLogs(containerID, stdout, stderr string) {
	var buf bytes.Buffer
	if stdout != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
		_, _ = w.Write([]byte(stdout))
	}
	if stderr != "" {
		w := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
		_, _ = w.Write([]byte(stderr))
	}
	f.mu.Lock()
	f.logs[containerID] = buf.Bytes()
	f.mu.Unlock()
}

func (f *fakeDocker) setOOMKilled(containerID string) {
	f.mu.Lock()
	f.inspect[containerID] = types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{OOMKilled: true},
		},
	}
	f.mu.Unlock()
}

// setWorkdirContents scripts what a CopyFromContainer of the working
// directory returns once the container has run.
func (f *fakeDocker) setWorkdirContents(containerID string, files []fileSpec) error {
	reader, err := makeArchive(containerWorkdir, files)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.workdirTar[containerID+"|"+containerWorkdir] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) setAttach(containerID string, conn net.Conn) {
	f.mu.Lock()
	f.attach[containerID] = types.HijackedResponse{Conn: conn}
	f.mu.Unlock()
}

func exitStatus(code int64) waitStep {
	return waitStep{status: &container.WaitResponse{StatusCode: code}}
}

// stdinConn captures what the engine writes to the attached stdin stream.
type stdinConn struct {
	bytes.Buffer
	mu          sync.Mutex
	writeClosed bool
}

func (c *stdinConn) Close() error { return nil }

func (c *stdinConn) CloseWrite() error {
	c.mu.Lock()
	c.writeClosed = true
	c.mu.Unlock()
	return nil
}

func (c *stdinConn) WriteClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeClosed
}

func (c *stdinConn) LocalAddr() net.Addr              { return stubAddr("local") }
func (c *stdinConn) RemoteAddr() net.Addr             { return stubAddr("remote") }
func (c *stdinConn) SetDeadline(time.Time) error      { return nil }
func (c *stdinConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stdinConn) SetWriteDeadline(time.Time) error { return nil }

type stubAddr string

func (a stubAddr) Network() string { return string(a) }
func (a stubAddr) String() string  { return string(a) }
