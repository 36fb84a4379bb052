package sandbox

import (
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/noraiz-anwar/code-response-assessment/internal/grader/executor"
)

// Containers get a fixed working directory and no network access; the only
// way in is the tar copy, the only way out is stdout/stderr.
const containerWorkdir = "/sandbox"

const (
	// stopGrace bounds the SIGTERM-to-SIGKILL window when the watchdog fires.
	stopGrace = 5 * time.Second
	// postStopWait bounds how long a stopped container may take to report its
	// exit status before the engine gives up on it.
	postStopWait = 15 * time.Second
)

func containerConfig(image string, cmd []string, attachStdin bool) *container.Config {
	return &container.Config{
		Image:           image,
		Cmd:             cmd,
		AttachStdout:    true,
		AttachStderr:    true,
		AttachStdin:     attachStdin,
		OpenStdin:       attachStdin,
		StdinOnce:       attachStdin,
		WorkingDir:      containerWorkdir,
		NetworkDisabled: true,
	}
}

func hostConfig(limits executor.Limits) *container.HostConfig {
	limits = limits.WithDefaults()
	cfg := &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		Resources: container.Resources{
			NanoCPUs:   limits.CPUs * 1_000_000_000,
			Memory:     limits.MemoryMB << 20,
			MemorySwap: limits.MemoryMB << 20,
		},
	}
	if limits.Pids > 0 {
		pids := limits.Pids
		cfg.Resources.PidsLimit = &pids
	}
	return cfg
}

func watchdogTimeout(limits executor.Limits, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return time.Duration(limits.WithDefaults().RealtimeSeconds) * time.Second
}
