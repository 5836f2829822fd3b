// Package docker implements the docker WMS launcher adapter (§6): submit
// creates and starts a container running the node's script, check inspects
// its exit state. It is grounded on the teacher's common.DockerClient
// interface and common.ContainerRun (create/start/wait/logs), generalized
// from a synchronous blocking run into an async submit/check pair.
package docker

import (
	"context"
	"fmt"
	"sync"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	networktypes "github.com/docker/docker/api/types/network"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"cm.lsst.io/common"
	"cm.lsst.io/node"
)

// pollTimeout bounds each Check's ContainerWait call. A Group node is polled
// repeatedly by the scheduler (§6), so a short per-poll wait is enough —
// Running is just as correct a report as a longer wait, and cheaper.
const pollTimeout = 200 * time.Millisecond

// Launcher runs campaign node scripts inside throwaway Docker containers.
// It satisfies node.Launcher.
type Launcher struct {
	Client common.DockerClient
	Image  string

	mu         sync.Mutex
	containers map[string]string // submitID -> containerID
}

// New returns a Launcher that runs every submitted script in a fresh
// container of image, using client for all Docker API calls.
func New(client common.DockerClient, image string) *Launcher {
	return &Launcher{Client: client, Image: image, containers: make(map[string]string)}
}

// Submit creates and starts a container that executes scriptPath, mounted
// in via the image's entrypoint convention, and returns an opaque submit id
// immediately.
func (l *Launcher) Submit(ctx context.Context, scriptPath string, env map[string]string) (string, error) {
	envVars := make([]string, 0, len(env))
	for k, v := range env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}
	envVars = append(envVars, "CM_SCRIPT_PATH="+scriptPath)

	name := "cm-" + uuid.New().String()
	resp, err := l.Client.ContainerCreate(
		ctx,
		&containertypes.Config{
			Image:        l.Image,
			Cmd:          []string{"/bin/sh", scriptPath},
			Env:          envVars,
			AttachStdout: true,
			AttachStderr: true,
		},
		&containertypes.HostConfig{AutoRemove: false},
		&networktypes.NetworkingConfig{},
		&ocispec.Platform{},
		name,
	)
	if err != nil {
		return "", fmt.Errorf("docker: create container: %w", err)
	}
	if err := l.Client.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return "", fmt.Errorf("docker: start container: %w", err)
	}

	submitID := uuid.New().String()
	l.mu.Lock()
	l.containers[submitID] = resp.ID
	l.mu.Unlock()
	return submitID, nil
}

// Check reports whether the container for submitID has exited, and with
// what status.
func (l *Launcher) Check(ctx context.Context, submitID string) (*node.LaunchStatus, error) {
	l.mu.Lock()
	containerID, ok := l.containers[submitID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("docker: unknown submit id %q", submitID)
	}

	// ContainerWait streams from the daemon; it has no non-blocking mode and
	// common.DockerClient carries no ContainerInspect. Bound the wait instead
	// of reading its channels with a bare default, which would fire before
	// the daemon ever answers and make every check report Running.
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	statusCh, errCh := l.Client.ContainerWait(pollCtx, containerID, containertypes.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("docker: wait: %w", err)
		}
		return &node.LaunchStatus{Running: true}, nil
	case status := <-statusCh:
		if status.StatusCode != 0 {
			reason := fmt.Sprintf("container exited with code %d", status.StatusCode)
			if status.Error != nil {
				reason = status.Error.Message
			}
			return &node.LaunchStatus{Success: false, Reason: reason}, nil
		}
		return &node.LaunchStatus{Success: true}, nil
	case <-pollCtx.Done():
		return &node.LaunchStatus{Running: true}, nil
	}
}

// Cancel stops the container for submitID.
func (l *Launcher) Cancel(ctx context.Context, submitID string) (bool, error) {
	l.mu.Lock()
	containerID, ok := l.containers[submitID]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("docker: unknown submit id %q", submitID)
	}
	timeout := 0
	if err := l.Client.ContainerStop(ctx, containerID, containertypes.StopOptions{Timeout: &timeout}); err != nil {
		return false, err
	}
	return true, nil
}
