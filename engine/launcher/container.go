package launcher

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/topology"
)

// ContainerLauncher drives phases through an external container CLI (the
// "run -d / stop / rm / inspect" verbs common to docker and podman). It
// shells out rather than linking a container SDK, since the CLI is the one
// interface every container runtime agrees on.
type ContainerLauncher struct {
	CLI           string // "docker", "podman", ...
	StopTimeout   time.Duration
	mu            sync.Mutex
	containerIDs  map[Handle]string
	logLines      map[Handle]chan string
	log           logging.Logger
}

// NewContainerLauncher constructs a launcher driving the given CLI binary
// (defaulting to "docker").
func NewContainerLauncher(cli string, log logging.Logger) *ContainerLauncher {
	if cli == "" {
		cli = "docker"
	}
	if log == nil {
		log = logging.New(nil)
	}
	return &ContainerLauncher{
		CLI:          cli,
		StopTimeout:  0,
		containerIDs: make(map[Handle]string),
		logLines:     make(map[Handle]chan string),
		log:          log,
	}
}

func containerName(handle Handle) string {
	return fmt.Sprintf("hyperpipe-%s-%d", handle.Phase, handle.Replica)
}

func (l *ContainerLauncher) Start(ctx context.Context, phase topology.Phase, handle Handle, env map[string]string) error {
	if phase.Image == "" {
		return fmt.Errorf("%w: phase %q has no image", ErrSpawnFailed, phase.Name)
	}
	args := []string{"run", "-d", "--name", containerName(handle)}
	for _, pm := range phase.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", pm.Host, pm.Container))
	}
	for _, v := range phase.Volumes {
		args = append(args, "-v", v)
	}
	if phase.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(phase.CPUs, 'f', -1, 64))
	}
	if phase.MemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", phase.MemoryMB))
	}
	for k, v := range phase.Env {
		args = append(args, "-e", k+"="+v)
	}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, phase.Image)
	args = append(args, phase.Args...)

	out, err := exec.CommandContext(ctx, l.CLI, args...).Output()
	if err != nil {
		return fmt.Errorf("%w: %s run: %v", ErrSpawnFailed, l.CLI, err)
	}
	id := strings.TrimSpace(string(out))

	l.mu.Lock()
	l.containerIDs[handle] = id
	lines := make(chan string, 256)
	l.logLines[handle] = lines
	l.mu.Unlock()

	go l.followLogs(handle, id, lines)
	return nil
}

func (l *ContainerLauncher) followLogs(handle Handle, id string, lines chan<- string) {
	defer close(lines)
	cmd := exec.Command(l.CLI, "logs", "-f", id)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	if err := cmd.Start(); err != nil {
		return
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		default:
		}
	}
	_ = cmd.Wait()
}

func (l *ContainerLauncher) Stop(ctx context.Context, handle Handle, graceful bool) error {
	l.mu.Lock()
	id, ok := l.containerIDs[handle]
	l.mu.Unlock()
	if !ok {
		return errNotFound(handle)
	}
	args := []string{"stop"}
	switch {
	case !graceful:
		args = append(args, "-t", "0")
	case l.StopTimeout > 0:
		args = append(args, "-t", strconv.Itoa(int(l.StopTimeout.Seconds())))
	}
	args = append(args, id)
	if err := exec.CommandContext(ctx, l.CLI, args...).Run(); err != nil {
		return fmt.Errorf("%s stop: %w", l.CLI, err)
	}
	_ = exec.CommandContext(ctx, l.CLI, "rm", id).Run()
	return nil
}

func (l *ContainerLauncher) Alive(ctx context.Context, handle Handle) (bool, error) {
	l.mu.Lock()
	id, ok := l.containerIDs[handle]
	l.mu.Unlock()
	if !ok {
		return false, errNotFound(handle)
	}
	out, err := exec.CommandContext(ctx, l.CLI, "inspect", "--format={{.State.Running}}", id).Output()
	if err != nil {
		return false, nil // container gone is "not alive", not an error
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (l *ContainerLauncher) Logs(handle Handle) (<-chan string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines, ok := l.logLines[handle]
	return lines, ok
}
