// Package launcher starts and stops phase instances, either as external OS
// processes or as containers driven through an external container CLI.
package launcher

import (
	"context"
	"fmt"

	"hyperpipe/engine/topology"
)

// Handle identifies one running instance without exposing its underlying
// pid or container id to callers outside the launcher.
type Handle struct {
	Phase   string
	Replica int
}

func (h Handle) String() string { return fmt.Sprintf("%s/%d", h.Phase, h.Replica) }

// Launcher starts, stops, and probes liveness of phase instances. The two
// implementations (host process, container) share this contract so the
// supervisor never branches on launch kind.
type Launcher interface {
	// Start launches one instance and returns once the underlying process
	// or container has been created (not necessarily healthy yet).
	Start(ctx context.Context, phase topology.Phase, handle Handle, env map[string]string) error
	// Stop terminates the instance. When graceful is true it requests
	// graceful shutdown (SIGTERM / container stop), escalating to a
	// forced kill once the grace period elapses; when false it kills the
	// instance immediately, as used by pipeline-start rollback.
	Stop(ctx context.Context, handle Handle, graceful bool) error
	// Alive reports whether the instance is still running.
	Alive(ctx context.Context, handle Handle) (bool, error)
	// Logs returns a channel of combined stdout/stderr lines for the
	// instance's lifetime; closed when the instance exits.
	Logs(handle Handle) (<-chan string, bool)
}

// notFoundError is returned by Stop/Alive for a handle the launcher has
// no record of; Logs reports that case through its bool result.
type notFoundError struct{ handle Handle }

func (e *notFoundError) Error() string { return fmt.Sprintf("launcher: unknown instance %s", e.handle) }

func errNotFound(h Handle) error { return &notFoundError{handle: h} }
