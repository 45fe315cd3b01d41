package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hyperpipe/engine/topology"
)

// fakeDockerCLI writes a tiny shell script standing in for docker: it
// understands just enough of run/stop/rm/inspect/logs to exercise
// ContainerLauncher without a real container runtime.
func fakeDockerCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakedocker")
	script := `#!/bin/sh
case "$1" in
  run)
    echo "container-abc123"
    ;;
  stop)
    exit 0
    ;;
  rm)
    exit 0
    ;;
  inspect)
    echo "true"
    ;;
  logs)
    echo "log line one"
    ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestContainerLauncherStartAliveStop(t *testing.T) {
	cli := fakeDockerCLI(t)
	l := NewContainerLauncher(cli, nil)
	handle := Handle{Phase: "sink", Replica: 0}
	phase := topology.Phase{Name: "sink", Image: "hyperpipe/sink:latest", Ports: []topology.PortMapping{{Host: 9000, Container: 9000}}}

	ctx := context.Background()
	require.NoError(t, l.Start(ctx, phase, handle, map[string]string{"HYPERPIPE_PHASE": "sink"}))

	alive, err := l.Alive(ctx, handle)
	require.NoError(t, err)
	require.True(t, alive)

	require.NoError(t, l.Stop(ctx, handle, true))
}

func TestContainerLauncherRejectsMissingImage(t *testing.T) {
	l := NewContainerLauncher(fakeDockerCLI(t), nil)
	err := l.Start(context.Background(), topology.Phase{Name: "bad"}, Handle{Phase: "bad"}, nil)
	require.ErrorIs(t, err, ErrSpawnFailed)
}

func TestContainerNameIncludesPhaseAndReplica(t *testing.T) {
	require.Equal(t, "hyperpipe-sink-2", containerName(Handle{Phase: "sink", Replica: 2}))
}
