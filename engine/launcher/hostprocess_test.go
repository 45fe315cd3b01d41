package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hyperpipe/engine/topology"
)

func TestHostProcessLauncherStartAliveStop(t *testing.T) {
	l := NewHostProcessLauncher(nil)
	handle := Handle{Phase: "worker", Replica: 0}
	phase := topology.Phase{Name: "worker", Command: "sh", Args: []string{"-c", "echo hello; sleep 5"}}

	ctx := context.Background()
	require.NoError(t, l.Start(ctx, phase, handle, map[string]string{"FOO": "bar"}))

	alive, err := l.Alive(ctx, handle)
	require.NoError(t, err)
	require.True(t, alive)

	lines, ok := l.Logs(handle)
	require.True(t, ok)
	select {
	case line := <-lines:
		require.Equal(t, "hello", line)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe stdout line")
	}

	require.NoError(t, l.Stop(ctx, handle, true))
	alive, err = l.Alive(ctx, handle)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestHostProcessLauncherRejectsEmptyCommand(t *testing.T) {
	l := NewHostProcessLauncher(nil)
	err := l.Start(context.Background(), topology.Phase{Name: "bad"}, Handle{Phase: "bad"}, nil)
	require.ErrorIs(t, err, ErrSpawnFailed)
}

func TestHostProcessLauncherAliveUnknownHandle(t *testing.T) {
	l := NewHostProcessLauncher(nil)
	_, err := l.Alive(context.Background(), Handle{Phase: "ghost"})
	require.Error(t, err)
}
