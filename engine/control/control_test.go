package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hyperpipe/engine"
	"hyperpipe/engine/config"
	"hyperpipe/engine/topology"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	graph, err := topology.New([]topology.Phase{
		{Name: "worker", Command: "sh", Args: []string{"-c", "sleep 30"}, Replicas: 1},
	}, nil, nil)
	require.NoError(t, err)

	rt := config.Defaults()
	rt.StartupTimeout = 5 * time.Second
	rt.HealthInterval = 50 * time.Millisecond

	eng, err := engine.New(graph, engine.Config{Runtime: rt, LauncherKind: "host_process"})
	require.NoError(t, err)
	return eng
}

func TestControlPlaneStatusAndStop(t *testing.T) {
	eng := testEngine(t)
	socketPath := filepath.Join(t.TempDir(), "hyperpipe.sock")
	srv := NewServer(socketPath, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.NoError(t, eng.StartPipeline(context.Background()))

	client := NewClient(socketPath, 5*time.Second)
	require.Eventually(t, func() bool {
		var out statusResult
		if err := client.Call(context.Background(), "status", nil, &out); err != nil {
			return false
		}
		ps, ok := out.Phases["worker"]
		return out.Running && ok && ps.RunningReplicas == 1 && ps.State == "ACTIVE"
	}, 5*time.Second, 50*time.Millisecond)

	var tree struct {
		Tree string `json:"tree"`
	}
	require.NoError(t, client.Call(context.Background(), "visualize", nil, &tree))
	require.Contains(t, tree.Tree, "worker")

	require.NoError(t, client.Call(context.Background(), "stop", nil, nil))
}

func TestControlPlaneScale(t *testing.T) {
	eng := testEngine(t)
	socketPath := filepath.Join(t.TempDir(), "hyperpipe.sock")
	srv := NewServer(socketPath, eng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx) }()
	defer eng.Stop(context.Background())

	require.NoError(t, eng.StartPipeline(context.Background()))

	client := NewClient(socketPath, 5*time.Second)
	require.NoError(t, client.Call(context.Background(), "scale", ScaleParams{Phase: "worker", Replicas: 2}, nil))

	var out statusResult
	require.NoError(t, client.Call(context.Background(), "status", nil, &out))
	require.Equal(t, 2, out.Phases["worker"].RunningReplicas)
}
