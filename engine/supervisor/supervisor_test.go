package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"hyperpipe/engine/launcher"
	"hyperpipe/engine/topology"
)

// fakeLauncher is an in-memory launcher.Launcher for supervisor tests; it
// never touches the OS.
type fakeLauncher struct {
	mu    sync.Mutex
	alive map[launcher.Handle]bool
	fail  map[string]bool // phase names that should fail Start
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: make(map[launcher.Handle]bool), fail: make(map[string]bool)}
}

func (f *fakeLauncher) Start(ctx context.Context, phase topology.Phase, handle launcher.Handle, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[phase.Name] {
		return launcher.ErrSpawnFailed
	}
	f.alive[handle] = true
	return nil
}

func (f *fakeLauncher) Stop(ctx context.Context, handle launcher.Handle, graceful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, handle)
	return nil
}

func (f *fakeLauncher) Alive(ctx context.Context, handle launcher.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[handle], nil
}

func (f *fakeLauncher) Logs(handle launcher.Handle) (<-chan string, bool) { return nil, false }

func (f *fakeLauncher) kill(handle launcher.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, handle)
}

func testGraph(t *testing.T) *topology.Graph {
	t.Helper()
	g, err := topology.New([]topology.Phase{
		{Name: "acquire", Command: "acquired", Produces: []string{"raw"}},
		{Name: "sink", Command: "sinkd", Consumes: []string{"raw"}},
	}, nil, nil)
	require.NoError(t, err)
	return g
}

func TestStartPipelineBringsUpAllPhases(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	cfg := DefaultConfig()
	cfg.Health.StartupTimeout = time.Second
	sv := New(g, fl, cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sv.StartPipeline(ctx))

	for _, st := range sv.Snapshot() {
		require.Equal(t, StateActive, st.State)
	}
	require.True(t, sv.Running())
}

func TestHealthLoopRestartsDeadInstance(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	cfg := DefaultConfig()
	cfg.Health.Interval = 10 * time.Millisecond
	cfg.Health.FailureThreshold = 1
	cfg.Health.StartupTimeout = time.Second
	cfg.Restart.BackoffBase = time.Millisecond
	cfg.Restart.BackoffMax = 5 * time.Millisecond
	sv := New(g, fl, cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sv.StartPipeline(ctx))

	fl.kill(launcher.Handle{Phase: "acquire", Replica: 0})

	require.Eventually(t, func() bool {
		alive, _ := fl.Alive(ctx, launcher.Handle{Phase: "acquire", Replica: 0})
		return alive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestartBudgetExhaustionFailsInstance(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	cfg := DefaultConfig()
	cfg.Health.Interval = 5 * time.Millisecond
	cfg.Health.FailureThreshold = 1
	cfg.Health.StartupTimeout = time.Second
	cfg.Restart.MaxRestarts = 1
	cfg.Restart.RestartWindow = time.Minute
	cfg.Restart.BackoffBase = time.Millisecond
	cfg.Restart.BackoffMax = time.Millisecond
	sv := New(g, fl, cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sv.StartPipeline(ctx))

	handle := launcher.Handle{Phase: "acquire", Replica: 0}
	// Kill it repeatedly faster than it can use up its one restart budget
	// entry; eventually the health loop should give up and mark FAILED.
	for i := 0; i < 5; i++ {
		fl.kill(handle)
		time.Sleep(15 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		for _, st := range sv.Snapshot() {
			if st.Phase == "acquire" && st.State == StateFailed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartPipelineRollsBackOnFailure(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	fl.fail["sink"] = true
	cfg := DefaultConfig()
	cfg.Health.StartupTimeout = time.Second
	sv := New(g, fl, cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sv.StartPipeline(ctx)
	require.Error(t, err)

	require.False(t, sv.Running())
	for _, st := range sv.Snapshot() {
		require.Contains(t, []State{StateStopped, StateFailed}, st.State)
	}
	require.False(t, fl.alive[launcher.Handle{Phase: "acquire", Replica: 0}])
}

func TestAwaitDependenciesTimesOutWhenDependencyNeverStarted(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	cfg := DefaultConfig()
	cfg.Start.DependencyWaitTimeout = 30 * time.Millisecond
	sv := New(g, fl, cfg, nil, nil, nil)

	sink := topology.Phase{Name: "sink", Requires: []string{"acquire"}}

	start := time.Now()
	err := sv.awaitDependencies(context.Background(), sink)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDependencyNotReady)
	require.GreaterOrEqual(t, time.Since(start), cfg.Start.DependencyWaitTimeout)
}

func TestAwaitDependenciesReturnsOnceDependencyActive(t *testing.T) {
	g := testGraph(t)
	fl := newFakeLauncher()
	cfg := DefaultConfig()
	cfg.Health.StartupTimeout = time.Second
	cfg.Start.DependencyWaitTimeout = 2 * time.Second
	sv := New(g, fl, cfg, nil, nil, nil)

	acquire, _ := g.Phase("acquire")
	require.NoError(t, sv.startPhaseLocked(context.Background(), acquire))

	sink := topology.Phase{Name: "sink", Requires: []string{"acquire"}}
	require.NoError(t, sv.awaitDependencies(context.Background(), sink))
}
