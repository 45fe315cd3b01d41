// Package engine is the orchestrator facade: it owns one pipeline's
// topology and supervisor, wires routers to the topology on start, and
// exposes the status tree and callback registry external callers use.
package engine

import (
	"context"
	"fmt"
	"sync"

	"hyperpipe/engine/config"
	"hyperpipe/engine/launcher"
	"hyperpipe/engine/router"
	"hyperpipe/engine/supervisor"
	"hyperpipe/engine/telemetry/events"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
	"hyperpipe/engine/topology"
)

// Config selects the orchestrator's launch kind and backs its policies
// with runtime knobs loaded separately from the immutable topology.
type Config struct {
	Runtime       config.Runtime
	LauncherKind  string // "host_process" | "container"
	ContainerCLI  string // e.g. "docker"; only used when LauncherKind == "container"
	MetricsProvider metrics.Provider
	Logger        logging.Logger
}

// Engine is the orchestrator facade a CLI or embedder drives.
type Engine struct {
	graph      *topology.Graph
	supervisor *supervisor.Supervisor
	routers    *router.Registry
	bus        events.Bus
	log        logging.Logger
	metrics    metrics.Provider

	launcherKind string

	mu        sync.Mutex
	callbacks []func(phase string, state supervisor.State)
}

// New builds an Engine around an already-loaded topology.
func New(graph *topology.Graph, cfg Config) (*Engine, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: nil topology graph", topology.ErrConfigInvalid)
	}
	provider := cfg.MetricsProvider
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New(nil)
	}
	bus := events.NewBus(provider)

	var l launcher.Launcher
	launcherKind := cfg.LauncherKind
	switch cfg.LauncherKind {
	case "container":
		cl := launcher.NewContainerLauncher(cfg.ContainerCLI, log)
		if cfg.Runtime.GracefulStopTimeout > 0 {
			cl.StopTimeout = cfg.Runtime.GracefulStopTimeout
		}
		l = cl
	default:
		launcherKind = "host_process"
		hl := launcher.NewHostProcessLauncher(log)
		if cfg.Runtime.GracefulStopTimeout > 0 {
			hl.GraceDuration = cfg.Runtime.GracefulStopTimeout
		}
		l = hl
	}

	supCfg := supervisor.Config{
		Restart: supervisor.RestartPolicy{
			MaxRestarts: cfg.Runtime.MaxRestarts, RestartWindow: cfg.Runtime.RestartWindow,
			BackoffBase: cfg.Runtime.BackoffBase, BackoffMax: cfg.Runtime.BackoffMax,
		},
		Health: supervisor.HealthPolicy{
			Interval: cfg.Runtime.HealthInterval, FailureThreshold: cfg.Runtime.FailureThreshold, StartupTimeout: cfg.Runtime.StartupTimeout,
		},
		Rolling: supervisor.RollingUpdatePolicy{
			BatchSize: cfg.Runtime.RollingBatchSize, RollbackOnFailure: cfg.Runtime.RollbackOnFailure,
		},
		Start: supervisor.StartPolicy{
			DependencyWaitTimeout: cfg.Runtime.DependencyWaitTimeout,
		},
	}
	sup := supervisor.New(graph, l, supCfg, bus, log, provider)
	routers := router.NewRegistry(cfg.Runtime.ConsumerDialTimeout, bus, log, provider)
	routers.WireSyncGroups(graph.Hyperedges(), cfg.Runtime.SyncWindow)

	e := &Engine{
		graph:        graph,
		supervisor:   sup,
		routers:      routers,
		bus:          bus,
		log:          log,
		metrics:      provider,
		launcherKind: launcherKind,
	}
	e.watchTransitions()
	return e, nil
}

// watchTransitions subscribes to the event bus and invokes every
// registered callback for terminal/notable phase transitions
// (ACTIVE/FAILED/STOPPED), swallowing callback errors after logging them
// so one misbehaving subscriber never stops the orchestrator.
func (e *Engine) watchTransitions() {
	sub := e.bus.Subscribe(128)
	go func() {
		for ev := range sub.C() {
			if ev.Category != "phase" || ev.Type != "transition" {
				continue
			}
			if ev.To != string(supervisor.StateActive) && ev.To != string(supervisor.StateFailed) && ev.To != string(supervisor.StateStopped) {
				continue
			}
			e.mu.Lock()
			callbacks := append([]func(string, supervisor.State){}, e.callbacks...)
			e.mu.Unlock()
			for _, cb := range callbacks {
				func() {
					defer func() {
						if r := recover(); r != nil {
							e.log.ErrorCtx(context.Background(), "phase callback panicked", "recover", r)
						}
					}()
					cb(ev.Phase, supervisor.State(ev.To))
				}()
			}
		}
	}()
}

// OnTransition registers a callback invoked for every ACTIVE/FAILED/STOPPED
// phase transition.
func (e *Engine) OnTransition(fn func(phase string, state supervisor.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, fn)
}

// StartPipeline starts every phase in dependency order and wires a Router
// to every declared stream so producers can begin publishing as soon as
// they're ACTIVE.
func (e *Engine) StartPipeline(ctx context.Context) error {
	for _, s := range e.graph.Streams() {
		r := e.routers.RouterFor(s.Name)
		if s.Port == 0 {
			continue
		}
		if err := r.ListenIngress(router.Protocol(s.Protocol), s.Port); err != nil {
			return fmt.Errorf("start ingress for stream %q: %w", s.Name, err)
		}
	}
	return e.supervisor.StartPipeline(ctx)
}

// Stop stops every phase and closes every router.
func (e *Engine) Stop(ctx context.Context) error {
	supErr := e.supervisor.Stop(ctx)
	routerErr := e.routers.Close()
	if supErr != nil {
		return supErr
	}
	return routerErr
}

// RollingUpdate rolls phaseName's replicas per the configured batch policy.
func (e *Engine) RollingUpdate(ctx context.Context, phaseName string) error {
	return e.supervisor.RollingUpdate(ctx, phaseName)
}

// Scale grows or shrinks phaseName's replica count to n.
func (e *Engine) Scale(ctx context.Context, phaseName string, n int) error {
	return e.supervisor.ScalePhase(ctx, phaseName, n)
}

// RestartPhase manually restarts every replica of phaseName.
func (e *Engine) RestartPhase(ctx context.Context, phaseName string) error {
	return e.supervisor.RestartPhase(ctx, phaseName)
}

// RouterFor exposes the Router backing a named stream, creating it if the
// topology didn't already cause it to be created at start.
func (e *Engine) RouterFor(stream string) *router.Router { return e.routers.RouterFor(stream) }

// Logs returns the live log line channel for one phase replica.
func (e *Engine) Logs(phase string, replica int) (<-chan string, bool) {
	return e.supervisor.Logs(launcher.Handle{Phase: phase, Replica: replica})
}

// PhaseStatus is one phase's entry in the status snapshot tree: its launch
// kind, declared vs. currently-running replica counts, aggregate state, and
// the streams it reads from and writes to.
type PhaseStatus struct {
	Kind            string
	TargetReplicas  int
	RunningReplicas int
	State           supervisor.State
	Inputs          []string
	Outputs         []string
}

// StreamStatus is one stream's entry in the status snapshot tree.
type StreamStatus struct {
	Protocol  string
	Port      int
	Producer  string
	Consumers []string
}

// HyperedgeStatus is one hyperedge's entry in the status snapshot tree.
// Multicast is true when the hyperedge fans one source out to more than one
// target phase, distinguishing genuine multicast from a single producer/
// consumer pair sharing a named hyperedge for sync-group purposes only.
type HyperedgeStatus struct {
	Source    string
	Targets   []string
	Streams   []string
	Multicast bool
}

// Status is the orchestrator-wide snapshot tree per SPEC_FULL.md's external
// interfaces: aggregate Running plus one entry per phase, stream, and
// hyperedge.
type Status struct {
	Running    bool
	Phases     map[string]PhaseStatus
	Streams    map[string]StreamStatus
	Hyperedges map[string]HyperedgeStatus
}

// Snapshot returns the current Status, deriving per-phase aggregate state
// and running-replica counts from the supervisor's flat instance list
// rather than tracking either redundantly.
func (e *Engine) Snapshot() Status {
	instances := e.supervisor.Snapshot()
	byPhase := make(map[string][]supervisor.Status)
	for _, st := range instances {
		byPhase[st.Phase] = append(byPhase[st.Phase], st)
	}

	phases := make(map[string]PhaseStatus, len(e.graph.Phases()))
	for _, p := range e.graph.Phases() {
		target := p.Replicas
		if target <= 0 {
			target = 1
		}
		running := 0
		states := byPhase[p.Name]
		for _, st := range states {
			if st.State == supervisor.StateActive || st.State == supervisor.StateReady {
				running++
			}
		}
		phases[p.Name] = PhaseStatus{
			Kind:            e.launcherKind,
			TargetReplicas:  target,
			RunningReplicas: running,
			State:           aggregatePhaseState(states),
			Inputs:          append([]string(nil), p.Consumes...),
			Outputs:         append([]string(nil), p.Produces...),
		}
	}

	streams := make(map[string]StreamStatus)
	for _, s := range e.graph.Streams() {
		streams[s.Name] = StreamStatus{
			Protocol:  s.Protocol,
			Port:      s.Port,
			Producer:  s.Producer,
			Consumers: e.graph.ConsumersOf(s.Name),
		}
	}

	hyperedges := make(map[string]HyperedgeStatus)
	for _, he := range e.graph.Hyperedges() {
		hyperedges[he.Name] = HyperedgeStatus{
			Source:    he.Source,
			Targets:   append([]string(nil), he.Targets...),
			Streams:   append([]string(nil), he.Streams...),
			Multicast: len(he.Targets) > 1,
		}
	}

	return Status{
		Running:    e.supervisor.Running(),
		Phases:     phases,
		Streams:    streams,
		Hyperedges: hyperedges,
	}
}

// aggregatePhaseState derives one phase's overall state from its replica
// instances: any FAILED replica fails the whole phase; if every replica is
// ACTIVE the phase is ACTIVE; otherwise the phase reports its first
// instance's state (replicas of one phase move through startup in lockstep
// under StartPipeline, so this is representative during a transition).
func aggregatePhaseState(states []supervisor.Status) supervisor.State {
	if len(states) == 0 {
		return supervisor.StateIdle
	}
	allActive := true
	for _, st := range states {
		if st.State == supervisor.StateFailed {
			return supervisor.StateFailed
		}
		if st.State != supervisor.StateActive {
			allActive = false
		}
	}
	if allActive {
		return supervisor.StateActive
	}
	return states[0].State
}

// Graph exposes the underlying topology for read-only inspection.
func (e *Engine) Graph() *topology.Graph { return e.graph }
