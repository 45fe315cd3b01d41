package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hyperpipe/engine/launcher"
	"hyperpipe/engine/telemetry/events"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
	"hyperpipe/engine/topology"
)

// Config bundles the policies that govern every phase's lifecycle.
type Config struct {
	Restart RestartPolicy
	Health  HealthPolicy
	Rolling RollingUpdatePolicy
	Start   StartPolicy
}

// DefaultConfig returns the supervisor's documented knob defaults.
func DefaultConfig() Config {
	return Config{
		Restart: DefaultRestartPolicy(),
		Health:  DefaultHealthPolicy(),
		Rolling: DefaultRollingUpdatePolicy(),
		Start:   DefaultStartPolicy(),
	}
}

// Supervisor starts, health-checks, restarts, and rolls phases of one
// topology through their lifecycle. It holds a sequencer lock (seqMu) for
// operations spanning multiple instances, separate from each instance's
// own mutex, so a single slow instance never blocks an unrelated one's
// State() read.
type Supervisor struct {
	graph    *topology.Graph
	launcher launcher.Launcher
	cfg      Config
	bus      events.Bus
	log      logging.Logger
	metrics  metrics.Provider

	seqMu     sync.Mutex
	instances map[string][]*instance // phase name -> replicas, index = replica id

	cancelHealth map[launcher.Handle]context.CancelFunc
	healthWG     sync.WaitGroup
}

// New constructs a Supervisor for graph, driving instances through l.
func New(graph *topology.Graph, l launcher.Launcher, cfg Config, bus events.Bus, log logging.Logger, provider metrics.Provider) *Supervisor {
	if bus == nil {
		bus = events.NewBus(provider)
	}
	if log == nil {
		log = logging.New(nil)
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Supervisor{
		graph:        graph,
		launcher:     l,
		cfg:          cfg,
		bus:          bus,
		log:          log,
		metrics:      provider,
		instances:    make(map[string][]*instance),
		cancelHealth: make(map[launcher.Handle]context.CancelFunc),
	}
}

// StartPipeline starts every phase in topological order, staggering
// successive phases by StartStagger and awaiting each phase's "requires"
// dependencies reaching ACTIVE (bounded by StartPolicy.DependencyWaitTimeout)
// before starting it. It does not hold the sequencer lock for its whole
// duration, so a slow dependency wait never blocks a concurrent Snapshot or
// a Scale/RestartPhase call against an unrelated phase. On any failure it
// rolls the pipeline back: every phase that reached any non-IDLE state is
// stopped, in reverse startup order, non-gracefully.
func (s *Supervisor) StartPipeline(ctx context.Context) error {
	for _, name := range s.graph.StartOrder() {
		phase, ok := s.graph.Phase(name)
		if !ok {
			continue
		}
		if err := s.awaitDependencies(ctx, phase); err != nil {
			s.rollbackStarted()
			return err
		}

		s.seqMu.Lock()
		err := s.startPhaseLocked(ctx, phase)
		s.seqMu.Unlock()
		if err != nil {
			s.rollbackStarted()
			return err
		}

		select {
		case <-time.After(StartStagger):
		case <-ctx.Done():
			s.rollbackStarted()
			return ctx.Err()
		}
	}
	return nil
}

// awaitDependencies polls phase's "requires" dependencies until every one
// has reached ACTIVE, or DependencyWaitTimeout elapses.
func (s *Supervisor) awaitDependencies(ctx context.Context, phase topology.Phase) error {
	if len(phase.Requires) == 0 {
		return nil
	}
	timeout := s.cfg.Start.DependencyWaitTimeout
	if timeout <= 0 {
		timeout = DefaultStartPolicy().DependencyWaitTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		ready := true
		s.seqMu.Lock()
		for _, req := range phase.Requires {
			if !s.isReadyLocked(req) {
				ready = false
				break
			}
		}
		s.seqMu.Unlock()
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q requires dependency not ACTIVE within %s", ErrDependencyNotReady, phase.Name, timeout)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) isReadyLocked(phaseName string) bool {
	for _, inst := range s.instances[phaseName] {
		if inst.State() != StateActive {
			return false
		}
	}
	return len(s.instances[phaseName]) > 0
}

// rollbackStarted stops every instance that reached any non-IDLE state
// during a StartPipeline call that failed partway through, in reverse
// startup order, non-gracefully: the phases a failed pipeline start left
// running get killed immediately rather than given a grace period, since
// the pipeline as a whole never became usable. It uses a fresh context
// since the one the failed StartPipeline call received may already be
// canceled or past its deadline.
func (s *Supervisor) rollbackStarted() {
	ctx := context.Background()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	for _, name := range s.graph.ReverseStartOrder() {
		instances := s.instances[name]
		if len(instances) == 0 {
			continue
		}
		var ignored error
		for _, inst := range instances {
			s.stopOneLocked(ctx, inst, false, &ignored)
		}
	}
}

// startPhaseLocked registers each replica before launching it, so a failure
// partway through a multi-replica phase still leaves the earlier replicas
// visible to rollbackStarted.
func (s *Supervisor) startPhaseLocked(ctx context.Context, phase topology.Phase) error {
	replicas := phase.Replicas
	if replicas <= 0 {
		replicas = 1
	}
	for r := 0; r < replicas; r++ {
		handle := launcher.Handle{Phase: phase.Name, Replica: r}
		inst := newInstance(handle, phase, s.cfg.Restart, s.bus, s.log, s.metrics)
		s.instances[phase.Name] = append(s.instances[phase.Name], inst)
		if err := s.bootOne(ctx, inst); err != nil {
			return err
		}
		s.startHealthLoop(inst)
	}
	return nil
}

// bootOne drives one instance from IDLE through READY to ACTIVE, launching
// its underlying process/container along the way.
func (s *Supervisor) bootOne(ctx context.Context, inst *instance) error {
	if err := inst.transition(ctx, StatePreparing, nil); err != nil {
		return err
	}
	if err := inst.transition(ctx, StateStarting, nil); err != nil {
		return err
	}
	env := buildEnv(s.graph, inst.phase, inst.handle.Replica)
	if err := s.launcher.Start(ctx, inst.phase, inst.handle, env); err != nil {
		_ = inst.transition(ctx, StateFailed, err)
		return err
	}
	if err := s.waitHealthy(ctx, inst); err != nil {
		_ = inst.transition(ctx, StateFailed, err)
		return err
	}
	if err := inst.transition(ctx, StateReady, nil); err != nil {
		return err
	}
	return inst.transition(ctx, StateActive, nil)
}

func (s *Supervisor) waitHealthy(ctx context.Context, inst *instance) error {
	timeout := s.cfg.Health.StartupTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		alive, err := s.launcher.Alive(ctx, inst.handle)
		if err == nil && alive {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s did not become healthy within %s", ErrSpawnFailed, inst.handle, timeout)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop stops every running instance in reverse start order, gracefully.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var firstErr error
	for _, name := range s.graph.ReverseStartOrder() {
		for _, inst := range s.instances[name] {
			s.stopOneLocked(ctx, inst, true, &firstErr)
		}
	}
	s.healthWG.Wait()
	return firstErr
}

func (s *Supervisor) stopOneLocked(ctx context.Context, inst *instance, graceful bool, firstErr *error) {
	if cancel, ok := s.cancelHealth[inst.handle]; ok {
		cancel()
		delete(s.cancelHealth, inst.handle)
	}
	_ = inst.transition(ctx, StateStopping, nil)
	if err := s.launcher.Stop(ctx, inst.handle, graceful); err != nil && *firstErr == nil {
		*firstErr = err
	}
	_ = inst.transition(ctx, StateStopped, nil)
}

// Status is a point-in-time snapshot of one instance.
type Status struct {
	Phase       string
	Replica     int
	State       State
	Transitions []Transition
	LastError   error
}

// Snapshot returns the current status of every instance across every
// phase, without blocking on any single instance's mutex for more than the
// read of its own state.
func (s *Supervisor) Snapshot() []Status {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var out []Status
	for _, instances := range s.instances {
		for _, inst := range instances {
			inst.mu.Lock()
			out = append(out, Status{
				Phase: inst.handle.Phase, Replica: inst.handle.Replica,
				State: inst.state, Transitions: append([]Transition(nil), inst.transitions...), LastError: inst.lastError,
			})
			inst.mu.Unlock()
		}
	}
	return out
}

// Logs returns the live line-by-line log channel for one replica, the way
// the launcher itself exposes it.
func (s *Supervisor) Logs(handle launcher.Handle) (<-chan string, bool) {
	return s.launcher.Logs(handle)
}

// Running reports whether the pipeline as a whole is doing anything: at
// least one instance is past IDLE, and none has failed. This derives the
// aggregate from instance state rather than tracking a separate boolean,
// per SPEC_FULL.md's open-question resolution.
func (s *Supervisor) Running() bool {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	any := false
	for _, instances := range s.instances {
		for _, inst := range instances {
			st := inst.State()
			if st == StateFailed {
				return false
			}
			if st != StateIdle {
				any = true
			}
		}
	}
	return any
}
