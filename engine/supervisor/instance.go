package supervisor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"hyperpipe/engine/launcher"
	"hyperpipe/engine/telemetry/events"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
	"hyperpipe/engine/topology"
)

const transitionHistoryLimit = 32

// instance is one running (or not-yet-running) replica of a phase. Each
// instance owns a mutex guarding its own state; the Supervisor additionally
// holds a pipeline-wide sequencer lock for operations that must see a
// consistent snapshot across every instance (start_pipeline, status, and
// rolling updates), matching the two-tier locking spec.md calls for.
type instance struct {
	handle launcher.Handle
	phase  topology.Phase

	mu          sync.Mutex
	state       State
	transitions []Transition
	startedAt   time.Time
	lastError   error

	budget *restartBudget

	bus     events.Bus
	log     logging.Logger
	gauge   metrics.Gauge
	restart metrics.Counter
}

func newInstance(handle launcher.Handle, phase topology.Phase, cfg RestartPolicy, bus events.Bus, log logging.Logger, provider metrics.Provider) *instance {
	i := &instance{
		handle: handle,
		phase:  phase,
		state:  StateIdle,
		budget: newRestartBudget(cfg.MaxRestarts, cfg.RestartWindow),
		bus:    bus,
		log:    log,
	}
	i.gauge = provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "supervisor", Name: "instance_state", Help: "current state of a phase instance (1=active)", Labels: []string{"phase", "replica", "state"},
	}})
	i.restart = provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "hyperpipe", Subsystem: "supervisor", Name: "restarts_total", Help: "restarts performed per phase", Labels: []string{"phase"},
	}})
	return i
}

// transition attempts from->to (from is always the instance's current
// state read under lock) and records the result.
func (i *instance) transition(ctx context.Context, to State, cause error) error {
	i.mu.Lock()
	from := i.state
	if !canTransition(from, to) {
		i.mu.Unlock()
		return ErrInvalidTransition
	}
	i.state = to
	i.lastError = cause
	i.transitions = append(i.transitions, Transition{From: from, To: to, Err: cause})
	if len(i.transitions) > transitionHistoryLimit {
		i.transitions = i.transitions[len(i.transitions)-transitionHistoryLimit:]
	}
	if to == StateActive && from != StateActive {
		i.startedAt = time.Now()
	}
	i.mu.Unlock()

	i.gauge.Set(0, i.handle.Phase, strconv.Itoa(i.handle.Replica), string(from))
	i.gauge.Set(1, i.handle.Phase, strconv.Itoa(i.handle.Replica), string(to))

	if i.bus != nil {
		i.bus.Publish(events.Event{
			Category: "phase", Type: "transition",
			Phase: i.handle.Phase, From: string(from), To: string(to), Err: cause,
		})
	}
	if i.log != nil {
		if cause != nil {
			i.log.WarnCtx(ctx, "phase transition", "phase", i.handle.Phase, "replica", i.handle.Replica, "from", from, "to", to, "err", cause)
		} else {
			i.log.InfoCtx(ctx, "phase transition", "phase", i.handle.Phase, "replica", i.handle.Replica, "from", from, "to", to)
		}
	}
	return nil
}

func (i *instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *instance) Transitions() []Transition {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Transition(nil), i.transitions...)
}
