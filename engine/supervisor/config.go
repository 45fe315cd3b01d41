package supervisor

import "time"

// RestartPolicy bounds how aggressively the health loop may restart a
// failing instance.
type RestartPolicy struct {
	MaxRestarts    int           // restarts allowed within RestartWindow
	RestartWindow  time.Duration // sliding window restarts are counted over
	BackoffBase    time.Duration // delay before the 1st restart
	BackoffMax     time.Duration // cap on exponential backoff
}

// HealthPolicy configures the per-instance health probe loop.
type HealthPolicy struct {
	Interval          time.Duration // time between probes
	FailureThreshold  int           // consecutive failures before a restart is triggered
	StartupTimeout    time.Duration // time allowed to reach READY before failing
}

// RollingUpdatePolicy configures batch size and rollback behavior for
// rolling updates.
type RollingUpdatePolicy struct {
	BatchSize        int
	RollbackOnFailure bool // see SPEC_FULL.md Open Question (a)
}

// StartPolicy bounds how long StartPipeline waits for a phase's
// dependencies to reach ACTIVE before giving up and rolling back.
type StartPolicy struct {
	DependencyWaitTimeout time.Duration
}

// DefaultRestartPolicy mirrors the knob defaults carried over from the
// original orchestrator: 5 restarts per 300s window, 1s->60s backoff.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxRestarts: 5, RestartWindow: 300 * time.Second, BackoffBase: time.Second, BackoffMax: 60 * time.Second}
}

// DefaultHealthPolicy mirrors the original's 10s probe interval and
// 3-failure threshold.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{Interval: 10 * time.Second, FailureThreshold: 3, StartupTimeout: 60 * time.Second}
}

// DefaultRollingUpdatePolicy matches the original's single-replica batches
// with no automatic rollback of already-completed batches.
func DefaultRollingUpdatePolicy() RollingUpdatePolicy {
	return RollingUpdatePolicy{BatchSize: 1, RollbackOnFailure: false}
}

// DefaultStartPolicy waits up to 60s for a dependency to reach ACTIVE.
func DefaultStartPolicy() StartPolicy {
	return StartPolicy{DependencyWaitTimeout: 60 * time.Second}
}

// StartStagger is the delay the supervisor waits between starting
// successive phases in topological order, matching the original's 0.5s
// stagger so dependents don't all race the same filesystem/socket setup.
const StartStagger = 500 * time.Millisecond
