package supervisor

import "errors"

var (
	// ErrSpawnFailed is returned when a launcher fails to start an instance.
	ErrSpawnFailed = errors.New("supervisor: spawn failed")
	// ErrDependencyNotReady is returned when a phase is asked to start
	// before a phase it requires has reached ACTIVE.
	ErrDependencyNotReady = errors.New("supervisor: dependency not ready")
	// ErrHealthExhausted is returned when a phase instance has used up its
	// restart budget within the configured restart window.
	ErrHealthExhausted = errors.New("supervisor: restart budget exhausted")
	// ErrInvalidTransition is returned by transition() when from->to is
	// not a legal edge in the instance state machine.
	ErrInvalidTransition = errors.New("supervisor: invalid state transition")
	// ErrUnknownPhase is returned when an operation names a phase the
	// supervisor has no record of.
	ErrUnknownPhase = errors.New("supervisor: unknown phase")
)
