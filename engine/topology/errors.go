package topology

import "errors"

// ErrConfigInvalid is returned when a topology document fails structural
// validation (missing name, unknown reference, duplicate phase, ...).
var ErrConfigInvalid = errors.New("topology: invalid configuration")

// ErrCycleDetected is returned by New/Load when the dependency graph
// contains a cycle and therefore has no valid start order.
var ErrCycleDetected = errors.New("topology: dependency cycle detected")
