package supervisor

import (
	"context"
	"fmt"

	"hyperpipe/engine/launcher"
)

// ScalePhase grows or shrinks phaseName's replica set to n, holding the
// pipeline-wide sequencer lock for the duration. Because that one lock is
// shared by every phase, scaling one phase serializes against scaling,
// restarting or rolling-updating any other phase, as well as against a
// pipeline-wide start/stop. Calling ScalePhase twice
// with the same n is a no-op the second time.
func (s *Supervisor) ScalePhase(ctx context.Context, phaseName string, n int) error {
	if n < 0 {
		n = 0
	}
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	phase, ok := s.graph.Phase(phaseName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phaseName)
	}
	current := s.instances[phaseName]
	if len(current) == n {
		return nil
	}

	if n > len(current) {
		for r := len(current); r < n; r++ {
			handle := launcher.Handle{Phase: phaseName, Replica: r}
			inst := newInstance(handle, phase, s.cfg.Restart, s.bus, s.log, s.metrics)
			if err := s.bootOne(ctx, inst); err != nil {
				return fmt.Errorf("scale %q to %d: %w", phaseName, n, err)
			}
			s.startHealthLoop(inst)
			current = append(current, inst)
		}
		s.instances[phaseName] = current
		return nil
	}

	// n < len(current): stop the highest-numbered replicas first so the
	// surviving set keeps replica ids 0..n-1 contiguous.
	for r := len(current) - 1; r >= n; r-- {
		inst := current[r]
		if cancel, ok := s.cancelHealth[inst.handle]; ok {
			cancel()
			delete(s.cancelHealth, inst.handle)
		}
		_ = inst.transition(ctx, StateStopping, nil)
		if err := s.launcher.Stop(ctx, inst.handle, true); err != nil {
			return fmt.Errorf("scale %q to %d: stop replica %d: %w", phaseName, n, r, err)
		}
		_ = inst.transition(ctx, StateStopped, nil)
	}
	s.instances[phaseName] = current[:n]
	return nil
}

// RestartPhase manually stops and re-boots every current replica of
// phaseName, bypassing the health loop's own restart budget (this is an
// operator-driven restart, not a failure-driven one, so it does not count
// against max_restarts).
func (s *Supervisor) RestartPhase(ctx context.Context, phaseName string) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	instances, ok := s.instances[phaseName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phaseName)
	}
	phase, _ := s.graph.Phase(phaseName)

	replaced := make([]*instance, len(instances))
	for i, old := range instances {
		if cancel, ok := s.cancelHealth[old.handle]; ok {
			cancel()
			delete(s.cancelHealth, old.handle)
		}
		_ = old.transition(ctx, StateStopping, nil)
		if err := s.launcher.Stop(ctx, old.handle, true); err != nil {
			return fmt.Errorf("restart %q: %w", phaseName, err)
		}
		_ = old.transition(ctx, StateStopped, nil)

		next := newInstance(old.handle, phase, s.cfg.Restart, s.bus, s.log, s.metrics)
		if err := s.bootOne(ctx, next); err != nil {
			return fmt.Errorf("restart %q: %w", phaseName, err)
		}
		s.startHealthLoop(next)
		replaced[i] = next
	}
	s.instances[phaseName] = replaced
	return nil
}
