package supervisor

import (
	"context"
	"fmt"
)

// RollingUpdate replaces phaseName's replicas in batches of
// Config.Rolling.BatchSize: stop a batch, spawn its replacement, wait for
// the replacements to become live, then move to the next batch. If a batch
// fails to come up healthy, the update aborts without rolling back batches
// already completed — the behavior the original orchestrator documents as
// a deliberate open question rather than an oversight (SPEC_FULL.md Open
// Question (a)) — unless Config.Rolling.RollbackOnFailure is set, in which
// case the replacements of completed batches are stopped; the instances
// they replaced are not restarted.
func (s *Supervisor) RollingUpdate(ctx context.Context, phaseName string) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	instances, ok := s.instances[phaseName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phaseName)
	}
	phase, _ := s.graph.Phase(phaseName)

	batchSize := s.cfg.Rolling.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	var completed []*instance
	for start := 0; start < len(instances); start += batchSize {
		end := start + batchSize
		if end > len(instances) {
			end = len(instances)
		}
		batch := instances[start:end]

		replacements := make([]*instance, 0, len(batch))
		for _, old := range batch {
			_ = old.transition(ctx, StateRollingBack, nil)
			if err := s.launcher.Stop(ctx, old.handle, true); err != nil {
				return s.abortRollingUpdate(ctx, completed, phaseName, err)
			}
			_ = old.transition(ctx, StateStopped, nil)

			replacement := newInstance(old.handle, phase, s.cfg.Restart, s.bus, s.log, s.metrics)
			if err := s.bootOne(ctx, replacement); err != nil {
				return s.abortRollingUpdate(ctx, completed, phaseName, err)
			}
			s.startHealthLoop(replacement)
			replacements = append(replacements, replacement)
		}
		copy(instances[start:end], replacements)
		completed = append(completed, replacements...)
	}
	s.instances[phaseName] = instances
	return nil
}

func (s *Supervisor) abortRollingUpdate(ctx context.Context, completed []*instance, phaseName string, cause error) error {
	if !s.cfg.Rolling.RollbackOnFailure {
		return fmt.Errorf("rolling update of %q aborted: %w", phaseName, cause)
	}
	for _, inst := range completed {
		if cancel, ok := s.cancelHealth[inst.handle]; ok {
			cancel()
			delete(s.cancelHealth, inst.handle)
		}
		_ = s.launcher.Stop(ctx, inst.handle, true)
		_ = inst.transition(ctx, StateStopped, nil)
	}
	return fmt.Errorf("rolling update of %q aborted and rolled back: %w", phaseName, cause)
}
