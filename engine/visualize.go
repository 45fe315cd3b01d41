package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Visualize renders the topology as indented plain text: each phase on its
// own line in start order, followed by the phases it requires and the
// streams it produces and consumes. It's meant for `hyperpipe status --tree` and for quick
// sanity checks of a topology file, not as a machine-readable format.
func (e *Engine) Visualize() string {
	order := e.graph.StartOrder()
	consumesByPhase := e.consumersByPhase(order)

	var b strings.Builder
	for _, name := range order {
		phase, ok := e.graph.Phase(name)
		if !ok {
			continue
		}
		replicas := phase.Replicas
		if replicas <= 0 {
			replicas = 1
		}
		fmt.Fprintf(&b, "%s (replicas=%d)\n", phase.Name, replicas)

		if deps := sorted(phase.Requires); len(deps) > 0 {
			fmt.Fprintf(&b, "  requires: %s\n", strings.Join(deps, ", "))
		}
		for _, s := range sorted(phase.Produces) {
			fmt.Fprintf(&b, "  -> produces %s\n", s)
		}
		for _, s := range sorted(consumesByPhase[phase.Name]) {
			fmt.Fprintf(&b, "  <- consumes %s\n", s)
		}
	}
	return b.String()
}

// consumersByPhase inverts ConsumersOf (keyed by stream) into a
// phase-name-keyed map, since a human reading the topology cares about
// "what does this phase consume", not "who consumes this stream".
func (e *Engine) consumersByPhase(order []string) map[string][]string {
	out := make(map[string][]string)
	for _, stream := range e.allStreamNames() {
		for _, consumer := range e.graph.ConsumersOf(stream) {
			out[consumer] = append(out[consumer], stream)
		}
	}
	return out
}

func (e *Engine) allStreamNames() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, he := range e.graph.Hyperedges() {
		for _, s := range he.Streams {
			add(s)
		}
	}
	for _, p := range e.graph.Phases() {
		for _, s := range p.Produces {
			add(s)
		}
	}
	return out
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
