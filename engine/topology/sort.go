package topology

import (
	"fmt"
	"sort"
)

type colorState int

const (
	white colorState = iota
	gray
	black
)

// topoSort orders phases so that every dependency target precedes its
// dependent, using a three-color depth-first search. A gray node reached
// again during the same walk means the dependency graph has a cycle.
func topoSort(phases map[string]Phase, deps []Dependency) ([]string, error) {
	edgesFrom := make(map[string][]string, len(phases))
	for _, d := range deps {
		if d.Kind == DependencyProducesFor {
			continue // diagnostic mirror of consumes_from; not an ordering edge
		}
		edgesFrom[d.From] = append(edgesFrom[d.From], d.To)
	}

	names := make([]string, 0, len(phases))
	for name := range phases {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic iteration order

	color := make(map[string]colorState, len(phases))
	var order []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			path = append(path, name)
			return fmt.Errorf("%w: %v", ErrCycleDetected, cyclePath(path, name))
		}
		color[name] = gray
		path = append(path, name)
		targets := append([]string(nil), edgesFrom[name]...)
		sort.Strings(targets)
		for _, to := range targets {
			if err := visit(to); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	// visit appends a node only once its dependencies are resolved, so
	// `order` already lists targets before dependents; reverse is not
	// needed since we want producers/requirements first, which is exactly
	// post-order here.
	return order, nil
}

func cyclePath(path []string, repeated string) []string {
	for i, n := range path {
		if n == repeated {
			return append(append([]string(nil), path[i:]...))
		}
	}
	return path
}
