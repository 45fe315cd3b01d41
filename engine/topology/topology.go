// Package topology models the hypergraph shape of a pipeline: phases,
// streams, and the hyperedges that connect a producing phase to the set of
// phases consuming its streams.
package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DependencyKind describes why one phase depends on another.
type DependencyKind string

const (
	// DependencyRequires means the target must reach ACTIVE before the
	// dependent phase is allowed to start.
	DependencyRequires DependencyKind = "requires"
	// DependencyConsumesFrom means the dependent phase subscribes to one
	// or more streams produced by the target.
	DependencyConsumesFrom DependencyKind = "consumes_from"
	// DependencyProducesFor is the inverse of consumes_from, recorded on
	// the producer's side for symmetry in diagnostics; it does not affect
	// start order.
	DependencyProducesFor DependencyKind = "produces_for"
	// DependencySequential places the dependent phase after the target in
	// start order. No state of the target is awaited.
	DependencySequential DependencyKind = "sequential"
)

// Phase is one node of the hypergraph: a unit of work launched as either an
// external process or a container, with zero or more declared dependencies.
type Phase struct {
	Name         string            `yaml:"name"`
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Image        string            `yaml:"image,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Ports        []PortMapping     `yaml:"ports,omitempty"`
	Volumes      []string          `yaml:"volumes,omitempty"`
	CPUs         float64           `yaml:"cpus,omitempty"`
	MemoryMB     int               `yaml:"memory_mb,omitempty"`
	Replicas     int               `yaml:"replicas,omitempty"`
	Produces     []string          `yaml:"produces,omitempty"` // stream names
	Consumes     []string          `yaml:"consumes,omitempty"` // stream names
	Requires     []string          `yaml:"requires,omitempty"` // phase names
	Sequential   []string          `yaml:"sequential_after,omitempty"`
	Dispatch     string            `yaml:"dispatch,omitempty"` // "flow-hash" | "round-robin"
	Launcher     string            `yaml:"launcher,omitempty"` // "host_process" | "container"
}

// PortMapping is a host:container port pair for container-launched phases.
type PortMapping struct {
	Host      int `yaml:"host"`
	Container int `yaml:"container"`
}

// Stream is a named, typed multicast channel produced by exactly one phase.
type Stream struct {
	Name     string `yaml:"name"`
	Producer string `yaml:"producer"`
	Protocol string `yaml:"protocol,omitempty"` // "tcp" | "udp" | "websocket" | "lsl_like"
	Port     int    `yaml:"port,omitempty"`     // unique per host; 0 means unassigned
}

// Hyperedge connects one source phase to a set of target phases via a set
// of streams; it is the hypergraph's native connective, distinct from the
// plain phase->phase Dependency edges used for ordering.
type Hyperedge struct {
	Name    string   `yaml:"name"`
	Source  string   `yaml:"source"`
	Targets []string `yaml:"targets"`
	Streams []string `yaml:"streams"`
}

// Dependency is a directed edge between two phases, tagged with why it
// exists. Graph derives all of them from Phase.Produces/Consumes/Requires/
// Sequential; a topology document cannot declare them directly.
type Dependency struct {
	From string
	To   string
	Kind DependencyKind
}

// Graph is the fully-resolved, immutable hypergraph for one pipeline. Build
// it once via Load or New; it is never mutated after construction.
type Graph struct {
	phases     map[string]Phase
	streams    map[string]Stream
	hyperedges []Hyperedge
	deps       []Dependency
	order      []string // topological order, producers before consumers
}

type document struct {
	Phases     []Phase     `yaml:"phases"`
	Streams    []Stream    `yaml:"streams"`
	Hyperedges []Hyperedge `yaml:"hyperedges"`
}

// Load reads and validates a topology document from a YAML file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %q: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a topology document from raw YAML bytes.
func Parse(data []byte) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode topology yaml: %v", ErrConfigInvalid, err)
	}
	return New(doc.Phases, doc.Streams, doc.Hyperedges)
}

// New builds and validates a Graph from already-parsed phases, streams, and
// hyperedges. Streams that are produced by a phase's Produces list but not
// explicitly declared are synthesized with protocol "tcp" and no port.
func New(phases []Phase, streams []Stream, hyperedges []Hyperedge) (*Graph, error) {
	g := &Graph{
		phases:  make(map[string]Phase, len(phases)),
		streams: make(map[string]Stream, len(streams)),
	}

	for _, p := range phases {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: phase with empty name", ErrConfigInvalid)
		}
		if _, dup := g.phases[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate phase %q", ErrConfigInvalid, p.Name)
		}
		if p.Replicas <= 0 {
			p.Replicas = 1
		}
		if p.Launcher == "" {
			p.Launcher = "host_process"
		}
		g.phases[p.Name] = p
	}

	for _, s := range streams {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: stream with empty name", ErrConfigInvalid)
		}
		if _, dup := g.streams[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate stream %q: a stream has exactly one producer", ErrConfigInvalid, s.Name)
		}
		if _, ok := g.phases[s.Producer]; !ok {
			return nil, fmt.Errorf("%w: stream %q has unknown producer %q", ErrConfigInvalid, s.Name, s.Producer)
		}
		g.streams[s.Name] = s
	}

	// Synthesize streams implied by Phase.Produces that weren't declared
	// explicitly; this keeps a minimal topology file terse.
	for name, p := range g.phases {
		for _, sn := range p.Produces {
			if _, ok := g.streams[sn]; !ok {
				g.streams[sn] = Stream{Name: sn, Producer: name, Protocol: "tcp"}
			}
		}
	}

	g.hyperedges = append(g.hyperedges, hyperedges...)
	for name, p := range g.phases {
		for _, sn := range p.Consumes {
			stream, ok := g.streams[sn]
			if !ok {
				return nil, fmt.Errorf("%w: phase %q consumes unknown stream %q", ErrConfigInvalid, name, sn)
			}
			g.deps = append(g.deps, Dependency{From: name, To: stream.Producer, Kind: DependencyConsumesFrom})
			g.deps = append(g.deps, Dependency{From: stream.Producer, To: name, Kind: DependencyProducesFor})
		}
		for _, req := range p.Requires {
			if _, ok := g.phases[req]; !ok {
				return nil, fmt.Errorf("%w: phase %q requires unknown phase %q", ErrConfigInvalid, name, req)
			}
			g.deps = append(g.deps, Dependency{From: name, To: req, Kind: DependencyRequires})
		}
		for _, seq := range p.Sequential {
			if _, ok := g.phases[seq]; !ok {
				return nil, fmt.Errorf("%w: phase %q sequential_after unknown phase %q", ErrConfigInvalid, name, seq)
			}
			g.deps = append(g.deps, Dependency{From: name, To: seq, Kind: DependencySequential})
		}
	}

	hyperedgeNames := make(map[string]struct{}, len(g.hyperedges))
	for _, he := range g.hyperedges {
		if he.Name == "" {
			return nil, fmt.Errorf("%w: hyperedge with empty name", ErrConfigInvalid)
		}
		if _, dup := hyperedgeNames[he.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate hyperedge %q", ErrConfigInvalid, he.Name)
		}
		hyperedgeNames[he.Name] = struct{}{}
		if _, ok := g.phases[he.Source]; !ok {
			return nil, fmt.Errorf("%w: hyperedge source %q unknown", ErrConfigInvalid, he.Source)
		}
		for _, t := range he.Targets {
			if _, ok := g.phases[t]; !ok {
				return nil, fmt.Errorf("%w: hyperedge target %q unknown", ErrConfigInvalid, t)
			}
		}
		for _, sn := range he.Streams {
			if _, ok := g.streams[sn]; !ok {
				return nil, fmt.Errorf("%w: hyperedge references unknown stream %q", ErrConfigInvalid, sn)
			}
		}
	}

	order, err := topoSort(g.phases, g.deps)
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Phase looks up one phase by name.
func (g *Graph) Phase(name string) (Phase, bool) {
	p, ok := g.phases[name]
	return p, ok
}

// Phases returns every declared phase, unordered.
func (g *Graph) Phases() []Phase {
	out := make([]Phase, 0, len(g.phases))
	for _, p := range g.phases {
		out = append(out, p)
	}
	return out
}

// Stream looks up one stream by name.
func (g *Graph) Stream(name string) (Stream, bool) {
	s, ok := g.streams[name]
	return s, ok
}

// Streams returns every declared stream, unordered.
func (g *Graph) Streams() []Stream {
	out := make([]Stream, 0, len(g.streams))
	for _, s := range g.streams {
		out = append(out, s)
	}
	return out
}

// Hyperedges returns every declared hyperedge.
func (g *Graph) Hyperedges() []Hyperedge { return append([]Hyperedge(nil), g.hyperedges...) }

// Hyperedge looks up one hyperedge by name.
func (g *Graph) Hyperedge(name string) (Hyperedge, bool) {
	for _, he := range g.hyperedges {
		if he.Name == name {
			return he, true
		}
	}
	return Hyperedge{}, false
}

// ProducerOf returns the name of the phase producing the named stream. New
// rejects topologies that declare the same stream name twice, so this never
// has more than one candidate to choose from; it only fails when the stream
// itself is unknown.
func (g *Graph) ProducerOf(stream string) (string, error) {
	s, ok := g.streams[stream]
	if !ok {
		return "", fmt.Errorf("%w: unknown stream %q", ErrConfigInvalid, stream)
	}
	return s.Producer, nil
}

// Dependencies returns every derived and declared dependency edge.
func (g *Graph) Dependencies() []Dependency { return append([]Dependency(nil), g.deps...) }

// StartOrder returns phase names in an order where every dependency target
// precedes its dependent, suitable for sequencing pipeline start.
func (g *Graph) StartOrder() []string { return append([]string(nil), g.order...) }

// ReverseStartOrder returns StartOrder reversed: dependents before their
// dependencies, suitable for tearing a pipeline down or rolling back a
// partially-started one.
func (g *Graph) ReverseStartOrder() []string {
	order := g.StartOrder()
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Downstream returns every phase reachable by following producer->consumer
// edges transitively from phase, via both Consumes declarations and
// hyperedge targets.
func (g *Graph) Downstream(phase string) []string {
	return reachable(phase, g.producerConsumerEdges())
}

// Upstream returns every phase reachable by following consumer->producer
// edges transitively from phase, the inverse of Downstream.
func (g *Graph) Upstream(phase string) []string {
	return reachable(phase, reverseEdges(g.producerConsumerEdges()))
}

// producerConsumerEdges maps each producing phase to the phases that consume
// its output, merging Phase.Consumes-derived dependencies with hyperedge
// targets.
func (g *Graph) producerConsumerEdges() map[string][]string {
	edges := make(map[string][]string)
	for _, d := range g.deps {
		if d.Kind == DependencyProducesFor {
			edges[d.From] = append(edges[d.From], d.To)
		}
	}
	for _, he := range g.hyperedges {
		edges[he.Source] = append(edges[he.Source], he.Targets...)
	}
	return edges
}

func reverseEdges(edges map[string][]string) map[string][]string {
	out := make(map[string][]string, len(edges))
	for from, tos := range edges {
		for _, to := range tos {
			out[to] = append(out[to], from)
		}
	}
	return out
}

func reachable(start string, edges map[string][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	queue := append([]string(nil), edges[start]...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		queue = append(queue, edges[name]...)
	}
	return out
}

// ConsumersOf returns the set of phase names that consume the named stream,
// derived from hyperedge targets and from Phase.Consumes declarations.
func (g *Graph) ConsumersOf(stream string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, he := range g.hyperedges {
		if !containsStr(he.Streams, stream) {
			continue
		}
		for _, t := range he.Targets {
			add(t)
		}
	}
	for name, p := range g.phases {
		if containsStr(p.Consumes, stream) {
			add(name)
		}
	}
	return out
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
