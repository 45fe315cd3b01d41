package router

import (
	"sync"
	"time"

	"hyperpipe/engine/telemetry/events"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
	"hyperpipe/engine/topology"
)

// Registry owns one Router per declared stream, the way the original
// orchestrator's MultiStreamRouter owned a router per stream and bridged
// between them.
type Registry struct {
	mu          sync.RWMutex
	routers     map[string]*Router
	dialTimeout time.Duration
	bus         events.Bus
	log         logging.Logger
	metrics     metrics.Provider
}

// NewRegistry constructs an empty Registry; routers are created lazily by
// name via RouterFor. dialTimeout is passed through to every Router it
// creates, bounding how long a new consumer registration may dial for.
func NewRegistry(dialTimeout time.Duration, bus events.Bus, log logging.Logger, provider metrics.Provider) *Registry {
	return &Registry{routers: make(map[string]*Router), dialTimeout: dialTimeout, bus: bus, log: log, metrics: provider}
}

// RouterFor returns the Router for stream, creating it on first use.
func (reg *Registry) RouterFor(stream string) *Router {
	reg.mu.RLock()
	r, ok := reg.routers[stream]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.routers[stream]; ok {
		return r
	}
	r = New(stream, reg.dialTimeout, reg.bus, reg.log, reg.metrics)
	reg.routers[stream] = r
	return r
}

// WireSyncGroups builds a SyncGroup for every hyperedge naming two or more
// streams and wires it to every member stream's Router so a match fires
// whenever each stream has offered a packet within window of the others.
// Matches are published on the bus as a "sync_matched" router event, tagged
// with the hyperedge name, for diagnostics and downstream consumers that
// care about cross-stream alignment rather than any single stream alone.
func (reg *Registry) WireSyncGroups(hyperedges []topology.Hyperedge, window time.Duration) {
	for _, he := range hyperedges {
		if len(he.Streams) < 2 {
			continue
		}
		group := NewSyncGroup(he.Streams, window)
		name := he.Name
		for _, sn := range he.Streams {
			stream := sn
			reg.RouterFor(stream).OnPublish(func(p Packet) {
				match, ok := group.Offer(stream, p)
				if !ok {
					return
				}
				if reg.bus == nil {
					return
				}
				reg.bus.Publish(events.Event{
					Category: "router",
					Type:     "sync_matched",
					Stream:   name,
					Fields:   map[string]any{"match": match},
				})
			})
		}
	}
}

// Close closes every router the registry has created.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var firstErr error
	for _, r := range reg.routers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
