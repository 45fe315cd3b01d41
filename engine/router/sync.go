package router

import (
	"sync"
	"time"
)

// SyncGroup matches packets across a fixed set of streams within a sliding
// time window: a group completes once every configured stream has a
// pending packet whose timestamp falls within Window of the group's
// newest pending packet. The original orchestrator's equivalent was a
// documented skeleton with no real matching; this implements the matching
// it described (SPEC_FULL.md Open Question (b)).
type SyncGroup struct {
	Streams []string
	Window  time.Duration

	mu      sync.Mutex
	pending map[string][]Packet // stream -> packets not yet matched, oldest first
}

// NewSyncGroup constructs a group watching the given streams.
func NewSyncGroup(streams []string, window time.Duration) *SyncGroup {
	if window <= 0 {
		window = 10 * time.Millisecond
	}
	pending := make(map[string][]Packet, len(streams))
	for _, s := range streams {
		pending[s] = nil
	}
	return &SyncGroup{Streams: streams, Window: window, pending: pending}
}

// Offer records a packet arriving on stream and returns the matched set
// (one packet per configured stream) if this arrival completes a group.
// Packets left unmatched past the window behind the group's newest packet
// are evicted so memory doesn't grow unbounded.
func (g *SyncGroup) Offer(stream string, p Packet) (map[string]Packet, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, tracked := g.pending[stream]; !tracked {
		return nil, false
	}
	g.pending[stream] = append(g.pending[stream], p)

	newest := p.Timestamp
	for _, pkts := range g.pending {
		for _, pk := range pkts {
			if pk.Timestamp > newest {
				newest = pk.Timestamp
			}
		}
	}
	windowSecs := g.Window.Seconds()
	cutoff := newest - windowSecs

	match := make(map[string]Packet, len(g.Streams))
	for _, s := range g.Streams {
		pkts := g.pending[s]
		kept := pkts[:0:0]
		chosen := false
		var chosenPkt Packet
		for _, pk := range pkts {
			if pk.Timestamp < cutoff {
				continue // aged out
			}
			if !chosen || pk.Timestamp > chosenPkt.Timestamp {
				chosenPkt = pk
				chosen = true
			}
			kept = append(kept, pk)
		}
		g.pending[s] = kept
		if chosen {
			match[s] = chosenPkt
		}
	}

	if len(match) < len(g.Streams) {
		return nil, false
	}

	// A full match was found: consume the matched packet from each
	// stream's pending list so the same packet can't match twice.
	for s, pk := range match {
		pkts := g.pending[s]
		for i, candidate := range pkts {
			if candidate.Sequence == pk.Sequence {
				g.pending[s] = append(pkts[:i], pkts[i+1:]...)
				break
			}
		}
	}
	return match, true
}
