package router

import (
	"sync/atomic"

	"github.com/serialx/hashring"
)

// DispatchStrategy picks which replica of a consumer phase's replica group
// a packet should go to. A single-replica group makes this moot: every
// packet goes to the one member, matching a plain one-session-per-consumer
// router.
type DispatchStrategy interface {
	Pick(members []string, p Packet) string
	Name() string
}

// NewDispatchStrategy resolves a strategy by name, defaulting to flow-hash
// the way the packet-dispatch strategy factory it's grounded on does.
func NewDispatchStrategy(name string) DispatchStrategy {
	switch name {
	case "round-robin", "round_robin":
		return &roundRobinStrategy{}
	case "flow-hash", "flow_hash", "":
		return &flowHashStrategy{}
	default:
		return &flowHashStrategy{}
	}
}

// flowHashStrategy routes by a consistent hash of the packet's declared
// flow key (metadata["flow_key"]), so the same flow always lands on the
// same replica; with no flow key it falls back to round-robin so traffic
// still spreads across replicas.
type flowHashStrategy struct {
	fallback roundRobinStrategy
}

func (s *flowHashStrategy) Name() string { return "flow-hash" }

func (s *flowHashStrategy) Pick(members []string, p Packet) string {
	if len(members) == 0 {
		return ""
	}
	if len(members) == 1 {
		return members[0]
	}
	key, _ := p.Metadata["flow_key"].(string)
	if key == "" {
		return s.fallback.Pick(members, p)
	}
	ring := hashring.New(members)
	node, ok := ring.GetNode(key)
	if !ok {
		return members[0]
	}
	return node
}

type roundRobinStrategy struct{ counter atomic.Uint64 }

func (s *roundRobinStrategy) Name() string { return "round-robin" }

func (s *roundRobinStrategy) Pick(members []string, p Packet) string {
	if len(members) == 0 {
		return ""
	}
	n := s.counter.Add(1)
	return members[int(n-1)%len(members)]
}
