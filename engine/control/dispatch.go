package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// streamLogs writes one JSON Response acknowledging the subscription, then
// forwards raw log lines (plain text, one per line, no further framing)
// until the replica's log channel closes or ctx is canceled.
func (s *Server) streamLogs(ctx context.Context, req Request, conn net.Conn) {
	enc := json.NewEncoder(conn)
	var p LogsParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		_ = enc.Encode(Response{ID: req.ID, Error: fmt.Sprintf("decode logs params: %v", err)})
		return
	}
	lines, ok := s.eng.Logs(p.Phase, p.Replica)
	if !ok {
		_ = enc.Encode(Response{ID: req.ID, Error: fmt.Sprintf("no such replica %s/%d", p.Phase, p.Replica)})
		return
	}
	_ = enc.Encode(Response{ID: req.ID, OK: true})
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if _, err := fmt.Fprintln(conn, line); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// phaseStatusWire, streamStatusWire, and hyperedgeStatusWire are the
// wire-safe rendering of engine.PhaseStatus/StreamStatus/HyperedgeStatus per
// SPEC_FULL.md's status snapshot shape.
type phaseStatusWire struct {
	Kind            string   `json:"kind"`
	TargetReplicas  int      `json:"target_replicas"`
	RunningReplicas int      `json:"running_replicas"`
	State           string   `json:"state"`
	Inputs          []string `json:"inputs"`
	Outputs         []string `json:"outputs"`
}

type streamStatusWire struct {
	Protocol  string   `json:"protocol"`
	Port      int      `json:"port"`
	Producer  string   `json:"producer"`
	Consumers []string `json:"consumers"`
}

type hyperedgeStatusWire struct {
	Source    string   `json:"source"`
	Targets   []string `json:"targets"`
	Streams   []string `json:"streams"`
	Multicast bool     `json:"multicast"`
}

type statusResult struct {
	Running    bool                           `json:"running"`
	Phases     map[string]phaseStatusWire     `json:"phases"`
	Streams    map[string]streamStatusWire    `json:"streams"`
	Hyperedges map[string]hyperedgeStatusWire `json:"hyperedges"`
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	result, err := s.call(ctx, req)
	if err != nil {
		return Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	return Response{ID: req.ID, OK: true, Result: raw}
}

func (s *Server) call(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "status":
		snap := s.eng.Snapshot()
		out := statusResult{
			Running:    snap.Running,
			Phases:     make(map[string]phaseStatusWire, len(snap.Phases)),
			Streams:    make(map[string]streamStatusWire, len(snap.Streams)),
			Hyperedges: make(map[string]hyperedgeStatusWire, len(snap.Hyperedges)),
		}
		for name, p := range snap.Phases {
			out.Phases[name] = phaseStatusWire{
				Kind: p.Kind, TargetReplicas: p.TargetReplicas, RunningReplicas: p.RunningReplicas,
				State: string(p.State), Inputs: p.Inputs, Outputs: p.Outputs,
			}
		}
		for name, st := range snap.Streams {
			out.Streams[name] = streamStatusWire{
				Protocol: st.Protocol, Port: st.Port, Producer: st.Producer, Consumers: st.Consumers,
			}
		}
		for name, he := range snap.Hyperedges {
			out.Hyperedges[name] = hyperedgeStatusWire{
				Source: he.Source, Targets: he.Targets, Streams: he.Streams, Multicast: he.Multicast,
			}
		}
		return out, nil

	case "stop":
		return nil, s.eng.Stop(ctx)

	case "scale":
		var p ScaleParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("decode scale params: %w", err)
		}
		return nil, s.eng.Scale(ctx, p.Phase, p.Replicas)

	case "restart":
		var p PhaseParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("decode restart params: %w", err)
		}
		return nil, s.eng.RestartPhase(ctx, p.Phase)

	case "rolling_update":
		var p PhaseParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("decode rolling_update params: %w", err)
		}
		return nil, s.eng.RollingUpdate(ctx, p.Phase)

	case "visualize":
		return map[string]string{"tree": s.eng.Visualize()}, nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
