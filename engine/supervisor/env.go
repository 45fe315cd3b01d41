package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"hyperpipe/engine/topology"
)

// buildEnv assembles the documented environment contract handed to a phase
// instance's process/container: its own identity, the stream names it
// consumes and produces (as JSON arrays so a multi-stream phase can parse
// them without a delimiter convention), and per-stream STREAM_<NAME>_PORT /
// STREAM_<NAME>_PROTOCOL pairs for every stream it references. The phase's
// own declared Env always takes precedence over anything synthesized here.
func buildEnv(graph *topology.Graph, phase topology.Phase, replica int) map[string]string {
	env := map[string]string{
		"PHASE_NAME":     phase.Name,
		"REPLICA_ID":     fmt.Sprintf("%d", replica),
		"INPUT_STREAMS":  jsonStringArray(phase.Consumes),
		"OUTPUT_STREAMS": jsonStringArray(phase.Produces),
	}

	referenced := make([]string, 0, len(phase.Consumes)+len(phase.Produces))
	referenced = append(referenced, phase.Consumes...)
	referenced = append(referenced, phase.Produces...)
	for _, name := range referenced {
		stream, ok := graph.Stream(name)
		if !ok {
			continue
		}
		prefix := "STREAM_" + streamEnvKey(name)
		env[prefix+"_PORT"] = fmt.Sprintf("%d", stream.Port)
		env[prefix+"_PROTOCOL"] = stream.Protocol
	}

	for k, v := range phase.Env {
		env[k] = v
	}
	return env
}

func streamEnvKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func jsonStringArray(names []string) string {
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(b)
}
