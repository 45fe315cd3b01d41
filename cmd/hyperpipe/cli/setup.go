package cli

import (
	"fmt"

	"hyperpipe/engine"
	"hyperpipe/engine/config"
	"hyperpipe/engine/telemetry/logging"
	"hyperpipe/engine/telemetry/metrics"
	"hyperpipe/engine/topology"
)

// buildEngine loads the topology and runtime config named by the
// persistent flags and assembles an Engine ready to drive.
func buildEngine() (*engine.Engine, error) {
	graph, err := topology.Load(topologyFile)
	if err != nil {
		return nil, fmt.Errorf("load topology %q: %w", topologyFile, err)
	}
	rt, err := config.Load(runtimeFile)
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}

	var provider metrics.Provider
	switch rt.MetricsBackend {
	case "prometheus":
		provider = metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	case "otel":
		provider = metrics.NewOTelProvider(metrics.OTelProviderOptions{})
	default:
		provider = metrics.NewNoopProvider()
	}

	return engine.New(graph, engine.Config{
		Runtime:         rt,
		LauncherKind:    launcherKind,
		ContainerCLI:    containerCLI,
		MetricsProvider: provider,
		Logger:          logging.New(nil),
	})
}
