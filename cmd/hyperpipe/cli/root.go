// Package cli implements the hyperpipe command-line commands using cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	topologyFile string
	runtimeFile  string
	launcherKind string
	containerCLI string
	socketPath   string
)

var rootCmd = &cobra.Command{
	Use:   "hyperpipe",
	Short: "Multi-stage streaming pipeline orchestrator",
	Long: `hyperpipe supervises a hypergraph-described pipeline of phases:
spawning and health-checking each phase's replicas, restarting them on
failure with exponential backoff, rolling updates batch by batch, and
routing each phase's output stream to every downstream consumer with
per-consumer backpressure.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyFile, "topology", "t", "topology.yaml", "topology YAML file")
	rootCmd.PersistentFlags().StringVarP(&runtimeFile, "config", "c", "", "runtime config YAML file (optional, env HYPERPIPE_* always applies)")
	rootCmd.PersistentFlags().StringVar(&launcherKind, "launcher", "host_process", "launch mechanism: host_process | container")
	rootCmd.PersistentFlags().StringVar(&containerCLI, "container-cli", "docker", "container CLI binary, when --launcher=container")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/hyperpipe.sock", "control-plane Unix domain socket path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(rollingUpdateCmd)
	rootCmd.AddCommand(logsCmd)
}

func exitWithError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
