package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
)

var showTree bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's per-phase, stream and hyperedge status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client := control.NewClient(socketPath, 10*time.Second)

		if showTree {
			var out struct {
				Tree string `json:"tree"`
			}
			if err := client.Call(ctx, "visualize", nil, &out); err != nil {
				exitWithError("fetch topology", err)
			}
			fmt.Print(out.Tree)
			return
		}

		var out struct {
			Running bool `json:"running"`
			Phases  map[string]struct {
				Kind            string   `json:"kind"`
				TargetReplicas  int      `json:"target_replicas"`
				RunningReplicas int      `json:"running_replicas"`
				State           string   `json:"state"`
				Inputs          []string `json:"inputs"`
				Outputs         []string `json:"outputs"`
			} `json:"phases"`
			Streams map[string]struct {
				Protocol  string   `json:"protocol"`
				Port      int      `json:"port"`
				Producer  string   `json:"producer"`
				Consumers []string `json:"consumers"`
			} `json:"streams"`
			Hyperedges map[string]struct {
				Source    string   `json:"source"`
				Targets   []string `json:"targets"`
				Streams   []string `json:"streams"`
				Multicast bool     `json:"multicast"`
			} `json:"hyperedges"`
		}
		if err := client.Call(ctx, "status", nil, &out); err != nil {
			exitWithError("fetch status", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&showTree, "tree", false, "print the topology tree instead of the status snapshot")
}
