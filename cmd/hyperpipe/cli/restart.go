package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
)

var restartCmd = &cobra.Command{
	Use:   "restart <phase>",
	Short: "Manually restart every replica of a phase",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		client := control.NewClient(socketPath, 60*time.Second)
		if err := client.Call(ctx, "restart", control.PhaseParams{Phase: args[0]}, nil); err != nil {
			exitWithError("restart phase", err)
		}
		fmt.Printf("%s restarted\n", args[0])
	},
}

var rollingUpdateCmd = &cobra.Command{
	Use:   "rolling-update <phase>",
	Short: "Roll a phase's replicas in place, batch by batch",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		client := control.NewClient(socketPath, 5*time.Minute)
		if err := client.Call(ctx, "rolling_update", control.PhaseParams{Phase: args[0]}, nil); err != nil {
			exitWithError("rolling update", err)
		}
		fmt.Printf("%s rolled\n", args[0])
	},
}
