package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
)

var scaleCmd = &cobra.Command{
	Use:   "scale <phase> <replicas>",
	Short: "Scale a phase to N replicas",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			exitWithError("parse replica count", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		client := control.NewClient(socketPath, 60*time.Second)
		if err := client.Call(ctx, "scale", control.ScaleParams{Phase: args[0], Replicas: n}, nil); err != nil {
			exitWithError("scale phase", err)
		}
		fmt.Printf("%s scaled to %d replicas\n", args[0], n)
	},
}
