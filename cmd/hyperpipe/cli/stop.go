package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
)

const shutdownGrace = 30 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Tell a running daemon to stop every phase in reverse start order",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		client := control.NewClient(socketPath, shutdownGrace)
		if err := client.Call(ctx, "stop", nil, nil); err != nil {
			exitWithError("stop pipeline", err)
		}
		fmt.Println("pipeline stopped")
	},
}
