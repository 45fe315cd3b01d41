package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
)

var logsReplica int

var logsCmd = &cobra.Command{
	Use:   "logs <phase>",
	Short: "Follow one phase replica's log lines",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sig
			cancel()
		}()

		client := control.NewClient(socketPath, 0)
		err := client.StreamLogs(ctx, control.LogsParams{Phase: args[0], Replica: logsReplica}, func(line string) {
			fmt.Println(line)
		})
		if err != nil && ctx.Err() == nil {
			exitWithError("stream logs", err)
		}
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsReplica, "replica", 0, "replica index to follow")
}
