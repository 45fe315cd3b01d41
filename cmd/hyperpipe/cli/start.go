package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hyperpipe/engine/control"
	"hyperpipe/engine/telemetry/logging"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start every phase in dependency order and serve the control socket until shutdown",
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			exitWithError("build engine", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := eng.StartPipeline(ctx); err != nil {
			exitWithError("start pipeline", err)
		}
		fmt.Println("pipeline started")

		srv := control.NewServer(socketPath, eng, logging.New(nil))
		go func() {
			if err := srv.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "control socket stopped: %v\n", err)
			}
		}()
		fmt.Printf("control socket listening at %s\n", socketPath)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
		<-sig

		fmt.Println("shutting down")
		cancel() // stops the control socket's Start loop

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer stopCancel()
		if err := eng.Stop(stopCtx); err != nil {
			exitWithError("stop pipeline", err)
		}
	},
}
