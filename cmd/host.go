package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fetchbridge/logger"
	"fetchbridge/messaging"

	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host [extension-origin]",
	Short: "Runs as a browser native-messaging host on stdin/stdout",
	Long: `Speaks the browser native-messaging protocol: each message is a 4-byte
little-endian length followed by UTF-8 JSON. The browser starts this command
itself and passes the calling extension origin as the first argument.

Stdout carries protocol frames only; diagnostics go to the log files.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			logger.Info("Host Command: started by %s", args[0])
		}

		bridge, _, err := newBridge()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		host := messaging.NewHost(os.Stdin, os.Stdout, messaging.NewDispatcher(messaging.BridgeBackend{Bridge: bridge}))
		if err := host.Run(ctx); err != nil {
			logger.Error("Host Command: native messaging loop ended: %v", err)
			return err
		}
		logger.Info("Host Command: browser closed the channel, exiting.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
}
