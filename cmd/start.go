package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fetchbridge/api"
	"fetchbridge/config"
	"fetchbridge/logger"

	"github.com/spf13/cobra"
)

var (
	startServerHost string
	startServerPort string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the bridge HTTP API on the loopback interface",
	Long: `Starts the bridge HTTP API (fetch, stream, socket relay, audit log,
settings, health and Prometheus metrics).
Press Ctrl+C to gracefully shut down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("--- Start Command: Run ---")

		host := startServerHost
		if !cmd.Flags().Changed("host") {
			host = config.AppConfig.Server.Host
		}
		port := startServerPort
		if !cmd.Flags().Changed("port") {
			port = config.AppConfig.Server.Port
		}
		if port == "" {
			logger.Error("Start Command: Server port is empty after checking flag and config, defaulting to 8797")
			port = "8797"
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			logger.Warn("Start Command: binding to non-loopback host %s exposes injected credentials to the network", host)
		}

		bridge, persisted, err := newBridge()
		if err != nil {
			return err
		}

		var wg sync.WaitGroup
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		server := &http.Server{
			Addr:              net.JoinHostPort(host, port),
			Handler:           api.NewRouter(bridge, persisted),
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func(parentCtx context.Context) {
			defer wg.Done()

			go func() {
				<-parentCtx.Done()
				logger.Info("Start Command Goroutine(API): Shutdown signal received...")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("Start Command Goroutine(API): Graceful shutdown failed: %v", err)
				} else {
					logger.Info("Start Command Goroutine(API): Gracefully stopped.")
				}
			}()

			logger.Info("Start Command Goroutine(API): Listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Start Command Goroutine(API): ListenAndServe error: %v", err)
				cancel()
			}
			logger.Info("Start Command Goroutine(API): Finished.")
		}(ctx)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)

		logger.Info("Start Command: Bridge API running. Press Ctrl+C to exit.")

		select {
		case sig := <-sigs:
			logger.Info("Start Command: Received signal: %s. Initiating shutdown...", sig)
		case <-ctx.Done():
			logger.Info("Start Command: Context cancelled (likely due to a service error). Initiating shutdown...")
		}

		cancel()

		shutdownComplete := make(chan struct{})
		go func() {
			wg.Wait()
			close(shutdownComplete)
		}()

		select {
		case <-shutdownComplete:
			logger.Info("Start Command: All services shut down.")
		case <-time.After(10 * time.Second):
			logger.Error("Start Command: Shutdown timed out. Forcing exit.")
		}
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startServerHost, "host", "127.0.0.1", "Interface for the API server (overrides config)")
	startCmd.Flags().StringVarP(&startServerPort, "port", "p", "8797", "Port for the API server (overrides config)")
	rootCmd.AddCommand(startCmd)
}
