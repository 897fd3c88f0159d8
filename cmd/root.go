package cmd

import (
	"fmt"
	"os"

	"fetchbridge/config"
	"fetchbridge/database"
	"fetchbridge/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile           string
	dbPath            string // Bound to --dbpath flag
	appLogPathFlag    string
	bridgeLogPathFlag string
	logLevelFlag      string
)

var rootCmd = &cobra.Command{
	Use:   "fetchbridge",
	Short: "Policy-enforcing fetch bridge for browser extensions",
	Long: `fetchbridge performs network requests on behalf of browser pages.
Every request is checked against origin and destination allow-lists,
credentials are injected from configured secrets, and each request is
recorded in an audit log that can be listed, streamed and exported as HAR.

The bridge is reachable as a loopback HTTP API ('start') or as a
native-messaging host ('host').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile, appLogPathFlag, bridgeLogPathFlag, logLevelFlag); err != nil {
			return fmt.Errorf("failed to initialize config in PersistentPreRunE: %w", err)
		}

		finalDBPath := dbPath
		if finalDBPath != "" {
			expandedPath, err := config.ExpandTilde(finalDBPath)
			if err != nil {
				logger.Error("Error expanding tilde in --dbpath flag '%s': %v. Using original.", finalDBPath, err)
			} else {
				finalDBPath = expandedPath
				logger.Info("PersistentPreRunE: Using expanded database path from --dbpath flag: '%s'", finalDBPath)
			}
		} else {
			finalDBPath = config.AppConfig.Database.Path
			logger.Debug("PersistentPreRunE: --dbpath flag was empty, using config path: '%s'", finalDBPath)
		}

		if finalDBPath == "" {
			logger.Error("PersistentPreRunE: Database path is empty after checking flag and config! Falling back to 'fetchbridge.db' in CWD.")
			finalDBPath = "fetchbridge.db"
		}

		if err := database.InitDB(finalDBPath); err != nil {
			return fmt.Errorf("failed to initialize database at %s: %w", finalDBPath, err)
		}
		logger.Debug("Database initialized at: %s (from rootCmd PersistentPreRunE)", finalDBPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := database.CloseDB(); err != nil {
			logger.Error("PersistentPostRun: closing database: %v", err)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fetchbridge/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "path to SQLite database file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&appLogPathFlag, "app-log", "", "path for the application log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&bridgeLogPathFlag, "bridge-log", "", "path for the bridge log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides config/default)")
}
