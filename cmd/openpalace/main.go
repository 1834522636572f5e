// Package main is the entry point for the openpalace memory engine: a
// root cobra command that boots configuration and the store, plus
// serve/health/config subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openpalace/internal/logging"
	"openpalace/internal/paths"
)

var (
	dataDir string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "openpalace",
	Short: "openpalace is a local cognitive memory store for autonomous agents",
	Long: `openpalace persists entities, knowledge components, changelog and
decision records, scratch notes, and snapshots into a version-controlled
on-disk directory, and exposes them over a JSON request/response protocol
carried on stdio.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return fmt.Errorf("logging.Initialize: %w", err)
		}
		logger = zap.L()

		if dataDir == "" {
			dir, err := paths.DefaultStoreDir()
			if err != nil {
				return err
			}
			dataDir = dir
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "store directory (default: ~/.open-palace)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, healthCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
