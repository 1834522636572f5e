package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"openpalace/internal/engine"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "run the health check once and exit",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := engine.New(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("engine.New: %w", err)
	}
	defer e.Close()

	report, err := e.Health.Run(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Healthy {
		os.Exit(1)
	}
	return nil
}
