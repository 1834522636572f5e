package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"openpalace/internal/config"
	"openpalace/internal/paths"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "inspect or edit the engine configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "print the config value at the given dotted path, or the whole document",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return printJSON(cfg)
		}
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(value)
	},
}

var configReferenceCmd = &cobra.Command{
	Use:   "reference [filter]",
	Short: "list every configuration tunable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		return printJSON(config.FilterReference(filter))
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configReferenceCmd)
}

func loadConfig() (*config.Config, error) {
	store, err := paths.New(dataDir)
	if err != nil {
		return nil, err
	}
	return config.Load(store.ConfigFile())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
