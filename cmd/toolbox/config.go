package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolbox/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and every enabled tool block",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.CheckConfig(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tool blocks, storage %s)\n", cfgPath, len(cfg.Plugins), cfg.Storage.Driver)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}
