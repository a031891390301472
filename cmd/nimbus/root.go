package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/nimbus/pkg/cli"
	"mercator-hq/nimbus/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nimbus",
	Short: "Nimbus - retention and secure deletion for uploaded media",
	Long: `Nimbus stores uploaded objects encrypted, deletes them when their tier's
retention window ends, overwrites them according to the tier's deletion
standard and records signed evidence of every deletion.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "nimbus.yaml", "config file path")
}

// loadConfig loads --config with NIMBUS_* overrides applied.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.WrapConfigError(err)
	}
	return config.GetConfig(), nil
}
