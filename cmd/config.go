package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/tessera/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the tessera config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config to .tessera/config.yaml",
	RunE: func(*cobra.Command, []string) error {
		path := cfgFile
		if path == "" {
			path = localConfigPath
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one value in the config file, keeping its comments",
	Long: `Set a dotted key in the config file in use, keeping comments and layout.

Examples:
  tessera config set lifecycle.concurrency 4
  tessera config set tracing.exporter stdout`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = localConfigPath
		}
		return config.SetValue(path, args[0], args[1])
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
