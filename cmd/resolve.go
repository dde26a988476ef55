package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tessera/internal/presentation"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <component>",
	Short: "Print the construction order of a component",
	Long: `Resolve the dependency graph of a component and print the order in which
its dependencies are constructed, as JSON.

Examples:
  tessera resolve app
  tessera resolve app -f components.yaml | jq '.order'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.register(); err != nil {
			return err
		}

		res, err := e.mgr.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return presentation.NewFormatter(os.Stdout).FormatResolution(presentation.FromResolution(res))
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
