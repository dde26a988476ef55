package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/presentation"
)

var regLabels []string

var registryListCmd = &cobra.Command{
	Use:   "registry:list",
	Short: "List the component definitions of the definitions file",
	Long: `Register every definition of the definitions file and list them as JSON
in registration order.

Use --label to filter by labels (repeatable, AND logic).

Examples:
  # List all definitions
  tessera registry:list

  # Filter by multiple labels (must match ALL)
  tessera registry:list -l ui -l list

  # Parse specific fields with jq
  tessera registry:list | jq '.[].requires'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()
		if err := e.register(); err != nil {
			return err
		}

		reg := e.mgr.Registry()
		var defs []*component.Definition
		if len(regLabels) > 0 {
			defs = reg.GetByLabels(regLabels...)
		} else {
			defs = reg.List()
		}

		formatter := presentation.NewFormatter(os.Stdout)
		return formatter.FormatDefinitions(presentation.FromDefinitions(defs, reg))
	},
}

func init() {
	registryListCmd.Flags().StringArrayVarP(&regLabels, "label", "l", nil, "Filter by label (can be repeated, e.g., --label ui)")
	rootCmd.AddCommand(registryListCmd)
}
