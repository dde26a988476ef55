package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tessera/internal/presentation"
	"github.com/zjrosen/tessera/internal/reload"
)

var (
	treePretty bool
	treeJSON   bool
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Build and mount the tree section and print it",
	Long: `Register every definition, create each root of the tree section and
print the mounted forest. Everything is destroyed again before exit.

Examples:
  tessera tree
  tessera tree --pretty
  tessera tree --json | jq '.roots[].children'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		if _, err := reload.New(e.mgr).Apply(cmd.Context(), e.file); err != nil {
			return err
		}

		formatter := presentation.NewFormatter(os.Stdout)
		snap := e.mgr.QueryTree()
		if treeJSON {
			return formatter.FormatJSON(snap)
		}
		return formatter.FormatTree(snap, treePretty)
	},
}

func init() {
	treeCmd.Flags().BoolVar(&treePretty, "pretty", false, "colour states and dependencies")
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(treeCmd)
}
