package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/presentation"
	"github.com/zjrosen/tessera/internal/reload"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the tree builds, tears down and rebuilds identically",
	Long: `Run a create/destroy round trip over the tree section:

  1. register every definition and create every root
  2. destroy everything and verify nothing is left live
  3. create the roots again and compare both snapshots

Instance IDs are ignored in the comparison. A difference is printed as a
diff and the command fails.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		diff, err := roundTrip(cmd.Context(), e)
		if err != nil {
			return err
		}
		if diff != "" {
			fmt.Fprintln(os.Stdout, diff)
			return fmt.Errorf("round trip produced a different tree")
		}

		snap := e.mgr.QueryTree()
		fmt.Fprintf(os.Stdout, "ok: %d roots, %d instances, %d hook calls\n",
			len(snap.Roots), snap.Count(), len(e.hookLogs.Lines()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// roundTrip applies the file, destroys everything, applies it again and
// returns a diff of the two normalized snapshots, empty when equal.
func roundTrip(ctx context.Context, e *engine) (string, error) {
	r := reload.New(e.mgr)
	if _, err := r.Apply(ctx, e.file); err != nil {
		return "", err
	}
	first, err := normalized(e.mgr.QueryTree(), e.file.Tree)
	if err != nil {
		return "", err
	}

	e.mgr.DestroyAll(ctx)
	if n := e.mgr.LiveCount(); n != 0 {
		return "", fmt.Errorf("%d instances still live after destroy", n)
	}

	if _, err := r.Apply(ctx, e.file); err != nil {
		return "", err
	}
	second, err := normalized(e.mgr.QueryTree(), e.file.Tree)
	if err != nil {
		return "", err
	}

	if first == second {
		return "", nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(first, second, false)
	return dmp.DiffPrettyText(dmp.DiffCleanupSemantic(diffs)), nil
}

// normalized renders snap as text and JSON with instance IDs removed and
// generated keys replaced by "~". Nodes pair with shapes by position.
func normalized(snap component.Snapshot, shapes []component.Shape) (string, error) {
	var strip func(nodes []component.NodeSnapshot, shapes []component.Shape)
	strip = func(nodes []component.NodeSnapshot, shapes []component.Shape) {
		for i := range nodes {
			node := &nodes[i]
			node.ID = ""
			var children []component.Shape
			if i < len(shapes) {
				children = shapes[i].Children
				if shapes[i].Key == "" {
					node.Key = "~"
				}
			}
			for j := range node.Deps {
				node.Deps[j].ID = ""
				node.Deps[j].Key = node.Key + "." + node.Deps[j].Component
			}
			strip(node.Children, children)
		}
	}
	strip(snap.Roots, shapes)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return presentation.RenderTree(snap, false) + string(data), nil
}
