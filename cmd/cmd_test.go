package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/config"
)

const definitions = `
components:
  - name: logger
    constructor: newLogger
  - name: app
    dependencies:
      - name: logger
    hooks:
      - phase: mount
        name: announce
      - phase: destroy
        name: announce
  - name: row
    selector: .item
tree:
  - component: app
    key: main
    props:
      title: demo
    children:
      - component: row
        key: k1
      - component: row
  - component: row
`

func withDefinitions(t *testing.T, doc string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tessera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	prev := cfg
	cfg = config.Defaults()
	cfg.Definitions = path
	t.Cleanup(func() { cfg = prev })
}

func TestRoundTrip(t *testing.T) {
	withDefinitions(t, definitions)
	e, err := newEngine()
	require.NoError(t, err)
	defer e.close()

	diff, err := roundTrip(context.Background(), e)
	require.NoError(t, err)
	require.Empty(t, diff)

	snap := e.mgr.QueryTree()
	require.Len(t, snap.Roots, 2)
	require.Equal(t, 5, snap.Count())
	require.Contains(t, e.hookLogs.Lines(), "announce app#main")
}

func TestEngine_ConstructorsReturnProps(t *testing.T) {
	withDefinitions(t, definitions)
	e, err := newEngine()
	require.NoError(t, err)
	defer e.close()
	require.NoError(t, e.register())

	root, err := e.mgr.CreateRoot(context.Background(), component.Shape{
		Component: "logger", Key: "l", Props: map[string]any{"level": "debug"},
	})
	require.NoError(t, err)
	value, err := e.mgr.Value(root.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"level": "debug"}, value)
}

func TestNormalized_IgnoresIDsAndGeneratedKeys(t *testing.T) {
	shapes := []component.Shape{{Component: "row"}}
	a := component.Snapshot{Roots: []component.NodeSnapshot{{ID: "1", Component: "row", Key: "abc", State: "mounted"}}}
	b := component.Snapshot{Roots: []component.NodeSnapshot{{ID: "2", Component: "row", Key: "xyz", State: "mounted"}}}

	na, err := normalized(a, shapes)
	require.NoError(t, err)
	nb, err := normalized(b, shapes)
	require.NoError(t, err)
	require.Equal(t, na, nb)

	keyed := []component.Shape{{Component: "row", Key: "abc"}}
	na, err = normalized(component.Snapshot{Roots: []component.NodeSnapshot{{Component: "row", Key: "abc"}}}, keyed)
	require.NoError(t, err)
	require.Contains(t, na, "row#abc")
}

func TestNewEngine_MissingFile(t *testing.T) {
	prev := cfg
	cfg = config.Defaults()
	cfg.Definitions = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfg = prev })

	_, err := newEngine()
	require.ErrorContains(t, err, "loading definitions")
}
