package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/loader"
	"github.com/zjrosen/tessera/internal/manager"
	"github.com/zjrosen/tessera/internal/registry"
)

const v1 = `
components:
  - name: logger
  - name: app
    dependencies:
      - name: logger
  - name: row
    selector: .item
tree:
  - component: app
    key: main
    children:
      - component: row
        key: k1
`

func parse(t *testing.T, doc string) *loader.File {
	t.Helper()
	file, err := loader.Parse([]byte(doc))
	require.NoError(t, err)
	return file
}

func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	mgr := manager.New(registry.New(), component.NewHookTable())
	t.Cleanup(mgr.Close)
	return mgr
}

func TestApply_InitialLoad(t *testing.T) {
	mgr := newManager(t)
	r := New(mgr)

	report, err := r.Apply(context.Background(), parse(t, v1))
	require.NoError(t, err)
	require.Equal(t, []string{"logger", "app", "row"}, report.Registered)
	require.Equal(t, []string{"app#main"}, report.Created)
	require.Equal(t, 3, mgr.QueryTree().Count())

	report, err = r.Apply(context.Background(), parse(t, v1))
	require.NoError(t, err)
	require.True(t, report.Empty(), "reapplying the same file is a no-op")
}

func TestApply_ChangesAndRemovals(t *testing.T) {
	mgr := newManager(t)
	r := New(mgr)
	ctx := context.Background()
	_, err := r.Apply(ctx, parse(t, v1))
	require.NoError(t, err)

	_, err = mgr.Register(&component.Definition{Name: "external"})
	require.NoError(t, err)

	v2 := `
components:
  - name: logger
    labels: [v2]
  - name: app
    dependencies:
      - name: logger
tree:
  - component: app
    key: main
`
	report, err := r.Apply(ctx, parse(t, v2))
	require.NoError(t, err)
	require.Equal(t, []string{"logger"}, report.Replaced)
	require.Equal(t, []string{"row"}, report.Unregistered)
	require.Empty(t, report.Created, "app#main is still live")

	tree := mgr.QueryTree()
	require.Equal(t, 2, tree.Count(), "row instance destroyed with its definition")
	require.True(t, mgr.Registry().Has("external"), "definitions from elsewhere are kept")
}

func TestApply_RecreatesMissingRoot(t *testing.T) {
	mgr := newManager(t)
	r := New(mgr)
	ctx := context.Background()
	_, err := r.Apply(ctx, parse(t, v1))
	require.NoError(t, err)

	root := mgr.QueryTree().Roots[0]
	require.NoError(t, mgr.Destroy(ctx, root.ID))

	report, err := r.Apply(ctx, parse(t, v1))
	require.NoError(t, err)
	require.Equal(t, []string{"app#main"}, report.Created)
}

func TestApply_CollectsErrors(t *testing.T) {
	mgr := newManager(t)
	r := New(mgr)

	doc := `
components:
  - name: a
    dependencies:
      - name: missing
tree:
  - component: a
  - component: ghost
`
	report, err := r.Apply(context.Background(), parse(t, doc))
	require.Error(t, err)
	require.ErrorIs(t, err, component.ErrUnknownDependency)
	require.ErrorIs(t, err, component.ErrNotFound)
	require.Equal(t, []string{"a"}, report.Registered)
	require.Empty(t, report.Created)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	mgr := newManager(t)
	r := New(mgr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan struct{}, 1)
	applied := make(chan Report, 4)
	go r.Watch(ctx, path, changes, func(rep Report, err error) {
		if err == nil {
			applied <- rep
		}
	})

	changes <- struct{}{}
	select {
	case rep := <-applied:
		require.Equal(t, []string{"app#main"}, rep.Created)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for apply")
	}
}
