package loader

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tessera/internal/component"
)

const appYAML = `
components:
  - name: logger
  - name: store
    constructor: newStore
    dependencies:
      - name: logger
  - name: list
    selector: .list
    dependencies:
      - selector: .item
        inject: items
        deferred: true
        optional: true
    hooks:
      - phase: mount
        name: announce
  - name: row
    selector: .item
    labels: [ui]
tree:
  - component: list
    key: l
    children:
      - component: row
        key: k1
      - component: row
        key: k2
`

func TestParse(t *testing.T) {
	file, err := Parse([]byte(appYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"logger", "store", "list", "row"}, file.Names())

	store, ok := file.Definition("store")
	require.True(t, ok)
	require.Equal(t, "newStore", store.Constructor)
	require.Equal(t, []component.Dependency{{Name: "logger"}}, store.Dependencies)

	list, _ := file.Definition("list")
	require.Equal(t, component.Dependency{Selector: ".item", Inject: "items", Deferred: true, Optional: true}, list.Dependencies[0])
	require.Equal(t, []component.HookRef{{Phase: component.PhaseMount, Name: "announce"}}, list.Hooks)

	require.Len(t, file.Tree, 1)
	require.Len(t, file.Tree[0].Children, 2)
	require.Equal(t, "k2", file.Tree[0].Children[1].Key)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name:        "invalid definition names component",
			yaml:        "components:\n  - name: store\n    hooks:\n      - phase: later\n        name: x\n",
			errContains: "component store",
		},
		{
			name:        "missing name",
			yaml:        "components:\n  - selector: .x\n",
			errContains: "component #0",
		},
		{
			name:        "duplicate component",
			yaml:        "components:\n  - name: a\n  - name: a\n",
			errContains: "defined twice",
		},
		{
			name:        "unknown field",
			yaml:        "components:\n  - name: a\n    construct: typo\n",
			errContains: "construct",
		},
		{
			name:        "shape without component",
			yaml:        "tree:\n  - key: x\n",
			errContains: "tree 0",
		},
		{
			name:        "duplicate root key",
			yaml:        "tree:\n  - component: a\n    key: x\n  - component: a\n    key: x\n",
			errContains: "a#x",
		},
		{
			name:        "malformed yaml",
			yaml:        "components: [",
			errContains: "parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	file, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, file.Components)
	require.Empty(t, file.Tree)
}

func TestLoad_NamesFile(t *testing.T) {
	fsys := fstest.MapFS{
		"ok.yaml":  {Data: []byte(appYAML)},
		"bad.yaml": {Data: []byte("components:\n  - name: 'a b'\n")},
	}
	file, err := Load(fsys, "ok.yaml")
	require.NoError(t, err)
	require.Equal(t, "ok.yaml", file.Path)

	_, err = Load(fsys, "bad.yaml")
	require.ErrorIs(t, err, component.ErrInvalidDefinition)
	require.Contains(t, err.Error(), "bad.yaml")

	_, err = Load(fsys, "missing.yaml")
	require.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"defs/base.yaml":   {Data: []byte("components:\n  - name: logger\n")},
		"defs/ui/rows.yml": {Data: []byte("components:\n  - name: row\n    selector: .item\ntree:\n  - component: row\n")},
		"defs/README.md":   {Data: []byte("ignored")},
	}
	file, err := LoadDir(fsys, "defs")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"logger", "row"}, file.Names())
	require.Len(t, file.Tree, 1)

	fsys["defs/dup.yaml"] = &fstest.MapFile{Data: []byte("components:\n  - name: logger\n")}
	_, err = LoadDir(fsys, "defs")
	require.ErrorContains(t, err, "already defined")
}

func TestLoadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(appYAML), 0o644))

	file, err := LoadPath(path)
	require.NoError(t, err)
	require.Equal(t, path, file.Path)
	require.Len(t, file.Components, 4)
}
