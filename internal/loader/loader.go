// Package loader reads component definitions and tree shapes from YAML.
//
// A definitions file has two top-level sections:
//
//	components:
//	  - name: store
//	    constructor: newStore
//	    dependencies:
//	      - name: logger
//	  - name: row
//	    selector: .item
//	tree:
//	  - component: app
//	    key: main
//	    children:
//	      - component: row
//	        key: k1
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	stdpath "path"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
)

// File is a parsed definitions file.
type File struct {
	Path       string                  `yaml:"-"`
	Components []*component.Definition `yaml:"components"`
	Tree       []component.Shape       `yaml:"tree"`
}

// Names returns the component names in file order.
func (f *File) Names() []string {
	names := make([]string, len(f.Components))
	for i, def := range f.Components {
		names[i] = def.Name
	}
	return names
}

// Definition returns the definition named name.
func (f *File) Definition(name string) (*component.Definition, bool) {
	for _, def := range f.Components {
		if def.Name == name {
			return def, true
		}
	}
	return nil, false
}

// Load reads and validates path from fsys.
func Load(fsys fs.FS, path string) (*File, error) {
	content, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	file, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	file.Path = path
	log.Debug(log.CatLoader, "definitions loaded", "path", path,
		"components", len(file.Components), "roots", len(file.Tree))
	return file, nil
}

// LoadPath loads a file from the local filesystem.
func LoadPath(path string) (*File, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	file, err := Load(os.DirFS(dir), name)
	if err != nil {
		return nil, err
	}
	file.Path = path
	return file, nil
}

// LoadDir merges every *.yaml and *.yml file under dir. Component names
// must be unique across files.
func LoadDir(fsys fs.FS, dir string) (*File, error) {
	merged := &File{Path: dir}
	origin := make(map[string]string)

	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := stdpath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return nil
		}

		file, err := Load(fsys, path)
		if err != nil {
			return err
		}
		for _, def := range file.Components {
			if prev, ok := origin[def.Name]; ok {
				return fmt.Errorf("%s: component %s already defined in %s", path, def.Name, prev)
			}
			origin[def.Name] = path
		}
		merged.Components = append(merged.Components, file.Components...)
		merged.Tree = append(merged.Tree, file.Tree...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return merged, nil
}

// Parse decodes and validates a definitions document.
func Parse(content []byte) (*File, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("parse: %w", err)
	}

	seen := make(map[string]bool, len(file.Components))
	for i, def := range file.Components {
		if def == nil {
			return nil, fmt.Errorf("component %d: %w: empty entry", i, component.ErrInvalidDefinition)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("component %s: %w", nameOr(def.Name, i), err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("component %s: %w: defined twice", def.Name, component.ErrInvalidDefinition)
		}
		seen[def.Name] = true
	}

	keys := make(map[string]bool, len(file.Tree))
	for i, shape := range file.Tree {
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("tree %d (%s): %w", i, shape.Component, err)
		}
		if shape.Key == "" {
			continue
		}
		id := shape.Component + "#" + shape.Key
		if keys[id] {
			return nil, fmt.Errorf("tree %d: %w: %s", i, component.ErrDuplicateKey, id)
		}
		keys[id] = true
	}
	return &file, nil
}

func nameOr(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("#%d", i)
	}
	return name
}
