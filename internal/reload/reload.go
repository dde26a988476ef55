// Package reload reconciles a definitions file into a running manager.
package reload

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/loader"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/manager"
)

// Report lists what one Apply changed.
type Report struct {
	Registered   []string
	Replaced     []string
	Unregistered []string
	Created      []string // root identities, name#key
}

// Empty reports whether nothing changed.
func (r Report) Empty() bool {
	return len(r.Registered)+len(r.Replaced)+len(r.Unregistered)+len(r.Created) == 0
}

// Reloader applies successive versions of one file. It remembers which
// definitions came from the file so that definitions registered by other
// means are never removed.
type Reloader struct {
	mgr   *manager.Manager
	owned map[string]bool
}

// New creates a reloader for mgr.
func New(mgr *manager.Manager) *Reloader {
	return &Reloader{mgr: mgr, owned: make(map[string]bool)}
}

// Apply reconciles file into the manager:
//
//   - new and changed definitions are registered; live instances keep the
//     definition they were built from
//   - definitions from a previous version that are gone are unregistered,
//     destroying their live instances
//   - roots of the tree section that are not live are created
//
// Apply keeps going after a failed item and returns every failure joined.
func (r *Reloader) Apply(ctx context.Context, file *loader.File) (Report, error) {
	var (
		report Report
		errs   []error
	)
	reg := r.mgr.Registry()

	present := make(map[string]bool, len(file.Components))
	for _, def := range file.Components {
		present[def.Name] = true
		if current, err := reg.Lookup(def.Name); err == nil && reflect.DeepEqual(current, def) {
			r.owned[def.Name] = true
			continue
		}
		res, err := r.mgr.Register(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.owned[def.Name] = true
		if res.Replaced {
			report.Replaced = append(report.Replaced, def.Name)
		} else {
			report.Registered = append(report.Registered, def.Name)
		}
	}

	var gone []string
	for name := range r.owned {
		if !present[name] {
			gone = append(gone, name)
		}
	}
	slices.Sort(gone)
	for _, name := range gone {
		delete(r.owned, name)
		if err := r.mgr.Unregister(ctx, name); err != nil && !errors.Is(err, component.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		report.Unregistered = append(report.Unregistered, name)
	}

	live := r.mgr.QueryTree().Roots
	for _, shape := range file.Tree {
		if hasRoot(live, shape) {
			continue
		}
		snap, err := r.mgr.CreateRoot(ctx, shape)
		if err != nil {
			errs = append(errs, fmt.Errorf("create root %s: %w", shape.Component, err))
			continue
		}
		report.Created = append(report.Created, snap.Component+"#"+snap.Key)
	}

	if !report.Empty() {
		log.Info(log.CatWatcher, "definitions applied",
			"registered", len(report.Registered), "replaced", len(report.Replaced),
			"unregistered", len(report.Unregistered), "created", len(report.Created))
	}
	return report, errors.Join(errs...)
}

// hasRoot reports whether a live root matches shape. A shape without a
// key matches any root of its component.
func hasRoot(roots []component.NodeSnapshot, shape component.Shape) bool {
	for _, r := range roots {
		if r.Component == shape.Component && (shape.Key == "" || r.Key == shape.Key) {
			return true
		}
	}
	return false
}

// Watch applies the file at path whenever a change arrives on changes, until ctx is
// done. Load and apply failures are logged and the previous state stays
// in place.
func (r *Reloader) Watch(ctx context.Context, path string, changes <-chan struct{}, onApply func(Report, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			file, err := loader.LoadPath(path)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "reload failed", err, "path", path)
				if onApply != nil {
					onApply(Report{}, err)
				}
				continue
			}
			report, err := r.Apply(ctx, file)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "apply failed", err, "path", path)
			}
			if onApply != nil {
				onApply(report, err)
			}
		}
	}
}
