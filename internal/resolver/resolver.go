// Package resolver computes construction order for component definitions.
//
// Resolution walks the dependency graph depth-first, post-order: every
// dependency is emitted before its dependents, dependencies are visited in
// declaration order, and independent roots in the order requested. The
// order is therefore deterministic for a fixed registry. A resolution
// either succeeds completely or returns an error and no order.
package resolver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/registry"
	"github.com/zjrosen/tessera/internal/selector"
)

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	// Order lists identities dependencies-first. For a single root the
	// root is the last element.
	Order []string
	Graph *Graph
	// Omitted lists optional name targets that are not registered.
	Omitted []string
	// Definitions holds the definition snapshot used for each identity
	// in Order.
	Definitions map[string]*component.Definition
}

// Root returns the last identity in Order.
func (r *Resolution) Root() string {
	if len(r.Order) == 0 {
		return ""
	}
	return r.Order[len(r.Order)-1]
}

// Compiler compiles selector expressions. selector.Compile and
// (*selector.Engine).Compile both satisfy it.
type Compiler func(expr string) (*selector.Selector, error)

// Option configures a Resolver.
type Option func(*Resolver)

// WithCompiler replaces the selector compiler, typically with a caching
// engine.
func WithCompiler(c Compiler) Option {
	return func(r *Resolver) {
		if c != nil {
			r.compile = c
		}
	}
}

// Resolver resolves definitions read from a registry.Provider.
type Resolver struct {
	defs    registry.Provider
	compile Compiler
}

// New creates a resolver.
func New(defs registry.Provider, opts ...Option) *Resolver {
	r := &Resolver{defs: defs, compile: selector.Compile}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve computes the construction order for root.
func (r *Resolver) Resolve(root string) (*Resolution, error) {
	return r.ResolveMany(root)
}

// ResolveAll resolves every registered definition, roots taken in
// registration order.
func (r *Resolver) ResolveAll() (*Resolution, error) {
	defs := r.defs.List()
	roots := make([]string, len(defs))
	for i, d := range defs {
		roots[i] = d.Name
	}
	return r.ResolveMany(roots...)
}

// ResolveMany computes a single order covering every root. Roots are
// visited in the given order; shared dependencies appear once.
func (r *Resolver) ResolveMany(roots ...string) (*Resolution, error) {
	w := &walk{
		r:       r,
		defs:    make(map[string]*component.Definition),
		visited: make(map[string]bool),
		onStack: make(map[string]bool),
		graph:   newGraph(),
	}
	for _, root := range roots {
		if w.visited[root] {
			continue
		}
		if err := w.visit(root, ""); err != nil {
			log.Debug(log.CatResolve, "resolution failed", "roots", strings.Join(roots, ","), "error", err)
			return nil, component.Wrap(component.ClassResolution, "resolve", root, err)
		}
	}
	log.Debug(log.CatResolve, "resolved", "roots", strings.Join(roots, ","), "order", strings.Join(w.order, ","))
	return &Resolution{
		Order:       w.order,
		Graph:       w.graph,
		Omitted:     w.omitted,
		Definitions: w.defs,
	}, nil
}

type walk struct {
	r       *Resolver
	defs    map[string]*component.Definition
	visited map[string]bool
	onStack map[string]bool
	stack   []string
	order   []string
	omitted []string
	graph   *Graph
	all     []*component.Definition // lazily loaded for ref narrowing
}

func (w *walk) lookup(name, dependent string) (*component.Definition, error) {
	if def, ok := w.defs[name]; ok {
		return def, nil
	}
	def, err := w.r.defs.Lookup(name)
	if err != nil {
		if dependent == "" || !errors.Is(err, component.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s requires %s", component.ErrUnknownDependency, dependent, name)
	}
	w.defs[name] = def
	return def, nil
}

func (w *walk) visit(name, dependent string) error {
	def, err := w.lookup(name, dependent)
	if err != nil {
		return err
	}

	w.onStack[name] = true
	w.stack = append(w.stack, name)
	w.graph.addNode(name)

	for _, dep := range def.Dependencies {
		if dep.Kind() == component.DependencyRef {
			if err := w.checkRef(name, dep); err != nil {
				return err
			}
			continue
		}

		if dep.Optional && !w.known(dep.Name) {
			if !slices.Contains(w.omitted, dep.Name) {
				w.omitted = append(w.omitted, dep.Name)
			}
			continue
		}
		if w.onStack[dep.Name] {
			return w.cycle(dep.Name)
		}
		w.graph.addEdge(name, dep.Name)
		if w.visited[dep.Name] {
			continue
		}
		if err := w.visit(dep.Name, name); err != nil {
			return err
		}
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.onStack[name] = false
	w.visited[name] = true
	w.order = append(w.order, name)
	return nil
}

func (w *walk) known(name string) bool {
	if _, ok := w.defs[name]; ok {
		return true
	}
	return w.r.defs.Seq(name) != 0
}

// cycle builds the path from the first occurrence of target on the
// recursion stack back to target.
func (w *walk) cycle(target string) error {
	start := slices.Index(w.stack, target)
	path := append(slices.Clone(w.stack[start:]), target)
	return &component.CycleError{Path: path}
}

// checkRef validates a selector ref. Required refs must be satisfiable by
// at least one registered definition.
func (w *walk) checkRef(owner string, dep component.Dependency) error {
	sel, err := w.r.compile(dep.Selector)
	if err != nil {
		return fmt.Errorf("%s: %w", owner, err)
	}
	if dep.Optional {
		return nil
	}
	if w.all == nil {
		w.all = w.r.defs.List()
	}
	for _, def := range w.all {
		if selector.MatchesDefinition(sel, def) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s references %q, which no registered definition can satisfy",
		component.ErrUnknownDependency, owner, dep.Selector)
}
