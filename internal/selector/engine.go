package selector

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/tessera/internal/cachemanager"
	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
)

// Forest exposes the root instances of the live tree.
type Forest interface {
	Roots() []*component.Instance
}

// forestScope is the binding scope ID used for matches without a scope
// node and for :global selectors.
const forestScope = ""

// Option configures an Engine.
type Option func(*Engine)

// WithBindingTTL expires cached bindings after ttl. Zero keeps them until
// invalidated.
func WithBindingTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// Engine evaluates selectors and caches the resulting bindings per
// (expression, scope). It never observes tree mutations itself: callers
// mutating the forest must invalidate the affected scopes.
type Engine struct {
	forest   Forest
	compiled *cachemanager.ReadThroughCache[string, *Selector]
	bindings cachemanager.CacheManager[string, []*component.Instance]
	ttl      time.Duration

	mu      sync.Mutex
	byScope map[string]map[string]struct{} // scope ID -> binding keys
}

// NewEngine creates an engine reading from forest.
func NewEngine(forest Forest, opts ...Option) *Engine {
	e := &Engine{
		forest: forest,
		bindings: cachemanager.NewInMemoryCacheManager[string, []*component.Instance](
			"ref-bindings", cachemanager.NoExpiration, cachemanager.DefaultCleanupInterval),
		ttl:     cachemanager.NoExpiration,
		byScope: make(map[string]map[string]struct{}),
	}
	compiledCache := cachemanager.NewInMemoryCacheManager[string, *Selector](
		"compiled-selectors", cachemanager.NoExpiration, cachemanager.DefaultCleanupInterval)
	e.compiled = cachemanager.NewReadThroughCache(compiledCache,
		func(_ context.Context, expr string) (*Selector, error) {
			return Compile(expr)
		}, cachemanager.NoExpiration)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile returns the compiled form of expr, compiling at most once per
// distinct string.
func (e *Engine) Compile(expr string) (*Selector, error) {
	return e.compiled.Get(context.Background(), expr)
}

// Match returns the instances selected by expr within scope, in
// depth-first pre-order. The scope node itself is never part of the
// result. A nil scope or a :global selector searches the whole forest.
func (e *Engine) Match(expr string, scope *component.Instance) ([]*component.Instance, error) {
	sel, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}

	scopeID := forestScope
	if scope != nil && !sel.Global {
		scopeID = scope.ID
	}
	key := bindingKey(expr, scopeID)
	ctx := context.Background()

	if cached, ok := e.bindings.Get(ctx, key); ok {
		log.Debug(log.CatSelector, "binding cache hit", "selector", expr, "scope", scopeID)
		return slices.Clone(cached), nil
	}

	var matches []*component.Instance
	if scopeID == forestScope {
		for _, root := range e.forest.Roots() {
			matches = collectMatches(root, sel, nil, matches)
		}
	} else {
		for _, child := range scope.Children() {
			matches = collectMatches(child, sel, scope, matches)
		}
	}

	e.bindings.Set(ctx, key, matches, e.ttl)
	e.mu.Lock()
	keys, ok := e.byScope[scopeID]
	if !ok {
		keys = make(map[string]struct{})
		e.byScope[scopeID] = keys
	}
	keys[key] = struct{}{}
	e.mu.Unlock()

	log.Debug(log.CatSelector, "binding computed", "selector", expr, "scope", scopeID, "matches", len(matches))
	return slices.Clone(matches), nil
}

// Resolve is Match with reference semantics: an empty result for a
// required reference is an error.
func (e *Engine) Resolve(expr string, scope *component.Instance, optional bool) ([]*component.Instance, error) {
	matches, err := e.Match(expr, scope)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && !optional {
		return nil, fmt.Errorf("%w: %q in %s", component.ErrUnresolvedReference, expr, scope)
	}
	return matches, nil
}

// Invalidate drops every binding computed for scopeID.
func (e *Engine) Invalidate(scopeID string) {
	e.mu.Lock()
	keys := e.byScope[scopeID]
	delete(e.byScope, scopeID)
	e.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	drop := make([]string, 0, len(keys))
	for k := range keys {
		drop = append(drop, k)
	}
	e.bindings.Delete(context.Background(), drop...)
}

// InvalidateAncestors drops bindings whose result may change when the
// subtree under node changes: those scoped at node or any ancestor, plus
// forest-wide and :global bindings. A nil node only drops the latter.
func (e *Engine) InvalidateAncestors(node *component.Instance) {
	if node != nil {
		e.Invalidate(node.ID)
		for _, a := range node.Ancestors() {
			e.Invalidate(a.ID)
		}
	}
	e.Invalidate(forestScope)
}

// InvalidateSubtree drops bindings scoped at node or any of its
// descendants. Used when a subtree leaves the forest.
func (e *Engine) InvalidateSubtree(node *component.Instance) {
	node.Walk(func(n *component.Instance) bool {
		e.Invalidate(n.ID)
		return true
	})
}

// InvalidateAll drops every cached binding. Compiled selectors are kept.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	e.byScope = make(map[string]map[string]struct{})
	e.mu.Unlock()
	e.bindings.Flush(context.Background())
	log.Debug(log.CatSelector, "all bindings invalidated")
}

// BindingCount returns the number of cached bindings.
func (e *Engine) BindingCount() int {
	return e.bindings.Len()
}

// collectMatches appends every node under (and including) root that sel
// selects, depth-first pre-order.
func collectMatches(root *component.Instance, sel *Selector, boundary *component.Instance, out []*component.Instance) []*component.Instance {
	root.Walk(func(n *component.Instance) bool {
		if sel.MatchesAt(n, boundary) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func bindingKey(expr, scopeID string) string {
	return scopeID + "\x00" + expr
}
