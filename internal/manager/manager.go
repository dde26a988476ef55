// Package manager is the entry point of the component engine. It owns the
// live forest and exposes the structural operations (create, insert,
// destroy, update) and read-only queries over it.
//
// Concurrency: structural operations hold the write lock for their whole
// duration, so they are serialized and never observed half-done. Queries
// take the read lock and return deep copies.
//
// Cancellation: the caller's context is checked once, before anything is
// built. After that the operation runs to completion on a context that is
// detached from the caller's cancellation. If the caller cancelled while
// it ran, the result is destroyed again and ErrCancelled is returned.
package manager

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tessera/internal/builder"
	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/config"
	"github.com/zjrosen/tessera/internal/lifecycle"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/pubsub"
	"github.com/zjrosen/tessera/internal/registry"
	"github.com/zjrosen/tessera/internal/resolver"
	"github.com/zjrosen/tessera/internal/selector"
	"github.com/zjrosen/tessera/internal/tracing"
)

// Event describes a completed structural operation.
type Event struct {
	InstanceID string
	Component  string
	Key        string
	Err        error // set on FailedEvent
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig applies lifecycle and selector settings.
func WithConfig(cfg config.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithTracer records spans with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithMetrics records lifecycle metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns a component forest.
type Manager struct {
	mu sync.RWMutex

	reg     *registry.Registry
	hooks   *component.HookTable
	cfg     config.Config
	tracer  trace.Tracer
	metrics *metrics.Metrics

	engine   *selector.Engine
	resolver *resolver.Resolver
	orch     *lifecycle.Orchestrator
	builder  *builder.Builder

	roots  []*component.Instance
	index  map[string]*component.Instance // live instance ID -> instance
	broker *pubsub.Broker[Event]
}

// forest exposes the roots to the selector engine. It is only read while
// the manager lock is held.
type forest struct{ m *Manager }

func (f forest) Roots() []*component.Instance { return f.m.roots }

// New creates a manager over reg, resolving hook and constructor names
// through hooks.
func New(reg *registry.Registry, hooks *component.HookTable, opts ...Option) *Manager {
	m := &Manager{
		reg:    reg,
		hooks:  hooks,
		cfg:    config.Defaults(),
		tracer: tracing.NoopTracer(),
		index:  make(map[string]*component.Instance),
		broker: pubsub.NewBroker[Event](),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.engine = selector.NewEngine(forest{m}, selector.WithBindingTTL(m.cfg.Selector.CacheTTL))
	m.resolver = resolver.New(reg, resolver.WithCompiler(m.engine.Compile))
	m.orch = lifecycle.New(hooks, m.engine,
		lifecycle.WithConcurrency(m.cfg.Lifecycle.Concurrency),
		lifecycle.WithHookTimeout(m.cfg.Lifecycle.HookTimeout),
		lifecycle.WithTracer(m.tracer),
		lifecycle.WithMetrics(m.metrics),
	)
	m.builder = builder.New(m.engine, m.orch,
		builder.WithTracer(m.tracer),
		builder.WithMetrics(m.metrics),
	)
	return m
}

// Registry returns the definition registry.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Hooks returns the hook table.
func (m *Manager) Hooks() *component.HookTable {
	return m.hooks
}

// Subscribe streams structural events until ctx is cancelled.
func (m *Manager) Subscribe(ctx context.Context, types ...pubsub.EventType) <-chan pubsub.Event[Event] {
	return m.broker.Subscribe(ctx, types...)
}

// Transitions streams every lifecycle state change.
func (m *Manager) Transitions(ctx context.Context) <-chan pubsub.Event[lifecycle.Event] {
	return m.orch.Subscribe(ctx)
}

// Close releases subscribers. Live instances are not destroyed; call
// DestroyAll first for an orderly shutdown.
func (m *Manager) Close() {
	m.broker.Close()
	m.orch.Close()
}

// Register stores def. Replacing an existing definition drops every
// cached ref binding. Live instances keep the definition they were built
// from.
func (m *Manager) Register(def *component.Definition) (registry.RegisterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, err := m.reg.Register(def)
	if err != nil {
		return res, err
	}
	if res.Replaced {
		m.engine.InvalidateAll()
	}
	return res, nil
}

// Unregister removes a definition and destroys every live instance built
// from it. A dependency instance is destroyed by destroying the tree node
// that owns it.
func (m *Manager) Unregister(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.reg.Unregister(name)
	if err != nil {
		return err
	}
	work := context.WithoutCancel(ctx)
	for _, id := range ids {
		inst, ok := m.index[id]
		if !ok {
			continue
		}
		if inst.Owner != nil {
			inst = inst.Owner
		}
		m.destroyLocked(work, inst)
	}
	m.engine.InvalidateAll()
	return nil
}

// Resolve computes the construction order for name.
func (m *Manager) Resolve(ctx context.Context, name string) (*resolver.Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolve(ctx, name)
}

func (m *Manager) resolve(ctx context.Context, names ...string) (res *resolver.Resolution, err error) {
	_, span := tracing.Start(ctx, m.tracer, tracing.SpanResolve)
	defer func() { tracing.End(span, err) }()

	res, err = m.resolver.ResolveMany(names...)
	if err != nil {
		m.metrics.ResolveError(component.ClassResolution)
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrOrderLen, len(res.Order)))
	return res, nil
}

// CreateRoot builds and mounts shape as a new root. It is all-or-nothing:
// on any failure every instance built for the shape is destroyed.
func (m *Manager) CreateRoot(ctx context.Context, shape component.Shape) (snap component.NodeSnapshot, err error) {
	ctx, span := tracing.Start(ctx, m.tracer, tracing.SpanCreateRoot,
		attribute.String(tracing.AttrComponent, shape.Component))
	defer func() { tracing.End(span, err) }()

	if err := shape.Validate(); err != nil {
		return snap, component.Wrap(component.ClassBuild, "create-root", shape.Component, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return snap, cancelled("create-root", shape.Component, err)
	}
	work := context.WithoutCancel(ctx)

	if _, err := m.resolve(work, shape.Components()...); err != nil {
		return snap, err
	}

	root, err := m.buildTree(work, shape, nil)
	if err != nil {
		return snap, err
	}
	m.roots = append(m.roots, root)
	m.engine.InvalidateAncestors(nil)

	if err := m.orch.Mount(work, root); err != nil {
		m.removeRoot(root)
		m.publishFailure(root, err)
		return snap, err
	}
	m.track(root)

	if err := ctx.Err(); err != nil {
		m.destroyLocked(work, root)
		return snap, cancelled("create-root", shape.Component, err)
	}

	m.publish(pubsub.CreatedEvent, root)
	log.Info(log.CatManager, "root created", "root", root.String())
	return component.SnapshotOf(root), nil
}

// InsertChild builds and mounts shape under the mounted instance
// parentID. On failure only the inserted subtree is destroyed.
func (m *Manager) InsertChild(ctx context.Context, parentID string, shape component.Shape) (snap component.NodeSnapshot, err error) {
	ctx, span := tracing.Start(ctx, m.tracer, tracing.SpanInsertChild,
		attribute.String(tracing.AttrComponent, shape.Component),
		attribute.String(tracing.AttrInstanceID, parentID))
	defer func() { tracing.End(span, err) }()

	if err := shape.Validate(); err != nil {
		return snap, component.Wrap(component.ClassBuild, "insert-child", shape.Component, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.index[parentID]
	if !ok || parent.Owner != nil {
		return snap, fmt.Errorf("%w: %s", component.ErrInstanceNotFound, parentID)
	}
	if parent.State() != component.StateMounted {
		return snap, component.Wrap(component.ClassLifecycle, "insert-child", parent.Name(),
			fmt.Errorf("%w: %s is %s", component.ErrNotMounted, parent, parent.State()))
	}
	if shape.Key != "" {
		for _, c := range parent.Children() {
			if c.Name() == shape.Component && c.Key == shape.Key {
				return snap, component.Wrap(component.ClassBuild, "insert-child", shape.Component,
					fmt.Errorf("%w: %s#%s under %s", component.ErrDuplicateKey, shape.Component, shape.Key, parent))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return snap, cancelled("insert-child", shape.Component, err)
	}
	work := context.WithoutCancel(ctx)

	if _, err := m.resolve(work, shape.Components()...); err != nil {
		return snap, err
	}

	node, err := m.buildTree(work, shape, parent)
	if err != nil {
		return snap, err
	}
	if err := m.orch.Mount(work, node); err != nil {
		m.orch.Detach(node)
		m.publishFailure(node, err)
		return snap, err
	}
	m.track(node)

	if err := ctx.Err(); err != nil {
		m.destroyLocked(work, node)
		return snap, cancelled("insert-child", shape.Component, err)
	}

	m.publish(pubsub.CreatedEvent, node)
	log.Info(log.CatManager, "child inserted", "parent", parent.String(), "child", node.String())
	return component.SnapshotOf(node), nil
}

// buildTree constructs shape and its descendants, attaching each node to
// its parent as soon as it is built so later siblings can reference it.
// On failure everything built here is torn down and detached.
func (m *Manager) buildTree(ctx context.Context, shape component.Shape, parent *component.Instance) (*component.Instance, error) {
	res, err := m.resolve(ctx, shape.Component)
	if err != nil {
		return nil, err
	}
	batch, err := m.builder.Build(ctx, res, builder.Request{
		Key:   shape.Key,
		Scope: parent,
		Props: shape.Props,
		Hooks: m.hooks,
	})
	if err != nil {
		return nil, err
	}
	node := batch.Root

	if parent != nil {
		if err := m.orch.Attach(parent, node); err != nil {
			m.orch.Unmount(ctx, node)
			return nil, component.Wrap(component.ClassBuild, "attach", node.Name(), err)
		}
	}
	for _, child := range shape.Children {
		if _, err := m.buildTree(ctx, child, node); err != nil {
			m.orch.Unmount(ctx, node)
			m.orch.Detach(node)
			return nil, err
		}
	}
	return node, nil
}

// Destroy unmounts and removes the subtree rooted at id. An instance ID
// that is no longer live is a no-op; nothing is remembered about destroyed
// instances. Only malformed IDs report ErrInstanceNotFound. An owned dependency cannot be
// destroyed on its own; its owning node is destroyed instead.
func (m *Manager) Destroy(ctx context.Context, id string) (err error) {
	ctx, span := tracing.Start(ctx, m.tracer, tracing.SpanDestroy,
		attribute.String(tracing.AttrInstanceID, id))
	defer func() { tracing.End(span, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.index[id]
	if !ok {
		if component.IsInstanceID(id) {
			return nil
		}
		return fmt.Errorf("%w: %s", component.ErrInstanceNotFound, id)
	}
	if err := ctx.Err(); err != nil {
		return cancelled("destroy", inst.Name(), err)
	}
	if inst.Owner != nil {
		inst = inst.Owner
	}
	m.destroyLocked(context.WithoutCancel(ctx), inst)
	return nil
}

// DestroyAll destroys every root, newest first.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := context.WithoutCancel(ctx)
	for i := len(m.roots) - 1; i >= 0; i-- {
		m.destroyLocked(work, m.roots[i])
	}
}

func (m *Manager) destroyLocked(ctx context.Context, node *component.Instance) {
	if node.State() == component.StateDestroyed {
		return
	}
	m.orch.Unmount(ctx, node)
	if node.Parent() != nil {
		m.orch.Detach(node)
	} else {
		m.removeRoot(node)
	}
	m.untrack(node)
	m.publish(pubsub.DeletedEvent, node)
	log.Info(log.CatManager, "destroyed", "instance", node.String())
}

// Update runs the update hooks of a mounted instance with payload.
func (m *Manager) Update(ctx context.Context, id string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", component.ErrInstanceNotFound, id)
	}
	if err := ctx.Err(); err != nil {
		return cancelled("update", inst.Name(), err)
	}
	if err := m.orch.Update(context.WithoutCancel(ctx), inst, payload); err != nil {
		m.publishFailure(inst, err)
		return err
	}
	m.publish(pubsub.UpdatedEvent, inst)
	return nil
}

// QueryTree returns a deep copy of the forest.
func (m *Manager) QueryTree() component.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := component.Snapshot{Roots: make([]component.NodeSnapshot, 0, len(m.roots))}
	for _, r := range m.roots {
		snap.Roots = append(snap.Roots, component.SnapshotOf(r))
	}
	return snap
}

// Instance returns a snapshot of one live instance.
func (m *Manager) Instance(id string) (component.NodeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.index[id]
	if !ok {
		return component.NodeSnapshot{}, fmt.Errorf("%w: %s", component.ErrInstanceNotFound, id)
	}
	return component.SnapshotOf(inst), nil
}

// Match evaluates expr within the subtree of scopeID. An empty scopeID
// searches the whole forest.
func (m *Manager) Match(expr, scopeID string) ([]component.NodeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scope *component.Instance
	if scopeID != "" {
		var ok bool
		if scope, ok = m.index[scopeID]; !ok {
			return nil, fmt.Errorf("%w: %s", component.ErrInstanceNotFound, scopeID)
		}
	}
	matches, err := m.engine.Match(expr, scope)
	if err != nil {
		return nil, err
	}
	return snapshots(matches), nil
}

// Refs returns the instances the ref injection point inject of instance
// id currently matches. The selector is evaluated again in the scope the
// ref was bound in, so the result follows inserts and destroys.
func (m *Manager) Refs(id, inject string) ([]component.NodeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrInstanceNotFound, id)
	}
	dep, ok := inst.Definition.Ref(inject)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no ref %q", component.ErrUnresolvedReference, inst, inject)
	}
	scope, bound := inst.RefScope(inject)
	if !bound {
		return nil, fmt.Errorf("%w: %s ref %q is not bound", component.ErrUnresolvedReference, inst, inject)
	}
	refs, err := m.engine.Resolve(dep.Selector, scope, dep.Optional)
	if err != nil {
		return nil, err
	}
	return snapshots(refs), nil
}

// Value returns the constructed value of a live instance.
func (m *Manager) Value(id string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrInstanceNotFound, id)
	}
	return inst.Value, nil
}

// LiveCount returns the number of live instances, dependencies included.
func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

func (m *Manager) track(node *component.Instance) {
	node.Walk(func(n *component.Instance) bool {
		for _, inst := range append([]*component.Instance{n}, n.Owned...) {
			m.index[inst.ID] = inst
			m.reg.TrackInstance(inst.Name(), inst.ID)
		}
		return true
	})
}

func (m *Manager) untrack(node *component.Instance) {
	node.Walk(func(n *component.Instance) bool {
		for _, inst := range append([]*component.Instance{n}, n.Owned...) {
			delete(m.index, inst.ID)
			m.reg.UntrackInstance(inst.Name(), inst.ID)
		}
		return true
	})
}

func (m *Manager) removeRoot(root *component.Instance) {
	if idx := slices.Index(m.roots, root); idx >= 0 {
		m.roots = slices.Delete(m.roots, idx, idx+1)
	}
	m.engine.InvalidateAncestors(nil)
	m.engine.InvalidateSubtree(root)
}

func (m *Manager) publish(typ pubsub.EventType, inst *component.Instance) {
	m.broker.Publish(typ, Event{InstanceID: inst.ID, Component: inst.Name(), Key: inst.Key})
}

func (m *Manager) publishFailure(inst *component.Instance, err error) {
	m.broker.Publish(pubsub.FailedEvent, Event{InstanceID: inst.ID, Component: inst.Name(), Key: inst.Key, Err: err})
}

func cancelled(op, identity string, cause error) error {
	return component.Wrap(component.ClassLifecycle, op, identity, fmt.Errorf("%w: %w", component.ErrCancelled, cause))
}

func snapshots(insts []*component.Instance) []component.NodeSnapshot {
	out := make([]component.NodeSnapshot, len(insts))
	for i, inst := range insts {
		out[i] = component.SnapshotOf(inst)
	}
	return out
}
