// Package lifecycle drives constructed instances through mount, update and
// unmount.
//
// Mounting is top-down: a node's owned dependencies mount first, then the
// node, then its children. Unmounting is the mirror image: children reach
// Destroyed before their parent starts unmounting, and owned dependencies
// are torn down last, in reverse construction order. Sibling subtrees may
// mount concurrently up to the configured limit; with a limit of one they
// run strictly in declared order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/pubsub"
	"github.com/zjrosen/tessera/internal/tracing"
)

// Binder resolves selector refs and drops cached bindings after tree
// mutations. *selector.Engine implements it.
type Binder interface {
	Resolve(expr string, scope *component.Instance, optional bool) ([]*component.Instance, error)
	InvalidateAncestors(node *component.Instance)
	InvalidateSubtree(node *component.Instance)
}

// Event is published for every state transition.
type Event struct {
	InstanceID string
	Component  string
	Key        string
	From       component.State
	To         component.State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds how many sibling subtrees mount or unmount at
// once. Values below one are treated as one.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = max(n, 1)
	}
}

// WithHookTimeout fails hooks that run longer than d. Zero disables the
// timeout.
func WithHookTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.hookTimeout = d
	}
}

// WithTracer records spans with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithMetrics records lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator runs lifecycle transitions and hooks.
type Orchestrator struct {
	hooks       *component.HookTable
	binder      Binder
	concurrency int
	hookTimeout time.Duration
	tracer      trace.Tracer
	metrics     *metrics.Metrics
	broker      *pubsub.Broker[Event]
}

// New creates an orchestrator resolving hook names through hooks.
func New(hooks *component.HookTable, binder Binder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		hooks:       hooks,
		binder:      binder,
		concurrency: 1,
		tracer:      tracing.NoopTracer(),
		broker:      pubsub.NewBrokerWithBuffer[Event](256),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe streams transition events until ctx is cancelled.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan pubsub.Event[Event] {
	return o.broker.Subscribe(ctx)
}

// Close releases subscribers.
func (o *Orchestrator) Close() {
	o.broker.Close()
}

// Transition moves inst to target and reports it to the span in ctx, the
// metrics and subscribers.
func (o *Orchestrator) Transition(ctx context.Context, inst *component.Instance, target component.State) error {
	from := inst.State()
	if err := inst.Transition(target); err != nil {
		return err
	}
	tracing.Transition(ctx, inst, target)
	o.metrics.Transition(inst, target)
	o.broker.Publish(pubsub.TransitionEvent, Event{
		InstanceID: inst.ID,
		Component:  inst.Name(),
		Key:        inst.Key,
		From:       from,
		To:         target,
	})
	log.Debug(log.CatLifecycle, "transition", "instance", inst.String(), "from", from.String(), "to", target.String())
	return nil
}

// Mount mounts node, its owned dependencies and its subtree. On failure
// the whole subtree is torn down and the error is returned.
func (o *Orchestrator) Mount(ctx context.Context, node *component.Instance) (err error) {
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanMount, tracing.InstanceAttrs(node)...)
	defer func() { tracing.End(span, err) }()

	if err := o.mountTree(ctx, node); err != nil {
		log.Warn(log.CatLifecycle, "mount failed, rolling back", "instance", node.String(), "error", err)
		span.AddEvent(tracing.EventRollback)
		o.metrics.Rollback("mount")
		o.unmountTree(context.WithoutCancel(ctx), node)
		return component.Wrap(component.ClassLifecycle, "mount", node.Name(), err)
	}
	return nil
}

func (o *Orchestrator) mountTree(ctx context.Context, node *component.Instance) error {
	for _, dep := range node.Owned {
		if err := o.mountOne(ctx, dep); err != nil {
			return err
		}
	}
	if err := o.mountOne(ctx, node); err != nil {
		return err
	}
	if err := o.eachChild(ctx, node.Children(), o.mountTree); err != nil {
		return err
	}
	return o.ResolveDeferred(ctx, node)
}

func (o *Orchestrator) mountOne(ctx context.Context, inst *component.Instance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if inst.State() != component.StateConstructed {
		return fmt.Errorf("%w: %s is %s, not constructed", component.ErrInvalidTransition, inst, inst.State())
	}
	if err := o.runHooks(ctx, inst, component.PhaseMount, nil); err != nil {
		return err
	}
	return o.Transition(ctx, inst, component.StateMounted)
}

// eachChild runs fn for every child, concurrently up to the configured
// limit. With a limit of one children run in order and the first error
// stops the walk.
func (o *Orchestrator) eachChild(ctx context.Context, children []*component.Instance, fn func(context.Context, *component.Instance) error) error {
	if o.concurrency <= 1 || len(children) <= 1 {
		for _, c := range children {
			if err := fn(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, c := range children {
		g.Go(func() error { return fn(gctx, c) })
	}
	return g.Wait()
}

// ResolveDeferred binds the deferred refs of node and its owned
// dependencies, scoped to node's subtree.
func (o *Orchestrator) ResolveDeferred(_ context.Context, node *component.Instance) error {
	for _, inst := range append([]*component.Instance{node}, node.Owned...) {
		for _, dep := range inst.Definition.Dependencies {
			if dep.Kind() != component.DependencyRef || !dep.Deferred {
				continue
			}
			matches, err := o.binder.Resolve(dep.Selector, node, dep.Optional)
			if err != nil {
				return fmt.Errorf("%s deferred ref %q: %w", inst, dep.Selector, err)
			}
			inst.BindRef(dep.InjectAs(), node, matches)
		}
	}
	return nil
}

// Update runs the update hooks of a mounted instance. A failing hook
// leaves the instance Mounted and returns a Lifecycle error.
func (o *Orchestrator) Update(ctx context.Context, inst *component.Instance, payload any) (err error) {
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanUpdate, tracing.InstanceAttrs(inst)...)
	defer func() { tracing.End(span, err) }()

	if inst.State() != component.StateMounted {
		return component.Wrap(component.ClassLifecycle, "update", inst.Name(),
			fmt.Errorf("%w: %s is %s", component.ErrNotMounted, inst, inst.State()))
	}
	if err := o.Transition(ctx, inst, component.StateUpdating); err != nil {
		return component.Wrap(component.ClassLifecycle, "update", inst.Name(), err)
	}
	hookErr := o.runHooks(ctx, inst, component.PhaseUpdate, payload)
	if err := o.Transition(ctx, inst, component.StateMounted); err != nil {
		return component.Wrap(component.ClassLifecycle, "update", inst.Name(), err)
	}
	if hookErr != nil {
		return component.Wrap(component.ClassLifecycle, "update", inst.Name(), hookErr)
	}
	return nil
}

// Unmount tears down node's subtree bottom-up, then node, then its owned
// dependencies. Hook errors are logged; teardown always completes.
// Destroyed nodes are skipped.
func (o *Orchestrator) Unmount(ctx context.Context, node *component.Instance) {
	ctx, span := tracing.Start(ctx, o.tracer, tracing.SpanUnmount, tracing.InstanceAttrs(node)...)
	defer tracing.End(span, nil)
	o.unmountTree(ctx, node)
}

func (o *Orchestrator) unmountTree(ctx context.Context, node *component.Instance) {
	if node.State() == component.StateDestroyed {
		return
	}
	children := node.Children()
	slices.Reverse(children)
	_ = o.eachChild(ctx, children, func(ctx context.Context, c *component.Instance) error {
		o.unmountTree(ctx, c)
		return nil
	})

	o.teardown(ctx, node)
	for i := len(node.Owned) - 1; i >= 0; i-- {
		o.teardown(ctx, node.Owned[i])
	}
}

// Teardown moves a single constructed or mounted instance to Destroyed,
// running unmount hooks only if it was mounted, then destroy hooks.
func (o *Orchestrator) Teardown(ctx context.Context, inst *component.Instance) {
	o.teardown(ctx, inst)
}

func (o *Orchestrator) teardown(ctx context.Context, inst *component.Instance) {
	state := inst.State()
	switch state {
	case component.StateDestroyed:
		return
	case component.StateConstructed, component.StateMounted:
	default:
		log.Warn(log.CatLifecycle, "cannot tear down instance", "instance", inst.String(), "state", state.String())
		return
	}

	if err := o.Transition(ctx, inst, component.StateUnmounting); err != nil {
		log.ErrorErr(log.CatLifecycle, "unmount transition failed", err, "instance", inst.String())
		return
	}
	if state == component.StateMounted {
		if err := o.runHooks(ctx, inst, component.PhaseUnmount, nil); err != nil {
			log.ErrorErr(log.CatLifecycle, "unmount hook failed", err, "instance", inst.String())
		}
	}
	if err := o.runHooks(ctx, inst, component.PhaseDestroy, nil); err != nil {
		log.ErrorErr(log.CatLifecycle, "destroy hook failed", err, "instance", inst.String())
	}
	if err := o.Transition(ctx, inst, component.StateDestroyed); err != nil {
		log.ErrorErr(log.CatLifecycle, "destroy transition failed", err, "instance", inst.String())
	}
}

// Attach links child under parent and invalidates the bindings that can
// observe the change.
func (o *Orchestrator) Attach(parent, child *component.Instance) error {
	if err := parent.AppendChild(child); err != nil {
		return err
	}
	o.binder.InvalidateAncestors(parent)
	return nil
}

// Detach unlinks node from its parent, if any, and invalidates bindings
// that could see it, including those scoped inside the detached subtree.
func (o *Orchestrator) Detach(node *component.Instance) {
	parent := node.Parent()
	if parent != nil {
		parent.RemoveChild(node)
	}
	o.binder.InvalidateAncestors(parent)
	o.binder.InvalidateSubtree(node)
}

// runHooks runs the hooks of one phase in declaration order. Mount and
// update stop at the first failure; unmount and destroy run every hook and
// join the errors.
func (o *Orchestrator) runHooks(ctx context.Context, inst *component.Instance, phase component.Phase, payload any) error {
	failFast := phase == component.PhaseMount || phase == component.PhaseUpdate
	var errs []error
	for _, ref := range inst.Definition.HooksFor(phase) {
		fn, ok := o.hooks.Hook(ref.Name)
		if !ok {
			err := fmt.Errorf("%w: %s %s hook %q is not registered", component.ErrHookFailed, inst, phase, ref.Name)
			o.metrics.Hook(inst, phase, 0, err)
			if failFast {
				return err
			}
			errs = append(errs, err)
			continue
		}
		start := time.Now()
		err := o.callHook(ctx, fn, inst, payload)
		o.metrics.Hook(inst, phase, time.Since(start), err)
		if err != nil {
			err = fmt.Errorf("%w: %s %s hook %q: %w", component.ErrHookFailed, inst, phase, ref.Name, err)
			if failFast {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) callHook(ctx context.Context, fn component.HookFunc, inst *component.Instance, payload any) error {
	if o.hookTimeout <= 0 {
		return safeCall(ctx, fn, inst, payload)
	}

	hctx, cancel := context.WithTimeout(ctx, o.hookTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- safeCall(hctx, fn, inst, payload) }()

	timedOut := func() bool {
		return errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	}
	select {
	case err := <-done:
		if err != nil && timedOut() {
			return fmt.Errorf("%w after %s", component.ErrHookTimeout, o.hookTimeout)
		}
		return err
	case <-hctx.Done():
		if timedOut() {
			return fmt.Errorf("%w after %s", component.ErrHookTimeout, o.hookTimeout)
		}
		return ctx.Err()
	}
}

func safeCall(ctx context.Context, fn component.HookFunc, inst *component.Instance, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn(ctx, inst, payload)
}
