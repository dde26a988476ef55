// Package builder turns a resolution into constructed instances.
//
// One Build call produces a batch: an instance per identity in the
// resolution order. The last identity is the batch root; every earlier
// instance is an owned dependency of it. If any constructor fails the
// instances built so far are torn down in reverse construction order and
// nothing is returned.
package builder

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/resolver"
	"github.com/zjrosen/tessera/internal/tracing"
)

// RefResolver resolves selector refs against the live tree.
type RefResolver interface {
	Resolve(expr string, scope *component.Instance, optional bool) ([]*component.Instance, error)
}

// Lifecycle performs state transitions and teardown on behalf of the
// builder. *lifecycle.Orchestrator implements it.
type Lifecycle interface {
	Transition(ctx context.Context, inst *component.Instance, target component.State) error
	Teardown(ctx context.Context, inst *component.Instance)
}

// Request parameterizes one build.
type Request struct {
	// Key is the instantiation key of the root. Empty generates one.
	Key string
	// Scope is the node non-deferred refs are resolved against; nil
	// searches the whole forest.
	Scope *component.Instance
	Props map[string]any
	Hooks *component.HookTable
}

// Batch is the result of a successful build.
type Batch struct {
	Root *component.Instance
	// Instances lists every instance in construction order; Root is last.
	Instances []*component.Instance
}

// Option configures a Builder.
type Option func(*Builder)

// WithTracer records build spans with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Builder) { b.tracer = tracer }
}

// WithMetrics counts build rollbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// Builder constructs instances.
type Builder struct {
	refs    RefResolver
	lc      Lifecycle
	tracer  trace.Tracer
	metrics *metrics.Metrics
}

// New creates a builder.
func New(refs RefResolver, lc Lifecycle, opts ...Option) *Builder {
	b := &Builder{refs: refs, lc: lc, tracer: tracing.NoopTracer()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build constructs every identity in res.Order.
func (b *Builder) Build(ctx context.Context, res *resolver.Resolution, req Request) (batch *Batch, err error) {
	if res == nil || len(res.Order) == 0 {
		return nil, component.Wrap(component.ClassBuild, "build", "", fmt.Errorf("empty resolution"))
	}
	root := res.Root()

	ctx, span := tracing.Start(ctx, b.tracer, tracing.SpanBuild,
		attribute.String(tracing.AttrComponent, root),
		attribute.Int(tracing.AttrBatchSize, len(res.Order)),
	)
	defer func() { tracing.End(span, err) }()

	key := req.Key
	if key == "" {
		key = component.NewKey()
	}

	built := make(map[string]*component.Instance, len(res.Order))
	constructed := make([]*component.Instance, 0, len(res.Order))
	fail := func(cause error) (*Batch, error) {
		if len(constructed) > 0 {
			span.AddEvent(tracing.EventRollback)
			b.metrics.Rollback("build")
			b.rollback(context.WithoutCancel(ctx), constructed)
		}
		return nil, component.Wrap(component.ClassBuild, "build", root, cause)
	}

	for i, name := range res.Order {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("%w: %w", component.ErrCancelled, err))
		}

		def, ok := res.Definitions[name]
		if !ok {
			return fail(fmt.Errorf("%w: %s missing from resolution", component.ErrNotFound, name))
		}

		instKey := key
		if i < len(res.Order)-1 {
			instKey = key + "." + name
		}
		inst := component.NewInstance(def, instKey)
		if name == root {
			inst.Props = req.Props
		}

		if err := b.construct(ctx, inst, built, req); err != nil {
			return fail(err)
		}
		built[name] = inst
		constructed = append(constructed, inst)
	}

	rootInst := constructed[len(constructed)-1]
	for _, dep := range constructed[:len(constructed)-1] {
		dep.Owner = rootInst
		rootInst.Owned = append(rootInst.Owned, dep)
	}
	log.Debug(log.CatBuild, "batch built", "root", rootInst.String(), "size", len(constructed))
	return &Batch{Root: rootInst, Instances: constructed}, nil
}

// construct takes inst from Registered to Constructed.
func (b *Builder) construct(ctx context.Context, inst *component.Instance, built map[string]*component.Instance, req Request) error {
	if err := b.lc.Transition(ctx, inst, component.StateResolving); err != nil {
		return err
	}

	for _, dep := range inst.Definition.Dependencies {
		inject := dep.InjectAs()
		switch dep.Kind() {
		case component.DependencyRequire:
			d, ok := built[dep.Name]
			if !ok {
				if dep.Optional {
					continue
				}
				return fmt.Errorf("%w: %s requires %s", component.ErrUnknownDependency, inst, dep.Name)
			}
			inst.Deps[inject] = d
		case component.DependencyRef:
			if dep.Deferred {
				continue
			}
			matches, err := b.refs.Resolve(dep.Selector, req.Scope, dep.Optional)
			if err != nil {
				return fmt.Errorf("%s ref %q: %w", inst, dep.Selector, err)
			}
			inst.BindRef(inject, req.Scope, matches)
		}
	}

	if ctor := inst.Definition.Constructor; ctor != "" {
		factory, ok := req.Hooks.Factory(ctor)
		if !ok {
			return fmt.Errorf("%w: %s constructor %q", component.ErrFactoryMissing, inst, ctor)
		}
		value, err := factory(ctx, component.BuildContext{Instance: inst, Props: inst.Props})
		if err != nil {
			return fmt.Errorf("%s constructor %q: %w", inst, ctor, err)
		}
		inst.Value = value
	}

	return b.lc.Transition(ctx, inst, component.StateConstructed)
}

func (b *Builder) rollback(ctx context.Context, constructed []*component.Instance) {
	for i := len(constructed) - 1; i >= 0; i-- {
		log.Debug(log.CatBuild, "rolling back", "instance", constructed[i].String())
		b.lc.Teardown(ctx, constructed[i])
	}
}
