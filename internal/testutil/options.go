package testutil

import "github.com/zjrosen/tessera/internal/component"

// DefOption configures a definition during DefinitionSet setup.
type DefOption func(*component.Definition)

// Pattern sets the selector pattern.
func Pattern(p string) DefOption {
	return func(d *component.Definition) { d.Selector = p }
}

// Requires adds owning dependencies by name.
func Requires(names ...string) DefOption {
	return func(d *component.Definition) {
		for _, n := range names {
			d.Dependencies = append(d.Dependencies, component.Dependency{Name: n})
		}
	}
}

// OptionalRequires adds optional owning dependencies by name.
func OptionalRequires(names ...string) DefOption {
	return func(d *component.Definition) {
		for _, n := range names {
			d.Dependencies = append(d.Dependencies, component.Dependency{Name: n, Optional: true})
		}
	}
}

// Ref adds a required selector ref injected as inject.
func Ref(inject, selector string) DefOption {
	return func(d *component.Definition) {
		d.Dependencies = append(d.Dependencies, component.Dependency{Selector: selector, Inject: inject})
	}
}

// OptionalRef adds an optional selector ref.
func OptionalRef(inject, selector string) DefOption {
	return func(d *component.Definition) {
		d.Dependencies = append(d.Dependencies, component.Dependency{Selector: selector, Inject: inject, Optional: true})
	}
}

// DeferredRef adds a ref bound after mount.
func DeferredRef(inject, selector string, optional bool) DefOption {
	return func(d *component.Definition) {
		d.Dependencies = append(d.Dependencies, component.Dependency{
			Selector: selector, Inject: inject, Deferred: true, Optional: optional,
		})
	}
}

// Constructor names the factory.
func Constructor(name string) DefOption {
	return func(d *component.Definition) { d.Constructor = name }
}

// Hook attaches a named hook to phase.
func Hook(phase component.Phase, name string) DefOption {
	return func(d *component.Definition) {
		d.Hooks = append(d.Hooks, component.HookRef{Phase: phase, Name: name})
	}
}

// Recorded attaches the recorder hook to every phase.
func Recorded() DefOption {
	return func(d *component.Definition) {
		for _, p := range []component.Phase{
			component.PhaseMount, component.PhaseUpdate, component.PhaseUnmount, component.PhaseDestroy,
		} {
			d.Hooks = append(d.Hooks, component.HookRef{Phase: p, Name: RecordHook(p)})
		}
	}
}

// Labels sets labels.
func Labels(labels ...string) DefOption {
	return func(d *component.Definition) { d.Labels = labels }
}
