// Package component defines the data model shared by the registry, the
// resolver, the builder and the lifecycle orchestrator: definitions,
// dependency declarations, hook references, instances and their states.
//
// Definitions are plain records. They are produced outside the engine
// (by a metadata layer or the YAML loader) and are never mutated once
// registered; the registry stores its own copy.
package component

import (
	"fmt"
	"slices"
	"strings"
)

// Phase identifies the lifecycle step a hook runs in.
type Phase string

const (
	PhaseMount   Phase = "mount"
	PhaseUpdate  Phase = "update"
	PhaseUnmount Phase = "unmount"
	PhaseDestroy Phase = "destroy"
)

// IsValid returns true if p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseMount, PhaseUpdate, PhaseUnmount, PhaseDestroy:
		return true
	}
	return false
}

// HookRef points at a hook registered in a HookTable.
type HookRef struct {
	Phase Phase  `json:"phase" yaml:"phase"`
	Name  string `json:"name" yaml:"name"`
}

// DependencyKind distinguishes owning dependencies from selector refs.
type DependencyKind int

const (
	// DependencyRequire is a dependency on a definition by name. The
	// dependent owns the instance built for it.
	DependencyRequire DependencyKind = iota
	// DependencyRef is a selector lookup against the live tree. The
	// result is a non-owning relation.
	DependencyRef
)

// Dependency declares one injection point of a definition.
type Dependency struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`         // target identity (owning)
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"` // ref expression (non-owning)
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Inject   string `json:"inject,omitempty" yaml:"inject,omitempty"`     // injection point; defaults to Name or Selector
	Deferred bool   `json:"deferred,omitempty" yaml:"deferred,omitempty"` // bind the ref after mount
}

// Kind returns whether the dependency is an owning requirement or a ref.
func (d Dependency) Kind() DependencyKind {
	if d.Selector != "" {
		return DependencyRef
	}
	return DependencyRequire
}

// Target returns the name or selector the dependency points at.
func (d Dependency) Target() string {
	if d.Selector != "" {
		return d.Selector
	}
	return d.Name
}

// InjectAs returns the injection point, falling back to the target.
func (d Dependency) InjectAs() string {
	if d.Inject != "" {
		return d.Inject
	}
	return d.Target()
}

// Definition describes a component type.
type Definition struct {
	Name         string       `json:"name" yaml:"name"`
	Selector     string       `json:"selector,omitempty" yaml:"selector,omitempty"`
	Constructor  string       `json:"constructor,omitempty" yaml:"constructor,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Hooks        []HookRef    `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Labels       []string     `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Validate checks that the definition is well formed.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition cannot be nil", ErrInvalidDefinition)
	}
	if err := validateToken("name", d.Name); err != nil {
		return err
	}
	if d.Selector != "" {
		if err := validateToken("selector", d.Selector); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(d.Dependencies))
	for i, dep := range d.Dependencies {
		switch {
		case dep.Name == "" && dep.Selector == "":
			return fmt.Errorf("%w: %s dependency %d: name or selector is required", ErrInvalidDefinition, d.Name, i)
		case dep.Name != "" && dep.Selector != "":
			return fmt.Errorf("%w: %s dependency %d: name and selector are mutually exclusive", ErrInvalidDefinition, d.Name, i)
		case dep.Deferred && dep.Kind() != DependencyRef:
			return fmt.Errorf("%w: %s dependency %d: only selector refs can be deferred", ErrInvalidDefinition, d.Name, i)
		case dep.Name == d.Name:
			return fmt.Errorf("%w: %s depends on itself", ErrInvalidDefinition, d.Name)
		}
		inject := dep.InjectAs()
		if seen[inject] {
			return fmt.Errorf("%w: %s: duplicate injection point %q", ErrInvalidDefinition, d.Name, inject)
		}
		seen[inject] = true
	}

	for i, h := range d.Hooks {
		if !h.Phase.IsValid() {
			return fmt.Errorf("%w: %s hook %d: unknown phase %q", ErrInvalidDefinition, d.Name, i, h.Phase)
		}
		if h.Name == "" {
			return fmt.Errorf("%w: %s hook %d: name is required", ErrInvalidDefinition, d.Name, i)
		}
	}
	return nil
}

// Ref returns the ref dependency injected at inject.
func (d *Definition) Ref(inject string) (Dependency, bool) {
	for _, dep := range d.Dependencies {
		if dep.Kind() == DependencyRef && dep.InjectAs() == inject {
			return dep, true
		}
	}
	return Dependency{}, false
}

// HooksFor returns the hook references of one phase in declaration order.
func (d *Definition) HooksFor(phase Phase) []HookRef {
	var refs []HookRef
	for _, h := range d.Hooks {
		if h.Phase == phase {
			refs = append(refs, h)
		}
	}
	return refs
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Dependencies = slices.Clone(d.Dependencies)
	c.Hooks = slices.Clone(d.Hooks)
	c.Labels = slices.Clone(d.Labels)
	return &c
}

func validateToken(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidDefinition, field)
	}
	if strings.ContainsAny(v, " \t\n>#*") || strings.HasPrefix(v, ":") {
		return fmt.Errorf("%w: %s %q contains reserved characters", ErrInvalidDefinition, field, v)
	}
	return nil
}
