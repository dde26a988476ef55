// Package presentation converts engine values into the JSON and text
// shapes printed by the CLI.
package presentation

import (
	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/resolver"
)

// DefinitionDTO represents a registered component definition.
type DefinitionDTO struct {
	Name        string              `json:"name"`
	Version     int                 `json:"version"`
	Selector    string              `json:"selector,omitempty"`
	Constructor string              `json:"constructor,omitempty"`
	Requires    []string            `json:"requires"` // always present, owning dependencies
	Refs        []RefDTO            `json:"refs,omitempty"`
	Hooks       map[string][]string `json:"hooks,omitempty"`
	Labels      []string            `json:"labels,omitempty"`
	Live        int                 `json:"live"`
}

// RefDTO represents one selector ref of a definition.
type RefDTO struct {
	Inject   string `json:"inject"`
	Selector string `json:"selector"`
	Optional bool   `json:"optional,omitempty"`
	Deferred bool   `json:"deferred,omitempty"`
}

// DefinitionSource supplies the registry facts a DefinitionDTO carries.
type DefinitionSource interface {
	Version(name string) int
	LiveInstances(name string) []string
}

// FromDefinition converts a definition to a DTO.
func FromDefinition(def *component.Definition, src DefinitionSource) DefinitionDTO {
	dto := DefinitionDTO{
		Name:        def.Name,
		Selector:    def.Selector,
		Constructor: def.Constructor,
		Requires:    make([]string, 0),
		Labels:      def.Labels,
	}
	if src != nil {
		dto.Version = src.Version(def.Name)
		dto.Live = len(src.LiveInstances(def.Name))
	}
	for _, dep := range def.Dependencies {
		if dep.Kind() == component.DependencyRef {
			dto.Refs = append(dto.Refs, RefDTO{
				Inject:   dep.InjectAs(),
				Selector: dep.Selector,
				Optional: dep.Optional,
				Deferred: dep.Deferred,
			})
			continue
		}
		name := dep.Name
		if dep.Optional {
			name += "?"
		}
		dto.Requires = append(dto.Requires, name)
	}
	if len(def.Hooks) > 0 {
		dto.Hooks = make(map[string][]string)
		for _, h := range def.Hooks {
			dto.Hooks[string(h.Phase)] = append(dto.Hooks[string(h.Phase)], h.Name)
		}
	}
	return dto
}

// FromDefinitions converts a slice of definitions to DTOs.
func FromDefinitions(defs []*component.Definition, src DefinitionSource) []DefinitionDTO {
	dtos := make([]DefinitionDTO, len(defs))
	for i, def := range defs {
		dtos[i] = FromDefinition(def, src)
	}
	return dtos
}

// ResolutionDTO represents a construction order.
type ResolutionDTO struct {
	Root      string              `json:"root"`
	Order     []string            `json:"order"`
	DependsOn map[string][]string `json:"depends_on"` // transitive, per identity
	Omitted   []string            `json:"omitted,omitempty"`
}

// FromResolution converts a resolution to a DTO.
func FromResolution(res *resolver.Resolution) ResolutionDTO {
	dto := ResolutionDTO{
		Root:      res.Root(),
		Order:     res.Order,
		DependsOn: make(map[string][]string, len(res.Order)),
		Omitted:   res.Omitted,
	}
	for _, name := range res.Order {
		deps := res.Graph.DependenciesOf(name)
		if deps == nil {
			deps = []string{}
		}
		dto.DependsOn[name] = deps
	}
	return dto
}
