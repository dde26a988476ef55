// Package testutil holds fixtures shared by the engine's package tests:
// a fluent definition set, recording hooks and canned component graphs.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/registry"
)

// DefinitionSet accumulates definitions and registers them in order.
type DefinitionSet struct {
	t    *testing.T
	defs []*component.Definition
}

// NewDefinitionSet creates an empty set.
func NewDefinitionSet(t *testing.T) *DefinitionSet {
	t.Helper()
	return &DefinitionSet{t: t}
}

// With adds a definition named name.
func (s *DefinitionSet) With(name string, opts ...DefOption) *DefinitionSet {
	def := &component.Definition{Name: name}
	for _, opt := range opts {
		opt(def)
	}
	s.defs = append(s.defs, def)
	return s
}

// Definitions returns the accumulated definitions.
func (s *DefinitionSet) Definitions() []*component.Definition {
	return s.defs
}

// Registry registers every definition into a new registry.
func (s *DefinitionSet) Registry() *registry.Registry {
	s.t.Helper()
	reg := registry.New()
	s.RegisterInto(reg)
	return reg
}

// RegisterInto registers every definition into reg.
func (s *DefinitionSet) RegisterInto(reg interface {
	Register(*component.Definition) (registry.RegisterResult, error)
}) {
	s.t.Helper()
	for _, def := range s.defs {
		_, err := reg.Register(def)
		require.NoError(s.t, err, "register %s", def.Name)
	}
}
