package component

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateRegistered, StateResolving, true},
		{StateResolving, StateConstructed, true},
		{StateConstructed, StateMounted, true},
		{StateConstructed, StateUnmounting, true},
		{StateMounted, StateUpdating, true},
		{StateUpdating, StateMounted, true},
		{StateMounted, StateUnmounting, true},
		{StateUnmounting, StateDestroyed, true},
		{StateRegistered, StateMounted, false},
		{StateResolving, StateMounted, false},
		{StateMounted, StateDestroyed, false},
		{StateConstructed, StateDestroyed, false},
		{StateUpdating, StateUnmounting, false},
		{StateDestroyed, StateRegistered, false},
		{State(99), StateResolving, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestState_Flags(t *testing.T) {
	require.True(t, StateDestroyed.IsTerminal())
	require.False(t, StateMounted.IsTerminal())
	require.True(t, StateMounted.IsLive())
	require.False(t, StateUnmounting.IsLive())
	require.False(t, State(42).IsValid())
	require.Equal(t, "unknown", State(42).String())
}

func TestInstance_TransitionRecordsHistory(t *testing.T) {
	inst := NewInstance(&Definition{Name: "x"}, "k1")
	require.NoError(t, inst.Transition(StateResolving))
	require.NoError(t, inst.Transition(StateConstructed))

	err := inst.Transition(StateDestroyed)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StateConstructed, inst.State())
	require.Equal(t, []State{StateRegistered, StateResolving, StateConstructed}, inst.History())
}

func TestInstance_TreeLinks(t *testing.T) {
	a := NewInstance(&Definition{Name: "a"}, "a")
	b := NewInstance(&Definition{Name: "b"}, "b")
	c := NewInstance(&Definition{Name: "c"}, "c")

	require.NoError(t, a.AppendChild(b))
	require.NoError(t, b.AppendChild(c))
	require.Error(t, a.AppendChild(b), "b already has a parent")
	require.Error(t, c.AppendChild(a), "a cycle must be rejected")

	var order []string
	a.Walk(func(i *Instance) bool {
		order = append(order, i.Name())
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, order)
	require.Equal(t, []*Instance{b, a}, c.Ancestors())

	require.True(t, a.RemoveChild(b))
	require.Nil(t, b.Parent())
	require.False(t, a.RemoveChild(b))
	require.Zero(t, a.ChildCount())
}

func TestInstance_BindRef(t *testing.T) {
	scope := NewInstance(&Definition{Name: "list"}, "l")
	row := NewInstance(&Definition{Name: "row"}, "r")
	inst := &Instance{Definition: &Definition{Name: "summary"}}

	_, ok := inst.RefScope("rows")
	require.False(t, ok)

	inst.BindRef("rows", scope, []*Instance{row})
	got, ok := inst.RefScope("rows")
	require.True(t, ok)
	require.Same(t, scope, got)
	require.Equal(t, []*Instance{row}, inst.Refs["rows"])

	inst.BindRef("all", nil, nil)
	got, ok = inst.RefScope("all")
	require.True(t, ok, "forest-wide binding is still a binding")
	require.Nil(t, got)
}

func TestIsInstanceID(t *testing.T) {
	require.True(t, IsInstanceID(NewInstanceID()))
	require.False(t, IsInstanceID(""))
	require.False(t, IsInstanceID("row#k1"))
}

func TestDefinition_Ref(t *testing.T) {
	def := &Definition{Name: "list", Dependencies: []Dependency{
		{Name: "store"},
		{Selector: ".item", Inject: "items"},
		{Selector: ".toast"},
	}}

	dep, ok := def.Ref("items")
	require.True(t, ok)
	require.Equal(t, ".item", dep.Selector)

	_, ok = def.Ref(".toast")
	require.True(t, ok, "inject point defaults to the selector")

	_, ok = def.Ref("store")
	require.False(t, ok, "requirements are not refs")
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		wantErr string
	}{
		{"valid", &Definition{Name: "app", Selector: ".app", Dependencies: []Dependency{{Name: "cfg"}, {Selector: ".item", Optional: true}}}, ""},
		{"nil", nil, "cannot be nil"},
		{"missing name", &Definition{}, "name is required"},
		{"reserved selector", &Definition{Name: "a", Selector: "a b"}, "reserved characters"},
		{"empty dependency", &Definition{Name: "a", Dependencies: []Dependency{{}}}, "name or selector is required"},
		{"both targets", &Definition{Name: "a", Dependencies: []Dependency{{Name: "b", Selector: ".b"}}}, "mutually exclusive"},
		{"deferred name", &Definition{Name: "a", Dependencies: []Dependency{{Name: "b", Deferred: true}}}, "only selector refs"},
		{"self dependency", &Definition{Name: "a", Dependencies: []Dependency{{Name: "a"}}}, "depends on itself"},
		{"duplicate inject", &Definition{Name: "a", Dependencies: []Dependency{{Name: "b", Inject: "x"}, {Name: "c", Inject: "x"}}}, "duplicate injection point"},
		{"bad phase", &Definition{Name: "a", Hooks: []HookRef{{Phase: "render", Name: "h"}}}, "unknown phase"},
		{"hook without name", &Definition{Name: "a", Hooks: []HookRef{{Phase: PhaseMount}}}, "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidDefinition)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefinition_CloneIsDeep(t *testing.T) {
	def := &Definition{Name: "a", Dependencies: []Dependency{{Name: "b"}}, Hooks: []HookRef{{Phase: PhaseMount, Name: "m"}}}
	c := def.Clone()
	c.Dependencies[0].Name = "z"
	c.Hooks[0].Name = "z"
	require.Equal(t, "b", def.Dependencies[0].Name)
	require.Equal(t, "m", def.Hooks[0].Name)
}

func TestError_Classification(t *testing.T) {
	err := Wrap(ClassResolution, "resolve", "app", &CycleError{Path: []string{"a", "b", "a"}})
	require.True(t, IsResolution(err))
	require.False(t, IsBuild(err))
	require.ErrorIs(t, err, ErrCycleDetected)
	require.Contains(t, err.Error(), "a -> b -> a")

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	require.Equal(t, []string{"a", "b", "a"}, cycle.Path)

	require.Nil(t, Wrap(ClassBuild, "build", "x", nil))
	require.Same(t, err, Wrap(ClassResolution, "other", "y", err))
}

func TestShape_ValidateAndComponents(t *testing.T) {
	s := Shape{Component: "a", Children: []Shape{
		{Component: "b", Key: "1"},
		{Component: "c", Children: []Shape{{Component: "b", Key: "2"}}},
	}}
	require.NoError(t, s.Validate())
	require.Equal(t, []string{"a", "b", "c"}, s.Components())

	dup := Shape{Component: "a", Children: []Shape{{Component: "b", Key: "1"}, {Component: "b", Key: "1"}}}
	require.ErrorIs(t, dup.Validate(), ErrDuplicateKey)
	require.ErrorIs(t, Shape{}.Validate(), ErrInvalidShape)
}
