package component

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// NewInstanceID generates a new unique instance ID using UUID v4.
func NewInstanceID() string {
	return uuid.New().String()
}

// IsInstanceID reports whether id has the shape of an ID from NewInstanceID.
func IsInstanceID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NewKey generates an instantiation key for shapes that did not name one.
func NewKey() string {
	return uuid.New().String()[:8]
}

// Instance is a live object built from a Definition.
//
// Tree links (parent, children) are mutated only by the lifecycle
// orchestrator under the manager's exclusive section. Deps are owned:
// the instance tears them down. Refs and Owner are non-owning relations.
type Instance struct {
	ID         string
	Key        string
	Definition *Definition
	Value      any
	Props      map[string]any

	Deps  map[string]*Instance   // inject point -> owned dependency
	Refs  map[string][]*Instance // inject point -> matches when last bound
	Owned []*Instance            // owned dependencies in construction order
	Owner *Instance              // set on dependency instances

	parent    *Instance
	children  []*Instance
	refScopes map[string]*Instance // inject point -> scope it was bound in

	mu      sync.Mutex
	state   State
	history []State
}

// NewInstance creates an instance in the Registered state.
func NewInstance(def *Definition, key string) *Instance {
	if key == "" {
		key = NewKey()
	}
	return &Instance{
		ID:         NewInstanceID(),
		Key:        key,
		Definition: def,
		Deps:       make(map[string]*Instance),
		Refs:       make(map[string][]*Instance),
		refScopes:  make(map[string]*Instance),
		state:      StateRegistered,
		history:    []State{StateRegistered},
	}
}

// BindRef records the matches for a ref injection point and the scope
// they were resolved in. A nil scope means the whole forest.
func (i *Instance) BindRef(inject string, scope *Instance, matches []*Instance) {
	if i.Refs == nil {
		i.Refs = make(map[string][]*Instance)
	}
	if i.refScopes == nil {
		i.refScopes = make(map[string]*Instance)
	}
	i.Refs[inject] = matches
	i.refScopes[inject] = scope
}

// RefScope returns the scope a ref injection point was bound in.
func (i *Instance) RefScope(inject string) (*Instance, bool) {
	scope, ok := i.refScopes[inject]
	return scope, ok
}

// Name returns the identity of the instance's definition.
func (i *Instance) Name() string {
	return i.Definition.Name
}

// Pattern returns the selector pattern of the instance's definition.
func (i *Instance) Pattern() string {
	return i.Definition.Selector
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// History returns every state the instance has been in, oldest first.
func (i *Instance) History() []State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.history)
}

// Transition moves the instance to target if the state machine allows it.
func (i *Instance) Transition(target State) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.state.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, i.String(), i.state, target)
	}
	i.state = target
	i.history = append(i.history, target)
	return nil
}

// Parent returns the tree parent, or nil for roots and dependency instances.
func (i *Instance) Parent() *Instance {
	return i.parent
}

// Children returns the tree children in insertion order.
func (i *Instance) Children() []*Instance {
	return slices.Clone(i.children)
}

// ChildCount returns the number of tree children.
func (i *Instance) ChildCount() int {
	return len(i.children)
}

// AppendChild links child under i. It fails if child already has a parent.
func (i *Instance) AppendChild(child *Instance) error {
	if child.parent != nil {
		return fmt.Errorf("instance %s already has parent %s", child, child.parent)
	}
	for p := i; p != nil; p = p.parent {
		if p == child {
			return fmt.Errorf("instance %s cannot be its own ancestor", child)
		}
	}
	child.parent = i
	i.children = append(i.children, child)
	return nil
}

// RemoveChild unlinks child from i. It reports whether child was linked.
func (i *Instance) RemoveChild(child *Instance) bool {
	idx := slices.Index(i.children, child)
	if idx < 0 {
		return false
	}
	i.children = slices.Delete(i.children, idx, idx+1)
	child.parent = nil
	return true
}

// Ancestors returns the parent chain, nearest first.
func (i *Instance) Ancestors() []*Instance {
	var out []*Instance
	for p := i.parent; p != nil; p = p.parent {
		out = append(out, p)
	}
	return out
}

// Walk visits i and its descendants depth-first, pre-order. Returning
// false from visit skips the subtree below that node.
func (i *Instance) Walk(visit func(*Instance) bool) {
	if !visit(i) {
		return
	}
	for _, c := range i.children {
		c.Walk(visit)
	}
}

// String returns name#key.
func (i *Instance) String() string {
	if i == nil {
		return "<nil>"
	}
	return i.Definition.Name + "#" + i.Key
}
