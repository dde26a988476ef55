package component

import "fmt"

// Shape is the desired tree handed to CreateRoot by the template layer.
type Shape struct {
	Component string         `json:"component" yaml:"component"`
	Key       string         `json:"key,omitempty" yaml:"key,omitempty"`
	Props     map[string]any `json:"props,omitempty" yaml:"props,omitempty"`
	Children  []Shape        `json:"children,omitempty" yaml:"children,omitempty"`
}

// Validate checks that every node names a component and that sibling keys
// are unique.
func (s Shape) Validate() error {
	if s.Component == "" {
		return fmt.Errorf("%w: component is required", ErrInvalidShape)
	}
	keys := make(map[string]bool, len(s.Children))
	for i, c := range s.Children {
		if c.Key != "" {
			id := c.Component + "#" + c.Key
			if keys[id] {
				return fmt.Errorf("%w: shape %s: %s", ErrDuplicateKey, s.Component, id)
			}
			keys[id] = true
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("shape %s child %d: %w", s.Component, i, err)
		}
	}
	return nil
}

// Components returns every component identity in the shape, pre-order,
// without duplicates.
func (s Shape) Components() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(Shape)
	walk = func(n Shape) {
		if !seen[n.Component] {
			seen[n.Component] = true
			out = append(out, n.Component)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(s)
	return out
}

// NodeSnapshot is an immutable copy of one tree node.
type NodeSnapshot struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Key       string         `json:"key"`
	State     string         `json:"state"`
	Deps      []NodeSnapshot `json:"deps,omitempty"`
	Children  []NodeSnapshot `json:"children,omitempty"`
}

// Snapshot is the observable state of a component tree.
type Snapshot struct {
	Roots []NodeSnapshot `json:"roots"`
}

// Count returns the number of nodes in the snapshot, dependencies included.
func (s Snapshot) Count() int {
	var n int
	var walk func([]NodeSnapshot)
	walk = func(nodes []NodeSnapshot) {
		for _, node := range nodes {
			n++
			walk(node.Deps)
			walk(node.Children)
		}
	}
	walk(s.Roots)
	return n
}

// SnapshotOf copies the subtree rooted at inst.
func SnapshotOf(inst *Instance) NodeSnapshot {
	node := NodeSnapshot{
		ID:        inst.ID,
		Component: inst.Name(),
		Key:       inst.Key,
		State:     inst.State().String(),
	}
	for _, dep := range inst.Owned {
		node.Deps = append(node.Deps, NodeSnapshot{
			ID:        dep.ID,
			Component: dep.Name(),
			Key:       dep.Key,
			State:     dep.State().String(),
		})
	}
	for _, c := range inst.children {
		node.Children = append(node.Children, SnapshotOf(c))
	}
	return node
}
