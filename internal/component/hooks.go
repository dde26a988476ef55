package component

import (
	"context"
	"fmt"
	"sync"
)

// HookFunc is user code run on a lifecycle phase. payload is the opaque
// value passed to Update; it is nil for the other phases.
type HookFunc func(ctx context.Context, inst *Instance, payload any) error

// BuildContext is handed to a Factory while its instance is Resolving.
type BuildContext struct {
	Instance *Instance
	Props    map[string]any
}

// Dep returns the constructed value of an owned dependency.
func (bc BuildContext) Dep(inject string) (any, bool) {
	dep, ok := bc.Instance.Deps[inject]
	if !ok || dep == nil {
		return nil, false
	}
	return dep.Value, true
}

// Refs returns the instances bound to a ref injection point.
func (bc BuildContext) Refs(inject string) []*Instance {
	return bc.Instance.Refs[inject]
}

// Factory constructs the value backing an instance.
type Factory func(ctx context.Context, bc BuildContext) (any, error)

// HookTable maps the hook and constructor names used in definitions to
// Go functions. It is safe for concurrent use.
type HookTable struct {
	mu        sync.RWMutex
	hooks     map[string]HookFunc
	factories map[string]Factory
}

// NewHookTable creates an empty table.
func NewHookTable() *HookTable {
	return &HookTable{
		hooks:     make(map[string]HookFunc),
		factories: make(map[string]Factory),
	}
}

// RegisterHook binds name to fn, replacing any previous binding.
func (t *HookTable) RegisterHook(name string, fn HookFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("hook name and function are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[name] = fn
	return nil
}

// RegisterFactory binds name to f, replacing any previous binding.
func (t *HookTable) RegisterFactory(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("factory name and function are required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[name] = f
	return nil
}

// Hook looks up a hook by name.
func (t *HookTable) Hook(name string) (HookFunc, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.hooks[name]
	return fn, ok
}

// Factory looks up a constructor by name.
func (t *HookTable) Factory(name string) (Factory, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.factories[name]
	return f, ok
}
