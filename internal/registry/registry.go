// Package registry stores component definitions keyed by identity.
//
// The registry is append-only except for explicit Unregister. Registering
// an identity that already exists replaces the definition and reports the
// replacement, so downstream caches keyed on definition contents can be
// invalidated. The registry also tracks which live instances were built
// from each definition so Unregister can hand them to the manager for
// teardown.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/pubsub"
)

// Event is published on every registry change.
type Event struct {
	Name    string
	Version int
}

// RegisterResult describes the outcome of Register.
type RegisterResult struct {
	Previous *component.Definition // nil for a new identity
	Replaced bool
	Version  int    // 1 for a new identity, incremented on each replacement
	Seq      uint64 // registration order; preserved across replacements
}

type entry struct {
	def     *component.Definition
	seq     uint64
	version int
}

// Registry holds component definitions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
	live    map[string][]string // identity -> live instance IDs, in build order
	broker  *pubsub.Broker[Event]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		live:    make(map[string][]string),
		broker:  pubsub.NewBroker[Event](),
	}
}

// Register stores def, replacing any definition with the same identity.
// Invalid definitions are rejected and leave the registry unchanged.
func (r *Registry) Register(def *component.Definition) (RegisterResult, error) {
	if err := def.Validate(); err != nil {
		name := ""
		if def != nil {
			name = def.Name
		}
		return RegisterResult{}, component.Wrap(component.ClassRegistration, "register", name, err)
	}
	stored := def.Clone()

	r.mu.Lock()
	prev, exists := r.entries[stored.Name]
	var res RegisterResult
	if exists {
		prev.def, res.Previous = stored, prev.def
		prev.version++
		res.Replaced, res.Version, res.Seq = true, prev.version, prev.seq
	} else {
		r.nextSeq++
		r.entries[stored.Name] = &entry{def: stored, seq: r.nextSeq, version: 1}
		res.Version, res.Seq = 1, r.nextSeq
	}
	r.mu.Unlock()

	if res.Replaced {
		log.Info(log.CatRegistry, "definition replaced", "component", stored.Name, "version", res.Version)
		r.broker.Publish(pubsub.ReplacedEvent, Event{Name: stored.Name, Version: res.Version})
	} else {
		log.Debug(log.CatRegistry, "definition registered", "component", stored.Name, "seq", res.Seq)
		r.broker.Publish(pubsub.CreatedEvent, Event{Name: stored.Name, Version: res.Version})
	}
	return res, nil
}

// Unregister removes the definition and returns the IDs of live instances
// built from it. The caller is responsible for destroying them.
func (r *Registry) Unregister(name string) ([]string, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", component.ErrNotFound, name)
	}
	delete(r.entries, name)
	ids := r.live[name]
	delete(r.live, name)
	r.mu.Unlock()

	log.Info(log.CatRegistry, "definition unregistered", "component", name, "live", len(ids))
	r.broker.Publish(pubsub.DeletedEvent, Event{Name: name, Version: e.version})
	return ids, nil
}

// Lookup returns a copy of the definition registered under name.
func (r *Registry) Lookup(name string) (*component.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrNotFound, name)
	}
	return e.def.Clone(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Seq returns the registration sequence of name, or 0 if unknown.
func (r *Registry) Seq(name string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.seq
	}
	return 0
}

// Version returns how many times name has been registered, or 0.
func (r *Registry) Version(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.version
	}
	return 0
}

// List returns copies of all definitions in registration order.
func (r *Registry) List() []*component.Definition {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	defs := make([]*component.Definition, len(entries))
	for i, e := range entries {
		defs[i] = e.def.Clone()
	}
	return defs
}

// GetByLabels returns definitions that carry ALL labels (AND logic), in
// registration order. No labels returns everything.
func (r *Registry) GetByLabels(labels ...string) []*component.Definition {
	all := r.List()
	if len(labels) == 0 {
		return all
	}
	out := make([]*component.Definition, 0)
	for _, def := range all {
		if hasAllLabels(def.Labels, labels) {
			out = append(out, def)
		}
	}
	return out
}

func hasAllLabels(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// TrackInstance records a live instance built from name.
func (r *Registry) TrackInstance(name, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return
	}
	r.live[name] = append(r.live[name], instanceID)
}

// UntrackInstance forgets a destroyed instance.
func (r *Registry) UntrackInstance(name, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.live[name]
	if idx := slices.Index(ids, instanceID); idx >= 0 {
		ids = slices.Delete(ids, idx, idx+1)
	}
	if len(ids) == 0 {
		delete(r.live, name)
		return
	}
	r.live[name] = ids
}

// LiveInstances returns the IDs of live instances built from name.
func (r *Registry) LiveInstances(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.live[name])
}

// Subscribe streams registry events until ctx is cancelled.
func (r *Registry) Subscribe(ctx context.Context, types ...pubsub.EventType) <-chan pubsub.Event[Event] {
	return r.broker.Subscribe(ctx, types...)
}
