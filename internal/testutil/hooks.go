package testutil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/zjrosen/tessera/internal/component"
)

// RecordHook returns the hook name Recorded() uses for phase.
func RecordHook(phase component.Phase) string {
	return "record." + string(phase)
}

// Recorder collects "phase:name#key" entries from recording hooks.
type Recorder struct {
	mu      sync.Mutex
	entries []string
	fail    map[string]error // "phase:name#key" or "phase:name" -> error
}

// NewRecorder creates a recorder and binds its hooks into table.
func NewRecorder(table *component.HookTable) *Recorder {
	r := &Recorder{fail: make(map[string]error)}
	for _, phase := range []component.Phase{
		component.PhaseMount, component.PhaseUpdate, component.PhaseUnmount, component.PhaseDestroy,
	} {
		_ = table.RegisterHook(RecordHook(phase), r.hook(phase))
	}
	return r
}

func (r *Recorder) hook(phase component.Phase) component.HookFunc {
	return func(_ context.Context, inst *component.Instance, _ any) error {
		entry := fmt.Sprintf("%s:%s", phase, inst)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = append(r.entries, entry)
		if err, ok := r.fail[entry]; ok {
			return err
		}
		if err, ok := r.fail[string(phase)+":"+inst.Name()]; ok {
			return err
		}
		return nil
	}
}

// FailOn makes the hook for target fail with err. target is
// "phase:name#key" or "phase:name".
func (r *Recorder) FailOn(target string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[target] = err
}

// Entries returns every recorded entry in call order.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Phase returns the entries of one phase with the phase prefix removed.
func (r *Recorder) Phase(phase component.Phase) []string {
	prefix := string(phase) + ":"
	var out []string
	for _, e := range r.Entries() {
		if rest, ok := strings.CutPrefix(e, prefix); ok {
			out = append(out, rest)
		}
	}
	return out
}

// Reset clears recorded entries but keeps failure rules.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// ValueFactory returns a factory producing value.
func ValueFactory(value any) component.Factory {
	return func(context.Context, component.BuildContext) (any, error) {
		return value, nil
	}
}

// FailingFactory returns a factory that always fails with err.
func FailingFactory(err error) component.Factory {
	return func(context.Context, component.BuildContext) (any, error) {
		return nil, err
	}
}
