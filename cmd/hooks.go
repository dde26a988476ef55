package cmd

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/loader"
	"github.com/zjrosen/tessera/internal/log"
)

// hookLog records "hook name#key" lines from the CLI's stand-in
// hooks so commands can report what ran.
type hookLog struct {
	mu    sync.Mutex
	lines []string
}

func (h *hookLog) add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, line)
}

func (h *hookLog) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

// bindDeclared registers a stand-in for every hook and constructor the
// file names. Hooks only log; constructors return a copy of the props so
// a file can be exercised without application code.
func bindDeclared(table *component.HookTable, file *loader.File, logs *hookLog) error {
	hooks := make(map[string]bool)
	ctors := make(map[string]bool)
	for _, def := range file.Components {
		for _, h := range def.Hooks {
			hooks[h.Name] = true
		}
		if def.Constructor != "" {
			ctors[def.Constructor] = true
		}
	}

	for name := range hooks {
		err := table.RegisterHook(name, func(_ context.Context, inst *component.Instance, _ any) error {
			logs.add(fmt.Sprintf("%s %s", name, inst))
			log.Debug(log.CatLifecycle, "hook ran", "hook", name, "instance", inst.String())
			return nil
		})
		if err != nil {
			return err
		}
	}
	for name := range ctors {
		err := table.RegisterFactory(name, func(_ context.Context, bc component.BuildContext) (any, error) {
			return maps.Clone(bc.Props), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
