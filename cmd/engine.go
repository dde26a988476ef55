package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zjrosen/tessera/internal/component"
	"github.com/zjrosen/tessera/internal/loader"
	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/manager"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/registry"
	"github.com/zjrosen/tessera/internal/tracing"
)

// engine is a manager wired from the loaded configuration.
type engine struct {
	mgr      *manager.Manager
	file     *loader.File
	tracing  *tracing.Provider
	promReg  *prometheus.Registry
	hookLogs *hookLog
}

// newEngine loads the definitions file and builds a manager over an empty
// registry. Nothing is registered yet; callers apply the file.
func newEngine() (*engine, error) {
	file, err := loader.LoadPath(cfg.Definitions)
	if err != nil {
		return nil, fmt.Errorf("loading definitions: %w", err)
	}

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracing provider: %w", err)
	}

	var (
		promReg *prometheus.Registry
		mt      *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		if mt, err = metrics.New(promReg); err != nil {
			_ = tp.Shutdown(context.Background())
			return nil, err
		}
	}

	hooks := component.NewHookTable()
	logs := &hookLog{}
	if err := bindDeclared(hooks, file, logs); err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	mgr := manager.New(registry.New(), hooks,
		manager.WithConfig(cfg),
		manager.WithTracer(tp.Tracer()),
		manager.WithMetrics(mt),
	)
	return &engine{mgr: mgr, file: file, tracing: tp, promReg: promReg, hookLogs: logs}, nil
}

// register stores every definition of the file without building a tree.
func (e *engine) register() error {
	for _, def := range e.file.Components {
		if _, err := e.mgr.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// close destroys what is still live and flushes traces.
func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.mgr.DestroyAll(ctx)
	e.mgr.Close()
	if err := e.tracing.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatConfig, "tracing shutdown", err)
	}
}
