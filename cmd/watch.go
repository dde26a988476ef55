package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tessera/internal/log"
	"github.com/zjrosen/tessera/internal/metrics"
	"github.com/zjrosen/tessera/internal/presentation"
	"github.com/zjrosen/tessera/internal/reload"
	"github.com/zjrosen/tessera/internal/watcher"
)

var watchPretty bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the tree mounted and apply changes to the definitions file",
	Long: `Build the tree section, then watch the definitions file. Every change is
reconciled into the running tree: new and changed definitions are
registered, removed ones are unregistered with their live instances, and
missing roots are created. The tree is printed after each change.

With metrics.enabled the Prometheus collectors are served on metrics.addr.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchPretty, "pretty", false, "colour states and dependencies")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if e.promReg != nil {
		srv := metrics.NewServer(cfg.Metrics.Addr, e.promReg)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.ErrorErr(log.CatConfig, "stopping metrics server", err)
			}
		}()
		fmt.Fprintf(os.Stdout, "metrics on http://%s/metrics\n", srv.Addr())
	}

	formatter := presentation.NewFormatter(os.Stdout)
	show := func(report reload.Report, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload: %v\n", err)
		}
		if !report.Empty() {
			_ = formatter.FormatTree(e.mgr.QueryTree(), watchPretty)
		}
	}

	r := reload.New(e.mgr)
	show(r.Apply(ctx, e.file))

	w, err := watcher.New(watcher.Config{Path: cfg.Definitions, Debounce: cfg.Watch.Debounce})
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	fmt.Fprintf(os.Stdout, "watching %s, press Ctrl+C to stop\n", cfg.Definitions)
	r.Watch(ctx, cfg.Definitions, changes, show)
	fmt.Fprintln(os.Stdout, "stopped")
	return nil
}
