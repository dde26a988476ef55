// Package watcher notifies when a definitions file changes on disk.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/tessera/internal/log"
)

// Watcher follows one definitions file. Bursts of writes collapse into a
// single signal on the channel returned by Start.
type Watcher struct {
	fsw      *fsnotify.Watcher
	file     string
	debounce time.Duration

	changed  chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Config describes what to watch.
type Config struct {
	Path     string
	Debounce time.Duration
}

// DefaultConfig watches path with a 100ms debounce.
func DefaultConfig(path string) Config {
	return Config{Path: path, Debounce: 100 * time.Millisecond}
}

// New prepares a watcher for cfg.Path. Nothing is observed until Start.
func New(cfg Config) (*Watcher, error) {
	file, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", cfg.Path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		file:     file,
		debounce: cfg.Debounce,
		changed:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}, nil
}

// Start subscribes to the file's parent directory. Editors that save by
// writing a temp file and renaming it over the original only show up there.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dir := filepath.Dir(w.file)
	if err := w.fsw.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	log.Debug(log.CatWatcher, "watching", "path", w.file, "debounce", w.debounce)
	go w.run()
	return w.changed, nil
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.stopErr = w.fsw.Close()
	})
	return w.stopErr
}

func (w *Watcher) run() {
	// fire is nil while nothing is pending, which disables its select case.
	var (
		timer *time.Timer
		fire  <-chan time.Time
		burst int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.quit:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(ev) {
				continue
			}
			burst++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			log.Debug(log.CatWatcher, "definitions changed", "path", w.file, "events", burst)
			burst = 0
			select {
			case w.changed <- struct{}{}:
			default: // a signal is already queued
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err, "path", w.file)
		}
	}
}

func (w *Watcher) matches(ev fsnotify.Event) bool {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	return ev.Op&relevant != 0 && filepath.Clean(ev.Name) == w.file
}
