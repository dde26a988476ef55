// Package log is tessera's process-wide logger. Every line names a level
// and a category (registry, build, lifecycle, ...) followed by key=value
// fields. Nothing is written until one of the Init functions installs a
// sink; the CLI does that for --debug or TESSERA_DEBUG.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/tessera/internal/pubsub"
)

// Level orders entries by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads the log_level config value. Anything unrecognised is
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Category names the engine subsystem an entry came from.
type Category string

const (
	CatRegistry  Category = "registry"  // definition register/unregister
	CatResolve   Category = "resolve"   // dependency graph resolution
	CatBuild     Category = "build"     // instance construction and rollback
	CatLifecycle Category = "lifecycle" // mount/update/unmount transitions and hooks
	CatSelector  Category = "selector"  // selector compilation and ref bindings
	CatManager   Category = "manager"   // structural tree operations
	CatConfig    Category = "config"    // configuration loading
	CatWatcher   Category = "watcher"   // definition file reloads
	CatCache     Category = "cache"     // cache operations
	CatLoader    Category = "loader"    // YAML definition loading
)

// Logger is an installed sink. Entries go to out and to subscribers.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	closer   io.Closer
	enabled  bool
	minLevel Level
	entries  *pubsub.Broker[string]
}

var std atomic.Pointer[Logger]

func install(out io.Writer, closer io.Closer) *Logger {
	l := &Logger{
		out:      out,
		closer:   closer,
		enabled:  true,
		minLevel: LevelDebug,
		entries:  pubsub.NewBroker[string](),
	}
	std.Store(l)
	return l
}

func (l *Logger) close() {
	if l.closer != nil {
		_ = l.closer.Close()
	}
}

// Init appends entries to the file at path. The returned func closes it.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: user-chosen log path
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return install(f, f).close, nil
}

// InitWithTeaLog opens path through tea.LogToFile, which also routes the
// standard library logger there with prefix.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	return install(f, f).close, nil
}

// InitWriter sends entries to w.
func InitWriter(w io.Writer) {
	install(w, nil)
}

// SetEnabled mutes or unmutes the installed logger.
func SetEnabled(enabled bool) {
	if l := std.Load(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel drops entries below level.
func SetMinLevel(level Level) {
	if l := std.Load(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { emit(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any)  { emit(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any)  { emit(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { emit(LevelError, cat, msg, fields) }

// ErrorErr is Error with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	text := "<nil>"
	if err != nil {
		text = err.Error()
	}
	emit(LevelError, cat, msg, append(fields, "error", text))
}

// format renders one line:
//
//	2026-10-19T10:45:00 [ERROR] [build] message key=value key2=value2
func format(level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", time.Now().Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 == len(fields) {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')
	return b.String()
}

func emit(level Level, cat Category, msg string, fields []any) {
	l := std.Load()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel {
		return
	}
	line := format(level, cat, msg, fields)
	if l.out != nil {
		_, _ = io.WriteString(l.out, line)
	}
	l.entries.Publish(pubsub.CreatedEvent, line)
}

// Subscribe streams formatted entries until ctx is cancelled. It returns
// nil if no logger is installed.
func Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	l := std.Load()
	if l == nil {
		return nil
	}
	return l.entries.Subscribe(ctx)
}
