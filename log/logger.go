package log

import (
	"context"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	levelAll   slog.Level = math.MinInt
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

var levelNames = []struct {
	level   slog.Level
	aligned string
	aliases []string
}{
	{LevelTrace, "TRACE", []string{"trace"}},
	{LevelDebug, "DEBUG", []string{"debug"}},
	{LevelInfo, "INFO ", []string{"info"}},
	{LevelWarn, "WARN ", []string{"warn", "warning"}},
	{LevelError, "ERROR", []string{"error"}},
	{LevelCrit, "CRIT ", []string{"crit", "critical"}},
}

// LevelAlignedString pads the level name to five columns.
func LevelAlignedString(l slog.Level) string {
	for _, n := range levelNames {
		if n.level == l {
			return n.aligned
		}
	}
	return l.String()
}

// moduleSet tracks which modules emit trace and debug records. It is shared
// by every Logger derived from the same root.
type moduleSet struct {
	mu sync.RWMutex
	on map[string]bool
}

func (s *moduleSet) set(module string, on bool) {
	s.mu.Lock()
	s.on[module] = on
	s.mu.Unlock()
}

func (s *moduleSet) setAll(on bool) {
	s.mu.Lock()
	for _, m := range knownModules {
		s.on[m] = on
	}
	s.mu.Unlock()
}

func (s *moduleSet) enabled(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on[module]
}

// Logger tags every record with the emitting module. Trace and Debug
// records are dropped unless their module has been enabled.
type Logger struct {
	inner   *slog.Logger
	modules *moduleSet
}

func NewLogger(h slog.Handler) *Logger {
	return &Logger{
		inner:   slog.New(h),
		modules: &moduleSet{on: make(map[string]bool)},
	}
}

// With returns a Logger carrying extra attributes, e.g. the invocation id.
// Module switches stay shared with l.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...), modules: l.modules}
}

func (l *Logger) Handler() slog.Handler { return l.inner.Handler() }

func (l *Logger) EnableModule(module string)  { l.modules.set(module, true) }
func (l *Logger) DisableModule(module string) { l.modules.set(module, false) }

// EnableModules takes a comma separated list; "all" turns on every module.
func (l *Logger) EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		switch m = strings.TrimSpace(m); m {
		case "":
		case "all":
			l.modules.setAll(true)
		default:
			l.EnableModule(m)
		}
	}
}

func (l *Logger) emit(level slog.Level, module, msg string, kv []any) {
	if level < LevelInfo && !l.modules.enabled(module) {
		return
	}
	ctx := context.Background()
	h := l.inner.Handler()
	if !h.Enabled(ctx, level) {
		return
	}
	// skip runtime.Callers, emit and the level method
	var pc [1]uintptr
	runtime.Callers(3, pc[:])
	r := slog.NewRecord(time.Now(), level, msg, pc[0])
	r.AddAttrs(slog.String("module", module))
	r.Add(kv...)
	_ = h.Handle(ctx, r)
}

func (l *Logger) Trace(module, msg string, kv ...any) { l.emit(LevelTrace, module, msg, kv) }
func (l *Logger) Debug(module, msg string, kv ...any) { l.emit(LevelDebug, module, msg, kv) }
func (l *Logger) Info(module, msg string, kv ...any)  { l.emit(LevelInfo, module, msg, kv) }
func (l *Logger) Warn(module, msg string, kv ...any)  { l.emit(LevelWarn, module, msg, kv) }
func (l *Logger) Error(module, msg string, kv ...any) { l.emit(LevelError, module, msg, kv) }

// Crit logs and terminates the process.
func (l *Logger) Crit(module, msg string, kv ...any) {
	l.emit(LevelCrit, module, msg, kv)
	os.Exit(1)
}
