package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const (
	HostMonitoring     = "host"     // invocation boundary, results, commits
	FrameMonitoring    = "frame"    // call frame push/pop, failure propagation
	DispatchMonitoring = "dispatch" // host function dispatch
	BudgetMonitoring   = "budget"   // metering and limit breaches
	BridgeMonitoring   = "bridge"   // engine call-in/call-out, traps
	StorageMonitoring  = "storage"  // ledger overlay, footprint, snapshots
	PvmMonitoring      = "pvm"      // register machine engine
	WasmMonitoring     = "wasm"     // wazero engine
)

var knownModules = []string{
	HostMonitoring, FrameMonitoring, DispatchMonitoring, BudgetMonitoring,
	BridgeMonitoring, StorageMonitoring, PvmMonitoring, WasmMonitoring,
}

var root atomic.Pointer[Logger]

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

func ParseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(s)
	if s == "max" || s == "all" {
		return levelAll, nil
	}
	for _, n := range levelNames {
		for _, alias := range n.aliases {
			if alias == s {
				return n.level, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid level: %s", s)
}

// InitLogger installs a stderr terminal logger at the named level.
func InitLogger(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, lvl, StderrIsTerminal())))
	return nil
}

// SetDefault replaces the root logger. Module switches already enabled on
// the previous root carry over.
func SetDefault(l *Logger) {
	if prev := root.Load(); prev != nil && prev.modules != l.modules {
		prev.modules.mu.RLock()
		for m, on := range prev.modules.on {
			if on {
				l.modules.set(m, true)
			}
		}
		prev.modules.mu.RUnlock()
	}
	root.Store(l)
	slog.SetDefault(l.inner)
}

func Root() *Logger { return root.Load() }

// New returns a child of the root logger with the given attributes.
func New(kv ...any) *Logger { return Root().With(kv...) }

func EnableModule(module string)  { Root().EnableModule(module) }
func DisableModule(module string) { Root().DisableModule(module) }
func EnableModules(list string)   { Root().EnableModules(list) }

func Trace(module, msg string, kv ...any) { Root().emit(LevelTrace, module, msg, kv) }
func Debug(module, msg string, kv ...any) { Root().emit(LevelDebug, module, msg, kv) }
func Info(module, msg string, kv ...any)  { Root().emit(LevelInfo, module, msg, kv) }
func Warn(module, msg string, kv ...any)  { Root().emit(LevelWarn, module, msg, kv) }
func Error(module, msg string, kv ...any) { Root().emit(LevelError, module, msg, kv) }

func Crit(module, msg string, kv ...any) {
	Root().emit(LevelCrit, module, msg, kv)
	os.Exit(1)
}
