package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"crit":  LevelCrit,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestModuleFilter(t *testing.T) {
	var buf bytes.Buffer
	prev := Root()
	defer SetDefault(prev)
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))

	DisableModule(FrameMonitoring)
	Debug(FrameMonitoring, "hidden")
	require.Empty(t, buf.String())

	EnableModule(FrameMonitoring)
	defer DisableModule(FrameMonitoring)
	Debug(FrameMonitoring, "frame pushed", "depth", 1)
	require.Contains(t, buf.String(), "frame pushed")
	require.Contains(t, buf.String(), "module=frame")
	require.Contains(t, buf.String(), "DEBUG")
}

func TestWithKeepsModuleSwitches(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false))
	inv := l.With("invocation", "abc")

	inv.Trace(PvmMonitoring, "step")
	require.Empty(t, buf.String())

	l.EnableModules("budget, pvm")
	inv.Trace(PvmMonitoring, "step", "pc", 4)
	require.Contains(t, buf.String(), "invocation=abc")
	require.Contains(t, buf.String(), "module=pvm")
	require.Contains(t, buf.String(), "pc=4")

	buf.Reset()
	inv.Warn(StorageMonitoring, "footprint miss")
	require.Contains(t, buf.String(), "WARN")
}

func TestEnableAll(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandlerWithLevel(&buf, LevelDebug, false))
	l.EnableModules("all")
	for _, m := range knownModules {
		l.Debug(m, "on")
	}
	require.Equal(t, len(knownModules), bytes.Count(buf.Bytes(), []byte("msg=on")))

	buf.Reset()
	l.Trace(HostMonitoring, "below handler level")
	require.Empty(t, buf.String())
}
