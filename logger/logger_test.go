package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("staged", "capacity", 8)
	log.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, `"msg":"staged"`) || !strings.Contains(out, `"capacity":8`) {
		t.Fatalf("unexpected JSON output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked at info level: %s", out)
	}
}

func TestWithAndGroup(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelDebug).With("run", "r1").WithGroup("scan")
	log.Debug("dispatch", "kernel", "reduce")
	out := buf.String()
	if !strings.Contains(out, "run=r1") || !strings.Contains(out, "scan.kernel=reduce") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	log := Nop()
	for _, lvl := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelError} {
		if log.Enabled(lvl) {
			t.Errorf("Nop enabled at %v", lvl)
		}
	}
	log.Error("dropped")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	l := Nop()
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext did not return stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Open(&buf, "warn", "json").Warn("w")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("Open json produced %q", buf.String())
	}
}
