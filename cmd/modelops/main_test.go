package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/internal/pipeline"
	"strings"
	"testing"
)

func setMemoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MERGE_ENABLED", "false")
	t.Setenv("VARIANTS", "red,white")
	t.Setenv("PIPELINE_CONFIG", "")
}

func TestRunCommand_ReportsStageFailures(t *testing.T) {
	setMemoryEnv(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--variant", "red"})
	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var report pipeline.RunReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if len(report.Variants) != 1 || report.Variants[0].State != pipeline.StateFailed {
		t.Errorf("expected red to fail without a raw dataset, got %+v", report.Variants)
	}
}

func TestRunCommand_ConfigurationErrorIsReturned(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("PROMOTION_POLICY", "most")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	if err := root.Execute(); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	setMemoryEnv(t)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"status"})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "red") || !strings.HasSuffix(lines[2], "training") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestAnnounceCommand_Disabled(t *testing.T) {
	setMemoryEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"announce"})
	if err := root.Execute(); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
