package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{name: "JSON output mode", jsonOutput: true, verbosity: 1},
		{name: "Console output mode", jsonOutput: false, verbosity: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			if err := Initialize(tt.jsonOutput, tt.verbosity); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			if Logger == nil {
				t.Fatal("Initialize() did not set global Logger")
			}
			if JSONOutput != tt.jsonOutput {
				t.Errorf("Initialize() JSONOutput = %v, want %v", JSONOutput, tt.jsonOutput)
			}

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	cases := map[int]zapcore.Level{
		-1: zapcore.WarnLevel,
		0:  zapcore.WarnLevel,
		1:  zapcore.InfoLevel,
		2:  zapcore.DebugLevel,
		5:  zapcore.DebugLevel,
	}
	for v, want := range cases {
		if got := VerbosityToLevel(v); got != want {
			t.Errorf("VerbosityToLevel(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithOwnerID(ctx, "owner-1")

	FromContext(ctx, base).Infow("started")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields[FieldJobID] != "job-1" {
		t.Errorf("job_id = %v", fields[FieldJobID])
	}
	if fields[FieldOwnerID] != "owner-1" {
		t.Errorf("owner_id = %v", fields[FieldOwnerID])
	}
}

func TestOrGlobal(t *testing.T) {
	injected := zap.NewNop().Sugar()
	if OrGlobal(injected, "x") != injected {
		t.Error("OrGlobal should return the injected logger")
	}
	if OrGlobal(nil, "x") == nil {
		t.Error("OrGlobal should fall back to a component logger")
	}
}
