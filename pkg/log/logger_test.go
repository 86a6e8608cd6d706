package log

import (
	"context"
	"strings"
	"testing"
)

func TestTestLoggerCapture(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)

	logger.Info("fit complete", SolverKey, "BFGS", IterationKey, 12)
	logger.Debug("gradient solve finished", ConvergedKey, true)

	if !logger.ContainsMessage("fit complete") {
		t.Error("expected the info record to be captured")
	}
	if !logger.ContainsField(SolverKey, "BFGS") {
		t.Error("expected the solver field to be captured")
	}

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatalf("parsing captured output: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "INFO" {
		t.Errorf("unexpected level %v", entries[0]["level"])
	}
}

func TestTestLoggerLevelFiltering(t *testing.T) {
	logger, _ := NewTestLogger(LevelWarn)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	if logger.ContainsMessage("hidden") {
		t.Error("records below the minimum level must be dropped")
	}
	if !logger.ContainsMessage("visible") {
		t.Error("warn records must pass a warn-level filter")
	}
	if logger.Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
}

func TestTestLoggerWithFields(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)
	tagged := logger.With(ComponentKey, "solver")

	tagged.Info("proximal solve finished")

	base := logger
	if !base.ContainsField(ComponentKey, "solver") {
		t.Error("pre-populated fields must appear on every record")
	}
}

func TestZerologProvider(t *testing.T) {
	var buf strings.Builder
	provider := NewZerologProvider(&buf, LevelInfo)

	logger := provider.GetLoggerWithName("GLM")
	logger.Info("fit complete", IterationKey, 3)
	logger.Debug("suppressed")

	out := buf.String()
	if !strings.Contains(out, "fit complete") {
		t.Errorf("output %q should contain the message", out)
	}
	if !strings.Contains(out, "GLM") {
		t.Errorf("output %q should carry the component name", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Errorf("output %q should not contain debug records at info level", out)
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestSetProviderSwapsBackend(t *testing.T) {
	original, _ := NewTestLoggerProvider(LevelDebug)
	SetProvider(original)
	defer SetProvider(NewZerologProvider(nil, LevelWarn))

	GetLoggerWithName("test").Info("routed through the test provider")

	logger := original.GetLogger().(*TestLogger)
	if !logger.ContainsMessage("routed through the test provider") {
		t.Error("package-level loggers must come from the installed provider")
	}
}
