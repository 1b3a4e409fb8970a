package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsLoggerAndSetsDefault(t *testing.T) {
	logger := Setup("debug")
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
	if slog.Default() != logger {
		t.Error("expected Setup to install the logger as the slog default")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}

func TestSetup_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := Setup("nonsense")
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled at the default info level")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level to be enabled")
	}
}

func TestSetup_ErrorLevelDisablesInfo(t *testing.T) {
	logger := Setup("error")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at error level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error level to be enabled")
	}
}
