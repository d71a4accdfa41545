package core

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Levels(t *testing.T) {
	// Arrange
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	// Act
	logger.Debug("d", F("k", 1))
	logger.Info("i")
	logger.Warn("w", F("work", "a"), F("thread", "2"))
	logger.Error("e")

	// Assert
	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("logged %d entries, want 4", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Errorf("entry %d level = %v, want %v", i, entries[i].Level, want)
		}
	}
	fields := entries[2].ContextMap()
	if fields["work"] != "a" || fields["thread"] != "2" {
		t.Errorf("warn fields = %v", fields)
	}
	if entries[0].ContextMap()["k"] != int64(1) {
		t.Errorf("debug field k = %v", entries[0].ContextMap()["k"])
	}
}

func TestZapLogger_NilFallsBackToNop(t *testing.T) {
	logger := NewZapLogger(nil)
	if logger.Zap() == nil {
		t.Fatal("Zap() = nil")
	}
	logger.Info("discarded")
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NewNoOpLogger()
	l.Debug("x")
	l.Info("x")
	l.Warn("x", F("k", "v"))
	l.Error("x")
}
