package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	l := New()
	if l.Log == nil {
		t.Fatal("New returned a nil logger")
	}
	if err := l.Init("debug"); err != nil {
		t.Fatalf("Init(debug) failed: %v", err)
	}
	if !l.Log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
}

func TestInitBadLevel(t *testing.T) {
	l := New()
	if err := l.Init("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
