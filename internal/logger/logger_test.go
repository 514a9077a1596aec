package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInit_DefaultsToInfoOnUnknownLevel(t *testing.T) {
	if err := Init("not-a-level"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Log == nil {
		t.Fatal("expected the global logger to be set")
	}
	if !Log.Core().Enabled(zapcore.InfoLevel) {
		t.Error("expected info level to be enabled by default")
	}
}

func TestDefaultLogConfig_DoesNotDuplicateToStdout(t *testing.T) {
	cfg := DefaultLogConfig()
	if cfg.Format != "console" {
		t.Errorf("expected console format by default, got %q", cfg.Format)
	}
	if cfg.AlsoStdout {
		t.Error("expected AlsoStdout to default to false")
	}
}

func TestInitWithConfig_RotatesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.log")

	cfg := DefaultLogConfig()
	cfg.OutputPath = path
	cfg.Format = "json"

	if err := InitWithConfig(cfg); err != nil {
		t.Fatalf("InitWithConfig: %v", err)
	}
	Log.Info("hello")
	Sync()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected log file to be created at %s: %v", path, err)
	}
}

func TestWithEngineID(t *testing.T) {
	if err := Init("error"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l := WithEngineID("run-42")
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestWriterAdapter_WritesAtConfiguredLevel(t *testing.T) {
	if err := Init("debug"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	w := NewWriterAdapter(Log, zapcore.WarnLevel)
	n, err := w.Write([]byte("disk almost full"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("disk almost full") {
		t.Errorf("expected Write to report the full length written, got %d", n)
	}
}
