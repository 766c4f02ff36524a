package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", "records", 3)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "records=3") {
		t.Fatalf("expected warn line with fields, got %q", out)
	}
}

func TestWriterRotatesToFile(t *testing.T) {
	if _, ok := Writer(Config{}).(*os.File); !ok {
		t.Fatalf("expected stderr when no file configured")
	}
	path := filepath.Join(t.TempDir(), "piiscope.log")
	w := Writer(Config{File: path, MaxSizeMB: 1})
	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", w)
	}
	defer lj.Close()

	logger := New(w, Config{Level: "info"})
	logger.Info("run finished", "pii", 2)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "run finished") {
		t.Fatalf("expected log line in file, got %q", data)
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warning"} {
		if !ValidLevel(lvl) {
			t.Fatalf("expected %q to be valid", lvl)
		}
	}
	if ValidLevel("verbose") {
		t.Fatalf("expected verbose to be invalid")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(&buf, Config{}))
	Default().Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected default logger to be replaced")
	}
	SetDefault(nil)
	if Default() == nil {
		t.Fatalf("nil must not replace the default logger")
	}
}
