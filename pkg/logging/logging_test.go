package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Config{Out: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("expected default level warning, got %v", logger.GetLevel())
	}

	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warning level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("expected warning message in output")
	}
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, err := Setup(Config{Level: "loud"})
	if err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestSetup_WritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "chksrv.log")

	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "debug", File: path, Out: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug("to both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Errorf("expected message in log file, got %q", string(data))
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Error("expected message in primary output")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("nothing")
	if logger.Out == nil {
		t.Error("expected discard writer")
	}
}
