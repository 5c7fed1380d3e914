package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"panostitch/internal/config"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("run", "r1")
	logger.Debug("hidden")
	logger.Warn("failed to stitch", "image", "b.jpg", "status", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug suppressed, got %q", out)
	}
	if !strings.Contains(out, "[WARN] failed to stitch [run=r1 image=b.jpg status=2]") {
		t.Fatalf("unexpected line %q", out)
	}
}

func TestSetupWritesDatedFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.FileOutput = true
	cfg.Logging.LogDir = t.TempDir()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, err := Setup(cfg)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	logger.Info("hello")

	name := filepath.Join(cfg.Logging.LogDir, "panostitch-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("expected log file, got %v", err)
	}
	if !strings.Contains(string(data), "[INFO] hello") {
		t.Fatalf("expected message in log file, got %q", data)
	}
}

func TestLogRunHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "json")
	LogRunStart(logger, "r1", "/in", "/out.jpg", 4, map[string]any{"max_skip": 3})
	LogRunError(logger, "r1", time.Second, errors.New("boom"), nil)

	out := buf.String()
	if !strings.Contains(out, `"msg":"run started"`) || !strings.Contains(out, `"error":"boom"`) {
		t.Fatalf("unexpected output %q", out)
	}
}
