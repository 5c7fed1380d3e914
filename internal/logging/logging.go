package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"panostitch/internal/config"
)

// NewWriter returns a slog.Logger writing to w with the provided level string
// (info, debug, warn, error). format may be "json" or "text".
func NewWriter(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging on stdout and, when enabled, a dated log file.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("panostitch-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		// Best effort; the dated file is authoritative.
		currentLogPath := filepath.Join(cfg.Logging.LogDir, "panostitch-current.log")
		_ = os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.Logging.Format) == "json" {
		logger = NewWriter(io.MultiWriter(writers...), cfg.Logging.Level, "json")
	} else {
		logger = slog.New(NewTraditionalHandler(io.MultiWriter(writers...), level))
	}
	slog.SetDefault(logger)

	logger.Debug("panostitch logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return logger, nil
}

// TraditionalHandler implements slog.Handler with "[LEVEL] message [k=v ...]" lines.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
}

// NewTraditionalHandler writes to w with a standard log timestamp prefix.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}

	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup is not supported; group names are dropped.
func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogRunStart logs the beginning of a stitching run.
func LogRunStart(logger *slog.Logger, runID, inputDir, output string, images int, options map[string]any) {
	logger.Info("run started",
		"id", runID,
		"input", inputDir,
		"output", output,
		"images", images,
		"options", options,
	)
}

// LogRunComplete logs a run that produced a panorama.
func LogRunComplete(logger *slog.Logger, runID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("run completed successfully",
		"id", runID,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"result", resultInfo,
	)
}

// LogRunError logs run failures
func LogRunError(logger *slog.Logger, runID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("run failed",
		"id", runID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogEngineStatus logs engine detection and status
func LogEngineStatus(logger *slog.Logger, engine string, available bool, detail string) {
	if available {
		logger.Debug("engine detected", "engine", engine, "detail", detail)
		return
	}
	logger.Debug("engine not available", "engine", engine, "detail", detail)
}
