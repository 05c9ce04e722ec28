// Package telemetry builds the structured JSON logger and OpenTelemetry
// providers shared by every component of the render farm backend.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldforge/renderfarm/internal/shared"
)

// NewLogger builds a slog.Logger that writes JSON lines to stdout and to
// an append-only file under <scratchDir>/../logs/renderfarmd.jsonl, with a
// ReplaceAttr hook that redacts password and argon2-hash values. Session
// and task ids supplied by a caller are NOT redacted — the error handling
// design explicitly allows caller-supplied identifiers in log/error output.
func NewLogger(scratchDir, level string) (*slog.Logger, io.Closer, error) {
	logDir := filepath.Join(filepath.Dir(filepath.Clean(scratchDir)), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}

	logFilePath := filepath.Join(logDir, "renderfarmd.jsonl")
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	logger := slog.New(handler).With("component", "renderfarmd", "trace_id", "-")
	return logger, file, nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
	}
	if shared.RedactKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if redacted := shared.Redact(a.Value.String()); redacted != a.Value.String() {
			return slog.String(a.Key, redacted)
		}
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
