package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a JSON logger with a component field attached.
func NewLogger(component string) *slog.Logger {
	return NewLoggerTo(os.Stdout, component, false)
}

// NewLoggerTo returns a JSON logger writing to w. Debug lowers the level so
// debug records emitted by the run engine are kept.
func NewLoggerTo(w io.Writer, component string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	if component != "" {
		logger = logger.With("component", component)
	}
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func WithRun(logger *slog.Logger, repository, runID string) *slog.Logger {
	if logger == nil || runID == "" {
		return logger
	}
	if repository != "" {
		logger = logger.With("repository", repository)
	}
	return logger.With("run_id", runID)
}

func WithRef(logger *slog.Logger, ref string) *slog.Logger {
	if logger == nil || ref == "" {
		return logger
	}
	return logger.With("ref", ref)
}

// WithSecretHint records a short hash of a secret so two runs can be compared
// in logs without the value ever being written.
func WithSecretHint(logger *slog.Logger, key, secret string) *slog.Logger {
	if logger == nil || secret == "" {
		return logger
	}
	return logger.With(key+"_hash", hashSecret(secret))
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
