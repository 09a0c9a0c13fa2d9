// Package logging provides structured logging with slog for the proof
// tooling.
//
// Features:
//   - JSON and text output formats
//   - log levels (debug, info, warn, error)
//   - sensitive key redaction
//   - size-based rotation for file outputs
//   - a JSONL audit trail for security-relevant events
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// ParseLevel maps a config string to a level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// ParseFormat maps a config string to a format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("logging: unknown format %q", s)
}

// Setup builds the process logger. An empty filePath logs to stderr;
// otherwise output goes through a size-rotating file writer. The
// returned closer is a no-op for stderr output.
func Setup(level, format, filePath string) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if filePath != "" {
		rotator, err := NewFileRotator(filePath, defaultMaxLogBytes, defaultMaxBackups)
		if err != nil {
			return nil, nil, err
		}
		w = rotator
		closer = rotator
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactSensitive,
	}

	var handler slog.Handler
	switch f {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// sensitiveKeys are attribute-name fragments that must never reach a
// log line in the clear. Public keys and session IDs are fine; anything
// that could reconstruct signing or encryption material is not.
var sensitiveKeys = []string{"private_key", "signing_key", "seed", "passphrase", "secret"}

func redactSensitive(groups []string, a slog.Attr) slog.Attr {
	lower := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			a.Value = slog.StringValue("[REDACTED]")
			break
		}
	}
	return a
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
