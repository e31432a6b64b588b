// Package logging builds the structured slog loggers used across cdrintel.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level  slog.Level
	Format Format
	// Output receives log lines; nil means stderr unless FilePath is set.
	Output io.Writer
	// FilePath appends logs to a file when Output is nil.
	FilePath  string
	AddSource bool
	// Component is attached to every record when non-empty.
	Component string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger for cfg. The closer releases the log file, if any.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	w := cfg.Output
	if w == nil && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var h slog.Handler
	switch cfg.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}

	log := slog.New(h)
	if cfg.Component != "" {
		log = log.With("component", cfg.Component)
	}
	return log, closer, nil
}

// FromStrings builds a Config from configuration-file values.
func FromStrings(level, format, file, component string) (Config, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return Config{}, err
	}
	f, err := ParseFormat(format)
	if err != nil {
		return Config{}, err
	}
	return Config{Level: lvl, Format: f, FilePath: file, Component: component}, nil
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// ParseFormat parses "text" or "json". Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}
