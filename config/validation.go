package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jalad-shrimali/cdr-intel/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs ValidationErrors
	bad := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Addr == "" {
		bad("server.addr", "must not be empty")
	}
	if c.Server.ShutdownSeconds < 0 {
		bad("server.shutdown_seconds", "must not be negative")
	}

	if c.Storage.Database == "" {
		bad("storage.database", "must not be empty")
	}
	if c.Storage.EvidenceDir == "" {
		bad("storage.evidence_dir", "must not be empty")
	}

	if len(c.Upload.AllowedExtensions) == 0 {
		bad("upload.allowed_extensions", "must list at least one extension")
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			bad("upload.allowed_extensions", "%q must start with a dot", ext)
		}
	}
	if c.Upload.MaxBytes <= 0 {
		bad("upload.max_bytes", "must be positive")
	}

	if c.Ingest.Workers < 0 {
		bad("ingest.workers", "must not be negative")
	}
	if c.Ingest.MaxArchiveDepth < 1 {
		bad("ingest.max_archive_depth", "must be at least 1")
	}
	if c.Ingest.MaxArchiveEntries < 1 {
		bad("ingest.max_archive_entries", "must be at least 1")
	}
	if c.Ingest.MaxArchiveBytes < 1 {
		bad("ingest.max_archive_bytes", "must be positive")
	}
	if c.Ingest.Timezone != "" {
		if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
			bad("ingest.timezone", "unknown zone %q", c.Ingest.Timezone)
		}
	}

	a := c.Analytics
	if a.TopN < 0 {
		bad("analytics.top_n", "must not be negative")
	}
	if a.LongCallSeconds < 0 {
		bad("analytics.long_call_seconds", "must not be negative")
	}
	if a.BurstThreshold < 0 {
		bad("analytics.burst_threshold", "must not be negative")
	}
	if a.NightStartHour < 0 || a.NightStartHour > 23 {
		bad("analytics.night_start_hour", "must be within 0-23")
	}
	if a.NightEndHour < 0 || a.NightEndHour > 23 {
		bad("analytics.night_end_hour", "must be within 0-23")
	}
	if a.Contamination < 0 || a.Contamination >= 0.5 {
		bad("analytics.contamination", "must be within [0, 0.5)")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		bad("logging.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		bad("logging.format", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
