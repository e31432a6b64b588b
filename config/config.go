// Package config handles configuration loading and validation for cdrintel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jalad-shrimali/cdr-intel/analytics"
	"github.com/jalad-shrimali/cdr-intel/evidence"
	"github.com/jalad-shrimali/cdr-intel/ingest"
	"github.com/jalad-shrimali/cdr-intel/parsers"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CDRINTEL_"

// Config is the complete cdrintel configuration.
type Config struct {
	Server    ServerConfig     `toml:"server" json:"server" yaml:"server"`
	Storage   StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Upload    UploadConfig     `toml:"upload" json:"upload" yaml:"upload"`
	Ingest    IngestConfig     `toml:"ingest" json:"ingest" yaml:"ingest"`
	Analytics analytics.Config `toml:"analytics" json:"analytics" yaml:"analytics"`
	Logging   LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr            string `toml:"addr" json:"addr" yaml:"addr"`
	ShutdownSeconds int    `toml:"shutdown_seconds" json:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	// Database is the SQLite file holding evidence records and audit entries.
	Database    string `toml:"database" json:"database" yaml:"database"`
	EvidenceDir string `toml:"evidence_dir" json:"evidence_dir" yaml:"evidence_dir"`
	// CellDB is an optional read-only SQLite cell tower database.
	CellDB string `toml:"cell_db" json:"cell_db" yaml:"cell_db"`
}

// UploadConfig bounds accepted evidence.
type UploadConfig struct {
	AllowedExtensions []string `toml:"allowed_extensions" json:"allowed_extensions" yaml:"allowed_extensions"`
	MaxBytes          int64    `toml:"max_bytes" json:"max_bytes" yaml:"max_bytes"`
}

// IngestConfig controls parsing and normalization.
type IngestConfig struct {
	Workers           int    `toml:"workers" json:"workers" yaml:"workers"`
	TempDir           string `toml:"temp_dir" json:"temp_dir" yaml:"temp_dir"`
	MaxArchiveDepth   int    `toml:"max_archive_depth" json:"max_archive_depth" yaml:"max_archive_depth"`
	MaxArchiveEntries int    `toml:"max_archive_entries" json:"max_archive_entries" yaml:"max_archive_entries"`
	MaxArchiveBytes   int64  `toml:"max_archive_bytes" json:"max_archive_bytes" yaml:"max_archive_bytes"`
	// AliasFile replaces the embedded header alias table when set.
	AliasFile string `toml:"alias_file" json:"alias_file" yaml:"alias_file"`
	// Timezone is the IANA zone of naive timestamps in source files.
	Timezone string `toml:"timezone" json:"timezone" yaml:"timezone"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	// File receives logs instead of stderr when set.
	File string `toml:"file" json:"file" yaml:"file"`
}

// DefaultConfig returns the default configuration rooted at the per-user
// data directory.
func DefaultConfig() *Config {
	dir := DataDir()
	lim := parsers.DefaultArchiveLimits()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownSeconds: 10,
		},
		Storage: StorageConfig{
			Database:    filepath.Join(dir, "cdrintel.db"),
			EvidenceDir: filepath.Join(dir, "evidence"),
		},
		Upload: UploadConfig{
			AllowedExtensions: append([]string(nil), evidence.DefaultAllowedExtensions...),
			MaxBytes:          evidence.DefaultMaxBytes,
		},
		Ingest: IngestConfig{
			MaxArchiveDepth:   lim.MaxDepth,
			MaxArchiveEntries: lim.MaxEntries,
			MaxArchiveBytes:   lim.MaxTotalBytes,
			Timezone:          "UTC",
		},
		Analytics: analytics.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DataDir returns the default state directory: $CDRINTEL_DATA_DIR, then
// $XDG_DATA_HOME/cdrintel, then ~/.local/share/cdrintel.
func DataDir() string {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		return v
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cdrintel")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "cdrintel-data"
	}
	return filepath.Join(home, ".local", "share", "cdrintel")
}

// ApplyEnvOverrides applies CDRINTEL_* environment variables. Malformed
// numbers are ignored and left to Validate.
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("ADDR", &c.Server.Addr)
	str("DATABASE", &c.Storage.Database)
	str("EVIDENCE_DIR", &c.Storage.EvidenceDir)
	str("CELL_DB", &c.Storage.CellDB)
	str("ALIAS_FILE", &c.Ingest.AliasFile)
	str("TIMEZONE", &c.Ingest.Timezone)
	str("TEMP_DIR", &c.Ingest.TempDir)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_FILE", &c.Logging.File)
	num("WORKERS", &c.Ingest.Workers)
	num("TOP_N", &c.Analytics.TopN)
	num("BURST_THRESHOLD", &c.Analytics.BurstThreshold)

	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upload.MaxBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "ALLOWED_EXTENSIONS"); v != "" {
		var exts []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
		c.Upload.AllowedExtensions = exts
	}
}

// Location resolves the ingest timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Ingest.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Ingest.Timezone, err)
	}
	return loc, nil
}

// EvidenceConfig returns the guard settings.
func (c *Config) EvidenceConfig() evidence.Config {
	return evidence.Config{
		Dir:               c.Storage.EvidenceDir,
		AllowedExtensions: c.Upload.AllowedExtensions,
		MaxBytes:          c.Upload.MaxBytes,
	}
}

// PipelineConfig returns the ingestion settings.
func (c *Config) PipelineConfig() ingest.Config {
	return ingest.Config{
		Workers: c.Ingest.Workers,
		TempDir: c.Ingest.TempDir,
		Archive: parsers.ArchiveLimits{
			MaxDepth:      c.Ingest.MaxArchiveDepth,
			MaxEntries:    c.Ingest.MaxArchiveEntries,
			MaxTotalBytes: c.Ingest.MaxArchiveBytes,
		},
	}
}

// AnalyticsConfig returns the analytics thresholds with hours of day read in
// the ingest timezone.
func (c *Config) AnalyticsConfig() (analytics.Config, error) {
	ac := c.Analytics
	loc, err := c.Location()
	if err != nil {
		return ac, err
	}
	ac.Location = loc
	return ac, nil
}
