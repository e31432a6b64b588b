// Package evidence gates the acceptance of uploaded CDR files. Every accepted
// file is fingerprinted by content, stored once, recorded, and made read-only.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDuplicate means a file with the same content was already accepted.
	ErrDuplicate = errors.New("duplicate evidence")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation          = errors.New("evidence validation failed")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	ErrTooLarge            = errors.New("file too large")
)

// ValidationError is returned when an upload is rejected before its content
// is considered.
type ValidationError struct {
	Filename string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrValidation, e.Filename, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// Record describes one accepted file.
type Record struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoredPath  string    `json:"stored_path"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	Uploader    string    `json:"uploader"`
	CaseID      string    `json:"case_id"`
	Purpose     string    `json:"purpose"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Store persists evidence records. Put must fail with an error wrapping
// ErrDuplicate when ContentHash is already present.
type Store interface {
	Exists(ctx context.Context, contentHash string) (bool, error)
	Put(ctx context.Context, rec *Record) error
}

// Config bounds what the guard accepts.
type Config struct {
	// Dir receives accepted files.
	Dir string
	// AllowedExtensions is matched case-insensitively, with the leading dot.
	AllowedExtensions []string
	MaxBytes          int64
}

// DefaultAllowedExtensions is the upload allow-list.
var DefaultAllowedExtensions = []string{".csv", ".xlsx", ".json", ".zip"}

// DefaultMaxBytes is 500 MiB.
const DefaultMaxBytes int64 = 500 << 20

func (c Config) allows(ext string) bool {
	for _, a := range c.AllowedExtensions {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}
