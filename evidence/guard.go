package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Upload is one file offered to the guard.
type Upload struct {
	Filename string
	// Size is the declared size, or -1 when unknown.
	Size     int64
	Body     io.Reader
	Uploader string
	CaseID   string
	Purpose  string
}

// Guard accepts uploads into its directory. It is safe for concurrent use;
// the fingerprint check and the insert are serialized.
type Guard struct {
	cfg   Config
	store Store
	log   *slog.Logger
	now   func() time.Time

	mu sync.Mutex
}

// NewGuard returns a Guard writing into cfg.Dir, which is created if needed.
func NewGuard(cfg Config, store Store, log *slog.Logger) (*Guard, error) {
	if cfg.Dir == "" {
		return nil, errors.New("evidence: no storage directory")
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &Guard{cfg: cfg, store: store, log: log, now: time.Now}, nil
}

// MaxBytes returns the largest accepted file size.
func (g *Guard) MaxBytes() int64 { return g.cfg.MaxBytes }

// Validate checks a filename and declared size (-1 when unknown) without
// reading any content. It returns the name the file would be stored under.
func (g *Guard) Validate(filename string, size int64) (string, error) {
	name := safeName(filename)
	if name == "" {
		return "", &ValidationError{Filename: filename, Err: errors.New("empty filename")}
	}
	if ext := strings.ToLower(filepath.Ext(name)); !g.cfg.allows(ext) {
		return "", &ValidationError{Filename: name, Err: ErrExtensionNotAllowed}
	}
	if size > g.cfg.MaxBytes {
		return "", &ValidationError{Filename: name, Err: ErrTooLarge}
	}
	return name, nil
}

// Accept validates, fingerprints and stores up. Validation failures are
// reported as *ValidationError before any byte is read; a duplicate is
// reported as ErrDuplicate and leaves nothing behind.
func (g *Guard) Accept(ctx context.Context, up Upload) (*Record, error) {
	name, err := g.Validate(up.Filename, up.Size)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(g.cfg.Dir, ".incoming-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(up.Body, g.cfg.MaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("receive %s: %w", name, err)
	}
	if n > g.cfg.MaxBytes {
		return nil, &ValidationError{Filename: name, Err: ErrTooLarge}
	}
	hash := hex.EncodeToString(h.Sum(nil))

	g.mu.Lock()
	defer g.mu.Unlock()

	exists, err := g.store.Exists(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("check fingerprint: %w", err)
	}
	if exists {
		g.log.Warn("duplicate evidence rejected", "file", name, "sha256", hash, "uploader", up.Uploader)
		return nil, fmt.Errorf("%s (sha256 %s): %w", name, hash, ErrDuplicate)
	}

	id := uuid.NewString()
	stored := filepath.Join(g.cfg.Dir, id+"_"+name)
	if err := os.Rename(tmpPath, stored); err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	if err := os.Chmod(stored, 0o444); err != nil {
		os.Remove(stored)
		return nil, fmt.Errorf("protect %s: %w", name, err)
	}

	rec := &Record{
		ID:          id,
		Filename:    name,
		StoredPath:  stored,
		ContentHash: hash,
		Size:        n,
		Uploader:    up.Uploader,
		CaseID:      up.CaseID,
		Purpose:     up.Purpose,
		UploadedAt:  g.now().UTC(),
	}
	if err := g.store.Put(ctx, rec); err != nil {
		os.Remove(stored)
		return nil, fmt.Errorf("record %s: %w", name, err)
	}
	keep = true

	g.log.Info("evidence accepted",
		"id", id,
		"file", name,
		"sha256", hash,
		"size", n,
		"case", up.CaseID,
		"uploader", up.Uploader)
	return rec, nil
}

// Verify re-reads the stored file and reports whether it still matches the
// recorded fingerprint.
func Verify(rec *Record) (bool, error) {
	f, err := os.Open(rec.StoredPath)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == rec.ContentHash, nil
}

// safeName reduces a client-supplied filename to its base name.
func safeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return ""
	}
	return base
}
