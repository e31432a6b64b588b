package parsers

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArchiveLimit is returned when an archive exceeds its extraction limits.
var ErrArchiveLimit = errors.New("archive limit exceeded")

// ArchiveLimits bounds what one archive may expand to.
type ArchiveLimits struct {
	MaxDepth      int
	MaxEntries    int
	MaxTotalBytes int64
}

// DefaultArchiveLimits returns the limits used when none are configured.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxDepth:      4,
		MaxEntries:    10000,
		MaxTotalBytes: 2 << 30,
	}
}

// ExtractZip expands the archive at path into dest and returns the paths of
// the extracted regular files in archive order. Entries escaping dest are
// rejected. A repeated entry name is extracted under a numbered name so
// every member is kept once.
func ExtractZip(path, dest string, lim ArchiveLimits) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if zr != nil {
			zr.Close()
		}
		return nil, fmt.Errorf("%s: open zip: %v: %w", path, err, ErrStructural)
	}
	defer zr.Close()

	if lim.MaxEntries > 0 && len(zr.File) > lim.MaxEntries {
		return nil, fmt.Errorf("%s: %d entries (max %d): %w", path, len(zr.File), lim.MaxEntries, ErrArchiveLimit)
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	var (
		files []string
		total int64
		used  = map[string]bool{}
	)
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%s: entry %q escapes extraction dir: %w", path, zf.Name, ErrStructural)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}
		target = uniquePath(target, used)
		used[target] = true

		remaining := int64(-1)
		if lim.MaxTotalBytes > 0 {
			remaining = lim.MaxTotalBytes - total
		}
		n, err := extractEntry(zf, target, remaining)
		total += n
		if err != nil {
			return nil, fmt.Errorf("%s: entry %q: %w", path, zf.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

// uniquePath returns target, or target with a "~N" suffix before its
// extension when target is already taken.
func uniquePath(target string, used map[string]bool) string {
	if !used[target] {
		return target
	}
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	for i := 2; ; i++ {
		p := fmt.Sprintf("%s~%d%s", stem, i, ext)
		if !used[p] {
			return p
		}
	}
}

func extractEntry(zf *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, ErrStructural)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	var src io.Reader = rc
	if remaining >= 0 {
		src = io.LimitReader(rc, remaining+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return n, fmt.Errorf("%v: %w", err, ErrStructural)
	}
	if remaining >= 0 && n > remaining {
		return n, ErrArchiveLimit
	}
	return n, nil
}
