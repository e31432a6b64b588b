// Package ingest turns a batch of CDR files into one canonical dataset.
// Each file is detected, parsed, normalized and deduplicated on its own;
// archives are expanded and their members go through the same steps. A
// failing or unsupported file never aborts the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jalad-shrimali/cdr-intel/cdr"
	"github.com/jalad-shrimali/cdr-intel/normalize"
	"github.com/jalad-shrimali/cdr-intel/parsers"
)

// Status is the per-file outcome of an ingestion run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// FileResult is the diagnostic record for one input file or archive member.
type FileResult struct {
	Path       string       `json:"path"`
	Kind       parsers.Kind `json:"kind"`
	Status     Status       `json:"status"`
	Tables     int          `json:"tables"`
	Records    int          `json:"records"`
	Dropped    int          `json:"dropped"`
	Duplicates int          `json:"duplicates"`
	Target     string       `json:"target,omitempty"`
	Error      string       `json:"error,omitempty"`
	Members    []FileResult `json:"members,omitempty"`
}

// Locator resolves a cell-tower id to coordinates.
type Locator interface {
	Locate(cellID string) (lat, lon float64, ok bool)
}

// Config controls a Pipeline.
type Config struct {
	Workers int
	Archive parsers.ArchiveLimits
	// TempDir is where archives are expanded; empty means os.TempDir.
	TempDir string
}

// Pipeline ingests batches of files.
type Pipeline struct {
	cfg     Config
	norm    *normalize.Normalizer
	locator Locator
	log     *slog.Logger
}

// New returns a Pipeline. locator may be nil.
func New(cfg Config, norm *normalize.Normalizer, locator Locator, log *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Archive == (parsers.ArchiveLimits{}) {
		cfg.Archive = parsers.DefaultArchiveLimits()
	}
	if norm == nil {
		norm = normalize.New(nil, nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, norm: norm, locator: locator, log: log}
}

// Ingest processes paths and concatenates their records in input order.
// Files are parsed concurrently. The returned error is non-nil only when ctx
// is cancelled; per-file problems are reported in the results.
func (p *Pipeline) Ingest(ctx context.Context, paths []string) (*cdr.Dataset, []FileResult, error) {
	sets := make([]*cdr.Dataset, len(paths))
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sets[i], results[i] = p.ingestFile(gctx, path, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	ds := &cdr.Dataset{}
	for _, s := range sets {
		ds.Append(s)
	}
	p.log.Info("ingestion finished",
		"files", len(paths),
		"records", ds.Len(),
		"dropped", ds.Dropped,
		"duplicates", ds.Duplicates)
	return ds, results, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, path string, depth int) (*cdr.Dataset, FileResult) {
	res := FileResult{Path: path, Kind: parsers.Detect(path)}
	log := p.log.With("file", path, "kind", res.Kind)

	switch res.Kind {
	case parsers.KindUnsupported:
		res.Status = StatusSkipped
		log.Debug("skipping unsupported file")
		return nil, res
	case parsers.KindZip:
		return p.ingestArchive(ctx, path, depth, res)
	}

	tables, err := parsers.Parse(res.Kind, path)
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		log.Warn("parse failed", "error", err)
		return nil, res
	}
	res.Tables = len(tables)
	if len(tables) == 0 {
		res.Status = StatusSkipped
		log.Info("no tables found")
		return nil, res
	}

	ds := &cdr.Dataset{}
	var failures []error
	for _, t := range tables {
		nr, err := p.norm.Normalize(t)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if res.Target == "" {
			res.Target = nr.Target
		}
		p.enrich(nr.Dataset)
		ds.Append(nr.Dataset)
	}
	if len(failures) == len(tables) {
		err := errors.Join(failures...)
		res.Status, res.Error = StatusFailed, err.Error()
		log.Warn("no table could be normalized", "error", err)
		return nil, res
	}

	res.Status = StatusOK
	res.Records, res.Dropped, res.Duplicates = ds.Len(), ds.Dropped, ds.Duplicates
	log.Debug("file ingested", "records", res.Records, "dropped", res.Dropped)
	return ds, res
}

func (p *Pipeline) ingestArchive(ctx context.Context, path string, depth int, res FileResult) (*cdr.Dataset, FileResult) {
	log := p.log.With("file", path, "depth", depth)
	if p.cfg.Archive.MaxDepth > 0 && depth >= p.cfg.Archive.MaxDepth {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("archive nested deeper than %d: %v", p.cfg.Archive.MaxDepth, parsers.ErrArchiveLimit)
		log.Warn("archive too deep")
		return nil, res
	}

	dir, err := os.MkdirTemp(p.cfg.TempDir, "cdr-zip-")
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		return nil, res
	}
	defer os.RemoveAll(dir)

	members, err := parsers.ExtractZip(path, dir, p.cfg.Archive)
	if err != nil {
		res.Status, res.Error = StatusFailed, err.Error()
		log.Warn("extract failed", "error", err)
		return nil, res
	}

	ds := &cdr.Dataset{}
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			res.Status, res.Error = StatusFailed, err.Error()
			return nil, res
		}
		mds, mres := p.ingestFile(ctx, m, depth+1)
		if rel, err := filepath.Rel(dir, m); err == nil {
			mres.Path = path + "!" + filepath.ToSlash(rel)
		}
		res.Members = append(res.Members, mres)
		res.Tables += mres.Tables
		ds.Append(mds)
	}

	res.Status = StatusOK
	res.Records, res.Dropped, res.Duplicates = ds.Len(), ds.Dropped, ds.Duplicates
	return ds, res
}

// enrich fills coordinates from the cell database where the file had none.
func (p *Pipeline) enrich(ds *cdr.Dataset) {
	if p.locator == nil {
		return
	}
	for i := range ds.Records {
		r := &ds.Records[i]
		if r.HasCoords || r.CellTower == "" {
			continue
		}
		if lat, lon, ok := p.locator.Locate(r.CellTower); ok {
			r.Lat, r.Lon, r.HasCoords = lat, lon, true
		}
	}
}
