package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jalad-shrimali/cdr-intel/analytics"
	"github.com/jalad-shrimali/cdr-intel/audit"
	"github.com/jalad-shrimali/cdr-intel/cdr"
	"github.com/jalad-shrimali/cdr-intel/celldb"
	"github.com/jalad-shrimali/cdr-intel/config"
	"github.com/jalad-shrimali/cdr-intel/evidence"
	"github.com/jalad-shrimali/cdr-intel/handlers"
	"github.com/jalad-shrimali/cdr-intel/ingest"
	"github.com/jalad-shrimali/cdr-intel/logging"
	"github.com/jalad-shrimali/cdr-intel/normalize"
	"github.com/jalad-shrimali/cdr-intel/report"
	"github.com/jalad-shrimali/cdr-intel/store"
)

type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// env holds the components one command runs against.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *store.Store
	closers []io.Closer
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

func (c *cli) open(cfg *config.Config) (*env, error) {
	lc, err := logging.FromStrings(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, "")
	if err != nil {
		return nil, err
	}
	if lc.FilePath == "" {
		lc.Output = c.stderr
	}
	log, logCloser, err := logging.New(lc)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	st, err := store.Open(cfg.Storage.Database)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = st
	e.closers = append(e.closers, st)
	return e, nil
}

func (c *cli) load() (*config.Config, error) {
	return config.Load(c.configPath)
}

func (e *env) guard() (*evidence.Guard, error) {
	return evidence.NewGuard(e.cfg.EvidenceConfig(), e.store, e.log.With("component", "evidence"))
}

func (e *env) pipeline() (*ingest.Pipeline, error) {
	loc, err := e.cfg.Location()
	if err != nil {
		return nil, err
	}
	aliases := normalize.DefaultAliasTable()
	if e.cfg.Ingest.AliasFile != "" {
		if aliases, err = normalize.LoadAliasTable(e.cfg.Ingest.AliasFile); err != nil {
			return nil, err
		}
	}
	var locator ingest.Locator
	if e.cfg.Storage.CellDB != "" {
		db, err := celldb.Open(e.cfg.Storage.CellDB)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, db)
		locator = db
	}
	return ingest.New(e.cfg.PipelineConfig(), normalize.New(aliases, loc), locator, e.log.With("component", "ingest")), nil
}

func (e *env) engine(cfg *config.Config) (*analytics.Engine, error) {
	ac, err := cfg.AnalyticsConfig()
	if err != nil {
		return nil, err
	}
	return analytics.New(ac, e.log.With("component", "analytics")), nil
}

func (c *cli) serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader(c.configPath)
	defer loader.Close()
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	e, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	guard, err := e.guard()
	if err != nil {
		return err
	}
	pipe, err := e.pipeline()
	if err != nil {
		return err
	}
	eng, err := e.engine(cfg)
	if err != nil {
		return err
	}
	srv := handlers.NewServer(guard, e.store, pipe, eng,
		audit.NewWriter(e.store, e.log.With("component", "audit")), e.log.With("component", "http"))

	// thresholds follow the config file; storage and listener need a restart
	if c.configPath != "" {
		loader.OnChange(func(nc *config.Config) {
			eng, err := e.engine(nc)
			if err != nil {
				e.log.Warn("config reload rejected", "error", err)
				return
			}
			srv.SetEngine(eng)
		})
		if err := loader.Watch(); err != nil {
			e.log.Warn("config hot reload disabled", "error", err)
		} else {
			go func() {
				for err := range loader.Errors() {
					e.log.Warn("config reload rejected", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		e.log.Info("server started", "addr", cfg.Server.Addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	e.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func principal(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func (c *cli) upload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	caseID := fs.String("case", "", "case identifier")
	purpose := fs.String("purpose", "", "purpose of the upload")
	who := fs.String("principal", "", "uploader identity (default: $USER)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: cdrintel upload [-case id] [-purpose text] <file>...")
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	e, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	guard, err := e.guard()
	if err != nil {
		return err
	}

	ctx := context.Background()
	var failed int
	for _, path := range fs.Args() {
		rec, err := acceptFile(ctx, guard, path, evidence.Upload{
			Uploader: principal(*who),
			CaseID:   *caseID,
			Purpose:  *purpose,
		})
		if err != nil {
			failed++
			fmt.Fprintf(c.stderr, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(c.stdout, "%s  %s  %s\n", rec.ID, rec.ContentHash, rec.Filename)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files rejected", failed, fs.NArg())
	}
	return nil
}

func acceptFile(ctx context.Context, g *evidence.Guard, path string, up evidence.Upload) (*evidence.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if _, err := g.Validate(path, info.Size()); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	up.Filename = path
	up.Size = info.Size()
	up.Body = f
	return g.Accept(ctx, up)
}

func (c *cli) analyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	caseID := fs.String("case", "", "case identifier; with no files, analyze the case's evidence")
	xlsxOut := fs.String("xlsx", "", "write the report workbook to this path")
	jsonOut := fs.String("json", "", "write the report as JSON to this path (- for stdout)")
	csvOut := fs.String("csv", "", "write the normalized records as CSV to this path")
	record := fs.Bool("audit", true, "commit findings to the audit trail")
	caller := fs.String("caller", "", "only calls whose caller contains this")
	callee := fs.String("callee", "", "only calls whose callee contains this")
	from := fs.String("from", "", "only calls at or after this date (YYYY-MM-DD or RFC 3339)")
	to := fs.String("to", "", "only calls at or before this date (YYYY-MM-DD or RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	e, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	paths := fs.Args()
	if len(paths) == 0 {
		if *caseID == "" {
			return errors.New("usage: cdrintel analyze [-case id] [-xlsx out] [-json out] [file]...")
		}
		recs, err := e.store.ListEvidence(ctx, *caseID)
		if err != nil {
			return err
		}
		for _, r := range recs {
			paths = append(paths, r.StoredPath)
		}
		if len(paths) == 0 {
			return fmt.Errorf("no evidence for case %s", *caseID)
		}
	}

	eng, err := e.engine(cfg)
	if err != nil {
		return err
	}
	filter, err := cdr.ParseFilter(*caller, *callee, *from, *to, eng.Config().Location)
	if err != nil {
		return err
	}
	pipe, err := e.pipeline()
	if err != nil {
		return err
	}
	ds, results, err := pipe.Ingest(ctx, paths)
	if err != nil {
		return err
	}
	printResults(c.stderr, results, "")

	ds = ds.Filter(filter)
	rep := eng.Analyze(ds)
	if *record {
		runID := uuid.NewString()
		entries, err := audit.NewWriter(e.store, e.log.With("component", "audit")).Commit(ctx, runID, *caseID, rep)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stderr, "run %s: %d audit entries\n", runID, len(entries))
	}

	if *xlsxOut != "" {
		if err := report.SaveXLSX(*xlsxOut, rep); err != nil {
			return err
		}
	}
	if *csvOut != "" {
		if err := writeFile(*csvOut, func(w io.Writer) error { return report.WriteRecordsCSV(w, ds) }); err != nil {
			return err
		}
	}
	switch *jsonOut {
	case "":
	case "-":
		if err := report.WriteJSON(c.stdout, rep); err != nil {
			return err
		}
	default:
		if err := writeFile(*jsonOut, func(w io.Writer) error { return report.WriteJSON(w, rep) }); err != nil {
			return err
		}
	}
	if *jsonOut != "-" {
		for _, in := range rep.Insights {
			fmt.Fprintln(c.stdout, in)
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printResults(w io.Writer, results []ingest.FileResult, indent string) {
	for _, r := range results {
		line := fmt.Sprintf("%s%s [%s] %s", indent, r.Path, r.Kind, r.Status)
		if r.Status == ingest.StatusOK {
			line += fmt.Sprintf(": %d records, %d dropped, %d duplicates", r.Records, r.Dropped, r.Duplicates)
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
		printResults(w, r.Members, indent+"  ")
	}
}

func (c *cli) auditList(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var f store.AuditFilter
	fs.StringVar(&f.CaseID, "case", "", "only entries of this case")
	fs.StringVar(&f.RunID, "run", "", "only entries of this run")
	typ := fs.String("type", "", "only entries of this anomaly type")
	fs.IntVar(&f.Limit, "limit", 0, "maximum number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f.Type = audit.AnomalyType(*typ)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	e, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.store.ListAudit(context.Background(), f)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	for _, en := range entries {
		if err := enc.Encode(en); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) verify(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: cdrintel verify <evidence-id>...")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	e, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	var bad int
	for _, id := range args {
		rec, err := e.store.Evidence(context.Background(), id)
		if err != nil {
			return err
		}
		ok, err := evidence.Verify(rec)
		switch {
		case err != nil:
			bad++
			fmt.Fprintf(c.stdout, "%s  ERROR  %s: %v\n", id, rec.Filename, err)
		case !ok:
			bad++
			fmt.Fprintf(c.stdout, "%s  MODIFIED  %s\n", id, rec.Filename)
		default:
			fmt.Fprintf(c.stdout, "%s  OK  %s\n", id, rec.Filename)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files failed verification", bad, len(args))
	}
	return nil
}
