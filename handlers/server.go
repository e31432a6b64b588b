// Package handlers exposes evidence upload, case ingestion, analysis and the
// audit trail over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jalad-shrimali/cdr-intel/analytics"
	"github.com/jalad-shrimali/cdr-intel/audit"
	"github.com/jalad-shrimali/cdr-intel/cdr"
	"github.com/jalad-shrimali/cdr-intel/evidence"
	"github.com/jalad-shrimali/cdr-intel/ingest"
	"github.com/jalad-shrimali/cdr-intel/report"
	"github.com/jalad-shrimali/cdr-intel/store"
)

// PrincipalHeader carries the uploader identity.
const PrincipalHeader = "X-Principal"

const (
	// uploadSlack covers multipart headers and form fields on top of the
	// largest accepted file.
	uploadSlack = 1 << 20
	// maxFieldBytes bounds the case_id and purpose form values.
	maxFieldBytes = 4 << 10
)

// Cases is the persistence the server reads from.
type Cases interface {
	ListEvidence(ctx context.Context, caseID string) ([]evidence.Record, error)
	ListAudit(ctx context.Context, f store.AuditFilter) ([]audit.Entry, error)
}

// Ingester turns stored evidence into a dataset.
type Ingester interface {
	Ingest(ctx context.Context, paths []string) (*cdr.Dataset, []ingest.FileResult, error)
}

// caseData is the dataset currently loaded for one case.
type caseData struct {
	ds         *cdr.Dataset
	files      []ingest.FileResult
	ingestedAt time.Time
}

// Server is the HTTP adapter. Loaded datasets are held per case.
type Server struct {
	guard    *evidence.Guard
	cases    Cases
	pipeline Ingester
	audit    *audit.Writer
	engine   atomic.Pointer[analytics.Engine]
	log      *slog.Logger

	mu     sync.RWMutex
	loaded map[string]*caseData
}

// NewServer wires the HTTP adapter.
func NewServer(guard *evidence.Guard, cases Cases, pipeline Ingester, engine *analytics.Engine, aw *audit.Writer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		guard:    guard,
		cases:    cases,
		pipeline: pipeline,
		audit:    aw,
		log:      log,
		loaded:   map[string]*caseData{},
	}
	s.engine.Store(engine)
	return s
}

// SetEngine swaps the analytics engine used by later report requests.
func (s *Server) SetEngine(e *analytics.Engine) {
	s.engine.Store(e)
	s.log.Info("analytics thresholds updated")
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.upload)
	mux.HandleFunc("POST /cases/{id}/ingest", s.ingestCase)
	mux.HandleFunc("GET /cases/{id}", s.caseStatus)
	mux.HandleFunc("GET /cases/{id}/report", s.report)
	mux.HandleFunc("POST /cases/{id}/analyze", s.analyze)
	mux.HandleFunc("GET /cases/{id}/records.csv", s.records)
	mux.HandleFunc("GET /cases/{id}/audit", s.auditTrail)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// upload streams one multipart file into the guard. The case_id and purpose
// fields must precede the file part. The body is bounded and the file is
// validated on its part header, so rejected uploads are not read.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	principal := r.Header.Get(PrincipalHeader)
	if principal == "" {
		http.Error(w, "missing "+PrincipalHeader, http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.guard.MaxBytes()+uploadSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	up := evidence.Upload{Size: -1, Uploader: principal}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		if err != nil {
			s.uploadError(w, err)
			return
		}
		switch part.FormName() {
		case "case_id":
			up.CaseID, err = formValue(part)
		case "purpose":
			up.Purpose, err = formValue(part)
		case "file":
			up.Filename, up.Body = part.FileName(), part
			if _, err := s.guard.Validate(up.Filename, up.Size); err != nil {
				s.uploadError(w, err)
				return
			}
			rec, err := s.guard.Accept(r.Context(), up)
			if err != nil {
				s.uploadError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, rec)
			return
		}
		part.Close()
		if err != nil {
			s.uploadError(w, err)
			return
		}
	}
}

func formValue(part io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", errFieldTooLong
	}
	return string(b), nil
}

var errFieldTooLong = fmt.Errorf("form field longer than %d bytes", maxFieldBytes)

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, evidence.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, evidence.ErrTooLarge), errors.As(err, &tooBig):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, evidence.ErrValidation), errors.Is(err, errFieldTooLong):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, io.ErrUnexpectedEOF):
		http.Error(w, "truncated upload", http.StatusBadRequest)
	default:
		s.fail(w, "upload", err)
	}
}

type ingestResponse struct {
	CaseID     string              `json:"case_id"`
	Records    int                 `json:"records"`
	Dropped    int                 `json:"dropped"`
	Duplicates int                 `json:"duplicates"`
	Files      []ingest.FileResult `json:"files"`
}

func (s *Server) ingestCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	recs, err := s.cases.ListEvidence(r.Context(), caseID)
	if err != nil {
		s.fail(w, "list evidence", err)
		return
	}
	if len(recs) == 0 {
		http.Error(w, "no evidence for case "+caseID, http.StatusNotFound)
		return
	}
	paths := make([]string, len(recs))
	for i, rec := range recs {
		paths[i] = rec.StoredPath
	}

	ds, files, err := s.pipeline.Ingest(r.Context(), paths)
	if err != nil {
		s.fail(w, "ingest", err)
		return
	}

	s.mu.Lock()
	s.loaded[caseID] = &caseData{ds: ds, files: files, ingestedAt: time.Now().UTC()}
	s.mu.Unlock()

	s.log.Info("case ingested", "case", caseID, "files", len(paths), "records", len(ds.Records))
	writeJSON(w, http.StatusOK, ingestResponse{
		CaseID:     caseID,
		Records:    len(ds.Records),
		Dropped:    ds.Dropped,
		Duplicates: ds.Duplicates,
		Files:      files,
	})
}

type caseView struct {
	CaseID     string              `json:"case_id"`
	Records    int                 `json:"records"`
	IngestedAt time.Time           `json:"ingested_at"`
	Files      []ingest.FileResult `json:"files"`
}

func (s *Server) caseStatus(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	cd := s.dataset(caseID)
	if cd == nil {
		http.Error(w, "case "+caseID+" is not ingested", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, caseView{
		CaseID:     caseID,
		Records:    cd.ds.Len(),
		IngestedAt: cd.ingestedAt,
		Files:      cd.files,
	})
}

func (s *Server) dataset(caseID string) *caseData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded[caseID]
}

// report returns the analysis of the loaded dataset without recording it.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	s.runAnalysis(w, r, false)
}

// analyze runs the analysis, commits the findings to the audit trail as a new
// run and returns the report.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	s.runAnalysis(w, r, true)
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request, commit bool) {
	caseID := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "xlsx" {
		http.Error(w, "format must be json or xlsx", http.StatusBadRequest)
		return
	}
	eng := s.engine.Load()
	f, err := filterFrom(r, eng.Config().Location)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cd := s.dataset(caseID)
	if cd == nil {
		http.Error(w, "case "+caseID+" is not ingested", http.StatusNotFound)
		return
	}

	rep := eng.Analyze(cd.ds.Filter(f))
	if commit {
		runID := uuid.NewString()
		if _, err := s.audit.Commit(r.Context(), runID, caseID, rep); err != nil {
			s.fail(w, "audit", err)
			return
		}
		w.Header().Set("X-Run-ID", runID)
	}

	if format == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+caseID+`_report.xlsx"`)
		if err := report.WriteXLSX(w, rep); err != nil {
			s.log.Error("write workbook", "case", caseID, "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, rep); err != nil {
		s.log.Error("write report", "case", caseID, "error", err)
	}
}

// filterFrom reads caller, callee, from and to query parameters.
func filterFrom(r *http.Request, loc *time.Location) (cdr.Filter, error) {
	q := r.URL.Query()
	return cdr.ParseFilter(q.Get("caller"), q.Get("callee"), q.Get("from"), q.Get("to"), loc)
}

// records downloads the normalized dataset of a case.
func (s *Server) records(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	f, err := filterFrom(r, s.engine.Load().Config().Location)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cd := s.dataset(caseID)
	if cd == nil {
		http.Error(w, "case "+caseID+" is not ingested", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+caseID+`_normalized.csv"`)
	if err := report.WriteRecordsCSV(w, cd.ds.Filter(f)); err != nil {
		s.log.Error("write records", "case", caseID, "error", err)
	}
}

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		CaseID: r.PathValue("id"),
		RunID:  q.Get("run"),
		Type:   audit.AnomalyType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	entries, err := s.cases.ListAudit(r.Context(), f)
	if err != nil {
		s.fail(w, "list audit", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", "error", err)
	http.Error(w, op+" failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
