package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jalad-shrimali/cdr-intel/analytics"
	"github.com/jalad-shrimali/cdr-intel/audit"
	"github.com/jalad-shrimali/cdr-intel/evidence"
	"github.com/jalad-shrimali/cdr-intel/ingest"
	"github.com/jalad-shrimali/cdr-intel/report"
	"github.com/jalad-shrimali/cdr-intel/store"
)

const sampleCSV = "caller,callee,timestamp,duration\n" +
	"9876500001,9876500002,2024-03-01 10:00:00,60\n" +
	"9876500001,9876500003,2024-03-01 11:00:00,4000\n" +
	"9876500002,9876500001,2024-03-02 09:30:00,45\n"

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	return newLimitedServer(t, 0)
}

func newLimitedServer(t *testing.T, maxBytes int64) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "cdrintel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	guard, err := evidence.NewGuard(evidence.Config{Dir: filepath.Join(dir, "evidence"), MaxBytes: maxBytes}, st, quiet())
	require.NoError(t, err)
	srv := NewServer(guard, st,
		ingest.New(ingest.Config{Workers: 2, TempDir: dir}, nil, nil, quiet()),
		analytics.New(analytics.DefaultConfig(), quiet()),
		audit.NewWriter(st, quiet()),
		quiet())
	return srv, st
}

func uploadRequest(t *testing.T, name, body, principal, caseID string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("case_id", caseID))
	require.NoError(t, mw.WriteField("purpose", "investigation"))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if principal != "" {
		req.Header.Set(PrincipalHeader, principal)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := serve(h, uploadRequest(t, "cdr.csv", sampleCSV, "officer-7", "case-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got evidence.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cdr.csv", got.Filename)
	assert.Equal(t, "officer-7", got.Uploader)
	assert.Equal(t, "case-1", got.CaseID)
	assert.Len(t, got.ContentHash, 64)

	rec = serve(h, uploadRequest(t, "renamed.csv", sampleCSV, "officer-8", "case-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(h, uploadRequest(t, "tool.exe", "MZ", "officer-7", "case-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, uploadRequest(t, "x.csv", "a,b\n", "", "case-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestReportAudit(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "report before ingest")
	rec = serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/analyze", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "analyze before ingest")

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/ingest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "ingest without evidence")

	require.Equal(t, http.StatusCreated, serve(h, uploadRequest(t, "cdr.csv", sampleCSV, "officer-7", "case-1")).Code)

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ing ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ing))
	assert.Equal(t, 3, ing.Records)
	require.Len(t, ing.Files, 1)
	assert.Equal(t, ingest.StatusOK, ing.Files[0].Status)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st caseView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Records)
	assert.False(t, st.IngestedAt.IsZero())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Run-ID"), "viewing a report records nothing")
	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/audit", nil))
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	rec = serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/analyze", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	runID := rec.Header().Get("X-Run-ID")
	require.NotEmpty(t, runID)
	var rep analytics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 3, rep.Summary.TotalCalls)
	require.Len(t, rep.LongCalls, 1)
	assert.Equal(t, "9876500003", rep.LongCalls[0].Callee)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/audit?run="+runID+"&type=long_call", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "9876500001", entries[0].Subject)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report?format=xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	x, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer x.Close()
	assert.Equal(t, report.SheetSummary, x.GetSheetList()[0])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/records.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "9876500001,9876500003,2024-03-01,11:00:00,4000,,,,,,,", lines[2])

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/audit?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEmptyCase(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/cases/none/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestSetEngine(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	require.Equal(t, http.StatusCreated, serve(h, uploadRequest(t, "cdr.csv", sampleCSV, "officer-7", "case-1")).Code)
	require.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/ingest", nil)).Code)

	cfg := analytics.DefaultConfig()
	cfg.LongCallSeconds = 50
	srv.SetEngine(analytics.New(cfg, quiet()))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rep analytics.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Len(t, rep.LongCalls, 2)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusNoContent, serve(srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

// countingReader counts the bytes a handler pulled from the request body.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type filler byte

func (f filler) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(f)
	}
	return len(p), nil
}

// largeUpload builds a multipart request whose file part is size bytes,
// generated lazily.
func largeUpload(t *testing.T, name string, size int64) (*http.Request, *countingReader) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("case_id", "case-1"))
	_, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	head := bytes.Clone(buf.Bytes())
	buf.Reset()
	require.NoError(t, mw.Close())

	body := &countingReader{r: io.MultiReader(bytes.NewReader(head), io.LimitReader(filler('a'), size), &buf)}
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(PrincipalHeader, "officer-7")
	return req, body
}

func TestUpload_RejectsBeforeReadingBody(t *testing.T) {
	const size = 40 << 20
	srv, _ := newLimitedServer(t, 1<<10)
	h := srv.Handler()

	req, body := largeUpload(t, "payload.exe", size)
	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Less(t, body.n, int64(1<<20))

	req, body = largeUpload(t, "huge.csv", size)
	rec = serve(h, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Less(t, body.n, int64(1<<20))
}

func TestUpload_MissingFilePart(t *testing.T) {
	srv, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("case_id", "case-1"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(PrincipalHeader, "officer-7")
	assert.Equal(t, http.StatusBadRequest, serve(srv.Handler(), req).Code)
}

func TestReportFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	require.Equal(t, http.StatusCreated, serve(h, uploadRequest(t, "cdr.csv", sampleCSV, "officer-7", "case-1")).Code)
	require.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/ingest", nil)).Code)

	get := func(url string) analytics.Report {
		t.Helper()
		rec := serve(h, httptest.NewRequest(http.MethodGet, url, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var rep analytics.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
		return rep
	}

	assert.Equal(t, 2, get("/cases/case-1/report?caller=500001").Summary.TotalCalls)
	assert.Equal(t, 1, get("/cases/case-1/report?callee=500003").Summary.TotalCalls)
	assert.Equal(t, 2, get("/cases/case-1/report?from=2024-03-01&to=2024-03-01").Summary.TotalCalls)
	assert.Equal(t, 1, get("/cases/case-1/report?from=2024-03-02").Summary.TotalCalls)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/records.csv?caller=500002", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/cases/case-1/report?from=tomorrow", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(h, httptest.NewRequest(http.MethodPost, "/cases/case-1/analyze?to=2024-01-01&from=2024-02-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
