// Package parsers turns CDR files of a known format into raw tables: rows of
// strings under named columns, with no assumption about what the columns mean.
package parsers

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrStructural is returned when a file is not tabular in its declared format.
var ErrStructural = errors.New("structural parse failure")

// Table is one raw table read from a file. Columns is the first row of the
// source table; Rows are the rows after it.
type Table struct {
	Source  string
	Columns []string
	Rows    [][]string
}

// NewTable splits records into header and body. Leading empty records are
// skipped. It returns nil when there is no non-empty record.
func NewTable(source string, records [][]string) *Table {
	for i, rec := range records {
		if blankRow(rec) {
			continue
		}
		body := make([][]string, 0, len(records)-i-1)
		for _, r := range records[i+1:] {
			if !blankRow(r) {
				body = append(body, r)
			}
		}
		return &Table{Source: source, Columns: rec, Rows: body}
	}
	return nil
}

// Records returns the header followed by the body rows.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, t.Columns)
	return append(out, t.Rows...)
}

func blankRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Kind is the parser family selected for a file.
type Kind string

const (
	KindCSV         Kind = "csv"
	KindExcel       Kind = "excel"
	KindPDF         Kind = "pdf"
	KindHTML        Kind = "html"
	KindZip         Kind = "zip"
	KindUnsupported Kind = "unsupported"
)

// Detect selects a parser by file extension. The accepted set is exactly
// .csv, .xls, .xlsx, .pdf, .html and .zip.
func Detect(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return KindCSV
	case ".xls", ".xlsx":
		return KindExcel
	case ".pdf":
		return KindPDF
	case ".html":
		return KindHTML
	case ".zip":
		return KindZip
	default:
		return KindUnsupported
	}
}
