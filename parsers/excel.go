package parsers

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	biffMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// ParseExcel reads every sheet of a workbook as its own table. Operator
// portals often hand out HTML tables with an .xls name; those are routed to
// the HTML parser. Legacy binary workbooks are a structural failure.
func ParseExcel(path string) ([]*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return ReadWorkbook(path, f)
	case bytes.HasPrefix(head, biffMagic):
		return nil, fmt.Errorf("%s: legacy binary workbook: %w", path, ErrStructural)
	case looksLikeHTML(head):
		return ReadHTML(path, f)
	default:
		return nil, fmt.Errorf("%s: not a workbook: %w", path, ErrStructural)
	}
}

// ReadWorkbook parses an OOXML workbook from r.
func ReadWorkbook(source string, r io.Reader) ([]*Table, error) {
	x, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: open workbook: %v: %w", source, err, ErrStructural)
	}
	defer x.Close()

	var tables []*Table
	for _, sheet := range x.GetSheetList() {
		rows, err := x.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%s: read sheet %q: %w", source, sheet, err)
		}
		if t := NewTable(source+"#"+sheet, rows); t != nil {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func looksLikeHTML(head []byte) bool {
	h := bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(h, []byte("<")) &&
		(bytes.Contains(h, []byte("<html")) || bytes.Contains(h, []byte("<table")) || bytes.Contains(h, []byte("<!doctype")))
}
