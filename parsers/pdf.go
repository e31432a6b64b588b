package parsers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF extracts tables from a rendered report. Each text row is split
// into cells at wide horizontal gaps; runs of consecutive rows with the same
// number of cells (at least two) are treated as one table whose first row is
// the header. A document without such runs yields no tables.
func ParsePDF(path string) (tables []*Table, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			tables, err = nil, fmt.Errorf("%s: pdf reader: %v: %w", path, r, ErrStructural)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open pdf: %v: %w", path, err, ErrStructural)
	}
	defer f.Close()

	var lines [][]string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("%s: page %d: %v: %w", path, i, err, ErrStructural)
		}
		for _, row := range rows {
			if cells := splitCells(row.Content); len(cells) > 0 {
				lines = append(lines, cells)
			}
		}
	}
	return groupTables(path, lines), nil
}

// splitCells joins text fragments of one row into cells, starting a new cell
// whenever the gap to the previous fragment is wider than a space.
func splitCells(texts pdf.TextHorizontal) []string {
	frags := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			frags = append(frags, t)
		}
	}
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].X < frags[j].X })

	var cells []string
	var cur strings.Builder
	end := 0.0
	for i, t := range frags {
		gap := t.X - end
		limit := t.FontSize
		if limit <= 0 {
			limit = 6
		}
		if i > 0 && gap > limit {
			cells = appendCell(cells, cur.String())
			cur.Reset()
		} else if i > 0 && gap > limit/4 {
			cur.WriteByte(' ')
		}
		cur.WriteString(t.S)
		end = t.X + t.W
	}
	return appendCell(cells, cur.String())
}

func appendCell(cells []string, s string) []string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return cells
	}
	return append(cells, s)
}

func groupTables(source string, lines [][]string) []*Table {
	var tables []*Table
	flush := func(run [][]string) {
		if len(run) < 2 {
			return
		}
		if t := NewTable(fmt.Sprintf("%s#table%d", source, len(tables)+1), run); t != nil {
			tables = append(tables, t)
		}
	}

	var run [][]string
	for _, ln := range lines {
		if len(ln) >= 2 && (len(run) == 0 || len(run[0]) == len(ln)) {
			run = append(run, ln)
			continue
		}
		flush(run)
		run = nil
		if len(ln) >= 2 {
			run = append(run, ln)
		}
	}
	flush(run)
	return tables
}
