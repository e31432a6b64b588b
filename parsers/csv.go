package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var delimiters = []rune{',', ';', '\t', '|'}

// ParseCSV reads a delimited text file. The delimiter is sniffed from the
// first lines; a UTF-8 or UTF-16 byte-order mark is honoured.
func ParseCSV(path string) ([]*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(path, f)
}

// ReadCSV is ParseCSV over an arbitrary reader.
func ReadCSV(source string, r io.Reader) ([]*Table, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	br := bufio.NewReader(transform.NewReader(r, dec))

	head, _ := br.Peek(8192)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, fmt.Errorf("%s: binary content: %w", source, ErrStructural)
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(head)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a broken line is skipped, the rest of the file is still usable
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return nil, fmt.Errorf("%s: read csv: %w", source, err)
		}
		records = append(records, rec)
	}

	t := NewTable(source, records)
	if t == nil {
		return nil, nil
	}
	return []*Table{t}, nil
}

// sniffDelimiter picks the delimiter that splits the first lines into the
// most consistent, widest rows.
func sniffDelimiter(head []byte) rune {
	lines := bytes.Split(head, []byte("\n"))
	if len(lines) > 10 {
		lines = lines[:10]
	}
	best, bestScore := ',', 0
	for _, d := range delimiters {
		counts := map[int]int{}
		for _, ln := range lines {
			if len(bytes.TrimSpace(ln)) == 0 {
				continue
			}
			counts[bytes.Count(ln, []byte(string(d)))]++
		}
		score := 0
		for n, c := range counts {
			if n > 0 && n*c > score {
				score = n * c
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}
