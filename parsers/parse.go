package parsers

import "fmt"

// Parse runs the parser for kind over the file at path. Archives are not
// handled here; the ingestion pipeline expands them and parses the members.
func Parse(kind Kind, path string) ([]*Table, error) {
	switch kind {
	case KindCSV:
		return ParseCSV(path)
	case KindExcel:
		return ParseExcel(path)
	case KindPDF:
		return ParsePDF(path)
	case KindHTML:
		return ParseHTML(path)
	default:
		return nil, fmt.Errorf("no parser for %s (%s)", path, kind)
	}
}
