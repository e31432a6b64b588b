package parsers

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDetect(t *testing.T) {
	tests := map[string]Kind{
		"a.csv":      KindCSV,
		"A.CSV":      KindCSV,
		"b.xls":      KindExcel,
		"b.xlsx":     KindExcel,
		"c.pdf":      KindPDF,
		"d.html":     KindHTML,
		"e.zip":      KindZip,
		"f.htm":      KindUnsupported,
		"g.json":     KindUnsupported,
		"noext":      KindUnsupported,
		"dir/h.txt":  KindUnsupported,
		"x.tar.gz":   KindUnsupported,
		"report.Pdf": KindPDF,
	}
	for path, want := range tests {
		assert.Equal(t, want, Detect(path), path)
	}
}

func TestNewTable(t *testing.T) {
	assert.Nil(t, NewTable("x", nil))
	assert.Nil(t, NewTable("x", [][]string{{"", " "}, {}}))

	tbl := NewTable("x", [][]string{{""}, {"a", "b"}, {"1", "2"}, {" "}, {"3", "4"}})
	require.NotNil(t, tbl)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, tbl.Rows)
	assert.Len(t, tbl.Records(), 3)
}

func TestReadCSV_SniffsDelimiter(t *testing.T) {
	tests := map[string]string{
		"comma":     "caller,callee,duration\n1,2,30\n3,4,40\n",
		"semicolon": "caller;callee;duration\n1;2;30\n3;4;40\n",
		"tab":       "caller\tcallee\tduration\n1\t2\t30\n3\t4\t40\n",
		"pipe":      "caller|callee|duration\n1|2|30\n3|4|40\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			tables, err := ReadCSV("in.csv", strings.NewReader(doc))
			require.NoError(t, err)
			require.Len(t, tables, 1)
			assert.Equal(t, []string{"caller", "callee", "duration"}, tables[0].Columns)
			assert.Equal(t, [][]string{{"1", "2", "30"}, {"3", "4", "40"}}, tables[0].Rows)
		})
	}
}

func TestReadCSV_BOMAndRaggedRows(t *testing.T) {
	doc := "\xef\xbb\xbfcaller,callee\n1,2\n3,4,extra\n5\n"
	tables, err := ReadCSV("in.csv", strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "caller", tables[0].Columns[0])
	assert.Len(t, tables[0].Rows, 3)
}

func TestReadCSV_UTF16(t *testing.T) {
	// "a,b\n1,2\n" as UTF-16LE with BOM
	src := "a,b\n1,2\n"
	buf := []byte{0xFF, 0xFE}
	for _, r := range src {
		buf = append(buf, byte(r), 0)
	}
	tables, err := ReadCSV("in.csv", strings.NewReader(string(buf)))
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"a", "b"}, tables[0].Columns)
}

func TestReadCSV_EmptyAndBinary(t *testing.T) {
	tables, err := ReadCSV("in.csv", strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, tables)

	_, err = ReadCSV("in.csv", strings.NewReader("PK\x03\x04\x00\x00garbage"))
	assert.ErrorIs(t, err, ErrStructural)
}

func TestReadHTML(t *testing.T) {
	doc := `<html><body>
<p>Mobile No '9876543210'</p>
<table>
  <tr><th>Caller</th><th>Callee</th></tr>
  <tr><td>1</td><td>2<br>0</td></tr>
  <tr><td><table><tr><td>nested</td></tr></table></td><td>x</td></tr>
</table>
<table><tr><td></td></tr></table>
<table><tr><td>a</td><td>b</td></tr><tr><td>c</td><td>d</td></tr></table>
</body></html>`
	tables, err := ReadHTML("r.html", strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "r.html#table1", tables[0].Source)
	assert.Equal(t, []string{"Caller", "Callee"}, tables[0].Columns)
	assert.Equal(t, []string{"1", "2 0"}, tables[0].Rows[0])
	assert.Equal(t, "x", tables[0].Rows[1][1])
	assert.Equal(t, []string{"a", "b"}, tables[1].Columns)
}

func TestReadHTML_NoTables(t *testing.T) {
	tables, err := ReadHTML("r.html", strings.NewReader("<html><body><p>nothing</p></body></html>"))
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestParseExcel_Workbook(t *testing.T) {
	dir := t.TempDir()
	x := excelize.NewFile()
	require.NoError(t, x.SetSheetRow("Sheet1", "A1", &[]any{"Caller", "Callee", "Duration"}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A2", &[]any{"111", "222", 30}))
	_, err := x.NewSheet("Empty")
	require.NoError(t, err)
	path := filepath.Join(dir, "book.xlsx")
	require.NoError(t, x.SaveAs(path))
	require.NoError(t, x.Close())

	tables, err := ParseExcel(path)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, path+"#Sheet1", tables[0].Source)
	assert.Equal(t, []string{"111", "222", "30"}, tables[0].Rows[0])
}

func TestParseExcel_Sniffing(t *testing.T) {
	dir := t.TempDir()

	html := writeFile(t, dir, "portal.xls", []byte("<html><table><tr><td>caller</td><td>callee</td></tr><tr><td>1</td><td>2</td></tr></table></html>"))
	tables, err := ParseExcel(html)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"caller", "callee"}, tables[0].Columns)

	biff := writeFile(t, dir, "legacy.xls", append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...))
	_, err = ParseExcel(biff)
	assert.ErrorIs(t, err, ErrStructural)

	junk := writeFile(t, dir, "junk.xlsx", []byte("plain text"))
	_, err = ParseExcel(junk)
	assert.ErrorIs(t, err, ErrStructural)
}

func TestParsePDF_NotAPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "r.pdf", []byte("definitely not a pdf"))
	_, err := ParsePDF(path)
	assert.ErrorIs(t, err, ErrStructural)
}

func TestSplitCells(t *testing.T) {
	row := pdf.TextHorizontal{
		{S: "Call", X: 10, W: 20, FontSize: 8},
		{S: "Type", X: 34, W: 20, FontSize: 8},
		{S: "Duration", X: 100, W: 40, FontSize: 8},
		{S: "", X: 150, W: 0, FontSize: 8},
		{S: "12", X: 200, W: 10, FontSize: 8},
	}
	assert.Equal(t, []string{"Call Type", "Duration", "12"}, splitCells(row))
}

func TestGroupTables(t *testing.T) {
	lines := [][]string{
		{"Report for 9876543210"},
		{"caller", "callee"},
		{"1", "2"},
		{"3", "4"},
		{"page 1"},
		{"a", "b", "c"},
		{"only one run"},
		{"x", "y", "z"},
		{"1", "2", "3"},
	}
	tables := groupTables("r.pdf", lines)
	require.Len(t, tables, 2)
	assert.Equal(t, []string{"caller", "callee"}, tables[0].Columns)
	assert.Len(t, tables[0].Rows, 2)
	assert.Equal(t, []string{"x", "y", "z"}, tables[1].Columns)
	assert.Equal(t, "r.pdf#table2", tables[1].Source)
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.zip")
	writeZip(t, src, map[string]string{
		"a.csv":       "caller,callee\n1,2\n",
		"sub/b.html":  "<table></table>",
		"sub/notes/":  "",
		"sub/c.notes": "x",
	})

	dest := filepath.Join(dir, "out")
	files, err := ExtractZip(src, dest, DefaultArchiveLimits())
	require.NoError(t, err)
	assert.Len(t, files, 3)
	for _, f := range files {
		assert.FileExists(t, f)
		assert.True(t, strings.HasPrefix(f, dest))
	}
}

func TestExtractZip_RepeatedNamesKeepEveryMember(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dup.zip")
	f, err := os.Create(src)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, body := range []string{"first", "second", "third"} {
		w, err := zw.Create("cdr.csv")
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	files, err := ExtractZip(src, dest, DefaultArchiveLimits())
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dest, "cdr.csv"),
		filepath.Join(dest, "cdr~2.csv"),
		filepath.Join(dest, "cdr~3.csv"),
	}, files)
	for i, want := range []string{"first", "second", "third"} {
		got, err := os.ReadFile(files[i])
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestExtractZip_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	writeZip(t, src, map[string]string{"../../escape.csv": "x"})

	_, err := ExtractZip(src, filepath.Join(dir, "out"), DefaultArchiveLimits())
	assert.ErrorIs(t, err, ErrStructural)
	assert.NoFileExists(t, filepath.Join(dir, "escape.csv"))
}

func TestExtractZip_Limits(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.zip")
	writeZip(t, src, map[string]string{
		"a.csv": strings.Repeat("1,2\n", 100),
		"b.csv": strings.Repeat("3,4\n", 100),
	})

	_, err := ExtractZip(src, filepath.Join(dir, "o1"), ArchiveLimits{MaxEntries: 1})
	assert.ErrorIs(t, err, ErrArchiveLimit)

	_, err = ExtractZip(src, filepath.Join(dir, "o2"), ArchiveLimits{MaxTotalBytes: 500})
	assert.ErrorIs(t, err, ErrArchiveLimit)

	files, err := ExtractZip(src, filepath.Join(dir, "o3"), ArchiveLimits{MaxTotalBytes: 800})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestExtractZip_NotAZip(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.zip", []byte("nope"))
	_, err := ExtractZip(path, t.TempDir(), DefaultArchiveLimits())
	assert.ErrorIs(t, err, ErrStructural)
}

func TestParse_Dispatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.csv", []byte("caller,callee\n1,2\n"))
	tables, err := Parse(KindCSV, path)
	require.NoError(t, err)
	assert.Len(t, tables, 1)

	_, err = Parse(KindZip, path)
	assert.Error(t, err)
}
