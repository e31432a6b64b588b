// Package normalize maps raw tables onto the canonical CDR schema: column
// names go through a versioned alias table and values are coerced field by
// field. A malformed value never fails a row; it degrades to null or zero.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jalad-shrimali/cdr-intel/cdr"
	"github.com/jalad-shrimali/cdr-intel/parsers"
)

// ErrNotTabular is returned for tables without a usable header row.
var ErrNotTabular = errors.New("not a CDR table")

// headerScanRows bounds how far below the top a header row is searched for.
const headerScanRows = 50

// Normalizer converts raw tables to canonical datasets.
type Normalizer struct {
	aliases *AliasTable
	loc     *time.Location
}

// New returns a Normalizer. A nil table selects the embedded alias table and
// a nil location selects UTC.
func New(aliases *AliasTable, loc *time.Location) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliasTable()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{aliases: aliases, loc: loc}
}

// Result is the outcome of normalizing one table.
type Result struct {
	Dataset *cdr.Dataset
	// Target is the CDR number taken from banner lines, if any.
	Target string
	// Columns maps each recognised field to the header it was read from.
	Columns map[Field]string
	// Unmapped lists headers that matched no alias.
	Unmapped []string
}

// Normalize maps t onto the canonical schema. Rows without caller or callee
// are dropped and counted; exact duplicate rows are removed and counted.
func (n *Normalizer) Normalize(t *parsers.Table) (*Result, error) {
	if t == nil || len(t.Columns) == 0 {
		return nil, ErrNotTabular
	}
	records := t.Records()
	hdr := n.locateHeader(records)
	if hdr < 0 {
		return nil, fmt.Errorf("%s: no recognisable CDR columns: %w", t.Source, ErrNotTabular)
	}

	header := records[hdr]
	res := &Result{
		Dataset: &cdr.Dataset{},
		Target:  extractTarget(records[:hdr]),
		Columns: map[Field]string{},
	}
	idx := map[Field]int{}
	for i, h := range header {
		f, ok := n.aliases.Lookup(h)
		if !ok {
			if strings.TrimSpace(h) != "" {
				res.Unmapped = append(res.Unmapped, h)
			}
			continue
		}
		if _, seen := idx[f]; !seen {
			idx[f] = i
			res.Columns[f] = h
		}
	}

	_, hasCaller := idx[FieldCaller]
	seen := map[string]struct{}{}
	for _, rec := range records[hdr+1:] {
		if systemLine(rec) {
			continue
		}
		r := n.record(rec, idx, hasCaller, res.Target)
		if r.Caller == "" || r.Callee == "" {
			res.Dataset.Dropped++
			continue
		}
		key := rowKey(rec)
		if _, dup := seen[key]; dup {
			res.Dataset.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		res.Dataset.Records = append(res.Dataset.Records, r)
	}
	return res, nil
}

// rowKey identifies a source row by all of its cells, mapped or not.
// Trailing empty cells are ignored so ragged rows compare equal.
func rowKey(rec []string) string {
	end := len(rec)
	for end > 0 && strings.TrimSpace(rec[end-1]) == "" {
		end--
	}
	cells := make([]string, end)
	for i, c := range rec[:end] {
		cells[i] = strings.TrimSpace(c)
	}
	return strings.Join(cells, "\x1f")
}

func (n *Normalizer) record(rec []string, idx map[Field]int, hasCaller bool, target string) cdr.CallRecord {
	get := func(f Field) string {
		i, ok := idx[f]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	r := cdr.CallRecord{
		Caller:       digits(get(FieldCaller)),
		Callee:       digits(get(FieldCallee)),
		Duration:     parseDuration(get(FieldDuration)),
		IMEI:         clean(get(FieldIMEI)),
		IMSI:         clean(get(FieldIMSI)),
		SubscriberID: clean(get(FieldSubscriberID)),
		CellTower:    strings.ReplaceAll(clean(get(FieldCellTower)), "-", ""),
		CallType:     callType(clean(get(FieldCallType))),
	}

	// operator exports list only the B party; the A party is the target
	if !hasCaller && target != "" {
		other := r.Callee
		if incoming(r.CallType) {
			r.Caller, r.Callee = other, target
		} else {
			r.Caller, r.Callee = target, other
		}
	}

	if _, ok := idx[FieldTimestamp]; ok {
		r.Timestamp = parseTimestamp(get(FieldTimestamp), n.loc)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = combineDateTime(get(FieldDate), get(FieldTime), n.loc)
	}

	lat, okLat := parseCoord(get(FieldLat), 90)
	lon, okLon := parseCoord(get(FieldLon), 180)
	if !okLat || !okLon {
		lat, lon, okLat = parseLatLon(get(FieldLatLon))
		okLon = okLat
	}
	if okLat && okLon {
		r.Lat, r.Lon, r.HasCoords = lat, lon, true
	}
	return r
}

// locateHeader returns the index of the header row: the first row with at
// least two recognised columns, else row 0 if it has one, else -1.
func (n *Normalizer) locateHeader(records [][]string) int {
	limit := min(len(records), headerScanRows)
	for i := 0; i < limit; i++ {
		if n.hits(records[i]) >= 2 {
			return i
		}
	}
	if len(records) > 0 && n.hits(records[0]) == 1 {
		return 0
	}
	return -1
}

func (n *Normalizer) hits(rec []string) int {
	fields := map[Field]struct{}{}
	for _, h := range rec {
		if f, ok := n.aliases.Lookup(h); ok {
			fields[f] = struct{}{}
		}
	}
	return len(fields)
}
