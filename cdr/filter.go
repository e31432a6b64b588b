package cdr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Filter narrows a dataset before analysis. Caller and Callee match
// case-insensitive substrings. From and To bound the timestamp inclusively;
// when either is set, records without a timestamp are excluded. The zero
// Filter matches every record.
type Filter struct {
	Caller string
	Callee string
	From   time.Time
	To     time.Time
}

// IsZero reports whether f matches every record.
func (f Filter) IsZero() bool {
	return f.Caller == "" && f.Callee == "" && f.From.IsZero() && f.To.IsZero()
}

// Match reports whether r passes f.
func (f Filter) Match(r CallRecord) bool {
	if f.Caller != "" && !containsFold(r.Caller, f.Caller) {
		return false
	}
	if f.Callee != "" && !containsFold(r.Callee, f.Callee) {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	if !r.HasTime() {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Filter returns a copy of d holding only the records that match f, in
// their original order. Drop and duplicate counts are carried over.
func (d *Dataset) Filter(f Filter) *Dataset {
	out := d.Clone()
	if f.IsZero() {
		return out
	}
	kept := out.Records[:0]
	for _, r := range out.Records {
		if f.Match(r) {
			kept = append(kept, r)
		}
	}
	out.Records = kept
	return out
}

// ErrFilter is returned for a malformed filter bound.
var ErrFilter = errors.New("invalid filter")

// ParseFilter builds a Filter from text bounds. A bound is RFC 3339 or a
// plain date read in loc; a plain date as the upper bound covers the whole
// day.
func ParseFilter(caller, callee, from, to string, loc *time.Location) (Filter, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := Filter{Caller: strings.TrimSpace(caller), Callee: strings.TrimSpace(callee)}
	var err error
	if f.From, err = parseBound(from, loc, false); err != nil {
		return Filter{}, err
	}
	if f.To, err = parseBound(to, loc, true); err != nil {
		return Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Filter{}, fmt.Errorf("%w: end %s is before start %s", ErrFilter, to, from)
	}
	return f, nil
}

func parseBound(s string, loc *time.Location, end bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(time.DateTime, s, loc); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q (want YYYY-MM-DD or RFC 3339)", ErrFilter, s)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t.UTC(), nil
}
