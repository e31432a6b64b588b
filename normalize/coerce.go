package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nonDigit = regexp.MustCompile(`\D`)

func digits(s string) string { return nonDigit.ReplaceAllString(s, "") }

// clean trims the quoting operators wrap around values ('9876…, "IMEI").
func clean(s string) string { return strings.Trim(s, "'\" \t\r\n") }

// Layouts tried, in order, for a full date-time value. Day-first forms come
// before month-first ones.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02.01.2006 15:04:05",
	"02-Jan-2006 15:04:05",
	"02-Jan-06 15:04:05",
	"02 Jan 2006 15:04:05",
	"Jan 2 2006 15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"01/02/2006 03:04:05 PM",
	"02/01/2006 03:04:05 PM",
	"01-02-06 15:04:05",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"01/02/2006",
	"1/2/2006",
	"01-02-06",
	"20060102",
}

var clockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04:05 PM",
	"03:04:05 PM",
	"150405",
}

// parseTimestamp parses a full date-time. Values without an explicit offset
// are read in loc. The result is UTC; failure yields the zero time.
func parseTimestamp(v string, loc *time.Location) time.Time {
	v = clean(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.UTC()
		}
	}
	// epoch seconds or milliseconds
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		switch {
		case n >= 1e9 && n < 1e10:
			return time.Unix(n, 0).UTC()
		case n >= 1e12 && n < 1e13:
			return time.UnixMilli(n).UTC()
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// combineDateTime parses separate date and time columns.
func combineDateTime(date, clock string, loc *time.Location) time.Time {
	date, clock = clean(date), clean(clock)
	switch {
	case date == "" && clock == "":
		return time.Time{}
	case date == "":
		// a lone time column often carries the full date-time
		return parseTimestamp(clock, loc)
	case clock == "":
		return parseTimestamp(date, loc)
	}
	if t := parseTimestamp(date+" "+clock, loc); !t.IsZero() {
		return t
	}
	var day time.Time
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, date, loc); err == nil {
			day = t
			break
		}
	}
	if day.IsZero() {
		return time.Time{}
	}
	for _, layout := range clockLayouts {
		if c, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(),
				c.Hour(), c.Minute(), c.Second(), 0, loc).UTC()
		}
	}
	return time.Time{}
}

// parseDuration accepts whole or fractional seconds and h:mm:ss / mm:ss.
// Anything else, and negative values, become 0.
func parseDuration(v string) int64 {
	v = clean(v)
	if v == "" {
		return 0
	}
	if strings.Contains(v, ":") {
		var secs int64
		for _, p := range strings.Split(v, ":") {
			n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil || n < 0 {
				return 0
			}
			secs = secs*60 + n
		}
		return secs
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(math.Round(f))
}

func parseCoord(v string, limit float64) (float64, bool) {
	f, err := strconv.ParseFloat(clean(v), 64)
	if err != nil || math.IsNaN(f) || math.Abs(f) > limit {
		return 0, false
	}
	return f, true
}

// parseLatLon reads a combined "lat, lon[, azimuth]" cell.
func parseLatLon(v string) (lat, lon float64, ok bool) {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '/' || r == ';' })
	if len(parts) < 2 {
		return 0, 0, false
	}
	lat, ok1 := parseCoord(parts[0], 90)
	lon, ok2 := parseCoord(parts[1], 180)
	return lat, lon, ok1 && ok2
}
