package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/jalad-shrimali/cdr-intel/cdr"
)

// RecordHeader is the column layout of the normalized record export.
var RecordHeader = []string{
	"CdrNo", "B Party", "Date", "Time", "Duration", "Call Type",
	"Cell ID", "Lat", "Long", "IMEI", "IMSI", "Subscriber ID",
}

// WriteRecordsCSV writes the normalized dataset, one row per record, with
// dates and times in UTC.
func WriteRecordsCSV(w io.Writer, ds *cdr.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordHeader); err != nil {
		return err
	}
	row := make([]string, len(RecordHeader))
	for _, r := range ds.Records {
		var date, clock, lat, lon string
		if r.HasTime() {
			t := r.Timestamp.UTC()
			date, clock = t.Format("2006-01-02"), t.Format("15:04:05")
		}
		if r.HasCoords {
			lat = strconv.FormatFloat(r.Lat, 'f', -1, 64)
			lon = strconv.FormatFloat(r.Lon, 'f', -1, 64)
		}
		row = append(row[:0],
			r.Caller, r.Callee, date, clock, strconv.FormatInt(r.Duration, 10), r.CallType,
			r.CellTower, lat, lon, r.IMEI, r.IMSI, r.SubscriberID)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
