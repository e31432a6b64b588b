// Package report exports an intelligence report as an xlsx workbook, one
// sheet per table, or as indented JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jalad-shrimali/cdr-intel/analytics"
)

// Sheet names, in workbook order.
const (
	SheetSummary   = "summary"
	SheetMaxCalls  = "max_calls"
	SheetLongCalls = "long_calls"
	SheetBursts    = "bursts"
	SheetSIMSwaps  = "sim_swaps"
	SheetBurners   = "burner_phones"
	SheetRedFlags  = "red_flags"
	SheetOutliers  = "outliers"
	SheetNetwork   = "network"
	SheetDaily     = "daily"
	SheetHourly    = "hourly"
	SheetMaxStay   = "max_stay"
	SheetInsights  = "insights"
)

// ts formats t in its own zone; daily and timeline rows carry the engine's.
func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateTime)
}

func itoa(n int) string { return strconv.Itoa(n) }
func i64(n int64) string { return strconv.FormatInt(n, 10) }
func f2(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }
func coord(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Sheets flattens r into named tables of strings, header row first.
func Sheets(r *analytics.Report) []Sheet {
	s := r.Summary
	summary := [][]string{
		{"Metric", "Value"},
		{"Total Calls", itoa(s.TotalCalls)},
		{"Total Duration", i64(s.TotalDuration)},
		{"Mean Duration", f2(s.MeanDuration)},
		{"Unique Callers", itoa(s.UniqueCallers)},
		{"Unique Callees", itoa(s.UniqueCallees)},
		{"First Call", ts(s.Start)},
		{"Last Call", ts(s.End)},
		{"Night Calls", itoa(r.NightCalls)},
	}

	maxCalls := [][]string{{"Rank", "Caller", "Total Calls", "Total Duration", "Mean Duration", "Contacts"}}
	for i, c := range r.Communicators {
		maxCalls = append(maxCalls, []string{itoa(i + 1), c.Caller, itoa(c.Calls), i64(c.TotalDuration), f2(c.MeanDuration), itoa(c.Contacts)})
	}

	long := [][]string{{"Caller", "Callee", "Timestamp", "Duration"}}
	for _, c := range r.LongCalls {
		long = append(long, []string{c.Caller, c.Callee, ts(c.Timestamp), i64(c.Duration)})
	}

	bursts := [][]string{{"Caller", "Hour", "Calls"}}
	for _, b := range r.Bursts {
		bursts = append(bursts, []string{b.Caller, ts(b.Hour), itoa(b.Count)})
	}

	swaps := [][]string{{"IMSI", "IMEIs"}}
	for _, sw := range r.SIMSwaps {
		swaps = append(swaps, []string{sw.IMSI, strings.Join(sw.IMEIs, ", ")})
	}

	burners := [][]string{{"IMEI", "Subscriber IDs"}}
	for _, b := range r.Burners {
		burners = append(burners, []string{b.IMEI, strings.Join(b.SubscriberIDs, ", ")})
	}

	flags := [][]string{{"Caller", "Score", "Long Calls", "Night Calls"}}
	for _, f := range r.RedFlags {
		flags = append(flags, []string{f.Caller, itoa(f.Score), itoa(f.LongCalls), itoa(f.NightCalls)})
	}

	outliers := [][]string{{"Caller", "Callee", "Timestamp", "Duration", "Score"}}
	for _, o := range r.Outliers {
		outliers = append(outliers, []string{o.Caller, o.Callee, ts(o.Timestamp), i64(o.Duration), strconv.FormatFloat(o.Score, 'f', 4, 64)})
	}

	edges := [][]string{{"From", "To", "Calls", "Duration"}}
	for _, e := range r.Network.Edges {
		edges = append(edges, []string{e.From, e.To, itoa(e.Calls), i64(e.Duration)})
	}

	days := [][]string{{"Date", "Calls", "First Call", "Last Call"}}
	for _, d := range r.Daily {
		days = append(days, []string{d.Date, itoa(d.Calls), ts(d.FirstCall), ts(d.LastCall)})
	}

	hours := [][]string{{"Hour", "Calls"}}
	for h, n := range r.Hourly {
		hours = append(hours, []string{fmt.Sprintf("%02d:00", h), itoa(n)})
	}

	stays := [][]string{{"Cell ID", "Total Calls", "Lat", "Long", "First", "Last"}}
	for _, st := range r.TowerStays {
		stays = append(stays, []string{st.CellTower, itoa(st.Calls), coord(st.Lat), coord(st.Lon), ts(st.FirstSeen), ts(st.LastSeen)})
	}

	insights := [][]string{{"Insight"}}
	for _, in := range r.Insights {
		insights = append(insights, []string{in})
	}

	return []Sheet{
		{SheetSummary, summary},
		{SheetMaxCalls, maxCalls},
		{SheetLongCalls, long},
		{SheetBursts, bursts},
		{SheetSIMSwaps, swaps},
		{SheetBurners, burners},
		{SheetRedFlags, flags},
		{SheetOutliers, outliers},
		{SheetNetwork, edges},
		{SheetDaily, days},
		{SheetHourly, hours},
		{SheetMaxStay, stays},
		{SheetInsights, insights},
	}
}

// Sheet is one exported table.
type Sheet struct {
	Name string
	Rows [][]string
}

// WriteXLSX writes r as a workbook to w.
func WriteXLSX(w io.Writer, r *analytics.Report) error {
	x := excelize.NewFile()
	defer x.Close()

	add := func(name string, rows [][]string) error {
		idx, err := x.NewSheet(name)
		if err != nil {
			return fmt.Errorf("new sheet %s: %w", name, err)
		}
		for ri, row := range rows {
			for ci, v := range row {
				cell, _ := excelize.CoordinatesToCellName(ci+1, ri+1)
				if err := x.SetCellStr(name, cell, v); err != nil {
					return fmt.Errorf("sheet %s cell %s: %w", name, cell, err)
				}
			}
		}
		if name == SheetSummary {
			x.SetActiveSheet(idx)
		}
		return nil
	}
	// reuse the default sheet for the summary
	if err := x.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, s := range Sheets(r) {
		if err := add(s.Name, s.Rows); err != nil {
			return err
		}
	}
	_, err := x.WriteTo(w)
	return err
}

// SaveXLSX writes r as a workbook at path.
func SaveXLSX(path string, r *analytics.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteXLSX(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *analytics.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
