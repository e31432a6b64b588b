package analytics

import "fmt"

const noData = "No data available"

// insights renders the report's headline findings as fixed sentences, always
// in the same order.
func (e *Engine) insights(r *Report) []string {
	if r.Summary.TotalCalls == 0 {
		return []string{noData}
	}
	var out []string

	if len(r.Top) > 0 {
		t := r.Top[0]
		out = append(out, fmt.Sprintf("Top communicator: %s with %d calls totalling %ds", t.Caller, t.Calls, t.TotalDuration))
	}
	if len(r.PeakHours) > 0 {
		h := r.PeakHours[0]
		out = append(out, fmt.Sprintf("Peak activity hour: %02d:00 %s with %d calls", h, e.cfg.Location, r.Hourly[h]))
	}
	if r.Summary.MeanDuration > e.cfg.HighAvgDuration {
		out = append(out, fmt.Sprintf("Elevated average call duration: %.1fs (threshold %.0fs)", r.Summary.MeanDuration, e.cfg.HighAvgDuration))
	}
	if r.Summary.TotalCalls > e.cfg.HighVolume {
		out = append(out, fmt.Sprintf("High call volume: %d calls (threshold %d)", r.Summary.TotalCalls, e.cfg.HighVolume))
	}
	if n := len(r.Bursts); n > 0 {
		out = append(out, fmt.Sprintf("%d burst window(s) of %d+ calls in one hour", n, e.cfg.BurstThreshold))
	}
	if r.NightCalls > 0 {
		out = append(out, fmt.Sprintf("%d call(s) between %02d:00 and %02d:59 %s", r.NightCalls, e.cfg.NightStartHour, e.cfg.NightEndHour, e.cfg.Location))
	}
	if n := len(r.SIMSwaps); n > 0 {
		out = append(out, fmt.Sprintf("%d IMSI(s) seen in more than one device (possible SIM swap)", n))
	}
	if n := len(r.Burners); n > 0 {
		out = append(out, fmt.Sprintf("%d device(s) used with more than one subscriber (possible burner phone)", n))
	}
	if n := len(r.Outliers); n > 0 {
		out = append(out, fmt.Sprintf("%d call(s) with outlying duration flagged for review", n))
	}
	return out
}
