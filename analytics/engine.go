// Package analytics derives an intelligence report from a canonical CDR
// dataset: caller rankings, timing anomalies, identity correlation and
// duration outliers. Analysis is a pure function of the dataset and config.
package analytics

import (
	"cmp"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/jalad-shrimali/cdr-intel/cdr"
)

// Config holds the thresholds of an analytics run.
type Config struct {
	TopN            int     `toml:"top_n" json:"top_n" yaml:"top_n"`
	LongCallSeconds int64   `toml:"long_call_seconds" json:"long_call_seconds" yaml:"long_call_seconds"`
	BurstThreshold  int     `toml:"burst_threshold" json:"burst_threshold" yaml:"burst_threshold"`
	NightStartHour  int     `toml:"night_start_hour" json:"night_start_hour" yaml:"night_start_hour"`
	NightEndHour    int     `toml:"night_end_hour" json:"night_end_hour" yaml:"night_end_hour"`
	Contamination   float64 `toml:"contamination" json:"contamination" yaml:"contamination"`
	Seed            uint64  `toml:"seed" json:"seed" yaml:"seed"`
	Trees           int     `toml:"trees" json:"trees" yaml:"trees"`
	SampleSize      int     `toml:"sample_size" json:"sample_size" yaml:"sample_size"`
	HighAvgDuration float64 `toml:"high_avg_duration" json:"high_avg_duration" yaml:"high_avg_duration"`
	HighVolume      int     `toml:"high_volume" json:"high_volume" yaml:"high_volume"`

	// Location is the zone hours of day and calendar days are read in.
	// Nil means UTC.
	Location *time.Location `toml:"-" json:"-" yaml:"-"`
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		TopN:            10,
		LongCallSeconds: 3600,
		BurstThreshold:  20,
		NightStartHour:  0,
		NightEndHour:    5,
		Contamination:   0.05,
		Seed:            42,
		Trees:           100,
		SampleSize:      256,
		HighAvgDuration: 300,
		HighVolume:      100,
	}
}

// Engine runs analyses with a fixed configuration.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New returns an Engine. Zero-valued counts and durations fall back to
// DefaultConfig. Night hours and contamination are taken as given; a zero
// contamination disables outlier detection.
func New(cfg Config, log *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.LongCallSeconds <= 0 {
		cfg.LongCallSeconds = def.LongCallSeconds
	}
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = def.BurstThreshold
	}
	if cfg.NightStartHour < 0 || cfg.NightStartHour > 23 || cfg.NightEndHour < 0 || cfg.NightEndHour > 23 {
		cfg.NightStartHour, cfg.NightEndHour = def.NightStartHour, def.NightEndHour
	}
	if cfg.Contamination < 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.HighAvgDuration <= 0 {
		cfg.HighAvgDuration = def.HighAvgDuration
	}
	if cfg.HighVolume <= 0 {
		cfg.HighVolume = def.HighVolume
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Analyze builds the report for ds. ds is not modified.
func (e *Engine) Analyze(ds *cdr.Dataset) *Report {
	recs := ds.Clone().Records
	r := &Report{
		Communicators: []Communicator{},
		Top:           []Communicator{},
		LongCalls:     []Call{},
		Bursts:        []Burst{},
		SIMSwaps:      []SIMSwap{},
		Burners:       []Burner{},
		RedFlags:      []RedFlag{},
		Outliers:      []Outlier{},
		Network:       Network{Nodes: []string{}, Edges: []Edge{}},
		Daily:         []Day{},
		PeakHours:     []int{},
		Timeline:      []Bucket{},
		TowerStays:    []TowerStay{},
	}
	if len(recs) == 0 {
		r.Insights = []string{noData}
		return r
	}

	r.Summary = summarize(recs)
	r.Communicators = rankCallers(recs)
	r.Top = r.Communicators[:min(e.cfg.TopN, len(r.Communicators))]
	r.LongCalls = e.longCalls(recs)
	r.Bursts = e.bursts(recs)
	r.NightCalls = e.nightCalls(recs)
	r.SIMSwaps = simSwaps(recs)
	r.Burners = burners(recs)
	r.RedFlags = e.redFlags(recs)
	r.Outliers = e.outliers(recs)
	r.Network = network(recs)
	r.Daily = e.daily(recs)
	r.Hourly, r.PeakHours = e.hourly(recs)
	r.Timeline = e.timeline(recs)
	r.TowerStays = towerStays(recs)
	r.Insights = e.insights(r)

	e.log.Debug("analysis finished",
		"calls", r.Summary.TotalCalls,
		"bursts", len(r.Bursts),
		"sim_swaps", len(r.SIMSwaps),
		"burners", len(r.Burners),
		"outliers", len(r.Outliers))
	return r
}

// local returns t in the configured zone.
func (e *Engine) local(t time.Time) time.Time { return t.In(e.cfg.Location) }

// hourStart returns the start of t's local clock hour.
func (e *Engine) hourStart(t time.Time) time.Time {
	lt := e.local(t)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, e.cfg.Location)
}

func (e *Engine) night(t time.Time) bool {
	h := e.local(t).Hour()
	if e.cfg.NightStartHour > e.cfg.NightEndHour { // window wraps midnight
		return h >= e.cfg.NightStartHour || h <= e.cfg.NightEndHour
	}
	return h >= e.cfg.NightStartHour && h <= e.cfg.NightEndHour
}

func callOf(r cdr.CallRecord) Call {
	return Call{Caller: r.Caller, Callee: r.Callee, Timestamp: r.Timestamp, Duration: r.Duration}
}

func summarize(recs []cdr.CallRecord) Summary {
	s := Summary{TotalCalls: len(recs)}
	callers, callees := map[string]struct{}{}, map[string]struct{}{}
	for _, r := range recs {
		s.TotalDuration += r.Duration
		callers[r.Caller] = struct{}{}
		callees[r.Callee] = struct{}{}
		if !r.HasTime() {
			continue
		}
		if s.Start.IsZero() || r.Timestamp.Before(s.Start) {
			s.Start = r.Timestamp
		}
		if r.Timestamp.After(s.End) {
			s.End = r.Timestamp
		}
	}
	s.MeanDuration = float64(s.TotalDuration) / float64(len(recs))
	s.UniqueCallers, s.UniqueCallees = len(callers), len(callees)
	return s
}

// rankCallers orders callers by call count, then total duration, both
// descending, then by identifier.
func rankCallers(recs []cdr.CallRecord) []Communicator {
	type agg struct {
		calls    int
		dur      int64
		contacts map[string]struct{}
	}
	by := map[string]*agg{}
	for _, r := range recs {
		a := by[r.Caller]
		if a == nil {
			a = &agg{contacts: map[string]struct{}{}}
			by[r.Caller] = a
		}
		a.calls++
		a.dur += r.Duration
		a.contacts[r.Callee] = struct{}{}
	}

	out := make([]Communicator, 0, len(by))
	for caller, a := range by {
		out = append(out, Communicator{
			Caller:        caller,
			Calls:         a.calls,
			TotalDuration: a.dur,
			MeanDuration:  float64(a.dur) / float64(a.calls),
			Contacts:      len(a.contacts),
		})
	}
	slices.SortFunc(out, func(a, b Communicator) int {
		if c := cmp.Compare(b.Calls, a.Calls); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TotalDuration, a.TotalDuration); c != 0 {
			return c
		}
		return cmp.Compare(a.Caller, b.Caller)
	})
	return out
}

func (e *Engine) longCalls(recs []cdr.CallRecord) []Call {
	out := []Call{}
	for _, r := range recs {
		if r.Duration >= e.cfg.LongCallSeconds {
			out = append(out, callOf(r))
		}
	}
	return out
}

func (e *Engine) bursts(recs []cdr.CallRecord) []Burst {
	type key struct {
		caller string
		hour   int64
	}
	counts := map[key]int{}
	starts := map[int64]time.Time{}
	for _, r := range recs {
		if r.HasTime() {
			h := e.hourStart(r.Timestamp)
			starts[h.Unix()] = h
			counts[key{r.Caller, h.Unix()}]++
		}
	}
	out := []Burst{}
	for k, n := range counts {
		if n >= e.cfg.BurstThreshold {
			out = append(out, Burst{Caller: k.caller, Hour: starts[k.hour], Count: n})
		}
	}
	slices.SortFunc(out, func(a, b Burst) int {
		if c := a.Hour.Compare(b.Hour); c != 0 {
			return c
		}
		return cmp.Compare(a.Caller, b.Caller)
	})
	return out
}

func (e *Engine) nightCalls(recs []cdr.CallRecord) int {
	n := 0
	for _, r := range recs {
		if r.HasTime() && e.night(r.Timestamp) {
			n++
		}
	}
	return n
}

// distinctBy groups the non-empty values of val by the non-empty key and
// keeps groups with more than one distinct value.
func distinctBy(recs []cdr.CallRecord, key, val func(cdr.CallRecord) string) map[string][]string {
	sets := map[string]map[string]struct{}{}
	for _, r := range recs {
		k, v := key(r), val(r)
		if k == "" || v == "" {
			continue
		}
		if sets[k] == nil {
			sets[k] = map[string]struct{}{}
		}
		sets[k][v] = struct{}{}
	}
	out := map[string][]string{}
	for k, set := range sets {
		if len(set) < 2 {
			continue
		}
		vals := make([]string, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		out[k] = vals
	}
	return out
}

func simSwaps(recs []cdr.CallRecord) []SIMSwap {
	groups := distinctBy(recs,
		func(r cdr.CallRecord) string { return r.IMSI },
		func(r cdr.CallRecord) string { return r.IMEI })
	out := make([]SIMSwap, 0, len(groups))
	for imsi, imeis := range groups {
		out = append(out, SIMSwap{IMSI: imsi, IMEIs: imeis})
	}
	slices.SortFunc(out, func(a, b SIMSwap) int { return cmp.Compare(a.IMSI, b.IMSI) })
	return out
}

func burners(recs []cdr.CallRecord) []Burner {
	groups := distinctBy(recs,
		func(r cdr.CallRecord) string { return r.IMEI },
		func(r cdr.CallRecord) string { return r.SubscriberID })
	out := make([]Burner, 0, len(groups))
	for imei, subs := range groups {
		out = append(out, Burner{IMEI: imei, SubscriberIDs: subs})
	}
	slices.SortFunc(out, func(a, b Burner) int { return cmp.Compare(a.IMEI, b.IMEI) })
	return out
}

// redFlags scores every caller against its own mean duration, highest
// score first.
func (e *Engine) redFlags(recs []cdr.CallRecord) []RedFlag {
	type agg struct {
		calls int
		dur   int64
	}
	by := map[string]*agg{}
	for _, r := range recs {
		a := by[r.Caller]
		if a == nil {
			a = &agg{}
			by[r.Caller] = a
		}
		a.calls++
		a.dur += r.Duration
	}

	flags := make(map[string]*RedFlag, len(by))
	for caller := range by {
		flags[caller] = &RedFlag{Caller: caller}
	}
	for _, r := range recs {
		a := by[r.Caller]
		mean := float64(a.dur) / float64(a.calls)
		f := flags[r.Caller]
		if float64(r.Duration) > 2*mean {
			f.LongCalls++
		}
		if r.HasTime() && e.night(r.Timestamp) {
			f.NightCalls++
		}
	}

	out := make([]RedFlag, 0, len(flags))
	for _, f := range flags {
		f.Score = f.LongCalls + f.NightCalls
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b RedFlag) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Caller, b.Caller)
	})
	return out
}

func (e *Engine) outliers(recs []cdr.CallRecord) []Outlier {
	xs := make([]float64, len(recs))
	for i, r := range recs {
		xs[i] = float64(r.Duration)
	}
	flags, scores := outlierFlags(xs, e.cfg.Contamination, e.cfg.Trees, e.cfg.SampleSize, e.cfg.Seed)
	out := []Outlier{}
	for i, r := range recs {
		if flags[i] {
			out = append(out, Outlier{Call: callOf(r), Score: scores[i]})
		}
	}
	return out
}

func network(recs []cdr.CallRecord) Network {
	type pair struct{ from, to string }
	edges := map[pair]*Edge{}
	nodes := map[string]struct{}{}
	for _, r := range recs {
		nodes[r.Caller] = struct{}{}
		nodes[r.Callee] = struct{}{}
		p := pair{r.Caller, r.Callee}
		ed := edges[p]
		if ed == nil {
			ed = &Edge{From: r.Caller, To: r.Callee}
			edges[p] = ed
		}
		ed.Calls++
		ed.Duration += r.Duration
	}

	n := Network{Nodes: make([]string, 0, len(nodes)), Edges: make([]Edge, 0, len(edges))}
	for id := range nodes {
		n.Nodes = append(n.Nodes, id)
	}
	sort.Strings(n.Nodes)
	for _, ed := range edges {
		n.Edges = append(n.Edges, *ed)
	}
	slices.SortFunc(n.Edges, func(a, b Edge) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	return n
}

func (e *Engine) daily(recs []cdr.CallRecord) []Day {
	days := map[string]*Day{}
	for _, r := range recs {
		if !r.HasTime() {
			continue
		}
		ts := e.local(r.Timestamp)
		key := ts.Format(time.DateOnly)
		d := days[key]
		if d == nil {
			d = &Day{Date: key, FirstCall: ts, LastCall: ts}
			days[key] = d
		}
		d.Calls++
		if ts.Before(d.FirstCall) {
			d.FirstCall = ts
		}
		if ts.After(d.LastCall) {
			d.LastCall = ts
		}
	}
	out := make([]Day, 0, len(days))
	for _, d := range days {
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b Day) int { return cmp.Compare(a.Date, b.Date) })
	return out
}

// hourly returns calls per hour of day and the hours sharing the maximum.
func (e *Engine) hourly(recs []cdr.CallRecord) ([24]int, []int) {
	var hist [24]int
	for _, r := range recs {
		if r.HasTime() {
			hist[e.local(r.Timestamp).Hour()]++
		}
	}
	peak := slices.Max(hist[:])
	peaks := []int{}
	if peak > 0 {
		for h, n := range hist {
			if n == peak {
				peaks = append(peaks, h)
			}
		}
	}
	return hist, peaks
}

func (e *Engine) timeline(recs []cdr.CallRecord) []Bucket {
	counts := map[int64]*Bucket{}
	for _, r := range recs {
		if !r.HasTime() {
			continue
		}
		h := e.hourStart(r.Timestamp)
		b := counts[h.Unix()]
		if b == nil {
			b = &Bucket{Hour: h}
			counts[h.Unix()] = b
		}
		b.Calls++
	}
	out := make([]Bucket, 0, len(counts))
	for _, b := range counts {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b Bucket) int { return a.Hour.Compare(b.Hour) })
	return out
}

// towerStays groups calls by serving cell, busiest first.
func towerStays(recs []cdr.CallRecord) []TowerStay {
	stays := map[string]*TowerStay{}
	for _, r := range recs {
		if r.CellTower == "" {
			continue
		}
		s := stays[r.CellTower]
		if s == nil {
			s = &TowerStay{CellTower: r.CellTower}
			stays[r.CellTower] = s
		}
		s.Calls++
		if r.HasCoords && s.Lat == 0 && s.Lon == 0 {
			s.Lat, s.Lon = r.Lat, r.Lon
		}
		if !r.HasTime() {
			continue
		}
		ts := r.Timestamp.UTC()
		if s.FirstSeen.IsZero() || ts.Before(s.FirstSeen) {
			s.FirstSeen = ts
		}
		if ts.After(s.LastSeen) {
			s.LastSeen = ts
		}
	}
	out := make([]TowerStay, 0, len(stays))
	for _, s := range stays {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b TowerStay) int {
		if c := cmp.Compare(b.Calls, a.Calls); c != 0 {
			return c
		}
		return cmp.Compare(a.CellTower, b.CellTower)
	})
	return out
}
