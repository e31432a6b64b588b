package analytics

import "time"

// Report is the outcome of one analytics run. Every table is plain data and
// safe to encode as JSON.
type Report struct {
	Summary Summary `json:"summary"`

	// Communicators is the full caller ranking; Top holds its first TopN rows.
	Communicators []Communicator `json:"communicators"`
	Top           []Communicator `json:"top_communicators"`

	LongCalls  []Call      `json:"long_calls"`
	Bursts     []Burst     `json:"bursts"`
	NightCalls int         `json:"night_calls"`
	SIMSwaps   []SIMSwap   `json:"sim_swaps"`
	Burners    []Burner    `json:"burner_phones"`
	RedFlags   []RedFlag   `json:"red_flags"`
	Outliers   []Outlier   `json:"outliers"`
	Network    Network     `json:"network"`
	Daily      []Day       `json:"daily"`
	Hourly     [24]int     `json:"hourly"`
	PeakHours  []int       `json:"peak_hours"`
	Timeline   []Bucket    `json:"timeline"`
	TowerStays []TowerStay `json:"tower_stays"`

	Insights []string `json:"insights"`
}

// Summary holds dataset-wide totals. Start and End are zero when no record
// carries a timestamp.
type Summary struct {
	TotalCalls    int       `json:"total_calls"`
	TotalDuration int64     `json:"total_duration"`
	MeanDuration  float64   `json:"mean_duration"`
	UniqueCallers int       `json:"unique_callers"`
	UniqueCallees int       `json:"unique_callees"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// Communicator is one row of the caller ranking.
type Communicator struct {
	Caller        string  `json:"caller"`
	Calls         int     `json:"calls"`
	TotalDuration int64   `json:"total_duration"`
	MeanDuration  float64 `json:"mean_duration"`
	Contacts      int     `json:"contacts"`
}

// Call identifies a single record in a finding.
type Call struct {
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration"`
}

// Burst is a (caller, hour) bucket at or above the burst threshold.
type Burst struct {
	Caller string    `json:"caller"`
	Hour   time.Time `json:"hour"`
	Count  int       `json:"count"`
}

// SIMSwap is an IMSI seen in more than one device.
type SIMSwap struct {
	IMSI  string   `json:"imsi"`
	IMEIs []string `json:"imeis"`
}

// Burner is a device seen with more than one subscriber identity.
type Burner struct {
	IMEI          string   `json:"imei"`
	SubscriberIDs []string `json:"subscriber_ids"`
}

// RedFlag is a caller's heuristic anomaly score: calls longer than twice the
// caller's own mean duration plus night calls. Every caller gets one, scored
// zero when neither applies.
type RedFlag struct {
	Caller     string `json:"caller"`
	Score      int    `json:"score"`
	LongCalls  int    `json:"long_calls"`
	NightCalls int    `json:"night_calls"`
}

// Outlier is a record the isolation forest separated early. Score is a
// triage signal in (0, 1], not a probability.
type Outlier struct {
	Call
	Score float64 `json:"score"`
}

// Network is the directed call graph.
type Network struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Edge aggregates all calls from one party to another.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Calls    int    `json:"calls"`
	Duration int64  `json:"duration"`
}

// Day is the activity of one calendar day in the engine's zone.
type Day struct {
	Date      string    `json:"date"`
	Calls     int       `json:"calls"`
	FirstCall time.Time `json:"first_call"`
	LastCall  time.Time `json:"last_call"`
}

// Bucket counts calls in one clock hour.
type Bucket struct {
	Hour  time.Time `json:"hour"`
	Calls int       `json:"calls"`
}

// TowerStay summarizes the calls routed through one cell tower.
type TowerStay struct {
	CellTower string    `json:"cell_tower"`
	Calls     int       `json:"calls"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Lat       float64   `json:"lat,omitempty"`
	Lon       float64   `json:"lon,omitempty"`
}
