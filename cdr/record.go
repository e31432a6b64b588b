// Package cdr holds the canonical call-detail-record model shared by the
// ingestion pipeline and the analytics engine.
package cdr

import (
	"slices"
	"time"
)

// Normalized call types.
const (
	CallIn  = "CALL_IN"
	CallOut = "CALL_OUT"
	SMSIn   = "SMS_IN"
	SMSOut  = "SMS_OUT"
)

// CallRecord is one row of the canonical dataset. Empty strings stand for
// null identity fields and a zero Timestamp for an unparseable time.
type CallRecord struct {
	Caller       string    `json:"caller"`
	Callee       string    `json:"callee"`
	Timestamp    time.Time `json:"timestamp"`
	Duration     int64     `json:"duration"`
	IMEI         string    `json:"imei,omitempty"`
	IMSI         string    `json:"imsi,omitempty"`
	SubscriberID string    `json:"subscriber_id,omitempty"`
	CellTower    string    `json:"cell_tower,omitempty"`
	CallType     string    `json:"call_type,omitempty"`
	Lat          float64   `json:"lat,omitempty"`
	Lon          float64   `json:"lon,omitempty"`
	HasCoords    bool      `json:"-"`
}

// HasTime reports whether the record carries a parsed timestamp.
func (r CallRecord) HasTime() bool { return !r.Timestamp.IsZero() }

// Dataset is an ordered collection of call records produced by one ingestion
// run. Records keep the order of the source files they were read from.
type Dataset struct {
	Records []CallRecord `json:"records"`

	// Dropped counts rows discarded because caller or callee was empty.
	Dropped int `json:"dropped"`
	// Duplicates counts rows removed by full-row deduplication.
	Duplicates int `json:"duplicates"`
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Clone returns a deep copy that can be modified without touching d.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return &Dataset{}
	}
	return &Dataset{
		Records:    slices.Clone(d.Records),
		Dropped:    d.Dropped,
		Duplicates: d.Duplicates,
	}
}

// Append concatenates other onto d, keeping record order.
func (d *Dataset) Append(other *Dataset) {
	if other == nil {
		return
	}
	d.Records = append(d.Records, other.Records...)
	d.Dropped += other.Dropped
	d.Duplicates += other.Duplicates
}
