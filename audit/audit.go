// Package audit turns the findings of an analytics run into append-only
// audit entries and commits them as one unit.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/jalad-shrimali/cdr-intel/analytics"
)

// AnomalyType is the fixed finding taxonomy.
type AnomalyType string

const (
	TopCallers      AnomalyType = "top_callers"
	NightCalls      AnomalyType = "night_calls"
	LongCall        AnomalyType = "long_call"
	BurstCall       AnomalyType = "burst_call"
	SIMSwap         AnomalyType = "sim_swap"
	BurnerPhone     AnomalyType = "burner_phone"
	RedFlag         AnomalyType = "red_flag"
	DurationOutlier AnomalyType = "duration_outlier"
)

// SubjectNone marks entries for aggregate findings.
const SubjectNone = "N/A"

// Entry is one persisted finding. Details holds canonical JSON (RFC 8785)
// and DetailsHash its hex SHA-256.
type Entry struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	CaseID      string          `json:"case_id"`
	Subject     string          `json:"subject"`
	AnomalyType AnomalyType     `json:"anomaly_type"`
	Details     json.RawMessage `json:"details"`
	DetailsHash string          `json:"details_hash"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// Sink stores a batch of entries atomically: all of them or none.
type Sink interface {
	AppendBatch(ctx context.Context, entries []Entry) error
}

// Writer derives and commits audit entries.
type Writer struct {
	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// NewWriter returns a Writer committing to sink.
func NewWriter(sink Sink, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{sink: sink, log: log, now: time.Now}
}

// Commit writes the entries derived from r under runID. A report without
// findings writes nothing and returns no entries.
func (w *Writer) Commit(ctx context.Context, runID, caseID string, r *analytics.Report) ([]Entry, error) {
	entries, err := Entries(runID, caseID, r, w.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		w.log.Debug("no findings to audit", "run", runID)
		return nil, nil
	}
	if err := w.sink.AppendBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("commit audit run %s: %w", runID, err)
	}
	w.log.Info("audit entries committed", "run", runID, "case", caseID, "entries", len(entries))
	return entries, nil
}

// Entries derives the audit entries for r without writing them. List-shaped
// findings yield one entry per row; scalar findings yield one entry with
// subject SubjectNone and are omitted when empty or zero.
func Entries(runID, caseID string, r *analytics.Report, at time.Time) ([]Entry, error) {
	if r == nil {
		return nil, nil
	}
	var out []Entry
	add := func(subject string, typ AnomalyType, details any) error {
		e, err := newEntry(runID, caseID, subject, typ, details, at)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}

	if len(r.Top) > 0 {
		if err := add(SubjectNone, TopCallers, map[string]any{"top": r.Top}); err != nil {
			return nil, err
		}
	}
	if r.NightCalls > 0 {
		if err := add(SubjectNone, NightCalls, map[string]any{"count": r.NightCalls}); err != nil {
			return nil, err
		}
	}
	for _, c := range r.LongCalls {
		if err := add(c.Caller, LongCall, c); err != nil {
			return nil, err
		}
	}
	for _, b := range r.Bursts {
		if err := add(b.Caller, BurstCall, b); err != nil {
			return nil, err
		}
	}
	for _, s := range r.SIMSwaps {
		if err := add(s.IMSI, SIMSwap, s); err != nil {
			return nil, err
		}
	}
	for _, b := range r.Burners {
		if err := add(b.IMEI, BurnerPhone, b); err != nil {
			return nil, err
		}
	}
	for _, f := range r.RedFlags {
		if f.Score == 0 {
			continue
		}
		if err := add(f.Caller, RedFlag, f); err != nil {
			return nil, err
		}
	}
	for _, o := range r.Outliers {
		if err := add(o.Caller, DurationOutlier, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func newEntry(runID, caseID, subject string, typ AnomalyType, details any, at time.Time) (Entry, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s details: %w", typ, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("canonicalize %s details: %w", typ, err)
	}
	sum := sha256.Sum256(canon)
	return Entry{
		ID:          uuid.NewString(),
		RunID:       runID,
		CaseID:      caseID,
		Subject:     subject,
		AnomalyType: typ,
		Details:     canon,
		DetailsHash: hex.EncodeToString(sum[:]),
		RecordedAt:  at,
	}, nil
}
