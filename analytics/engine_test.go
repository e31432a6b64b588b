package analytics

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jalad-shrimali/cdr-intel/cdr"
)

var base = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func engine() *Engine {
	return New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func call(caller, callee string, at time.Time, dur int64) cdr.CallRecord {
	return cdr.CallRecord{Caller: caller, Callee: callee, Timestamp: at, Duration: dur}
}

func dataset(recs ...cdr.CallRecord) *cdr.Dataset { return &cdr.Dataset{Records: recs} }

func TestAnalyze_Empty(t *testing.T) {
	for _, ds := range []*cdr.Dataset{nil, {}} {
		r := engine().Analyze(ds)
		assert.Equal(t, Summary{}, r.Summary)
		assert.Empty(t, r.Communicators)
		assert.Empty(t, r.Bursts)
		assert.Empty(t, r.Outliers)
		assert.Empty(t, r.Network.Nodes)
		assert.Zero(t, r.NightCalls)
		assert.Equal(t, []string{"No data available"}, r.Insights)
	}
}

func TestAnalyze_BurstScenario(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 25 {
		recs = append(recs, call("A", "B", base.Add(time.Duration(i)*2*time.Minute), 0))
	}
	r := engine().Analyze(dataset(recs...))

	require.Len(t, r.Bursts, 1)
	assert.Equal(t, Burst{Caller: "A", Hour: base, Count: 25}, r.Bursts[0])
	assert.Empty(t, r.SIMSwaps)
	assert.Empty(t, r.Burners)
	assert.Equal(t, 25, r.Summary.TotalCalls)
}

func TestAnalyze_BurstBoundary(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 20 {
		recs = append(recs, call("20", "B", base.Add(time.Duration(i)*time.Minute), 1))
	}
	for i := range 19 {
		recs = append(recs, call("19", "B", base.Add(time.Duration(i)*time.Minute), 1))
	}
	// same caller, two different hours of 10 each
	for i := range 20 {
		recs = append(recs, call("split", "B", base.Add(time.Duration(i)*6*time.Minute-time.Minute), 1))
	}
	r := engine().Analyze(dataset(recs...))

	require.Len(t, r.Bursts, 1)
	assert.Equal(t, "20", r.Bursts[0].Caller)
	assert.Equal(t, 20, r.Bursts[0].Count)
}

func TestAnalyze_SIMSwap(t *testing.T) {
	rec := func(imsi, imei string) cdr.CallRecord {
		r := call("1", "2", base, 10)
		r.IMSI, r.IMEI = imsi, imei
		return r
	}

	r := engine().Analyze(dataset(rec("I1", "D1"), rec("I1", "D2"), rec("I2", "D3"), rec("I2", "D3"), rec("I3", "")))
	require.Len(t, r.SIMSwaps, 1)
	assert.Equal(t, SIMSwap{IMSI: "I1", IMEIs: []string{"D1", "D2"}}, r.SIMSwaps[0])

	r = engine().Analyze(dataset(rec("I1", "D1"), rec("I1", "D1")))
	assert.Empty(t, r.SIMSwaps)
}

func TestAnalyze_Burners(t *testing.T) {
	rec := func(imei, sub string) cdr.CallRecord {
		r := call("1", "2", base, 10)
		r.IMEI, r.SubscriberID = imei, sub
		return r
	}
	r := engine().Analyze(dataset(rec("D1", "S2"), rec("D1", "S1"), rec("D2", "S1"), rec("", "S9")))
	require.Len(t, r.Burners, 1)
	assert.Equal(t, Burner{IMEI: "D1", SubscriberIDs: []string{"S1", "S2"}}, r.Burners[0])
}

func TestAnalyze_RankingTieBreaks(t *testing.T) {
	r := engine().Analyze(dataset(
		call("c", "x", base, 10),
		call("b", "x", base, 50),
		call("a", "x", base, 50),
		call("d", "x", base, 1),
		call("d", "y", base, 1),
	))
	var order []string
	for _, c := range r.Communicators {
		order = append(order, c.Caller)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, order)
	assert.Equal(t, 2, r.Communicators[0].Contacts)
}

func TestAnalyze_TopN(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 15 {
		recs = append(recs, call(fmt.Sprintf("%02d", i), "x", base, int64(i)))
	}
	cfg := DefaultConfig()
	cfg.TopN = 3
	r := New(cfg, nil).Analyze(dataset(recs...))
	assert.Len(t, r.Communicators, 15)
	require.Len(t, r.Top, 3)
	assert.Equal(t, "14", r.Top[0].Caller)
}

func TestAnalyze_LongAndNightCalls(t *testing.T) {
	night := time.Date(2024, 3, 2, 5, 59, 0, 0, time.UTC)
	r := engine().Analyze(dataset(
		call("1", "2", base, 3600),
		call("1", "2", base, 3599),
		call("1", "2", night, 5),
		call("1", "2", night.Add(time.Minute), 5), // 06:00
		call("1", "2", time.Time{}, 5),
	))
	require.Len(t, r.LongCalls, 1)
	assert.Equal(t, int64(3600), r.LongCalls[0].Duration)
	assert.Equal(t, 1, r.NightCalls)
}

func TestAnalyze_RedFlags(t *testing.T) {
	night := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	r := engine().Analyze(dataset(
		// mean 40: only the 100s call exceeds twice the mean
		call("A", "x", base, 10),
		call("A", "x", base, 10),
		call("A", "x", night, 100),
		// uniformly long calls never exceed their own mean
		call("B", "x", base, 7200),
		call("B", "x", base, 7200),
		call("C", "x", night, 1),
	))
	assert.Equal(t, []RedFlag{
		{Caller: "A", Score: 2, LongCalls: 1, NightCalls: 1},
		{Caller: "C", Score: 1, NightCalls: 1},
		{Caller: "B"},
	}, r.RedFlags)
}

func TestAnalyze_RedFlagsCoverEveryCaller(t *testing.T) {
	r := engine().Analyze(dataset(
		call("2", "x", base, 30),
		call("1", "x", base, 30),
	))
	assert.Len(t, r.RedFlags, len(r.Communicators))
	assert.Equal(t, []RedFlag{{Caller: "1"}, {Caller: "2"}}, r.RedFlags)
}

func TestAnalyze_OutlierFindsExtremeDuration(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 99 {
		recs = append(recs, call("1", "2", base.Add(time.Duration(i)*time.Second), 60))
	}
	recs = append(recs, call("9", "8", base, 10000))

	r := engine().Analyze(dataset(recs...))
	require.Len(t, r.Outliers, 1)
	assert.Equal(t, "9", r.Outliers[0].Caller)
	assert.Equal(t, int64(10000), r.Outliers[0].Duration)
	assert.Greater(t, r.Outliers[0].Score, 0.5)
}

func TestAnalyze_OutliersDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	var recs []cdr.CallRecord
	for i := range 500 {
		d := int64(rng.ExpFloat64() * 120)
		recs = append(recs, call(fmt.Sprint(i%13), fmt.Sprint(i%7), base.Add(time.Duration(i)*time.Minute), d))
	}
	ds := dataset(recs...)

	first := engine().Analyze(ds)
	second := engine().Analyze(ds)
	assert.Equal(t, first.Outliers, second.Outliers)
	assert.NotEmpty(t, first.Outliers)
	assert.LessOrEqual(t, len(first.Outliers), 25)
}

func TestAnalyze_UniformDurationsHaveNoOutliers(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 50 {
		recs = append(recs, call(fmt.Sprint(i), "x", base, 30))
	}
	assert.Empty(t, engine().Analyze(dataset(recs...)).Outliers)
}

func TestAnalyze_DoesNotMutateInput(t *testing.T) {
	ds := dataset(call("2", "1", base, 5), call("1", "2", base.Add(time.Hour), 500))
	before := ds.Clone()
	engine().Analyze(ds)
	assert.Equal(t, before, ds)
}

func TestAnalyze_NetworkAndTemporal(t *testing.T) {
	day2 := base.Add(24 * time.Hour)
	ds := dataset(
		call("1", "2", base, 10),
		call("1", "2", base.Add(30*time.Minute), 20),
		call("2", "3", base.Add(2*time.Hour), 5),
		call("1", "3", day2, 1),
		call("3", "1", time.Time{}, 1),
	)
	r := engine().Analyze(ds)

	assert.Equal(t, []string{"1", "2", "3"}, r.Network.Nodes)
	assert.Equal(t, []Edge{
		{From: "1", To: "2", Calls: 2, Duration: 30},
		{From: "1", To: "3", Calls: 1, Duration: 1},
		{From: "2", To: "3", Calls: 1, Duration: 5},
		{From: "3", To: "1", Calls: 1, Duration: 1},
	}, r.Network.Edges)

	require.Len(t, r.Daily, 2)
	assert.Equal(t, Day{Date: "2024-03-01", Calls: 3, FirstCall: base, LastCall: base.Add(2 * time.Hour)}, r.Daily[0])
	assert.Equal(t, "2024-03-02", r.Daily[1].Date)

	assert.Equal(t, 3, r.Hourly[14])
	assert.Equal(t, 1, r.Hourly[16])
	assert.Equal(t, []int{14}, r.PeakHours)

	assert.Equal(t, []Bucket{
		{Hour: base, Calls: 2},
		{Hour: base.Add(2 * time.Hour), Calls: 1},
		{Hour: day2, Calls: 1},
	}, r.Timeline)

	assert.Equal(t, base, r.Summary.Start)
	assert.Equal(t, day2, r.Summary.End)
	assert.Equal(t, 3, r.Summary.UniqueCallers)
	assert.Equal(t, int64(37), r.Summary.TotalDuration)
	assert.InDelta(t, 7.4, r.Summary.MeanDuration, 1e-9)
}

func TestAnalyze_TowerStays(t *testing.T) {
	a := call("1", "2", base, 10)
	a.CellTower = "T1"
	b := call("1", "2", base.Add(time.Hour), 10)
	b.CellTower, b.Lat, b.Lon, b.HasCoords = "T1", 19.07, 72.87, true
	c := call("1", "2", base, 10)
	c.CellTower = "T0"

	r := engine().Analyze(dataset(a, b, c, call("1", "2", base, 1)))
	require.Len(t, r.TowerStays, 2)
	assert.Equal(t, TowerStay{
		CellTower: "T1", Calls: 2, FirstSeen: base, LastSeen: base.Add(time.Hour), Lat: 19.07, Lon: 72.87,
	}, r.TowerStays[0])
	assert.Equal(t, "T0", r.TowerStays[1].CellTower)
}

func TestAnalyze_Insights(t *testing.T) {
	var recs []cdr.CallRecord
	for i := range 101 {
		recs = append(recs, call("5", "6", base.Add(time.Duration(i)*time.Second), 400))
	}
	r := engine().Analyze(dataset(recs...))
	require.GreaterOrEqual(t, len(r.Insights), 4)
	assert.Equal(t, "Top communicator: 5 with 101 calls totalling 40400s", r.Insights[0])
	assert.Equal(t, "Peak activity hour: 14:00 UTC with 101 calls", r.Insights[1])
	assert.Equal(t, "Elevated average call duration: 400.0s (threshold 300s)", r.Insights[2])
	assert.Equal(t, "High call volume: 101 calls (threshold 100)", r.Insights[3])
	assert.Contains(t, r.Insights, "1 burst window(s) of 20+ calls in one hour")
}

func TestNightWindowWrapsMidnight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NightStartHour, cfg.NightEndHour = 22, 4
	e := New(cfg, nil)
	assert.True(t, e.night(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, e.night(time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, e.night(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestAnalyze_HoursReadInConfiguredZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 3, 1, 2, 0, 0, 0, ist).UTC() // 20:30 UTC the day before

	cfg := DefaultConfig()
	cfg.Location = ist
	r := New(cfg, nil).Analyze(dataset(call("1", "2", at, 10)))

	assert.Equal(t, 1, r.NightCalls)
	assert.Equal(t, 1, r.Hourly[2])
	assert.Equal(t, []int{2}, r.PeakHours)
	require.Len(t, r.Daily, 1)
	assert.Equal(t, "2024-03-01", r.Daily[0].Date)
	require.Len(t, r.Timeline, 1)
	assert.True(t, r.Timeline[0].Hour.Equal(time.Date(2024, 3, 1, 2, 0, 0, 0, ist)))
	assert.Equal(t, 1, r.RedFlags[0].NightCalls)
	assert.Contains(t, r.Insights, "1 call(s) between 00:00 and 05:59 IST")

	utc := engine().Analyze(dataset(call("1", "2", at, 10)))
	assert.Zero(t, utc.NightCalls)
	assert.Equal(t, "2024-02-29", utc.Daily[0].Date)
}

func TestNew_HonoursZeroContaminationAndMidnightWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Contamination = 0
	cfg.NightStartHour, cfg.NightEndHour = 0, 0
	e := New(cfg, nil)
	assert.Zero(t, e.Config().Contamination)
	assert.Equal(t, 0, e.Config().NightEndHour)

	var recs []cdr.CallRecord
	for i := range 99 {
		recs = append(recs, call("1", "2", base.Add(time.Duration(i)*time.Second), 60))
	}
	recs = append(recs, call("9", "8", time.Date(2024, 3, 2, 0, 30, 0, 0, time.UTC), 10000))
	recs = append(recs, call("9", "8", time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC), 10))

	r := e.Analyze(dataset(recs...))
	assert.Empty(t, r.Outliers)
	assert.Equal(t, 1, r.NightCalls)
}
