package reporting

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"voiceai-dashboard/internal/calls"
)

var base = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

func boolPtr(v bool) *bool { return &v }

func call(id, agent string, status calls.Status, successful *bool, start time.Time) calls.Record {
	return calls.Record{
		ID:              id,
		AgentID:         agent,
		AgentName:       agent,
		Status:          status,
		StartTime:       start,
		EndTime:         start.Add(time.Minute),
		CreatedAt:       start,
		DurationSeconds: 60,
		Analysis:        &calls.Analysis{CallSuccessful: successful, UserSentiment: calls.SentimentNeutral},
	}
}

func TestAgentStats_SuccessAndFailureBuckets(t *testing.T) {
	rs := []calls.Record{
		call("c1", "a1", calls.StatusEnded, boolPtr(true), base),
		call("c2", "a1", calls.StatusEnded, boolPtr(false), base),
		call("c3", "a1", calls.StatusFailed, nil, base),
	}
	stats := AgentStats(rs)
	if len(stats) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(stats))
	}
	s := stats[0]
	if s.SuccessRate != 33.3 {
		t.Fatalf("expected success rate 33.3, got %v", s.SuccessRate)
	}
	if s.SuccessfulCalls != 1 || s.FailedCalls != 1 || s.ErroredCalls != 1 {
		t.Fatalf("unexpected buckets: %+v", s.Stats)
	}
	if s.AvgDurationSeconds != 60 {
		t.Fatalf("expected avg 60, got %v", s.AvgDurationSeconds)
	}
}

func TestAgentStats_OrderAndUnknownAgent(t *testing.T) {
	rs := []calls.Record{
		call("c1", "b", calls.StatusEnded, nil, base),
		call("c2", "a", calls.StatusEnded, nil, base),
		call("c3", "", calls.StatusEnded, nil, base),
		call("c4", "", calls.StatusEnded, nil, base),
	}
	stats := AgentStats(rs)
	var ids []string
	for _, s := range stats {
		ids = append(ids, s.AgentID)
	}
	if !slices.Equal(ids, []string{UnknownAgentID, "a", "b"}) {
		t.Fatalf("unexpected order: %v", ids)
	}
	if stats[0].AgentName != UnknownAgentName {
		t.Fatalf("expected unknown agent name, got %q", stats[0].AgentName)
	}
}

func TestFolds_EmptyInputIsZero(t *testing.T) {
	if got := Overall(nil); !reflect.DeepEqual(got, Stats{}) {
		t.Fatalf("expected zero stats, got %+v", got)
	}
	if got := AgentStats(nil); len(got) != 0 {
		t.Fatalf("expected no agents, got %d", len(got))
	}
	if got := Sentiment(nil); got.Positive.Percentage != 0 || got.Total != 0 {
		t.Fatalf("expected zero sentiment, got %+v", got)
	}
	if got := Outcomes(nil); got != (OutcomeCounts{}) {
		t.Fatalf("expected zero outcomes, got %+v", got)
	}
	if got := Metrics(nil, nil); got.SuccessRate != 0 || got.Trends.AvgDuration.ChangePercent != 0 {
		t.Fatalf("expected zero metrics, got %+v", got)
	}
	if got := SentimentTrend(nil, TrendOptions{}); len(got.Data) != 0 {
		t.Fatalf("expected empty trend, got %+v", got)
	}
}

func TestFolds_PermutationInvariant(t *testing.T) {
	var rs []calls.Record
	for i := 0; i < 20; i++ {
		r := call(string(rune('a'+i)), []string{"x", "y", "z"}[i%3], calls.StatusEnded, boolPtr(i%2 == 0), base.Add(time.Duration(i)*7*time.Hour))
		r.CostUSD = 0.1 * float64(i)
		r.DurationSeconds = 10 * i
		if i%4 == 0 {
			r.Analysis.UserSentiment = calls.SentimentPositive
		}
		rs = append(rs, r)
	}
	reversed := slices.Clone(rs)
	slices.Reverse(reversed)
	shuffled := append(slices.Clone(rs[10:]), rs[:10]...)

	for _, other := range [][]calls.Record{reversed, shuffled} {
		if !reflect.DeepEqual(Overall(rs), Overall(other)) {
			t.Fatalf("overall changed with order")
		}
		if !reflect.DeepEqual(AgentStats(rs), AgentStats(other)) {
			t.Fatalf("agent stats changed with order")
		}
		if !reflect.DeepEqual(SentimentTrend(rs, TrendOptions{}), SentimentTrend(other, TrendOptions{})) {
			t.Fatalf("trend changed with order")
		}
		if !reflect.DeepEqual(Volume(rs, base, base.AddDate(0, 0, 7)), Volume(other, base, base.AddDate(0, 0, 7))) {
			t.Fatalf("volume changed with order")
		}
	}
}

func TestDedupe_KeepsNewestCopy(t *testing.T) {
	old := call("c1", "a", calls.StatusOngoing, nil, base)
	updated := old
	updated.Status = calls.StatusEnded
	updated.Analysis = &calls.Analysis{CallSuccessful: boolPtr(true)}
	updated.CreatedAt = base.Add(time.Second)

	for _, rs := range [][]calls.Record{{old, updated}, {updated, old}} {
		s := Overall(rs)
		if s.TotalCalls != 1 || s.SuccessfulCalls != 1 {
			t.Fatalf("expected one successful call, got %+v", s)
		}
	}
}

func TestSentimentTrend_WindowAndGranularity(t *testing.T) {
	var rs []calls.Record
	for d := 0; d < 3; d++ {
		rs = append(rs, call(string(rune('a'+d)), "x", calls.StatusEnded, nil, base.AddDate(0, 0, d)))
	}
	got := SentimentTrend(rs, TrendOptions{Window: 2})
	if got.Granularity != GranularityDaily {
		t.Fatalf("expected daily, got %q", got.Granularity)
	}
	if len(got.Data) != 2 || got.Data[0].Date != "2026-01-02" || got.Data[1].Date != "2026-01-03" {
		t.Fatalf("unexpected buckets: %+v", got.Data)
	}
	if got.Data[0].Neutral != 1 {
		t.Fatalf("expected neutral count 1, got %+v", got.Data[0])
	}

	rs = append(rs, call("late", "x", calls.StatusEnded, nil, base.AddDate(0, 0, 40)))
	got = SentimentTrend(rs, TrendOptions{})
	if got.Granularity != GranularityWeekly {
		t.Fatalf("expected weekly, got %q", got.Granularity)
	}
	for _, p := range got.Data {
		d, _ := time.Parse(dateLayout, p.Date)
		if d.Weekday() != time.Monday {
			t.Fatalf("expected weeks to start on Monday, got %s", p.Date)
		}
	}
}

func TestVolume_ContinuousSeries(t *testing.T) {
	rs := []calls.Record{
		call("c1", "x", calls.StatusEnded, nil, base),
		call("c2", "x", calls.StatusEnded, nil, base.Add(2*time.Hour)),
		call("c3", "x", calls.StatusEnded, nil, base.AddDate(0, 0, 2)),
		call("c4", "x", calls.StatusEnded, nil, base.AddDate(0, 0, -1)),
	}
	got := Volume(rs, base, base.AddDate(0, 0, 4))
	var counts []int
	for _, p := range got.Data {
		counts = append(counts, p.Calls)
	}
	if !slices.Equal(counts, []int{2, 0, 1, 0, 0}) {
		t.Fatalf("unexpected series: %v", counts)
	}
	if got.Data[0].Date != "2026-01-01" || got.Granularity != GranularityDaily {
		t.Fatalf("unexpected series: %+v", got)
	}

	weekly := Volume(rs, base, base.AddDate(0, 0, 120))
	if weekly.Granularity != GranularityWeekly || len(weekly.Data) != 18 {
		t.Fatalf("expected 18 weekly points, got %d (%s)", len(weekly.Data), weekly.Granularity)
	}
	if weekly.Data[0].Calls != 3 {
		t.Fatalf("expected first week to hold 3 calls, got %d", weekly.Data[0].Calls)
	}
}

func TestVolume_CenturiesLongRangeBucketsByCalendarDay(t *testing.T) {
	at := time.Date(2026, 10, 10, 15, 0, 0, 0, time.UTC)
	from := time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	got := Volume([]calls.Record{call("c1", "x", calls.StatusEnded, nil, at)}, from, to)
	if got.Granularity != GranularityWeekly {
		t.Fatalf("expected weekly series, got %s", got.Granularity)
	}
	last, err := time.Parse(dateLayout, got.Data[len(got.Data)-1].Date)
	if err != nil {
		t.Fatalf("parse last bucket: %v", err)
	}
	if to.Sub(last) >= 7*day {
		t.Fatalf("series stops early at %s", last.Format(dateLayout))
	}
	for _, p := range got.Data {
		if p.Calls == 0 {
			continue
		}
		d, _ := time.Parse(dateLayout, p.Date)
		if d.After(at) || at.Sub(d) >= 7*day {
			t.Fatalf("call counted in bucket %s", p.Date)
		}
		return
	}
	t.Fatal("call not counted")
}

func TestSentiment_Percentages(t *testing.T) {
	rs := []calls.Record{
		call("c1", "x", calls.StatusEnded, nil, base),
		call("c2", "x", calls.StatusEnded, nil, base),
		call("c3", "x", calls.StatusEnded, nil, base),
		{ID: "c4", Status: calls.StatusEnded, StartTime: base},
	}
	rs[0].Analysis.UserSentiment = calls.SentimentPositive
	got := Sentiment(rs)
	if got.Positive.Percentage != 25 || got.Neutral.Count != 2 || got.Unknown.Count != 1 {
		t.Fatalf("unexpected breakdown: %+v", got)
	}
}

func TestOutcomes_Exhaustive(t *testing.T) {
	rs := []calls.Record{
		call("c1", "x", calls.StatusEnded, boolPtr(true), base),
		call("c2", "x", calls.StatusEnded, nil, base),
		call("c3", "x", calls.StatusError, nil, base),
		call("c4", "x", calls.StatusOngoing, nil, base),
		call("c5", "x", "transferred", nil, base),
	}
	rs[1].Analysis.InVoicemail = boolPtr(true)
	got := Outcomes(rs)
	want := OutcomeCounts{Total: 5, Successful: 1, Unsuccessful: 1, Errored: 1, InProgress: 1, Other: 1, Voicemail: 1}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestMetrics_Trends(t *testing.T) {
	cur := []calls.Record{
		call("c1", "x", calls.StatusEnded, boolPtr(true), base),
		call("c2", "x", calls.StatusEnded, boolPtr(true), base),
	}
	prev := []calls.Record{
		call("p1", "x", calls.StatusEnded, boolPtr(true), base),
		call("p2", "x", calls.StatusEnded, boolPtr(false), base),
	}
	cur[0].DurationSeconds = 90
	cur[1].DurationSeconds = 90

	got := Metrics(cur, prev)
	if got.SuccessRate != 1 {
		t.Fatalf("expected success ratio 1, got %v", got.SuccessRate)
	}
	if got.Trends.SuccessRate.ChangePercent != 100 || !got.Trends.SuccessRate.Positive {
		t.Fatalf("unexpected success trend: %+v", got.Trends.SuccessRate)
	}
	if got.Trends.AvgDuration.ChangePercent != 50 {
		t.Fatalf("unexpected duration trend: %+v", got.Trends.AvgDuration)
	}
	if got.Trends.TotalCalls.ChangePercent != 0 {
		t.Fatalf("unexpected volume trend: %+v", got.Trends.TotalCalls)
	}
}

func TestBuildOverview_MonthOverMonth(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rs := []calls.Record{
		call("m1", "x", calls.StatusEnded, boolPtr(true), time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		call("m2", "x", calls.StatusEnded, boolPtr(false), time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)),
		call("f1", "x", calls.StatusEnded, nil, time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)),
		call("j1", "x", calls.StatusEnded, nil, time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC)),
	}
	rs[0].CostUSD = 0.1
	rs[1].CostUSD = 0.2
	rs[2].CostUSD = 1.5

	got := BuildOverview(rs, now, 49)
	if got.TotalCallsThisMonth != 2 || got.TotalCallsLastMonth != 1 {
		t.Fatalf("unexpected counts: %+v", got)
	}
	if got.SuccessRate != 0.5 {
		t.Fatalf("expected success ratio 0.5, got %v", got.SuccessRate)
	}
	if len(got.SparklineData) != 10 || got.SparklineData[0] != 1 || got.SparklineData[9] != 1 {
		t.Fatalf("unexpected sparkline: %v", got.SparklineData)
	}
	if got.CurrentMonthCost.RetellCost != 0.3 || got.CurrentMonthCost.Total != 49.3 {
		t.Fatalf("unexpected month cost: %+v", got.CurrentMonthCost)
	}
	if got.LastMonthCostTotal != 50.5 {
		t.Fatalf("expected last month total 50.5, got %v", got.LastMonthCostTotal)
	}
}

func TestFilterAgentAndRange(t *testing.T) {
	rs := []calls.Record{
		call("c1", "x", calls.StatusEnded, nil, base),
		call("c2", "y", calls.StatusEnded, nil, base.Add(time.Hour)),
		call("c3", "", calls.StatusEnded, nil, base.Add(2*time.Hour)),
	}
	if got := FilterAgent(rs, "all"); len(got) != 3 {
		t.Fatalf("expected all records, got %d", len(got))
	}
	if got := FilterAgent(rs, UnknownAgentID); len(got) != 1 || got[0].ID != "c3" {
		t.Fatalf("unexpected unknown-agent filter: %+v", got)
	}
	got := InRange(rs, TimeRange{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)})
	if len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("expected half-open range to keep c2 only, got %+v", got)
	}
}
