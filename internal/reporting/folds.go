package reporting

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"voiceai-dashboard/internal/calls"
)

const (
	UnknownAgentID   = "unknown"
	UnknownAgentName = "Unknown Agent"

	DefaultTrendWindow = 14

	dateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// The folds below are pure and order independent. Every one of them
// de-duplicates its input by record id first, keeping the most recent copy.

// Dedupe keeps one record per id. When ids collide the newer record wins;
// records without an id are all kept.
func Dedupe(records []calls.Record) []calls.Record {
	out := make([]calls.Record, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if r.ID == "" {
			out = append(out, r)
			continue
		}
		if i, ok := index[r.ID]; ok {
			if newer(r, out[i]) {
				out[i] = r
			}
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func newer(a, b calls.Record) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c > 0
	}
	if c := a.EndTime.Compare(b.EndTime); c != 0 {
		return c > 0
	}
	if a.Status != b.Status {
		return a.Status > b.Status
	}
	return a.DurationSeconds > b.DurationSeconds
}

// FilterAgent keeps records of one agent. Empty or "all" keeps everything;
// UnknownAgentID selects records without an agent.
func FilterAgent(records []calls.Record, agentID string) []calls.Record {
	if agentID == "" || agentID == "all" {
		return records
	}
	out := make([]calls.Record, 0, len(records))
	for _, r := range records {
		if agentKey(r) == agentID {
			out = append(out, r)
		}
	}
	return out
}

// InRange keeps records whose start time is in [From, To). Zero bounds are open.
func InRange(records []calls.Record, tr TimeRange) []calls.Record {
	out := make([]calls.Record, 0, len(records))
	for _, r := range records {
		if !tr.From.IsZero() && r.StartTime.Before(tr.From) {
			continue
		}
		if !tr.To.IsZero() && !r.StartTime.Before(tr.To) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func Overall(records []calls.Record) Stats {
	var t tally
	for _, r := range Dedupe(records) {
		t.add(r)
	}
	return t.stats()
}

// AgentStats groups by agent, busiest first; ties are ordered by agent id.
func AgentStats(records []calls.Record) []AgentStat {
	groups := groupByAgent(Dedupe(records))
	out := make([]AgentStat, 0, len(groups))
	for id, g := range groups {
		out = append(out, AgentStat{AgentID: id, AgentName: g.displayName(), Stats: g.stats()})
	}
	slices.SortFunc(out, func(a, b AgentStat) int {
		if c := cmp.Compare(b.TotalCalls, a.TotalCalls); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentID, b.AgentID)
	})
	return out
}

// Agents lists every agent seen in records, ordered by name.
func Agents(records []calls.Record) []Agent {
	groups := groupByAgent(Dedupe(records))
	out := make([]Agent, 0, len(groups))
	for id, g := range groups {
		out = append(out, Agent{
			AgentID:    id,
			AgentName:  g.displayName(),
			TotalCalls: g.s.TotalCalls,
			LastCallAt: g.lastCall,
		})
	}
	slices.SortFunc(out, func(a, b Agent) int {
		if c := cmp.Compare(strings.ToLower(a.AgentName), strings.ToLower(b.AgentName)); c != 0 {
			return c
		}
		return cmp.Compare(a.AgentID, b.AgentID)
	})
	return out
}

// SentimentTrend buckets sentiment by start day, or by ISO week when the
// records span more than 30 days in auto mode. Only non-empty buckets are
// reported, ascending, and only the last Window of them.
func SentimentTrend(records []calls.Record, opts TrendOptions) TrendSeries {
	rs := Dedupe(records)
	window := opts.Window
	if window <= 0 {
		window = DefaultTrendWindow
	}
	gran := opts.Granularity
	if gran == GranularityAuto {
		gran = autoGranularity(rs, 30)
	}

	buckets := map[string]*SentimentCounts{}
	for _, r := range rs {
		key := bucketStart(r.StartTime, gran).Format(dateLayout)
		b, ok := buckets[key]
		if !ok {
			b = &SentimentCounts{}
			buckets[key] = b
		}
		b.add(r.Sentiment())
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if len(keys) > window {
		keys = keys[len(keys)-window:]
	}

	out := TrendSeries{Data: make([]TrendPoint, 0, len(keys)), Granularity: gran}
	for _, k := range keys {
		out.Data = append(out.Data, TrendPoint{Date: k, SentimentCounts: *buckets[k]})
	}
	return out
}

// Volume is a continuous call-count series from the day of from through the
// day of to. Ranges longer than 90 days are reported weekly.
func Volume(records []calls.Record, from, to time.Time) VolumeSeries {
	start, end := dayOf(from), dayOf(to)
	if end.Before(start) {
		return VolumeSeries{Data: []VolumePoint{}, Granularity: GranularityDaily}
	}
	days := int(dayNumber(end) - dayNumber(start))
	gran, step := GranularityDaily, 1
	if days > 90 {
		gran, step = GranularityWeekly, 7
	}

	out := VolumeSeries{Data: make([]VolumePoint, days/step+1), Granularity: gran}
	for i := range out.Data {
		out.Data[i].Date = start.AddDate(0, 0, i*step).Format(dateLayout)
	}
	for _, r := range Dedupe(records) {
		d := dayOf(r.StartTime)
		if d.Before(start) || d.After(end) {
			continue
		}
		out.Data[int(dayNumber(d)-dayNumber(start))/step].Calls++
	}
	return out
}

// Sentiment reports each bucket's share of all calls, Unknown included.
func Sentiment(records []calls.Record) SentimentBreakdown {
	var c SentimentCounts
	rs := Dedupe(records)
	for _, r := range rs {
		c.add(r.Sentiment())
	}
	total := len(rs)
	share := func(n int) Share { return Share{Count: n, Percentage: percent(n, total)} }
	return SentimentBreakdown{
		Total:    total,
		Positive: share(c.Positive),
		Neutral:  share(c.Neutral),
		Negative: share(c.Negative),
		Unknown:  share(c.Unknown),
	}
}

func Outcomes(records []calls.Record) OutcomeCounts {
	var out OutcomeCounts
	for _, r := range Dedupe(records) {
		out.Total++
		switch calls.OutcomeOf(r) {
		case calls.OutcomeSuccessful:
			out.Successful++
		case calls.OutcomeUnsuccessful:
			out.Unsuccessful++
		case calls.OutcomeErrored:
			out.Errored++
		case calls.OutcomeInProgress:
			out.InProgress++
		default:
			out.Other++
		}
		if r.Analysis != nil && r.Analysis.InVoicemail != nil && *r.Analysis.InVoicemail {
			out.Voicemail++
		}
	}
	return out
}

// Metrics summarizes current and reports its change against previous.
func Metrics(current, previous []calls.Record) MetricsReport {
	cur, prev := Overall(current), Overall(previous)

	var out MetricsReport
	out.TotalCalls = cur.TotalCalls
	out.AvgCallDurationSeconds = cur.AvgDurationSeconds
	out.SuccessRate = cur.SuccessRate / 100
	out.Trends.TotalCalls = trend(float64(cur.TotalCalls), float64(prev.TotalCalls))
	out.Trends.AvgDuration = trend(cur.AvgDurationSeconds, prev.AvgDurationSeconds)
	out.Trends.SuccessRate = trend(cur.SuccessRate, prev.SuccessRate)
	return out
}

// BuildOverview compares the calendar month (UTC) containing now with the
// month before it. The sparkline has one entry per day from the 1st to today.
func BuildOverview(records []calls.Record, now time.Time, dashboardFee float64) Overview {
	monthStart, nextMonth, lastMonth := monthBounds(now)
	daily := make([]int, now.UTC().Day())

	var cur, prev tally
	for _, r := range Dedupe(records) {
		t := r.StartTime.UTC()
		switch {
		case !t.Before(monthStart) && t.Before(nextMonth):
			cur.add(r)
			if i := t.Day() - 1; i < len(daily) {
				daily[i]++
			}
		case !t.Before(lastMonth) && t.Before(monthStart):
			prev.add(r)
		}
	}

	fee := decimal.NewFromFloat(dashboardFee)
	c, p := cur.stats(), prev.stats()
	out := Overview{
		TotalCallsThisMonth:         c.TotalCalls,
		TotalCallsLastMonth:         p.TotalCalls,
		SuccessRate:                 c.SuccessRate / 100,
		AvgDurationSeconds:          c.AvgDurationSeconds,
		AvgDurationLastMonthSeconds: p.AvgDurationSeconds,
		SparklineData:               daily,
		CurrentMonthCost: MonthCost{
			DashboardFee: money(fee),
			RetellCost:   money(cur.cost),
			Total:        money(fee.Add(cur.cost)),
		},
	}
	if p.TotalCalls > 0 {
		out.LastMonthCostTotal = money(fee.Add(prev.cost))
	}
	return out
}

type tally struct {
	s    Stats
	cost decimal.Decimal
}

func (t *tally) add(r calls.Record) {
	t.s.TotalCalls++
	switch calls.OutcomeOf(r) {
	case calls.OutcomeSuccessful:
		t.s.SuccessfulCalls++
	case calls.OutcomeUnsuccessful:
		t.s.FailedCalls++
	case calls.OutcomeErrored:
		t.s.ErroredCalls++
	case calls.OutcomeInProgress:
		t.s.InProgressCalls++
	default:
		t.s.OtherCalls++
	}
	t.s.TotalDurationSeconds += r.DurationSeconds
	t.cost = t.cost.Add(decimal.NewFromFloat(r.CostUSD))
	t.s.Sentiment.add(r.Sentiment())
}

func (t *tally) stats() Stats {
	s := t.s
	s.SuccessRate = percent(s.SuccessfulCalls, s.TotalCalls)
	s.AvgDurationSeconds = ratio(float64(s.TotalDurationSeconds), s.TotalCalls)
	s.TotalCostUSD = money(t.cost)
	return s
}

func (c *SentimentCounts) add(s calls.Sentiment) {
	switch s {
	case calls.SentimentPositive:
		c.Positive++
	case calls.SentimentNeutral:
		c.Neutral++
	case calls.SentimentNegative:
		c.Negative++
	default:
		c.Unknown++
	}
}

type agentGroup struct {
	tally
	name     string
	nameAt   time.Time
	nameID   string
	lastCall time.Time
}

func (g *agentGroup) add(r calls.Record) {
	g.tally.add(r)
	if r.StartTime.After(g.lastCall) {
		g.lastCall = r.StartTime
	}
	if r.AgentName == "" {
		return
	}
	// the most recently created record names the agent
	if g.name == "" || r.CreatedAt.After(g.nameAt) || (r.CreatedAt.Equal(g.nameAt) && r.ID > g.nameID) {
		g.name, g.nameAt, g.nameID = r.AgentName, r.CreatedAt, r.ID
	}
}

func (g *agentGroup) displayName() string {
	if g.name == "" {
		return UnknownAgentName
	}
	return g.name
}

func groupByAgent(records []calls.Record) map[string]*agentGroup {
	groups := map[string]*agentGroup{}
	for _, r := range records {
		key := agentKey(r)
		g, ok := groups[key]
		if !ok {
			g = &agentGroup{}
			groups[key] = g
		}
		g.add(r)
	}
	return groups
}

func agentKey(r calls.Record) string {
	if r.AgentID == "" {
		return UnknownAgentID
	}
	return r.AgentID
}

func autoGranularity(records []calls.Record, maxDays int) Granularity {
	if len(records) == 0 {
		return GranularityDaily
	}
	lo, hi := dayOf(records[0].StartTime), dayOf(records[0].StartTime)
	for _, r := range records[1:] {
		d := dayOf(r.StartTime)
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	if hi.Sub(lo) > time.Duration(maxDays)*day {
		return GranularityWeekly
	}
	return GranularityDaily
}

func bucketStart(t time.Time, g Granularity) time.Time {
	d := dayOf(t)
	if g == GranularityWeekly {
		// weeks start on Monday
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	}
	return d
}

// dayNumber counts whole days since the Unix epoch. Unlike time.Duration it
// does not saturate on long spans.
func dayNumber(t time.Time) int64 {
	return dayOf(t).Unix() / 86400
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthBounds(now time.Time) (start, next, previous time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), start.AddDate(0, -1, 0)
}

func trend(cur, prev float64) Trend {
	if prev == 0 {
		return Trend{Positive: cur >= 0}
	}
	change := math.Round((cur-prev)/prev*1000) / 10
	return Trend{ChangePercent: change, Positive: change >= 0}
}

func ratio(n float64, total int) float64 {
	if total == 0 {
		return 0
	}
	return n / float64(total)
}

// percent is rounded to one decimal.
func percent(n, total int) float64 {
	return math.Round(ratio(float64(n)*1000, total)) / 10
}

func money(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}
