package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/internal/reporting"
)

// FirstCycleYear is the year whose January is cycle 1.
const FirstCycleYear = 2026

const dateLayout = "2006-01-02"

// CurrentCycle rolls up the month containing now. Calls are attributed to the
// month they started in; each call is billed in whole minutes, rounded up.
func CurrentCycle(records []calls.Record, now time.Time, dashboardFee float64) Cycle {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	next := start.AddDate(0, 1, 0)
	end := next.AddDate(0, 0, -1)

	var (
		usage   Usage
		seconds int
		cost    = decimal.Zero
	)
	for _, r := range reporting.Dedupe(records) {
		t := r.StartTime.UTC()
		if t.Before(start) || !t.Before(next) {
			continue
		}
		usage.Calls++
		seconds += max(r.DurationSeconds, 0)
		usage.BillableMinutes += billableMinutes(r.DurationSeconds)
		cost = cost.Add(decimal.NewFromFloat(r.CostUSD))
	}
	usage.RetellMinutes = decimal.NewFromInt(int64(seconds)).Div(decimal.NewFromInt(60)).Round(2).InexactFloat64()
	usage.RetellCostUSD = money(cost)

	fee := decimal.NewFromFloat(dashboardFee)
	return Cycle{
		CycleNumber:   CycleNumber(now),
		PeriodStart:   start.Format(dateLayout),
		PeriodEnd:     end.Format(dateLayout),
		DaysRemaining: max(0, end.Day()-now.Day()),
		Usage:         usage,
		Costs: Costs{
			DashboardFee:      money(fee),
			RetellPassthrough: money(cost),
			TotalProjected:    money(fee.Add(cost)),
		},
		InvoiceDate: next.Format(dateLayout),
	}
}

// CycleNumber counts months from January of FirstCycleYear, starting at 1.
func CycleNumber(t time.Time) int {
	t = t.UTC()
	return (t.Year()-FirstCycleYear)*12 + int(t.Month())
}

// billableMinutes rounds a call's duration up to whole minutes.
func billableMinutes(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
