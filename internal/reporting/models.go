package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Request scopes an analytics query to one tenant.
// Tenant isolation: TenantID is required.

type Request struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
	AgentID  string    `json:"agent_id,omitempty"`
	Fresh    bool      `json:"fresh,omitempty"`
}

type SentimentCounts struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
	Unknown  int `json:"unknown"`
}

// Stats is the unkeyed portfolio view. SuccessRate is a percentage.
type Stats struct {
	TotalCalls      int `json:"total_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`
	ErroredCalls    int `json:"errored_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	OtherCalls      int `json:"other_calls"`

	SuccessRate float64 `json:"success_rate"`

	TotalDurationSeconds int     `json:"total_duration_seconds"`
	AvgDurationSeconds   float64 `json:"avg_duration_seconds"`
	TotalCostUSD         float64 `json:"total_cost_usd"`

	Sentiment SentimentCounts `json:"sentiment"`
}

type AgentStat struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Stats
}

type Agent struct {
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	TotalCalls int       `json:"total_calls"`
	LastCallAt time.Time `json:"last_call_at"`
}

type Granularity string

const (
	GranularityAuto   Granularity = ""
	GranularityDaily  Granularity = "daily"
	GranularityWeekly Granularity = "weekly"
)

type TrendOptions struct {
	// Window keeps the last N buckets; zero means DefaultTrendWindow.
	Window      int
	Granularity Granularity
}

type TrendPoint struct {
	Date string `json:"date"`
	SentimentCounts
}

type TrendSeries struct {
	Data        []TrendPoint `json:"data"`
	Granularity Granularity  `json:"granularity"`
}

type VolumePoint struct {
	Date  string `json:"date"`
	Calls int    `json:"calls"`
}

type VolumeSeries struct {
	Data        []VolumePoint `json:"data"`
	Granularity Granularity   `json:"granularity"`
}

type Share struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type SentimentBreakdown struct {
	Total    int   `json:"total"`
	Positive Share `json:"positive"`
	Neutral  Share `json:"neutral"`
	Negative Share `json:"negative"`
	Unknown  Share `json:"unknown"`
}

type OutcomeCounts struct {
	Total        int `json:"total"`
	Successful   int `json:"successful"`
	Unsuccessful int `json:"unsuccessful"`
	Errored      int `json:"errored"`
	InProgress   int `json:"in_progress"`
	Other        int `json:"other"`
	Voicemail    int `json:"voicemail"`
}

type Trend struct {
	ChangePercent float64 `json:"change_percent"`
	Positive      bool    `json:"positive"`
}

// MetricsReport compares a period with the one before it. SuccessRate is a ratio.
type MetricsReport struct {
	TotalCalls             int     `json:"total_calls"`
	AvgCallDurationSeconds float64 `json:"avg_call_duration_seconds"`
	SuccessRate            float64 `json:"success_rate"`
	Trends                 struct {
		TotalCalls  Trend `json:"total_calls"`
		AvgDuration Trend `json:"avg_duration"`
		SuccessRate Trend `json:"success_rate"`
	} `json:"trends"`
}

type MonthCost struct {
	DashboardFee   float64 `json:"dashboard_fee"`
	RetellCost     float64 `json:"retell_cost"`
	OpenRouterCost float64 `json:"openrouter_cost"`
	Total          float64 `json:"total"`
}

// Overview is the dashboard home summary. SuccessRate is a ratio.
type Overview struct {
	TotalCallsThisMonth         int       `json:"total_calls_this_month"`
	TotalCallsLastMonth         int       `json:"total_calls_last_month"`
	SuccessRate                 float64   `json:"success_rate"`
	AvgDurationSeconds          float64   `json:"avg_duration_seconds"`
	AvgDurationLastMonthSeconds float64   `json:"avg_duration_last_month_seconds"`
	SparklineData               []int     `json:"sparkline_data"`
	CurrentMonthCost            MonthCost `json:"current_month_cost"`
	LastMonthCostTotal          float64   `json:"last_month_cost_total"`
}
