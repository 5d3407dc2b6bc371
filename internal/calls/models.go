package calls

import (
	"encoding/json"
	"time"
)

// Record is one normalized voice-agent call.
//
// Records are built from raw store documents by MapDocument and are treated
// as immutable afterwards. Timestamps are UTC with millisecond precision so
// that the same instant always renders to the same ISO string.
type Record struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id,omitempty"`
	AgentName        string         `json:"agent_name,omitempty"`
	DynamicVariables map[string]any `json:"dynamic_variables,omitempty"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int       `json:"duration_seconds"`

	Direction Direction `json:"direction"`
	Status    Status    `json:"status"`

	RecordingURL   string    `json:"recording_url,omitempty"`
	TranscriptText string    `json:"transcript_text,omitempty"`
	Analysis       *Analysis `json:"call_analysis,omitempty"`

	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Analysis is filled in asynchronously after the call ends.
type Analysis struct {
	UserSentiment  Sentiment `json:"user_sentiment"`
	CallSuccessful *bool     `json:"call_successful"`
	CallSummary    string    `json:"call_summary,omitempty"`
	InVoicemail    *bool     `json:"in_voicemail,omitempty"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status is an open set; values outside the constants below are kept verbatim.
type Status string

const (
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
	StatusRegistered Status = "registered"
	StatusOngoing    Status = "ongoing"
	StatusInProgress Status = "in_progress"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
	SentimentUnknown  Sentiment = "Unknown"
)

// Sentiment returns the record's sentiment bucket; no analysis is Unknown.
func (r Record) Sentiment() Sentiment {
	if r.Analysis == nil || r.Analysis.UserSentiment == "" {
		return SentimentUnknown
	}
	return r.Analysis.UserSentiment
}

// Successful reports callSuccessful == true; false and unknown are both false.
func (r Record) Successful() bool {
	return r.Analysis != nil && r.Analysis.CallSuccessful != nil && *r.Analysis.CallSuccessful
}

const isoLayout = "2006-01-02T15:04:05.000Z"

// ISO renders t in the canonical form used across the API.
func ISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		CreatedAt string `json:"created_at"`
	}{
		plain:     plain(r),
		StartTime: ISO(r.StartTime),
		EndTime:   ISO(r.EndTime),
		CreatedAt: ISO(r.CreatedAt),
	})
}
