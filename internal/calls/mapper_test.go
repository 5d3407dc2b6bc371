package calls

import (
	"encoding/json"
	"testing"
	"time"

	"voiceai-dashboard/internal/callstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestMapDocument_TimestampShapesAgree(t *testing.T) {
	instant := time.Date(2026, 3, 1, 9, 30, 15, 250_000_000, time.UTC)
	local := instant.In(time.FixedZone("EST", -5*3600))

	shapes := map[string]any{
		"time":          instant,
		"time pointer":  &local,
		"timestamp":     Timestamp{Seconds: instant.Unix(), Nanos: 250_000_000},
		"seconds map":   map[string]any{"seconds": float64(instant.Unix()), "nanoseconds": float64(250_000_000)},
		"_seconds map":  map[string]any{"_seconds": json.Number("1772357415"), "_nanoseconds": json.Number("250000000")},
		"iso string":    "2026-03-01T09:30:15.250Z",
		"offset string": "2026-03-01T04:30:15.25-05:00",
	}

	for name, v := range shapes {
		t.Run(name, func(t *testing.T) {
			r := MapDocument(callstore.Document{ID: "c1", Data: map[string]any{"startTime": v, "createdAt": v}}, now)
			assert.Equal(t, "2026-03-01T09:30:15.250Z", ISO(r.StartTime))
			assert.Equal(t, "2026-03-01T09:30:15.250Z", ISO(r.CreatedAt))
		})
	}
}

func TestMapDocument_Defaults(t *testing.T) {
	r := MapDocument(callstore.Document{ID: "c1", Data: map[string]any{}}, now)

	assert.Equal(t, "c1", r.ID)
	assert.Empty(t, r.AgentID)
	assert.Equal(t, DirectionInbound, r.Direction)
	assert.Equal(t, StatusEnded, r.Status)
	assert.Zero(t, r.DurationSeconds)
	assert.Zero(t, r.CostUSD)
	assert.Nil(t, r.Analysis)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, now, r.StartTime)
	assert.Equal(t, now, r.EndTime)
	assert.Equal(t, SentimentUnknown, r.Sentiment())
}

func TestMapDocument_FallsBackToDocumentCreatedAt(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	r := MapDocument(callstore.Document{ID: "c1", CreatedAt: created, Data: map[string]any{"startTime": 42}}, now)
	assert.Equal(t, created, r.CreatedAt)
	assert.Equal(t, created, r.StartTime)
}

func TestMapDocument_Fields(t *testing.T) {
	doc := callstore.Document{ID: "c9", Data: map[string]any{
		"agentId":          "agent-1",
		"agentName":        "Front Desk",
		"direction":        "outbound",
		"status":           "failed",
		"durationSeconds":  json.Number("125"),
		"costUsd":          0.56,
		"recordingUrl":     "https://rec/1.mp3",
		"transcriptText":   "Agent: hi",
		"dynamicVariables": map[string]any{"name": "Ana"},
		"callAnalysis": map[string]any{
			"userSentiment":  "positive",
			"callSuccessful": false,
			"callSummary":    "asked about pricing",
			"inVoicemail":    true,
		},
	}}

	r := MapDocument(doc, now)
	assert.Equal(t, "agent-1", r.AgentID)
	assert.Equal(t, "Front Desk", r.AgentName)
	assert.Equal(t, DirectionOutbound, r.Direction)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 125, r.DurationSeconds)
	assert.InDelta(t, 0.56, r.CostUSD, 1e-9)
	assert.Equal(t, "Ana", r.DynamicVariables["name"])
	require.NotNil(t, r.Analysis)
	assert.Equal(t, SentimentPositive, r.Analysis.UserSentiment)
	require.NotNil(t, r.Analysis.CallSuccessful)
	assert.False(t, *r.Analysis.CallSuccessful)
	assert.True(t, *r.Analysis.InVoicemail)
	assert.False(t, r.Successful())
}

func TestMapDocument_ClampsNegatives(t *testing.T) {
	r := MapDocument(callstore.Document{ID: "c1", Data: map[string]any{
		"durationSeconds": -5,
		"costUsd":         "-1.5",
		"direction":       "sideways",
	}}, now)
	assert.Zero(t, r.DurationSeconds)
	assert.Zero(t, r.CostUSD)
	assert.Equal(t, DirectionInbound, r.Direction)
}

func TestRecord_JSONUsesCanonicalTimes(t *testing.T) {
	r := MapDocument(callstore.Document{ID: "c1", Data: map[string]any{"createdAt": "2026-03-01T09:30:15Z"}}, now)

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "2026-03-01T09:30:15.000Z", out["created_at"])
	assert.Equal(t, "inbound", out["direction"])

	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.CreatedAt.Equal(r.CreatedAt))
}
