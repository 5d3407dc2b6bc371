package calls

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"voiceai-dashboard/internal/callstore"
)

// Timestamp is the serialized store timestamp shape (seconds + nanos).
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

// MapDocument converts a raw call document into a Record. It never fails:
// every missing or malformed field falls back to a defined default.
// createdAt falls back to now; startTime and endTime fall back to createdAt.
func MapDocument(doc callstore.Document, now time.Time) Record {
	d := doc.Data

	// The store's sort key wins so that cursors built from records line up
	// with the keyset the store pages on.
	createdAt := normalize(doc.CreatedAt)
	if doc.CreatedAt.IsZero() {
		createdAt = timeOr(d["createdAt"], normalize(now))
	}

	r := Record{
		ID:               doc.ID,
		AgentID:          stringField(d, "agentId"),
		AgentName:        stringField(d, "agentName"),
		StartTime:        timeOr(d["startTime"], createdAt),
		EndTime:          timeOr(d["endTime"], createdAt),
		DurationSeconds:  max(0, intField(d["durationSeconds"])),
		Direction:        DirectionInbound,
		Status:           StatusEnded,
		RecordingURL:     stringField(d, "recordingUrl"),
		TranscriptText:   stringField(d, "transcriptText"),
		CostUSD:          math.Max(0, floatField(d["costUsd"])),
		CreatedAt:        createdAt,
		DynamicVariables: mapField(d, "dynamicVariables"),
	}
	if stringField(d, "direction") == string(DirectionOutbound) {
		r.Direction = DirectionOutbound
	}
	if s := stringField(d, "status"); s != "" {
		r.Status = Status(s)
	}
	if a := mapField(d, "callAnalysis"); a != nil {
		r.Analysis = &Analysis{
			UserSentiment:  ParseSentiment(stringField(a, "userSentiment")),
			CallSuccessful: boolField(a, "callSuccessful"),
			CallSummary:    stringField(a, "callSummary"),
			InVoicemail:    boolField(a, "inVoicemail"),
		}
	}
	return r
}

// ParseSentiment normalizes provider sentiment labels case-insensitively.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return SentimentPositive
	case "neutral":
		return SentimentNeutral
	case "negative":
		return SentimentNegative
	default:
		return SentimentUnknown
	}
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func timeOr(v any, fallback time.Time) time.Time {
	if t, ok := parseTime(v); ok {
		return t
	}
	return fallback
}

// parseTime accepts every timestamp shape the store has produced.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return normalize(t), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return normalize(*t), true
	case Timestamp:
		return normalize(time.Unix(t.Seconds, t.Nanos)), true
	case *Timestamp:
		if t == nil {
			return time.Time{}, false
		}
		return normalize(time.Unix(t.Seconds, t.Nanos)), true
	case map[string]any:
		sec, ok := firstNumber(t, "seconds", "_seconds")
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := firstNumber(t, "nanoseconds", "_nanoseconds", "nanos")
		return normalize(time.Unix(int64(sec), int64(nanos))), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return normalize(parsed), true
			}
		}
	}
	return time.Time{}, false
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := number(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intField(v any) int {
	f, _ := number(v)
	return int(f)
}

func floatField(v any) float64 {
	f, _ := number(v)
	return f
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) *bool {
	if b, ok := m[key].(bool); ok {
		return &b
	}
	return nil
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	if len(v) == 0 {
		return nil
	}
	return v
}
