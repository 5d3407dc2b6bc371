package calls

import (
	"html"
	"strings"
)

// TranscriptMatch is one transcript line containing the search term.
type TranscriptMatch struct {
	SegmentIndex int    `json:"segment_index"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	Highlight    string `json:"highlight"`
}

var speakerRoles = map[string]string{
	"agent":    "agent",
	"customer": "user",
	"user":     "user",
}

// SearchTranscript returns the lines of r's transcript containing q
// (case-insensitive). Highlight is HTML-escaped with matches wrapped in <mark>.
func SearchTranscript(r Record, q string) []TranscriptMatch {
	q = strings.TrimSpace(q)
	out := make([]TranscriptMatch, 0)
	if q == "" || r.TranscriptText == "" {
		return out
	}
	needle := strings.ToLower(q)

	for i, line := range strings.Split(r.TranscriptText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		role, content := splitSpeaker(line)
		if !strings.Contains(strings.ToLower(content), needle) {
			continue
		}
		out = append(out, TranscriptMatch{
			SegmentIndex: i,
			Role:         role,
			Content:      content,
			Highlight:    highlight(content, needle),
		})
	}
	return out
}

func splitSpeaker(line string) (role, content string) {
	if head, rest, ok := strings.Cut(line, ":"); ok {
		if r, known := speakerRoles[strings.ToLower(strings.TrimSpace(head))]; known {
			return r, strings.TrimSpace(rest)
		}
	}
	return "unknown", line
}

// highlight wraps each case-insensitive occurrence of needle in <mark>.
// Offsets come from the lowered copy, so content is assumed not to change
// byte length when lowered (true for ASCII and most scripts).
func highlight(content, needle string) string {
	lower := strings.ToLower(content)
	if len(lower) != len(content) {
		return html.EscapeString(content)
	}
	var b strings.Builder
	pos := 0
	for {
		i := strings.Index(lower[pos:], needle)
		if i < 0 {
			break
		}
		start := pos + i
		end := start + len(needle)
		b.WriteString(html.EscapeString(content[pos:start]))
		b.WriteString("<mark>")
		b.WriteString(html.EscapeString(content[start:end]))
		b.WriteString("</mark>")
		pos = end
	}
	b.WriteString(html.EscapeString(content[pos:]))
	return b.String()
}
