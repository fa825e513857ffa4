package rerank

import (
	"strings"

	"github.com/kailas-cloud/vecfuse/internal/domain/payload"
)

const defaultTable = "vendors"

// CandidateText renders the document a relevance model scores for a payload:
// profile_text, then profile_summary, then semantic_text, then a
// "[table] k: v | ..." rendering of the data map with null fields skipped.
func CandidateText(p payload.Map) string {
	for _, field := range []string{"profile_text", "profile_summary", "semantic_text"} {
		if s, ok := p[field].AsString(); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}

	table := defaultTable
	if s, ok := p["table"].AsString(); ok && s != "" {
		table = s
	}

	data, _ := p["data"].AsMap()
	parts := make([]string, 0, len(data))
	for _, k := range data.Keys() {
		v := data[k]
		if v.IsNull() {
			continue
		}
		parts = append(parts, k+": "+v.Text())
	}
	if len(parts) == 0 {
		return "[" + table + "]"
	}
	return "[" + table + "] " + strings.Join(parts, " | ")
}
