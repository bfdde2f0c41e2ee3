package assistant

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FallbackAnswer replaces a model reply that could not be parsed.
const FallbackAnswer = "No he pogut generar una resposta estructurada. Prova amb una consulta més concreta."

// fallbackCount is how many ranked candidates stand in when the model names none.
const fallbackCount = 3

// Fallback reasons, also used as metric labels.
const (
	ReasonUnparseable = "unparseable"
	ReasonNoValidIDs  = "no_valid_ids"
)

// Answer is the structured reply the model is asked to produce.
type Answer struct {
	Answer         string  `json:"answer"`
	RecommendedIDs []int64 `json:"recommended_ids"`
	FollowUp       string  `json:"follow_up"`
}

// Reconciled is a model reply checked against the candidates it was shown.
// Every id in RecommendedIDs belongs to the candidate set.
type Reconciled struct {
	Answer
	Events []CandidateView
	// FallbackReason is empty when the model's ids were used as given.
	FallbackReason string
}

// Fallback reports whether the recommended ids were substituted.
func (r Reconciled) Fallback() bool { return r.FallbackReason != "" }

type rawAnswer struct {
	Answer         *string           `json:"answer"`
	RecommendedIDs []json.RawMessage `json:"recommended_ids"`
	FollowUp       string            `json:"follow_up"`
}

// Reconcile parses raw model output and intersects its ids with candidates,
// keeping the model's order. An unparseable reply, or one naming no known id,
// falls back to the first three candidates.
func Reconcile(raw string, candidates []CandidateView) Reconciled {
	byID := make(map[int64]CandidateView, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	parsed, ok := parseAnswer(raw)
	if !ok {
		return resolve(Answer{Answer: FallbackAnswer, RecommendedIDs: firstIDs(candidates)}, byID, ReasonUnparseable)
	}

	ans := Answer{Answer: *parsed.Answer, FollowUp: parsed.FollowUp}
	seen := make(map[int64]bool, len(parsed.RecommendedIDs))
	for _, rawID := range parsed.RecommendedIDs {
		id, ok := parseID(rawID)
		if !ok || seen[id] {
			continue
		}
		if _, known := byID[id]; !known {
			continue
		}
		seen[id] = true
		ans.RecommendedIDs = append(ans.RecommendedIDs, id)
	}

	if len(ans.RecommendedIDs) == 0 {
		ans.RecommendedIDs = firstIDs(candidates)
		return resolve(ans, byID, ReasonNoValidIDs)
	}
	return resolve(ans, byID, "")
}

func resolve(ans Answer, byID map[int64]CandidateView, reason string) Reconciled {
	if ans.RecommendedIDs == nil {
		ans.RecommendedIDs = []int64{}
	}
	events := make([]CandidateView, 0, len(ans.RecommendedIDs))
	for _, id := range ans.RecommendedIDs {
		events = append(events, byID[id])
	}
	return Reconciled{Answer: ans, Events: events, FallbackReason: reason}
}

func firstIDs(candidates []CandidateView) []int64 {
	n := min(len(candidates), fallbackCount)
	ids := make([]int64, n)
	for i := range n {
		ids[i] = candidates[i].ID
	}
	return ids
}

// parseAnswer decodes the reply object. Markdown fences and prose around the
// object are tolerated; a missing or non-string answer is not.
func parseAnswer(raw string) (rawAnswer, bool) {
	body := extractObject(raw)
	if body == "" {
		return rawAnswer{}, false
	}
	var out rawAnswer
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&out); err != nil || out.Answer == nil {
		return rawAnswer{}, false
	}
	return out, true
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

// parseID accepts integers, integral floats and numeric strings.
func parseID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			return id, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}
