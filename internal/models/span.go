package models

import "encoding/json"

// Span is one recorded input/output interaction of an agent, captured for review.
// Input and Output are kept as raw JSON because the backend returns either plain
// text or structured message payloads and the review flow treats both opaquely.
type Span struct {
	ID     string          `json:"span_id"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output"`

	// CorrectnessScore is in [0,1]. Nil means the span was never scored;
	// unscored spans still require an explicit reviewer vote.
	CorrectnessScore *float64 `json:"correctness_score,omitempty"`
}

// Scored reports whether the span carries a numeric correctness score.
func (s *Span) Scored() bool {
	return s.CorrectnessScore != nil
}

// ReviewSample is the backend's span selection for one review round, together
// with the agent's current description and criteria.
type ReviewSample struct {
	WorstSpans       []*Span             `json:"worst_spans"`
	BestSpans        []*Span             `json:"best_spans"`
	Description      string              `json:"description"`
	CriteriaByMetric map[string][]string `json:"criteria_by_metric"`
}

// Spans returns the sample as a single ordered list, worst first.
func (r *ReviewSample) Spans() []*Span {
	out := make([]*Span, 0, len(r.WorstSpans)+len(r.BestSpans))
	out = append(out, r.WorstSpans...)
	out = append(out, r.BestSpans...)
	return out
}
