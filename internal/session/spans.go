package session

import "github.com/rgoodman/agentcal/internal/models"

// SpanStore holds the fixed, ordered span sample under review for the current
// round. The id order is captured once, on the very first load, and every
// later round is presented in that exact order: the backend's worst/best
// selection may reorder or swap spans as scores change, and a stable order
// keeps the reviewer oriented mid-session.
type SpanStore struct {
	spans      []*models.Span
	fixedOrder []string
}

// NewSpanStore returns an empty store.
func NewSpanStore() *SpanStore {
	return &SpanStore{}
}

// SetInitial installs the first round's sample and captures the fixed order.
func (s *SpanStore) SetInitial(spans []*models.Span) {
	s.spans = spans
	s.fixedOrder = make([]string, len(spans))
	for i, sp := range spans {
		s.fixedOrder[i] = sp.ID
	}
}

// Replace installs a refreshed sample, reordered against the fixed order. Ids
// that vanished from the new sample are substituted with the first unused new
// span; when no replacement remains, the previous round's span is retained in
// that slot so positions and count never change.
func (s *SpanStore) Replace(spans []*models.Span) {
	byID := make(map[string]*models.Span, len(spans))
	for _, sp := range spans {
		byID[sp.ID] = sp
	}

	next := make([]*models.Span, len(s.fixedOrder))
	used := make(map[string]bool, len(spans))
	for i, id := range s.fixedOrder {
		if sp, ok := byID[id]; ok {
			next[i] = sp
			used[id] = true
		}
	}

	// Substitution pool: new spans not already placed, in backend order.
	var pool []*models.Span
	for _, sp := range spans {
		if !used[sp.ID] {
			pool = append(pool, sp)
		}
	}

	for i := range next {
		if next[i] != nil {
			continue
		}
		if len(pool) > 0 {
			next[i] = pool[0]
			pool = pool[1:]
		} else if i < len(s.spans) {
			next[i] = s.spans[i] // stale but positionally stable
		}
	}

	s.spans = next
	for i, sp := range next {
		s.fixedOrder[i] = sp.ID
	}
}

// Spans returns the current sample in fixed order.
func (s *SpanStore) Spans() []*models.Span {
	return s.spans
}

// IDs returns the current span ids in fixed order.
func (s *SpanStore) IDs() []string {
	ids := make([]string, len(s.spans))
	for i, sp := range s.spans {
		ids[i] = sp.ID
	}
	return ids
}

// Len returns the sample size.
func (s *SpanStore) Len() int {
	return len(s.spans)
}

// Span returns the span at position i, or nil out of range.
func (s *SpanStore) Span(i int) *models.Span {
	if i < 0 || i >= len(s.spans) {
		return nil
	}
	return s.spans[i]
}
