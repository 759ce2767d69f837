package session

import (
	"strings"

	"github.com/rgoodman/agentcal/internal/models"
)

// Ledger tracks per-span vote state for one review round, plus the single
// in-progress rejection draft. Pure in-memory state, no network access.
// AllVoted/AllApproved are derived on every read, never cached.
type Ledger struct {
	entries map[string]models.FeedbackEntry
	draft   *models.DraftRejection
}

// NewLedger returns an all-unvoted ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]models.FeedbackEntry)}
}

// Reset clears all votes and any open draft.
func (l *Ledger) Reset() {
	l.entries = make(map[string]models.FeedbackEntry)
	l.draft = nil
}

// Entry returns the confirmed vote for a span, if any.
func (l *Ledger) Entry(spanID string) (models.FeedbackEntry, bool) {
	e, ok := l.entries[spanID]
	return e, ok
}

// Approve records an approval. Approvals need no note. Any open draft for the
// same span is discarded.
func (l *Ledger) Approve(spanID string) {
	if l.draft != nil && l.draft.SpanID == spanID {
		l.draft = nil
	}
	l.entries[spanID] = models.FeedbackEntry{Vote: models.VoteApprove}
}

// StartReject opens a rejection draft for a span, replacing any other open
// draft. If the span already has a confirmed rejection, its note seeds the
// draft so the reviewer can amend it.
func (l *Ledger) StartReject(spanID string) {
	text := ""
	if e, ok := l.entries[spanID]; ok && e.Vote == models.VoteReject {
		text = e.Note
	}
	l.draft = &models.DraftRejection{SpanID: spanID, Text: text}
}

// Draft returns the open rejection draft, if any.
func (l *Ledger) Draft() *models.DraftRejection {
	return l.draft
}

// SetDraftText updates the open draft's text. No-op without an open draft.
func (l *Ledger) SetDraftText(text string) {
	if l.draft != nil {
		l.draft.Text = text
	}
}

// ConfirmReject turns the open draft into a confirmed rejection. The note must
// be non-empty.
func (l *Ledger) ConfirmReject() error {
	if l.draft == nil {
		return ErrNoDraft
	}
	note := strings.TrimSpace(l.draft.Text)
	if note == "" {
		return ErrEmptyNote
	}
	l.entries[l.draft.SpanID] = models.FeedbackEntry{Vote: models.VoteReject, Note: note}
	l.draft = nil
	return nil
}

// CancelReject discards the open draft. A previously confirmed rejection for
// that span is left confirmed; otherwise the span reverts to unvoted.
func (l *Ledger) CancelReject() {
	l.draft = nil
}

// ResolveDraft auto-resolves the open draft on navigation away: confirm when
// non-empty text exists, discard otherwise.
func (l *Ledger) ResolveDraft() {
	if l.draft == nil {
		return
	}
	if strings.TrimSpace(l.draft.Text) != "" {
		_ = l.ConfirmReject()
		return
	}
	l.draft = nil
}

// AllVoted reports whether every given span has a confirmed vote.
func (l *Ledger) AllVoted(spanIDs []string) bool {
	for _, id := range spanIDs {
		if _, ok := l.entries[id]; !ok {
			return false
		}
	}
	return true
}

// AllApproved reports whether every given span has a confirmed approval.
// Derived from votes only: a span without a correctness score still needs an
// explicit human vote, so an absent score can never count as approved.
func (l *Ledger) AllApproved(spanIDs []string) bool {
	for _, id := range spanIDs {
		e, ok := l.entries[id]
		if !ok || e.Vote != models.VoteApprove {
			return false
		}
	}
	return true
}

// RejectedSpan pairs a rejected span id with its note.
type RejectedSpan struct {
	SpanID string
	Note   string
}

// Rejections returns the confirmed rejections in the given span order.
func (l *Ledger) Rejections(spanIDs []string) []RejectedSpan {
	var out []RejectedSpan
	for _, id := range spanIDs {
		if e, ok := l.entries[id]; ok && e.Vote == models.VoteReject {
			out = append(out, RejectedSpan{SpanID: id, Note: e.Note})
		}
	}
	return out
}
