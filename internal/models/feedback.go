package models

// Vote is the reviewer's judgment of a single span.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
)

// FeedbackEntry is one confirmed vote for a span. Approvals may carry an empty
// note; rejections always carry a non-empty one.
type FeedbackEntry struct {
	Vote Vote   `json:"vote"`
	Note string `json:"note,omitempty"`
}

// DraftRejection is the transient text of an in-progress rejection. At most one
// exists at a time; it is never persisted.
type DraftRejection struct {
	SpanID string
	Text   string
}
