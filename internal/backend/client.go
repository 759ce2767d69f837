package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rgoodman/agentcal/internal/models"
)

// Error classes for backend failures. Read-side failures are recoverable
// (the user may retry); write-side failures surface inline and block the round
// from advancing. Validation never reaches this package.
var (
	ErrFetchFailed   = errors.New("fetch failed")
	ErrPersistFailed = errors.New("persist failed")
)

// Client is the calibration backend boundary. The transport is HTTP+JSON but
// callers depend only on these contracts.
type Client interface {
	// FetchReviewSpans returns the current span sample for review together
	// with the agent's description and criteria.
	FetchReviewSpans(ctx context.Context, agentRef string) (*models.ReviewSample, error)

	// SubmitSpanFeedback records one confirmed reviewer vote for a span.
	SubmitSpanFeedback(ctx context.Context, spanID string, fb models.FeedbackEntry) error

	// UpdateDescriptionAndCriteria persists the agent's description and the
	// full criteria map.
	UpdateDescriptionAndCriteria(ctx context.Context, agentRef, description string, criteria map[string][]string) error

	// UpdateCriteriaRules persists the criteria map; when reEvaluate is set
	// the backend re-scores a bounded recent window of spans.
	UpdateCriteriaRules(ctx context.Context, agentRef string, criteria map[string][]string, reEvaluate bool) error

	// RefreshDescription asks the backend to refine the agent description
	// from rejected-span feedback, passed inline rather than persisted.
	RefreshDescription(ctx context.Context, agentRef string, rejectedSpanIDs []string, notesBySpanID map[string]string) error

	// TriggerReScore starts an asynchronous re-scoring job for the given
	// spans and returns its job id.
	TriggerReScore(ctx context.Context, spanIDs []string) (string, error)

	// GetJobStatus reports the current status of a re-score job.
	GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error)

	// MarkReviewComplete records that the human review finished.
	MarkReviewComplete(ctx context.Context, agentRef string) error
}

// HTTPClient implements Client against the calibration API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL. The key is sent as a
// bearer token; pass "" for unauthenticated local backends.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do issues a request with an optional JSON body and decodes the JSON response
// into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) FetchReviewSpans(ctx context.Context, agentRef string) (*models.ReviewSample, error) {
	var sample models.ReviewSample
	path := fmt.Sprintf("/v1/agents/%s/review-spans", url.PathEscape(agentRef))
	if err := c.do(ctx, http.MethodGet, path, nil, &sample); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return &sample, nil
}

func (c *HTTPClient) SubmitSpanFeedback(ctx context.Context, spanID string, fb models.FeedbackEntry) error {
	body := struct {
		Kind string      `json:"kind"`
		Vote models.Vote `json:"vote"`
		Note string      `json:"note,omitempty"`
	}{Kind: "judge", Vote: fb.Vote, Note: fb.Note}

	path := fmt.Sprintf("/v1/spans/%s/feedback", url.PathEscape(spanID))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

func (c *HTTPClient) UpdateDescriptionAndCriteria(ctx context.Context, agentRef, description string, criteria map[string][]string) error {
	body := struct {
		Description      string              `json:"description"`
		CriteriaByMetric map[string][]string `json:"criteria_by_metric"`
	}{Description: description, CriteriaByMetric: criteria}

	path := fmt.Sprintf("/v1/agents/%s/description", url.PathEscape(agentRef))
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

func (c *HTTPClient) UpdateCriteriaRules(ctx context.Context, agentRef string, criteria map[string][]string, reEvaluate bool) error {
	body := struct {
		CriteriaByMetric map[string][]string `json:"criteria_by_metric"`
		ReEvaluate       bool                `json:"re_evaluate"`
	}{CriteriaByMetric: criteria, ReEvaluate: reEvaluate}

	path := fmt.Sprintf("/v1/agents/%s/criteria", url.PathEscape(agentRef))
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

func (c *HTTPClient) RefreshDescription(ctx context.Context, agentRef string, rejectedSpanIDs []string, notesBySpanID map[string]string) error {
	body := struct {
		RejectedSpanIDs []string          `json:"rejected_span_ids"`
		NotesBySpanID   map[string]string `json:"notes_by_span_id"`
	}{RejectedSpanIDs: rejectedSpanIDs, NotesBySpanID: notesBySpanID}

	path := fmt.Sprintf("/v1/agents/%s/description/refresh", url.PathEscape(agentRef))
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}

func (c *HTTPClient) TriggerReScore(ctx context.Context, spanIDs []string) (string, error) {
	body := struct {
		SpanIDs []string `json:"span_ids"`
	}{SpanIDs: spanIDs}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/scoring/jobs", body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: backend returned empty job id", ErrPersistFailed)
	}
	return resp.JobID, nil
}

func (c *HTTPClient) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	var resp struct {
		Status models.JobStatus `json:"status"`
	}
	path := fmt.Sprintf("/v1/scoring/jobs/%s", url.PathEscape(jobID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return resp.Status, nil
}

func (c *HTTPClient) MarkReviewComplete(ctx context.Context, agentRef string) error {
	path := fmt.Sprintf("/v1/agents/%s/review-complete", url.PathEscape(agentRef))
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil
}
