package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgoodman/agentcal/internal/models"
	"github.com/rgoodman/agentcal/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store for testing.
type mockStore struct {
	runs     []*models.CalibrationRun
	feedback []*models.RunFeedback

	listRunsErr error
}

func (m *mockStore) CreateCalibrationRun(_ context.Context, run *models.CalibrationRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockStore) GetCalibrationRun(_ context.Context, id string) (*models.CalibrationRun, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("calibration run not found: %s", id)
}

func (m *mockStore) ListCalibrationRuns(_ context.Context, filter store.RunListFilter) ([]*models.CalibrationRun, error) {
	if m.listRunsErr != nil {
		return nil, m.listRunsErr
	}
	var out []*models.CalibrationRun
	for _, r := range m.runs {
		if filter.AgentRef != "" && r.AgentRef != filter.AgentRef {
			continue
		}
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) CreateRunFeedback(_ context.Context, fb *models.RunFeedback) error {
	m.feedback = append(m.feedback, fb)
	return nil
}

func (m *mockStore) ListRunFeedback(_ context.Context, runID string) ([]*models.RunFeedback, error) {
	var out []*models.RunFeedback
	for _, fb := range m.feedback {
		if fb.RunID == runID {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

// mockBackend implements backend.Client with a fixed sample.
type mockBackend struct {
	sample   *models.ReviewSample
	fetchErr error
}

func (m *mockBackend) FetchReviewSpans(_ context.Context, _ string) (*models.ReviewSample, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.sample, nil
}

func (m *mockBackend) SubmitSpanFeedback(_ context.Context, _ string, _ models.FeedbackEntry) error {
	return nil
}

func (m *mockBackend) UpdateDescriptionAndCriteria(_ context.Context, _, _ string, _ map[string][]string) error {
	return nil
}

func (m *mockBackend) UpdateCriteriaRules(_ context.Context, _ string, _ map[string][]string, _ bool) error {
	return nil
}

func (m *mockBackend) RefreshDescription(_ context.Context, _ string, _ []string, _ map[string]string) error {
	return nil
}

func (m *mockBackend) TriggerReScore(_ context.Context, _ []string) (string, error) { return "j", nil }

func (m *mockBackend) GetJobStatus(_ context.Context, _ string) (models.JobStatus, error) {
	return models.JobStatusCompleted, nil
}

func (m *mockBackend) MarkReviewComplete(_ context.Context, _ string) error { return nil }

func newTestServer() (*Server, *mockStore, *mockBackend) {
	ms := &mockStore{}
	mb := &mockBackend{sample: &models.ReviewSample{}}
	return NewServer(ms, mb), ms, mb
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandleListRuns(t *testing.T) {
	srv, ms, _ := newTestServer()
	ctx := context.Background()

	ms.runs = []*models.CalibrationRun{
		{ID: "r1", AgentRef: "agent-1", Outcome: models.RunOutcomeConverged, RoundsCompleted: 1},
		{ID: "r2", AgentRef: "agent-2", Outcome: models.RunOutcomeExhausted, RoundsCompleted: 3},
	}

	result, err := srv.handleListRuns(ctx, callToolReq("agentcal_list_runs", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "r1")
	assert.Contains(t, text, "r2")
	assert.Contains(t, text, "converged")
}

func TestHandleListRuns_AgentFilter(t *testing.T) {
	srv, ms, _ := newTestServer()
	ctx := context.Background()

	ms.runs = []*models.CalibrationRun{
		{ID: "r1", AgentRef: "agent-1", Outcome: models.RunOutcomeConverged},
		{ID: "r2", AgentRef: "agent-2", Outcome: models.RunOutcomeExhausted},
	}

	result, err := srv.handleListRuns(ctx, callToolReq("agentcal_list_runs", map[string]any{"agent": "agent-2"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.NotContains(t, text, "r1")
	assert.Contains(t, text, "r2")
}

func TestHandleListRuns_StoreError(t *testing.T) {
	srv, ms, _ := newTestServer()
	ctx := context.Background()

	ms.listRunsErr = fmt.Errorf("db connection failed")

	result, err := srv.handleListRuns(ctx, callToolReq("agentcal_list_runs", nil))
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "db connection failed")
}

func TestHandleShowRun(t *testing.T) {
	srv, ms, _ := newTestServer()
	ctx := context.Background()

	ms.runs = []*models.CalibrationRun{
		{ID: "r1", AgentRef: "agent-1", Outcome: models.RunOutcomeExhausted, SpanCount: 2},
	}
	ms.feedback = []*models.RunFeedback{
		{RunID: "r1", SpanID: "s1", Round: 2, Vote: models.VoteApprove},
		{RunID: "r1", SpanID: "s2", Round: 2, Vote: models.VoteReject, Note: "wrong"},
	}

	result, err := srv.handleShowRun(ctx, callToolReq("agentcal_show_run", map[string]any{"run_id": "r1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var parsed struct {
		Run struct {
			Outcome string `json:"outcome"`
		} `json:"run"`
		Feedback []struct {
			SpanID string `json:"span_id"`
			Vote   string `json:"vote"`
		} `json:"feedback"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &parsed))
	assert.Equal(t, "exhausted", parsed.Run.Outcome)
	require.Len(t, parsed.Feedback, 2)
	assert.Equal(t, "reject", parsed.Feedback[1].Vote)
}

func TestHandleShowRun_NotFound(t *testing.T) {
	srv, _, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleShowRun(ctx, callToolReq("agentcal_show_run", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleShowRun_MissingParam(t *testing.T) {
	srv, _, _ := newTestServer()
	ctx := context.Background()

	result, err := srv.handleShowRun(ctx, callToolReq("agentcal_show_run", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "run_id")
}

func TestHandleAgentStatus(t *testing.T) {
	srv, _, mb := newTestServer()
	ctx := context.Background()

	low, high := 0.2, 0.8
	mb.sample = &models.ReviewSample{
		WorstSpans:  []*models.Span{{ID: "s1", CorrectnessScore: &low}, {ID: "s2"}},
		BestSpans:   []*models.Span{{ID: "s3", CorrectnessScore: &high}},
		Description: "Billing agent",
	}

	result, err := srv.handleAgentStatus(ctx, callToolReq("agentcal_agent_status", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &parsed))
	assert.EqualValues(t, 3, parsed["span_count"])
	assert.EqualValues(t, 2, parsed["scored"])
	assert.EqualValues(t, 1, parsed["unscored"])
	assert.InDelta(t, 0.5, parsed["mean_score"].(float64), 1e-9)
}

func TestHandleAgentStatus_BackendError(t *testing.T) {
	srv, _, mb := newTestServer()
	ctx := context.Background()

	mb.fetchErr = fmt.Errorf("backend unavailable")

	result, err := srv.handleAgentStatus(ctx, callToolReq("agentcal_agent_status", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCriteria(t *testing.T) {
	srv, _, mb := newTestServer()
	ctx := context.Background()

	mb.sample = &models.ReviewSample{
		Description:      "Billing agent",
		CriteriaByMetric: map[string][]string{"correctness": {"cite sources"}},
	}

	result, err := srv.handleCriteria(ctx, callToolReq("agentcal_criteria", map[string]any{"agent": "agent-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Billing agent")
	assert.Contains(t, text, "cite sources")
}

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _, _ := newTestServer()
	assert.NotNil(t, srv.MCPServer())
}
