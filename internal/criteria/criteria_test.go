package criteria

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgoodman/agentcal/internal/backend"
	"github.com/rgoodman/agentcal/internal/models"
)

// mockBackend implements backend.Client, recording calls relevant to intake.
type mockBackend struct {
	sample *models.ReviewSample

	fetchErr   error
	updateErr  error
	rulesErr   error
	saveCalls  int
	ruleCalls  int
	reEvaluate bool
	savedDesc  string
	savedRules map[string][]string
}

func (m *mockBackend) FetchReviewSpans(_ context.Context, _ string) (*models.ReviewSample, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.sample, nil
}

func (m *mockBackend) UpdateDescriptionAndCriteria(_ context.Context, _, desc string, rules map[string][]string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.saveCalls++
	m.savedDesc = desc
	m.savedRules = rules
	return nil
}

func (m *mockBackend) UpdateCriteriaRules(_ context.Context, _ string, rules map[string][]string, reEvaluate bool) error {
	if m.rulesErr != nil {
		return m.rulesErr
	}
	m.ruleCalls++
	m.reEvaluate = reEvaluate
	return nil
}

func (m *mockBackend) SubmitSpanFeedback(_ context.Context, _ string, _ models.FeedbackEntry) error {
	return nil
}

func (m *mockBackend) RefreshDescription(_ context.Context, _ string, _ []string, _ map[string]string) error {
	return nil
}

func (m *mockBackend) TriggerReScore(_ context.Context, _ []string) (string, error) { return "job", nil }

func (m *mockBackend) GetJobStatus(_ context.Context, _ string) (models.JobStatus, error) {
	return models.JobStatusCompleted, nil
}

func (m *mockBackend) MarkReviewComplete(_ context.Context, _ string) error { return nil }

func newLoadedIntake(t *testing.T, rules map[string][]string) (*Intake, *mockBackend) {
	t.Helper()
	mb := &mockBackend{sample: &models.ReviewSample{
		Description:      "An agent that answers billing questions precisely.",
		CriteriaByMetric: rules,
	}}
	i := NewIntake(mb, "agent-1", Config{MaxRules: 5, MinDescriptionLen: 10})
	require.NoError(t, i.Load(context.Background()))
	return i, mb
}

func TestLoad_FetchFailed(t *testing.T) {
	mb := &mockBackend{fetchErr: backend.ErrFetchFailed}
	i := NewIntake(mb, "agent-1", Config{MaxRules: 5, MinDescriptionLen: 10})

	err := i.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrFetchFailed)
	assert.Nil(t, i.Document())

	// Document remains editable after a later successful load.
	mb.fetchErr = nil
	mb.sample = &models.ReviewSample{Description: "A sufficiently long description."}
	require.NoError(t, i.Load(context.Background()))
	assert.NotNil(t, i.Document())
}

func TestEditOperations(t *testing.T) {
	i, _ := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})

	t.Run("add rule", func(t *testing.T) {
		require.NoError(t, i.AddRule("correctness", "answer in full sentences"))
		assert.Len(t, i.Document().CriteriaByMetric["correctness"], 2)
	})

	t.Run("add empty rule rejected", func(t *testing.T) {
		err := i.AddRule("correctness", "   ")
		assert.ErrorIs(t, err, ErrEmptyRule)
	})

	t.Run("add past cap rejected", func(t *testing.T) {
		require.NoError(t, i.AddRule("correctness", "r3"))
		require.NoError(t, i.AddRule("correctness", "r4"))
		require.NoError(t, i.AddRule("correctness", "r5"))
		err := i.AddRule("correctness", "r6")
		assert.ErrorIs(t, err, ErrRuleLimit)
		assert.Len(t, i.Document().CriteriaByMetric["correctness"], 5)
	})

	t.Run("replace rule", func(t *testing.T) {
		require.NoError(t, i.ReplaceRule("correctness", 0, "always cite sources"))
		assert.Equal(t, "always cite sources", i.Document().CriteriaByMetric["correctness"][0])
	})

	t.Run("replace out of range", func(t *testing.T) {
		assert.ErrorIs(t, i.ReplaceRule("correctness", 9, "x"), ErrNoSuchRule)
		assert.ErrorIs(t, i.ReplaceRule("correctness", -1, "x"), ErrNoSuchRule)
	})

	t.Run("remove rule", func(t *testing.T) {
		require.NoError(t, i.RemoveRule("correctness", 4))
		assert.Len(t, i.Document().CriteriaByMetric["correctness"], 4)
	})

	t.Run("remove out of range", func(t *testing.T) {
		assert.ErrorIs(t, i.RemoveRule("correctness", 10), ErrNoSuchRule)
	})
}

func TestSetDescription_MinLength(t *testing.T) {
	i, _ := newLoadedIntake(t, nil)

	assert.ErrorIs(t, i.SetDescription("short"), ErrDescriptionTooShort)
	require.NoError(t, i.SetDescription("A description long enough to pass validation."))
}

func TestSave_NoRuleChange_NoReEvaluate(t *testing.T) {
	i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"Cite Sources", "be concise"}})

	// Prose-only edit.
	require.NoError(t, i.SetDescription("A reworded but equally valid description."))

	reEval, err := i.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, reEval)
	assert.Equal(t, 1, mb.saveCalls)
	assert.Zero(t, mb.ruleCalls, "no re-evaluate call for prose-only edits")
	assert.Equal(t, "A reworded but equally valid description.", mb.savedDesc)
}

func TestSave_ReorderAndRecase_NoReEvaluate(t *testing.T) {
	i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"Cite Sources", "be concise"}})

	// Same set, different order and case.
	i.Document().CriteriaByMetric["correctness"] = []string{"BE CONCISE", "cite sources"}

	reEval, err := i.Save(context.Background())
	require.NoError(t, err)
	assert.False(t, reEval)
	assert.Zero(t, mb.ruleCalls)
}

func TestSave_RuleChange_TriggersReEvaluate(t *testing.T) {
	i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})

	require.NoError(t, i.AddRule("correctness", "never speculate"))

	reEval, err := i.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, reEval)
	assert.Equal(t, 1, mb.saveCalls)
	assert.Equal(t, 1, mb.ruleCalls, "exactly one re-evaluate request")
	assert.True(t, mb.reEvaluate)
}

func TestSave_NewMetric_TriggersReEvaluate(t *testing.T) {
	i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})

	require.NoError(t, i.AddRule("tone", "stay formal"))

	reEval, err := i.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, reEval)
	assert.Equal(t, 1, mb.ruleCalls)
}

func TestSave_PersistFailure_KeepsDocumentEditable(t *testing.T) {
	i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})
	mb.updateErr = errors.New("backend down")

	require.NoError(t, i.AddRule("correctness", "never speculate"))

	_, err := i.Save(context.Background())
	require.Error(t, err)
	assert.Zero(t, mb.ruleCalls)

	// Still editable, and a retry succeeds.
	mb.updateErr = nil
	reEval, err := i.Save(context.Background())
	require.NoError(t, err)
	assert.True(t, reEval)
}

func TestSetRules(t *testing.T) {
	t.Run("replaces whole map", func(t *testing.T) {
		i, _ := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})

		require.NoError(t, i.SetRules(map[string][]string{
			"tone": {"stay formal", " no slang "},
		}))

		doc := i.Document()
		assert.NotContains(t, doc.CriteriaByMetric, "correctness")
		assert.Equal(t, []string{"stay formal", "no slang"}, doc.CriteriaByMetric["tone"])
	})

	t.Run("rejects over-cap metric", func(t *testing.T) {
		i, _ := newLoadedIntake(t, nil)
		err := i.SetRules(map[string][]string{"m": {"1", "2", "3", "4", "5", "6"}})
		assert.ErrorIs(t, err, ErrRuleLimit)
	})

	t.Run("rejects empty rule text", func(t *testing.T) {
		i, _ := newLoadedIntake(t, nil)
		err := i.SetRules(map[string][]string{"m": {"ok", "  "}})
		assert.ErrorIs(t, err, ErrEmptyRule)
	})

	t.Run("save after bulk replace triggers re-evaluate", func(t *testing.T) {
		i, mb := newLoadedIntake(t, map[string][]string{"correctness": {"cite sources"}})
		require.NoError(t, i.SetRules(map[string][]string{"correctness": {"never speculate"}}))

		reEval, err := i.Save(context.Background())
		require.NoError(t, err)
		assert.True(t, reEval)
		assert.Equal(t, 1, mb.ruleCalls)
	})
}

func TestRulesChanged(t *testing.T) {
	base := map[string][]string{"m": {"a", "b"}}

	assert.False(t, RulesChanged(map[string][]string{"m": {"b", "a"}}, base))
	assert.False(t, RulesChanged(map[string][]string{"m": {"A", "B"}}, base))
	assert.False(t, RulesChanged(map[string][]string{"m": {" a ", "b"}}, base))
	assert.True(t, RulesChanged(map[string][]string{"m": {"a"}}, base))
	assert.True(t, RulesChanged(map[string][]string{"m": {"a", "c"}}, base))
	assert.True(t, RulesChanged(map[string][]string{}, base))
	assert.False(t, RulesChanged(map[string][]string{"m": {"a", "b"}, "n": {}}, base))
	assert.True(t, RulesChanged(map[string][]string{"m": {"a", "b"}, "n": {"x"}}, base))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, models.MaxRulesPerMetric, cfg.MaxRules)
	assert.Equal(t, 10, cfg.MinDescriptionLen)
}
