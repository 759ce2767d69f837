package criteria

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/rgoodman/agentcal/internal/backend"
	"github.com/rgoodman/agentcal/internal/models"
)

// Validation errors. These are purely local and never reach the network.
var (
	ErrEmptyRule           = errors.New("rule text is empty")
	ErrRuleLimit           = errors.New("metric already has the maximum number of rules")
	ErrNoSuchRule          = errors.New("no rule at that position")
	ErrDescriptionTooShort = errors.New("description is too short")
	ErrNotLoaded           = errors.New("criteria not loaded")
)

// Config holds intake configuration.
type Config struct {
	MaxRules          int
	MinDescriptionLen int
}

// DefaultConfig returns the default intake config, reading from viper when available.
func DefaultConfig() Config {
	maxRules := viper.GetInt("criteria.max_rules")
	if maxRules <= 0 {
		maxRules = models.MaxRulesPerMetric
	}

	minDesc := viper.GetInt("criteria.min_description_len")
	if minDesc <= 0 {
		minDesc = 10
	}

	return Config{
		MaxRules:          maxRules,
		MinDescriptionLen: minDesc,
	}
}

// Intake fetches and edits an agent's description and scoring criteria. All
// edit operations mutate a local working copy; nothing touches the network
// until Save.
type Intake struct {
	backend  backend.Client
	agentRef string
	cfg      Config

	doc      *models.CriteriaDocument
	original map[string][]string // rules as fetched, for change detection
}

// NewIntake creates an intake for the given agent.
func NewIntake(c backend.Client, agentRef string, cfg Config) *Intake {
	return &Intake{backend: c, agentRef: agentRef, cfg: cfg}
}

// Load fetches the current description and criteria. Must succeed before any
// edit or save; the caller may retry on failure.
func (i *Intake) Load(ctx context.Context) error {
	sample, err := i.backend.FetchReviewSpans(ctx, i.agentRef)
	if err != nil {
		return fmt.Errorf("load criteria: %w", err)
	}

	doc := &models.CriteriaDocument{
		Description:      sample.Description,
		CriteriaByMetric: sample.CriteriaByMetric,
	}
	if doc.CriteriaByMetric == nil {
		doc.CriteriaByMetric = make(map[string][]string)
	}

	i.doc = doc.Clone()
	i.original = doc.Clone().CriteriaByMetric
	return nil
}

// Document returns the working copy, or nil before Load.
func (i *Intake) Document() *models.CriteriaDocument {
	return i.doc
}

// SetDescription replaces the working description.
func (i *Intake) SetDescription(text string) error {
	if i.doc == nil {
		return ErrNotLoaded
	}
	if len(strings.TrimSpace(text)) < i.cfg.MinDescriptionLen {
		return fmt.Errorf("%w (minimum %d characters)", ErrDescriptionTooShort, i.cfg.MinDescriptionLen)
	}
	i.doc.Description = text
	return nil
}

// AddRule appends a rule to a metric's list.
func (i *Intake) AddRule(metric, text string) error {
	if i.doc == nil {
		return ErrNotLoaded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyRule
	}
	rules := i.doc.CriteriaByMetric[metric]
	if len(rules) >= i.cfg.MaxRules {
		return fmt.Errorf("%w (%d)", ErrRuleLimit, i.cfg.MaxRules)
	}
	i.doc.CriteriaByMetric[metric] = append(rules, text)
	return nil
}

// RemoveRule deletes the rule at pos (0-based) from a metric's list.
func (i *Intake) RemoveRule(metric string, pos int) error {
	if i.doc == nil {
		return ErrNotLoaded
	}
	rules := i.doc.CriteriaByMetric[metric]
	if pos < 0 || pos >= len(rules) {
		return ErrNoSuchRule
	}
	i.doc.CriteriaByMetric[metric] = append(rules[:pos], rules[pos+1:]...)
	return nil
}

// ReplaceRule swaps the rule text at pos (0-based) in a metric's list.
func (i *Intake) ReplaceRule(metric string, pos int, text string) error {
	if i.doc == nil {
		return ErrNotLoaded
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyRule
	}
	rules := i.doc.CriteriaByMetric[metric]
	if pos < 0 || pos >= len(rules) {
		return ErrNoSuchRule
	}
	rules[pos] = text
	return nil
}

// SetRules replaces the entire per-metric rule map, validating every rule
// against the same constraints as the per-rule edit ops. Used by bulk import;
// change detection against the loaded original still applies on Save.
func (i *Intake) SetRules(rules map[string][]string) error {
	if i.doc == nil {
		return ErrNotLoaded
	}

	next := make(map[string][]string, len(rules))
	for metric, list := range rules {
		if len(list) > i.cfg.MaxRules {
			return fmt.Errorf("%w (%d) for metric %q", ErrRuleLimit, i.cfg.MaxRules, metric)
		}
		out := make([]string, 0, len(list))
		for _, r := range list {
			r = strings.TrimSpace(r)
			if r == "" {
				return fmt.Errorf("%w in metric %q", ErrEmptyRule, metric)
			}
			out = append(out, r)
		}
		next[metric] = out
	}

	i.doc.CriteriaByMetric = next
	return nil
}

// Save persists the description and the full criteria map. When the rule set
// materially changed since Load, it additionally issues a criteria update with
// the re-evaluate flag so the backend re-scores a recent window of spans.
// Prose-only description edits never trigger that paid pass.
//
// Returns whether re-evaluation was requested. On error the working copy is
// untouched and remains editable.
func (i *Intake) Save(ctx context.Context) (reEvaluated bool, err error) {
	if i.doc == nil {
		return false, ErrNotLoaded
	}
	if len(strings.TrimSpace(i.doc.Description)) < i.cfg.MinDescriptionLen {
		return false, fmt.Errorf("%w (minimum %d characters)", ErrDescriptionTooShort, i.cfg.MinDescriptionLen)
	}

	if err := i.backend.UpdateDescriptionAndCriteria(ctx, i.agentRef, i.doc.Description, i.doc.CriteriaByMetric); err != nil {
		return false, fmt.Errorf("save criteria: %w", err)
	}

	if !RulesChanged(i.doc.CriteriaByMetric, i.original) {
		return false, nil
	}
	if err := i.backend.UpdateCriteriaRules(ctx, i.agentRef, i.doc.CriteriaByMetric, true); err != nil {
		return false, fmt.Errorf("request re-evaluation: %w", err)
	}
	return true, nil
}

// normalizeRules lower-cases, trims, and sorts a rule list so comparison is
// order- and case-insensitive.
func normalizeRules(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, strings.ToLower(strings.TrimSpace(r)))
	}
	sort.Strings(out)
	return out
}

// RulesChanged reports whether any metric's rule set differs between the two
// maps, ignoring rule order and case. Metrics present on only one side count
// as changed unless their rule list is empty.
func RulesChanged(updated, original map[string][]string) bool {
	seen := make(map[string]bool, len(updated))
	for metric, rules := range updated {
		seen[metric] = true
		if !rulesEqual(rules, original[metric]) {
			return true
		}
	}
	for metric, rules := range original {
		if !seen[metric] && len(rules) > 0 {
			return true
		}
	}
	return false
}

func rulesEqual(a, b []string) bool {
	na, nb := normalizeRules(a), normalizeRules(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
