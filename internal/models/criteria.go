package models

// MaxRulesPerMetric caps the number of scoring rules per metric.
const MaxRulesPerMetric = 5

// CriteriaDocument holds an agent's free-text description and its ranked
// scoring-criteria rules, keyed by metric name. Rule order within a metric is
// meaningful for display but not for change detection.
type CriteriaDocument struct {
	Description      string              `json:"description" yaml:"description"`
	CriteriaByMetric map[string][]string `json:"criteria_by_metric" yaml:"criteria_by_metric"`
}

// Clone returns a deep copy safe for local editing.
func (d *CriteriaDocument) Clone() *CriteriaDocument {
	out := &CriteriaDocument{
		Description:      d.Description,
		CriteriaByMetric: make(map[string][]string, len(d.CriteriaByMetric)),
	}
	for metric, rules := range d.CriteriaByMetric {
		out.CriteriaByMetric[metric] = append([]string(nil), rules...)
	}
	return out
}
