package rules

import (
	"fmt"

	"github.com/celeratec/cipp-console/internal/shared"
)

// EngineSource marks findings produced by the engine about itself.
const EngineSource = "rule-engine"

// Rule is a static risk check. Predicate must be a pure function of the
// snapshot: no I/O and no hidden state.
type Rule struct {
	ID             string
	Area           string
	Severity       shared.Severity
	Title          string
	Description    string
	Recommendation string
	// Fields lists the settings the predicate reads; their values become the
	// finding's evidence.
	Fields    []string
	Predicate func(shared.Snapshot) bool
}

// Evaluate runs every rule against snapshot and returns one Finding per match,
// errors first, catalog order on ties. A predicate that panics is treated as
// non-matching and reported as an error finding naming the rule.
func Evaluate(rules []Rule, snapshot shared.Snapshot) []shared.Finding {
	findings := make([]shared.Finding, 0)
	for _, rule := range rules {
		matched, err := safeMatch(rule, snapshot)
		if err != nil {
			findings = append(findings, brokenRuleFinding(rule, err))
			continue
		}
		if matched {
			findings = append(findings, rule.finding(snapshot))
		}
	}
	shared.SortFindings(findings)
	return findings
}

func safeMatch(rule Rule, snapshot shared.Snapshot) (matched bool, err error) {
	if rule.Predicate == nil {
		return false, fmt.Errorf("rule has no predicate")
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return rule.Predicate(snapshot), nil
}

func (r Rule) finding(snapshot shared.Snapshot) shared.Finding {
	f := shared.Finding{
		ID:             r.ID,
		Severity:       r.Severity,
		Title:          r.Title,
		Description:    r.Description,
		Recommendation: r.Recommendation,
		Source:         r.source(),
	}
	if len(r.Fields) > 0 {
		evidence := make(map[string]interface{}, len(r.Fields))
		for _, field := range r.Fields {
			evidence[field] = snapshot.Value(field)
		}
		f.Evidence = evidence
	}
	return f
}

func (r Rule) source() string {
	if r.Area == "" {
		return "rules"
	}
	return "rules/" + r.Area
}

func brokenRuleFinding(rule Rule, err error) shared.Finding {
	return shared.Finding{
		ID:             EngineSource + "/" + rule.ID,
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("Rule %s could not be evaluated", rule.ID),
		Description:    fmt.Sprintf("The rule was skipped so the remaining checks could run: %v", err),
		Recommendation: "Fix or remove the rule definition; its risk was not assessed.",
		Source:         EngineSource,
		Evidence:       map[string]interface{}{"rule_id": rule.ID},
	}
}

// BrokenRuleIDs extracts the ids of rules that failed to evaluate.
func BrokenRuleIDs(findings []shared.Finding) []string {
	var ids []string
	for _, f := range findings {
		if f.Source != EngineSource {
			continue
		}
		if ev, ok := f.Evidence.(map[string]interface{}); ok {
			if id, ok := ev["rule_id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
