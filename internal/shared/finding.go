package shared

import (
	"fmt"
	"sort"
	"strings"
)

// Severity classifies a Finding. It drives both display order and whether an
// operator must confirm before a write proceeds.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities for sorting; lower ranks sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Actionable reports whether findings of this severity need confirmation.
func (s Severity) Actionable() bool {
	return s == SeverityError || s == SeverityWarning
}

func (s Severity) Valid() bool {
	return s.Rank() < 3
}

// ParseSeverity accepts the lower-case names plus the common "high"/"medium"/"low"
// aliases used by imported rule catalogs.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error", "high", "critical":
		return SeverityError, nil
	case "warning", "warn", "medium":
		return SeverityWarning, nil
	case "info", "low", "informational":
		return SeverityInfo, nil
	default:
		return "", fmt.Errorf("unknown severity %q", raw)
	}
}

// Finding is one flagged issue: either a generic risk from a rule catalog or a
// diagnosed root cause of a failed action.
type Finding struct {
	ID             string             `json:"id"`
	Severity       Severity           `json:"severity"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Recommendation string             `json:"recommendation,omitempty"`
	Source         string             `json:"source,omitempty"`
	Evidence       interface{}        `json:"evidence,omitempty"`
	Remediation    *RemediationAction `json:"remediation,omitempty"`
	SettingsPage   string             `json:"settings_page,omitempty"`
}

// ManualOnly reports whether the finding can only be resolved by a human.
func (f Finding) ManualOnly() bool {
	return f.Remediation == nil && f.SettingsPage != ""
}

// SortFindings orders findings errors first, keeping input order on ties.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Rank() < findings[j].Severity.Rank()
	})
}

// SeverityCounts tallies findings per severity.
type SeverityCounts struct {
	Error   int `json:"error"`
	Warning int `json:"warning"`
	Info    int `json:"info"`
}

func (c SeverityCounts) Actionable() int {
	return c.Error + c.Warning
}

func (c SeverityCounts) Total() int {
	return c.Error + c.Warning + c.Info
}

func Summarize(findings []Finding) SeverityCounts {
	var counts SeverityCounts
	for _, f := range findings {
		switch f.Severity {
		case SeverityError:
			counts.Error++
		case SeverityWarning:
			counts.Warning++
		case SeverityInfo:
			counts.Info++
		}
	}
	return counts
}

// FindByID returns the finding with the given id.
func FindByID(findings []Finding, id string) (Finding, bool) {
	for _, f := range findings {
		if f.ID == id {
			return f, true
		}
	}
	return Finding{}, false
}
