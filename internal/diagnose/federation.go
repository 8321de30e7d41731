package diagnose

import (
	"fmt"

	"github.com/celeratec/cipp-console/internal/shared"
)

const (
	AreaFederation = "federation"

	federationSettingsPage = "https://admin.teams.microsoft.com/company-wide-settings/external-communications"

	ActionSetFederationDomains = "federation.set-domains"
)

// FederationDefinition diagnoses Teams external access failures.
func FederationDefinition() Definition {
	return Definition{
		Class: ClassFederationBlocked,
		Title: "External access blocked",
		Matchers: []Matcher{
			Contains("not allowed to communicate", "federation is not allowed", "external access is blocked", "federated domain is blocked"),
			Field("error.code", "FederationBlocked", "ExternalAccessDenied"),
		},
		SettingsPage: federationSettingsPage,
		Heuristics: []Heuristic{
			{ID: "federation-disabled", Area: AreaFederation, Specificity: 30, Evaluate: federationDisabled},
			{ID: "domain-blocked", Area: AreaFederation, Specificity: 20, Evaluate: federationDomainBlocked},
			{ID: "domain-not-allowed", Area: AreaFederation, Specificity: 15, Evaluate: federationDomainNotAllowed},
		},
	}
}

func federationDisabled(_ Failure, s shared.Snapshot) (shared.Finding, bool) {
	if !s.Exists("allowFederatedUsers") || s.Bool("allowFederatedUsers") {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          "External access is turned off",
		Description:    "Users cannot communicate with any external organization.",
		Recommendation: "Enable external access for the domains you trust in the Teams admin center.",
		Evidence:       map[string]interface{}{"allowFederatedUsers": false},
		SettingsPage:   federationSettingsPage,
	}, true
}

func federationDomainBlocked(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	if domain == "" {
		return shared.Finding{}, false
	}
	entry, listed := domainListed(s.Strings("blockedDomains"), domain)
	if !listed {
		return shared.Finding{}, false
	}
	blocked, err := rootListEdit(s, "blockedDomains", without(entry))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is blocked for external access", domain),
		Description:    fmt.Sprintf("The blocked domain list contains %q.", entry),
		Recommendation: "Remove the domain from the blocked list and retry.",
		Evidence:       map[string]interface{}{"domain": domain, "blockedDomains": s.Value("blockedDomains")},
		Remediation: &shared.RemediationAction{
			Kind:       shared.KindRemoveAndRetry,
			Label:      fmt.Sprintf("Unblock %s and retry", entry),
			RiskLevel:  shared.RiskLow,
			Parameters: map[string]interface{}{"domain": entry, "list": "blockedDomains"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetFederationDomains,
				Parameters: map[string]interface{}{"blockedDomains": blocked},
			},
		},
	}, true
}

func federationDomainNotAllowed(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	allowed := s.Strings("allowedDomains")
	if domain == "" || len(allowed) == 0 {
		return shared.Finding{}, false
	}
	if _, listed := domainListed(allowed, domain); listed {
		return shared.Finding{}, false
	}
	updated, err := rootListEdit(s, "allowedDomains", with(domain))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is not on the external access allow list", domain),
		Description:    "External access is limited to specific domains.",
		Recommendation: "Add the domain to the allowed list and retry.",
		Evidence:       map[string]interface{}{"domain": domain, "allowedDomains": allowed},
		Remediation: &shared.RemediationAction{
			Kind:        shared.KindAddDomainAndRetry,
			Label:       fmt.Sprintf("Allow %s and retry", domain),
			RiskLevel:   shared.RiskMedium,
			RiskWarning: fmt.Sprintf("All users can chat and call with anyone at %s.", domain),
			Parameters:  map[string]interface{}{"domain": domain, "list": "allowedDomains"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetFederationDomains,
				Parameters: map[string]interface{}{"allowedDomains": updated},
			},
		},
	}, true
}
