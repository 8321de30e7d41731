package diagnose

import (
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
)

const (
	AreaSharing = "sharing"

	sharingSettingsPage = "https://admin.microsoft.com/sharepoint?page=sharing&modern=true"

	ActionSetSharingDomains = "sharing.set-domain-lists"
)

// SharingDefinition diagnoses file and site shares rejected by the tenant's
// external sharing settings.
func SharingDefinition() Definition {
	return Definition{
		Class: ClassSharingDisabled,
		Title: "External sharing restricted",
		Matchers: []Matcher{
			Contains("sharing is disabled", "external sharing", "sharing with external users", "sharingdisabled"),
			Field("error.code", "ExternalSharingDisabled", "SharingDisabled"),
		},
		SettingsPage: sharingSettingsPage,
		Heuristics: []Heuristic{
			{ID: "tenant-sharing-disabled", Area: AreaSharing, Specificity: 30, Evaluate: tenantSharingDisabled},
			{ID: "domain-blocked", Area: AreaSharing, Specificity: 20, Evaluate: sharingDomainBlocked},
			{ID: "domain-not-allowed", Area: AreaSharing, Specificity: 15, Evaluate: sharingDomainNotAllowed},
		},
	}
}

func tenantSharingDisabled(_ Failure, s shared.Snapshot) (shared.Finding, bool) {
	if !strings.EqualFold(s.String("sharingCapability"), "disabled") {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          "External sharing is turned off for the tenant",
		Description:    "No content can be shared outside the organization until the tenant-level setting is relaxed.",
		Recommendation: "Raise the organization sharing level in the SharePoint admin center if external sharing is intended.",
		Evidence:       map[string]interface{}{"sharingCapability": s.Value("sharingCapability")},
		SettingsPage:   sharingSettingsPage,
	}, true
}

func sharingDomainBlocked(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	if domain == "" || !strings.EqualFold(s.String("sharingDomainRestrictionMode"), "blockList") {
		return shared.Finding{}, false
	}
	entry, listed := domainListed(s.Strings("sharingBlockedDomainList"), domain)
	if !listed {
		return shared.Finding{}, false
	}
	updated, err := rootListEdit(s, "sharingBlockedDomainList", without(entry))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("Sharing with %s is blocked", domain),
		Description:    fmt.Sprintf("The sharing block list contains %q.", entry),
		Recommendation: "Remove the domain from the sharing block list and retry.",
		Evidence:       map[string]interface{}{"domain": domain, "sharingBlockedDomainList": s.Value("sharingBlockedDomainList")},
		Remediation: &shared.RemediationAction{
			Kind:       shared.KindRemoveAndRetry,
			Label:      fmt.Sprintf("Unblock %s and retry", entry),
			RiskLevel:  shared.RiskLow,
			Parameters: map[string]interface{}{"domain": entry, "list": "sharingBlockedDomainList"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetSharingDomains,
				Parameters: map[string]interface{}{"sharingBlockedDomainList": updated},
			},
		},
	}, true
}

func sharingDomainNotAllowed(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	if domain == "" || !strings.EqualFold(s.String("sharingDomainRestrictionMode"), "allowList") {
		return shared.Finding{}, false
	}
	allowed := s.Strings("sharingAllowedDomainList")
	if _, listed := domainListed(allowed, domain); listed {
		return shared.Finding{}, false
	}
	updated, err := rootListEdit(s, "sharingAllowedDomainList", with(domain))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is not on the sharing allow list", domain),
		Description:    "External sharing is limited to specific domains.",
		Recommendation: "Add the domain to the sharing allow list and retry.",
		Evidence:       map[string]interface{}{"domain": domain, "sharingAllowedDomainList": allowed},
		Remediation: &shared.RemediationAction{
			Kind:        shared.KindAddDomainAndRetry,
			Label:       fmt.Sprintf("Allow sharing with %s and retry", domain),
			RiskLevel:   shared.RiskMedium,
			RiskWarning: fmt.Sprintf("Any site owner can share content with users at %s.", domain),
			Parameters:  map[string]interface{}{"domain": domain, "list": "sharingAllowedDomainList"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetSharingDomains,
				Parameters: map[string]interface{}{"sharingAllowedDomainList": updated},
			},
		},
	}, true
}
