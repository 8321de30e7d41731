package diagnose

import (
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
)

const (
	AreaCollaboration = "collaboration"

	collaborationSettingsPage = "https://entra.microsoft.com/#view/Microsoft_AAD_IAM/CompanyRelationshipsMenuBlade/~/Settings"
	crossTenantSettingsPage   = "https://entra.microsoft.com/#view/Microsoft_AAD_IAM/CompanyRelationshipsMenuBlade/~/CrossTenantAccessSettings"

	ActionSetDomainRestrictions = "collaboration.set-domain-restrictions"
)

// CollaborationDefinition diagnoses guest invitations rejected because of the
// tenant's B2B collaboration policy.
func CollaborationDefinition() Definition {
	return Definition{
		Class: ClassDomainCollaboration,
		Title: "Domain collaboration restriction",
		Matchers: []Matcher{
			Contains("does not allow collaboration", "collaboration with this domain", "invitations are disabled", "not allowed to invite"),
			Pattern(`(?i)invit\w*\b.*\b(blocked|restricted)\b`),
			Field("error.code", "DomainNotAllowed", "InvitationDomainBlocked"),
		},
		SettingsPage: collaborationSettingsPage,
		Heuristics: []Heuristic{
			{ID: "invites-disabled", Area: AreaCollaboration, Specificity: 30, Evaluate: invitesDisabled},
			{ID: "domain-blocked", Area: AreaCollaboration, Specificity: 20, Evaluate: collaborationDomainBlocked},
			{ID: "domain-not-allowed", Area: AreaCollaboration, Specificity: 15, Evaluate: collaborationDomainNotAllowed},
			{ID: "restriction-external", Area: AreaCollaboration, Specificity: 5, Evaluate: collaborationRestrictionExternal},
		},
	}
}

func invitesDisabled(_ Failure, s shared.Snapshot) (shared.Finding, bool) {
	if !strings.EqualFold(s.String("allowInvitesFrom"), "none") {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          "Guest invitations are disabled",
		Description:    "The tenant does not allow anyone to invite guests, so every invitation is rejected regardless of domain.",
		Recommendation: "Choose who may invite guests in the external collaboration settings.",
		Evidence:       map[string]interface{}{"allowInvitesFrom": s.Value("allowInvitesFrom")},
		SettingsPage:   collaborationSettingsPage,
	}, true
}

func collaborationDomainBlocked(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	if domain == "" {
		return shared.Finding{}, false
	}
	entry, listed := domainListed(s.Strings("domainRestrictions.BlockedDomains"), domain)
	if !listed {
		return shared.Finding{}, false
	}

	restrictions, err := listEdit(s, "domainRestrictions", "BlockedDomains", without(entry))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is on the collaboration block list", domain),
		Description:    fmt.Sprintf("Invitations to %s are rejected because the block list contains %q.", domain, entry),
		Recommendation: "Remove the domain from the block list and retry the invitation.",
		Evidence:       map[string]interface{}{"domain": domain, "blockedDomains": s.Value("domainRestrictions.BlockedDomains")},
		Remediation: &shared.RemediationAction{
			Kind:       shared.KindRemoveAndRetry,
			Label:      fmt.Sprintf("Remove %s from block list and retry", entry),
			RiskLevel:  shared.RiskLow,
			Parameters: map[string]interface{}{"domain": entry, "list": "BlockedDomains"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetDomainRestrictions,
				Parameters: map[string]interface{}{"domainRestrictions": restrictions},
			},
		},
	}, true
}

func collaborationDomainNotAllowed(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	domain := f.TargetDomain()
	allowed := s.Strings("domainRestrictions.AllowedDomains")
	if domain == "" || len(allowed) == 0 {
		return shared.Finding{}, false
	}
	if _, listed := domainListed(allowed, domain); listed {
		return shared.Finding{}, false
	}

	restrictions, err := listEdit(s, "domainRestrictions", "AllowedDomains", with(domain))
	if err != nil {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is not on the collaboration allow list", domain),
		Description:    fmt.Sprintf("The tenant only accepts guests from %d allowed domains and %s is not one of them.", len(allowed), domain),
		Recommendation: "Add the domain to the allow list and retry the invitation.",
		Evidence:       map[string]interface{}{"domain": domain, "allowedDomains": allowed},
		Remediation: &shared.RemediationAction{
			Kind:        shared.KindAddDomainAndRetry,
			Label:       fmt.Sprintf("Add %s to allow list and retry", domain),
			RiskLevel:   shared.RiskMedium,
			RiskWarning: fmt.Sprintf("Every user at %s becomes invitable into this tenant, not only this guest.", domain),
			Parameters:  map[string]interface{}{"domain": domain, "list": "AllowedDomains"},
			Fix: &shared.ActionCall{
				ActionID:   ActionSetDomainRestrictions,
				Parameters: map[string]interface{}{"domainRestrictions": restrictions},
			},
		},
	}, true
}

// collaborationRestrictionExternal covers a policy object whose lists are both
// empty: the rejection then comes from a setting this console does not manage
// (cross-tenant access), not from the absence of a restriction.
func collaborationRestrictionExternal(_ Failure, s shared.Snapshot) (shared.Finding, bool) {
	if !s.Get("domainRestrictions").IsObject() {
		return shared.Finding{}, false
	}
	if len(s.Strings("domainRestrictions.AllowedDomains")) > 0 || len(s.Strings("domainRestrictions.BlockedDomains")) > 0 {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityWarning,
		Title:          "Restriction is managed outside this console",
		Description:    "The collaboration policy has neither an allow list nor a block list, yet the invitation was rejected. The restriction is enforced elsewhere, typically by cross-tenant access settings.",
		Recommendation: "Check the cross-tenant access settings for the partner organization.",
		Evidence:       map[string]interface{}{"domainRestrictions": s.Value("domainRestrictions")},
		SettingsPage:   crossTenantSettingsPage,
	}, true
}
