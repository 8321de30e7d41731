package rules

import "github.com/celeratec/cipp-console/internal/shared"

const AreaSharing = "sharing"

// SharePoint and OneDrive tenant sharing settings.
func SharingCatalog() Catalog {
	anonymousEnabled := func(s shared.Snapshot) bool {
		return equalsAny(s, "sharingCapability", "externalUserAndGuestSharing")
	}

	return Catalog{
		Area:    AreaSharing,
		Version: "1.3.0",
		Title:   "Sharing policy",
		Rules: []Rule{
			{
				ID:             "sharing.anonymous-links",
				Severity:       shared.SeverityError,
				Title:          "Anonymous sharing links are allowed",
				Description:    "Anyone links let people open shared files and folders without signing in. Links can be forwarded outside the organization with no audit of who used them.",
				Recommendation: "Limit sharing to new and existing guests, or disable Anyone links for files and folders.",
				Fields:         []string{"sharingCapability"},
				Predicate:      anonymousEnabled,
			},
			{
				ID:             "sharing.anonymous-links-never-expire",
				Severity:       shared.SeverityWarning,
				Title:          "Anonymous links never expire",
				Description:    "Anyone links stay valid until someone removes them manually.",
				Recommendation: "Set an expiration of 30 days or less for Anyone links.",
				Fields:         []string{"sharingCapability", "requireAnonymousLinksExpireInDays"},
				Predicate: func(s shared.Snapshot) bool {
					return anonymousEnabled(s) && (!s.Exists("requireAnonymousLinksExpireInDays") || atMost(s, "requireAnonymousLinksExpireInDays", 0))
				},
			},
			{
				ID:             "sharing.anonymous-edit",
				Severity:       shared.SeverityWarning,
				Title:          "Anonymous links grant edit access",
				Description:    "Anyone links for files or folders default to edit permissions, so unauthenticated users can change content.",
				Recommendation: "Restrict Anyone links to view permissions.",
				Fields:         []string{"fileAnonymousLinkType", "folderAnonymousLinkType"},
				Predicate: func(s shared.Snapshot) bool {
					return anonymousEnabled(s) && (equalsAny(s, "fileAnonymousLinkType", "edit") || equalsAny(s, "folderAnonymousLinkType", "edit"))
				},
			},
			{
				ID:             "sharing.default-link-anyone",
				Severity:       shared.SeverityWarning,
				Title:          "Default sharing link is an Anyone link",
				Description:    "Users who click Share get an anonymous link unless they change the link type.",
				Recommendation: "Set the default link type to specific people or people in the organization.",
				Fields:         []string{"defaultSharingLinkType"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "defaultSharingLinkType", "anonymous", "anonymousAccess", "anyone")
				},
			},
			{
				ID:             "sharing.external-resharing",
				Severity:       shared.SeverityWarning,
				Title:          "Guests can reshare content",
				Description:    "External users can share items they do not own with further external users.",
				Recommendation: "Disable resharing by external users.",
				Fields:         []string{"isResharingByExternalUsersEnabled"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "isResharingByExternalUsersEnabled")
				},
			},
			{
				ID:             "sharing.account-mismatch",
				Severity:       shared.SeverityWarning,
				Title:          "Guests can accept invitations with a different account",
				Description:    "An invitation sent to one address can be redeemed by any account the recipient signs in with.",
				Recommendation: "Require guests to sign in with the account the invitation was sent to.",
				Fields:         []string{"requireAcceptingAccountMatchInvitedAccount"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "requireAcceptingAccountMatchInvitedAccount")
				},
			},
			{
				ID:             "sharing.no-domain-restriction",
				Severity:       shared.SeverityInfo,
				Title:          "External sharing is not limited by domain",
				Description:    "Content can be shared with guests from any domain.",
				Recommendation: "Consider an allow list of partner domains if sharing is only needed with known organizations.",
				Fields:         []string{"sharingCapability", "sharingDomainRestrictionMode"},
				Predicate: func(s shared.Snapshot) bool {
					if !s.Exists("sharingCapability") || equalsAny(s, "sharingCapability", "disabled") {
						return false
					}
					return !s.Exists("sharingDomainRestrictionMode") || equalsAny(s, "sharingDomainRestrictionMode", "none", "")
				},
			},
			{
				ID:          "sharing.external-disabled",
				Severity:    shared.SeverityInfo,
				Title:       "External sharing is disabled",
				Description: "Content cannot be shared with anyone outside the organization. Guest invitations to sites will fail.",
				Fields:      []string{"sharingCapability"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "sharingCapability", "disabled")
				},
			},
		},
	}
}
