package rules

import "github.com/celeratec/cipp-console/internal/shared"

const (
	AreaPartner = "partner"

	globalAdministratorRoleID = "62e90394-69f5-4237-9190-012177145e10"
)

// Cross-tenant access defaults and delegated partner relationships.
func PartnerCatalog() Catalog {
	return Catalog{
		Area:    AreaPartner,
		Version: "1.0.2",
		Title:   "Partner policy",
		Rules: []Rule{
			{
				ID:             "partner.dap-enabled",
				Severity:       shared.SeverityError,
				Title:          "Legacy delegated admin privileges are active",
				Description:    "DAP grants the partner Global Administrator in the tenant with no expiry and no role scoping.",
				Recommendation: "Move the relationship to granular delegated admin privileges and remove DAP.",
				Fields:         []string{"delegatedAdminPrivileges"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "delegatedAdminPrivileges")
				},
			},
			{
				ID:             "partner.global-admin-role",
				Severity:       shared.SeverityError,
				Title:          "A partner relationship includes Global Administrator",
				Description:    "The delegated relationship grants the most privileged directory role to partner staff.",
				Recommendation: "Replace Global Administrator with the least privileged roles the partner needs.",
				Fields:         []string{"gdapRoles"},
				Predicate: func(s shared.Snapshot) bool {
					return listContains(s, "gdapRoles", globalAdministratorRoleID) || listContains(s, "gdapRoles", "Global Administrator")
				},
			},
			{
				ID:             "partner.auto-redeem-inbound",
				Severity:       shared.SeverityWarning,
				Title:          "Invitations from other tenants are redeemed automatically",
				Description:    "Users from other tenants are added without a consent prompt.",
				Recommendation: "Only allow automatic redemption for specific trusted organizations.",
				Fields:         []string{"automaticUserConsentSettings.inboundAllowed"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "automaticUserConsentSettings.inboundAllowed")
				},
			},
			{
				ID:             "partner.inbound-all-users",
				Severity:       shared.SeverityWarning,
				Title:          "Default inbound B2B collaboration allows all external users",
				Description:    "Every user of every other tenant can be invited unless blocked per organization.",
				Recommendation: "Block inbound collaboration by default and allow specific organizations.",
				Fields:         []string{"b2bCollaborationInbound.usersAndGroups.accessType"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "b2bCollaborationInbound.usersAndGroups.accessType", "allowed") &&
						listContains(s, "b2bCollaborationInbound.usersAndGroups.targets", "AllUsers")
				},
			},
			{
				ID:          "partner.mfa-not-trusted",
				Severity:    shared.SeverityInfo,
				Title:       "MFA from other tenants is not trusted",
				Description: "Guests complete MFA again in this tenant even if their home tenant already required it.",
				Fields:      []string{"inboundTrust.isMfaAccepted"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "inboundTrust.isMfaAccepted")
				},
			},
		},
	}
}
