package rules

import "github.com/celeratec/cipp-console/internal/shared"

const (
	AreaCollaboration = "collaboration"

	// Directory role template ids used for guest user access levels.
	guestRoleSameAsMember = "a0b1b346-4d3e-4e8b-98f8-753987be4970"
	guestRoleLimited      = "10dae51f-b6af-4016-8d66-8c2a99b929b3"
)

// Entra external collaboration (B2B) settings.
func CollaborationCatalog() Catalog {
	return Catalog{
		Area:    AreaCollaboration,
		Version: "1.2.0",
		Title:   "Collaboration policy",
		Rules: []Rule{
			{
				ID:             "collaboration.invites-from-everyone",
				Severity:       shared.SeverityError,
				Title:          "Anyone, including guests, can invite external users",
				Description:    "Guest users can invite further guests, so the directory can grow without any member being involved.",
				Recommendation: "Restrict invitations to members and users in admin roles.",
				Fields:         []string{"allowInvitesFrom"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "allowInvitesFrom", "everyone")
				},
			},
			{
				ID:             "collaboration.guest-member-access",
				Severity:       shared.SeverityError,
				Title:          "Guests have the same access as members",
				Description:    "Guest users can enumerate users, groups and other directory objects like any member.",
				Recommendation: "Set guest user access to limited or restricted.",
				Fields:         []string{"guestUserRoleId"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "guestUserRoleId", guestRoleSameAsMember)
				},
			},
			{
				ID:             "collaboration.guest-limited-access",
				Severity:       shared.SeverityInfo,
				Title:          "Guests can read properties of directory objects",
				Description:    "Guests have limited access and can see membership of groups they belong to.",
				Recommendation: "Use restricted guest access if guests should only see their own profile.",
				Fields:         []string{"guestUserRoleId"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "guestUserRoleId", guestRoleLimited)
				},
			},
			{
				ID:             "collaboration.email-verified-join",
				Severity:       shared.SeverityWarning,
				Title:          "Email-verified users can join the organization",
				Description:    "Self-service sign-up lets anyone with a verified address on a matching domain join without an invitation.",
				Recommendation: "Disable joining the organization for email verified users.",
				Fields:         []string{"allowEmailVerifiedUsersToJoinOrganization"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "allowEmailVerifiedUsersToJoinOrganization")
				},
			},
			{
				ID:          "collaboration.no-domain-restrictions",
				Severity:    shared.SeverityInfo,
				Title:       "Invitations are not restricted by domain",
				Description: "Guests can be invited from any domain.",
				Fields:      []string{"domainRestrictions"},
				Predicate: func(s shared.Snapshot) bool {
					if !s.Exists("allowInvitesFrom") || equalsAny(s, "allowInvitesFrom", "none") {
						return false
					}
					return listEmpty(s, "domainRestrictions.AllowedDomains") && listEmpty(s, "domainRestrictions.BlockedDomains")
				},
			},
			{
				ID:          "collaboration.invites-disabled",
				Severity:    shared.SeverityInfo,
				Title:       "Guest invitations are disabled",
				Description: "Nobody in the organization can invite guests. Invitations from this console will be rejected.",
				Fields:      []string{"allowInvitesFrom"},
				Predicate: func(s shared.Snapshot) bool {
					return equalsAny(s, "allowInvitesFrom", "none")
				},
			},
		},
	}
}
