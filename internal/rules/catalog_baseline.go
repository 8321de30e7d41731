package rules

import "github.com/celeratec/cipp-console/internal/shared"

const AreaBaseline = "baseline"

// Security baseline template settings applied across managed tenants.
func BaselineCatalog() Catalog {
	return Catalog{
		Area:    AreaBaseline,
		Version: "2.0.0",
		Title:   "Security baseline template",
		Rules: []Rule{
			{
				ID:             "baseline.no-mfa-enforcement",
				Severity:       shared.SeverityError,
				Title:          "No MFA enforcement is configured",
				Description:    "Security defaults are off and the template has no conditional access policies, so sign-ins are not required to use MFA.",
				Recommendation: "Enable security defaults or deploy a conditional access policy that requires MFA.",
				Fields:         []string{"securityDefaultsEnabled", "conditionalAccessPolicyCount"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "securityDefaultsEnabled") && atMost(s, "conditionalAccessPolicyCount", 0)
				},
			},
			{
				ID:             "baseline.legacy-auth-allowed",
				Severity:       shared.SeverityError,
				Title:          "Legacy authentication is not blocked",
				Description:    "Basic authentication protocols bypass MFA and are the main target of password spray attacks.",
				Recommendation: "Block legacy authentication for all users.",
				Fields:         []string{"legacyAuthenticationBlocked"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "legacyAuthenticationBlocked")
				},
			},
			{
				ID:             "baseline.audit-log-disabled",
				Severity:       shared.SeverityWarning,
				Title:          "Unified audit log is disabled",
				Description:    "User and admin activity is not recorded, which blocks incident investigation.",
				Recommendation: "Enable the unified audit log.",
				Fields:         []string{"unifiedAuditLogEnabled"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "unifiedAuditLogEnabled")
				},
			},
			{
				ID:             "baseline.user-app-consent",
				Severity:       shared.SeverityWarning,
				Title:          "Users can consent to applications",
				Description:    "Any user can grant third-party applications access to organization data.",
				Recommendation: "Require admin approval for application consent.",
				Fields:         []string{"userConsentToAppsAllowed"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "userConsentToAppsAllowed")
				},
			},
			{
				ID:          "baseline.sspr-disabled",
				Severity:    shared.SeverityInfo,
				Title:       "Self-service password reset is disabled",
				Description: "Users must contact the helpdesk to reset forgotten passwords.",
				Fields:      []string{"selfServicePasswordResetEnabled"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "selfServicePasswordResetEnabled")
				},
			},
		},
	}
}
