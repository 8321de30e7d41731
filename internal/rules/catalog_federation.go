package rules

import "github.com/celeratec/cipp-console/internal/shared"

const AreaFederation = "federation"

// Teams external access (federation) configuration.
func FederationCatalog() Catalog {
	return Catalog{
		Area:    AreaFederation,
		Version: "1.1.0",
		Title:   "Federation policy",
		Rules: []Rule{
			{
				ID:             "federation.open",
				Severity:       shared.SeverityWarning,
				Title:          "Teams users can chat with any external organization",
				Description:    "Federation is enabled without an allow list, so users in every Teams and Skype for Business organization can start chats and calls.",
				Recommendation: "Allow federation only with the partner domains users need.",
				Fields:         []string{"allowFederatedUsers", "allowedDomains"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "allowFederatedUsers") && listEmpty(s, "allowedDomains")
				},
			},
			{
				ID:             "federation.consumer-inbound",
				Severity:       shared.SeverityWarning,
				Title:          "Unmanaged Teams accounts can start conversations",
				Description:    "People using personal Teams accounts can contact users in the organization first, a common phishing channel.",
				Recommendation: "Disable inbound communication from unmanaged Teams accounts.",
				Fields:         []string{"allowTeamsConsumer", "allowTeamsConsumerInbound"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "allowTeamsConsumer") && isTrue(s, "allowTeamsConsumerInbound")
				},
			},
			{
				ID:          "federation.consumer-outbound",
				Severity:    shared.SeverityInfo,
				Title:       "Users can contact unmanaged Teams accounts",
				Description: "Users can start chats with people using personal Teams accounts.",
				Fields:      []string{"allowTeamsConsumer", "allowTeamsConsumerInbound"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "allowTeamsConsumer") && !isTrue(s, "allowTeamsConsumerInbound")
				},
			},
			{
				ID:          "federation.public-users",
				Severity:    shared.SeverityInfo,
				Title:       "Skype consumer users are allowed",
				Description: "Users can communicate with Skype consumer accounts.",
				Fields:      []string{"allowPublicUsers"},
				Predicate: func(s shared.Snapshot) bool {
					return isTrue(s, "allowPublicUsers")
				},
			},
			{
				ID:          "federation.disabled",
				Severity:    shared.SeverityInfo,
				Title:       "External access is disabled",
				Description: "Users cannot chat or call people in other organizations. Adding external participants will fail.",
				Fields:      []string{"allowFederatedUsers"},
				Predicate: func(s shared.Snapshot) bool {
					return isFalse(s, "allowFederatedUsers")
				},
			},
		},
	}
}
