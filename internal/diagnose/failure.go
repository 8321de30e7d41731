package diagnose

import (
	"context"
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
)

// Class names a family of failures that share a root-cause analysis.
type Class string

const (
	ClassDomainCollaboration Class = "domain-collaboration-restriction"
	ClassResourceAssigned    Class = "resource-already-assigned"
	ClassWrongResourceType   Class = "wrong-resource-type"
	ClassFederationBlocked   Class = "federation-domain-blocked"
	ClassSharingDisabled     Class = "sharing-disabled"
)

// Failure describes one failed original action.
type Failure struct {
	Operation string                 `json:"operation"`
	Tenant    string                 `json:"tenant"`
	Input     map[string]interface{} `json:"input,omitempty"`
	// ErrorPayload is the error text or JSON body exactly as the remote returned it.
	ErrorPayload string `json:"error_payload"`
	// FixesAttempted records the classes whose automatic fix already ran for
	// this interaction.
	FixesAttempted map[Class]bool `json:"fixes_attempted,omitempty"`
}

func (f Failure) Attempted(c Class) bool {
	return f.FixesAttempted[c]
}

// InputString returns the first non-empty input value among keys, compared
// case-insensitively.
func (f Failure) InputString(keys ...string) string {
	for _, key := range keys {
		for k, v := range f.Input {
			if !strings.EqualFold(k, key) || v == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// TargetDomain derives the domain an action was aimed at from its input.
func (f Failure) TargetDomain() string {
	if d := f.InputString("domain", "targetDomain"); d != "" {
		return strings.ToLower(strings.TrimPrefix(d, "@"))
	}
	addr := f.InputString("email", "invitedUserEmailAddress", "emailAddress", "userPrincipalName", "sipAddress")
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		return strings.ToLower(addr[at+1:])
	}
	return ""
}

// Source is a configuration probe: one call to the remote directory returning a
// snapshot of a single area for a tenant.
type Source struct {
	ID    string
	Area  string
	Fetch func(ctx context.Context, tenant string) (shared.Snapshot, error)
}
