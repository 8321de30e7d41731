package diagnose

import (
	"context"
	"testing"
	"time"

	"github.com/celeratec/cipp-console/internal/shared"
)

func telephonySource() Source {
	return staticSource("numbers", AreaTelephony, map[string]interface{}{
		"numbers": []map[string]interface{}{
			{"telephoneNumber": "+1 425 555 0100", "assignedTo": "alex@contoso.com", "assignedToName": "Alex Wilber", "numberType": "CallingPlan"},
			{"telephoneNumber": "+14255550101", "assignedTo": "", "numberType": "DirectRouting"},
		},
	})
}

func TestClassify(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	tests := []struct {
		payload string
		want    Class
		ok      bool
	}{
		{"The organization does not allow collaboration with this domain", ClassDomainCollaboration, true},
		{`{"error":{"code":"DomainNotAllowed","message":"nope"}}`, ClassDomainCollaboration, true},
		{"User is not allowed to communicate with this federated domain", ClassFederationBlocked, true},
		{"Phone number +14255550100 is already assigned to a user", ClassResourceAssigned, true},
		{`{"error":{"code":"InvalidPhoneNumberType"}}`, ClassWrongResourceType, true},
		{"Sharing with external users is not permitted", ClassSharingDisabled, true},
		{"Request throttled", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		def, ok := a.Classify(tt.payload)
		if ok != tt.ok || def.Class != tt.want {
			t.Errorf("Classify(%q) = %s, %v; want %s, %v", tt.payload, def.Class, ok, tt.want, tt.ok)
		}
	}
}

func TestDiagnoseNumberAssignedElsewhere(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	failure := Failure{
		Operation:    "assign-phone-number",
		Input:        map[string]interface{}{"telephoneNumber": "+14255550100", "identity": "megan@contoso.com", "phoneNumberType": "CallingPlan"},
		ErrorPayload: "Phone number is already assigned to another user.",
	}

	findings := a.Diagnose(context.Background(), failure, []Source{telephonySource()})
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %+v", findings)
	}
	r := findings[0].Remediation
	if r == nil || r.Kind != shared.KindUnassignAndRetry || r.RiskLevel != shared.RiskHigh || r.RiskWarning == "" {
		t.Fatalf("expected high-risk unassign with warning, got %+v", r)
	}
	if !r.RequiresAcknowledgment() {
		t.Fatal("unassign must require acknowledgment")
	}
	if r.Fix.Parameters["identity"] != "alex@contoso.com" {
		t.Errorf("fix should target current holder, got %+v", r.Fix.Parameters)
	}
}

func TestDiagnoseNumberTypeMismatch(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	failure := Failure{
		Operation:    "assign-phone-number",
		Input:        map[string]interface{}{"phoneNumber": "+14255550101", "identity": "megan@contoso.com", "NumberType": "CallingPlan"},
		ErrorPayload: `{"error":{"code":"InvalidPhoneNumberType","message":"The number type does not match."}}`,
	}

	findings := a.Diagnose(context.Background(), failure, []Source{telephonySource()})
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %+v", findings)
	}
	r := findings[0].Remediation
	if r == nil || r.Kind != shared.KindRetryWithCorrectedParameter || r.Fix != nil {
		t.Fatalf("expected corrected-parameter retry without fix call, got %+v", r)
	}
	if r.RetryOverrides["NumberType"] != "DirectRouting" {
		t.Errorf("override must use the original input key, got %+v", r.RetryOverrides)
	}
}

func TestDiagnoseNumberNotFound(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	failure := Failure{
		Input:        map[string]interface{}{"telephoneNumber": "+19995550000"},
		ErrorPayload: "Number is already assigned",
	}
	findings := a.Diagnose(context.Background(), failure, []Source{telephonySource()})
	if len(findings) != 1 || !findings[0].ManualOnly() || findings[0].Severity != shared.SeverityWarning {
		t.Fatalf("expected manual warning, got %+v", findings)
	}
}

func TestDiagnoseFederation(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	failure := Failure{
		Input:        map[string]interface{}{"sipAddress": "sip:chris@fabrikam.com"},
		ErrorPayload: "You're not allowed to communicate with this organization.",
	}
	tests := []struct {
		name     string
		snapshot map[string]interface{}
		kind     shared.RemediationKind
		risk     shared.RiskLevel
	}{
		{"blocked", map[string]interface{}{"allowFederatedUsers": true, "blockedDomains": []string{"FABRIKAM.com", "tailspin.com"}}, shared.KindRemoveAndRetry, shared.RiskLow},
		{"not allowed", map[string]interface{}{"allowFederatedUsers": true, "allowedDomains": []string{"contoso.com"}}, shared.KindAddDomainAndRetry, shared.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := a.Diagnose(context.Background(), failure, []Source{staticSource("teams-federation", AreaFederation, tt.snapshot)})
			if len(findings) != 1 || findings[0].Remediation == nil {
				t.Fatalf("expected one remediable finding, got %+v", findings)
			}
			r := findings[0].Remediation
			if r.Kind != tt.kind || r.RiskLevel != tt.risk {
				t.Fatalf("got %s/%s, want %s/%s", r.Kind, r.RiskLevel, tt.kind, tt.risk)
			}
		})
	}

	blocked := a.Diagnose(context.Background(), failure, []Source{staticSource("teams-federation", AreaFederation, tests[0].snapshot)})
	list, _ := blocked[0].Remediation.Fix.Parameters["blockedDomains"].([]interface{})
	if len(list) != 1 || list[0] != "tailspin.com" {
		t.Errorf("expected only fabrikam removed, got %v", list)
	}
}

func TestDiagnoseSharingDisabled(t *testing.T) {
	a := NewAnalyzer(time.Second, nil)
	failure := Failure{
		Input:        map[string]interface{}{"email": "guest@partner.com"},
		ErrorPayload: `{"error":{"code":"ExternalSharingDisabled","message":"Sharing is disabled"}}`,
	}
	src := staticSource("spo-tenant", AreaSharing, map[string]interface{}{"sharingCapability": "Disabled"})
	findings := a.Diagnose(context.Background(), failure, []Source{src})
	if len(findings) != 1 || !findings[0].ManualOnly() {
		t.Fatalf("expected manual-only finding, got %+v", findings)
	}
}

func TestDomainListedWildcard(t *testing.T) {
	entry, ok := domainListed([]string{"*.contoso.com"}, "eu.contoso.com")
	if !ok || entry != "*.contoso.com" {
		t.Fatalf("wildcard should cover subdomain, got %q %v", entry, ok)
	}
	if _, ok := domainListed([]string{"contoso.com"}, "notcontoso.com"); ok {
		t.Fatal("exact entry must not match a different domain")
	}
}

func TestTargetDomain(t *testing.T) {
	tests := []struct {
		input map[string]interface{}
		want  string
	}{
		{map[string]interface{}{"email": "A@Blocked.COM"}, "blocked.com"},
		{map[string]interface{}{"Domain": "@partner.com"}, "partner.com"},
		{map[string]interface{}{"invitedUserEmailAddress": "x@y.org"}, "y.org"},
		{map[string]interface{}{"email": "nodomain"}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := (Failure{Input: tt.input}).TargetDomain(); got != tt.want {
			t.Errorf("TargetDomain(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
