package diagnose

import (
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/tidwall/gjson"
)

const (
	AreaTelephony = "telephony"

	phoneNumbersPage = "https://admin.teams.microsoft.com/phone-numbers"

	ActionUnassignNumber = "telephony.unassign-number"
)

// AssignedResourceDefinition diagnoses phone number assignments rejected
// because the number already belongs to someone else.
func AssignedResourceDefinition() Definition {
	return Definition{
		Class: ClassResourceAssigned,
		Title: "Resource already assigned",
		Matchers: []Matcher{
			Contains("already assigned", "is assigned to another", "assigned to a different"),
			Field("error.code", "PhoneNumberAlreadyAssigned", "NumberAlreadyAssigned"),
		},
		SettingsPage: phoneNumbersPage,
		Heuristics: []Heuristic{
			{ID: "assigned-elsewhere", Area: AreaTelephony, Specificity: 20, Evaluate: numberAssignedElsewhere},
			{ID: "number-not-found", Area: AreaTelephony, Specificity: 10, Evaluate: numberNotFound},
		},
	}
}

// ResourceTypeDefinition diagnoses assignments that passed the wrong number
// type for the number being assigned.
func ResourceTypeDefinition() Definition {
	return Definition{
		Class: ClassWrongResourceType,
		Title: "Wrong resource type",
		Matchers: []Matcher{
			Contains("number type", "numbertype", "phonenumbertype"),
			Field("error.code", "InvalidPhoneNumberType", "PhoneNumberTypeMismatch"),
		},
		SettingsPage: phoneNumbersPage,
		Heuristics: []Heuristic{
			{ID: "type-mismatch", Area: AreaTelephony, Specificity: 20, Evaluate: numberTypeMismatch},
			{ID: "number-not-found", Area: AreaTelephony, Specificity: 10, Evaluate: numberNotFound},
		},
	}
}

var (
	numberInputKeys   = []string{"telephoneNumber", "phoneNumber", "number"}
	identityInputKeys = []string{"identity", "userPrincipalName", "userId"}
	typeInputKeys     = []string{"phoneNumberType", "numberType"}
)

// lookupNumber finds the inventory entry for number. The telephony snapshot
// lists numbers as {"numbers": [{"telephoneNumber", "assignedTo", "numberType"}]}.
func lookupNumber(s shared.Snapshot, number string) (gjson.Result, bool) {
	want := normalizeNumber(number)
	if want == "" {
		return gjson.Result{}, false
	}
	var found gjson.Result
	s.Get("numbers").ForEach(func(_, entry gjson.Result) bool {
		if normalizeNumber(entry.Get("telephoneNumber").String()) == want {
			found = entry
			return false
		}
		return true
	})
	return found, found.Exists()
}

func normalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range n {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func numberAssignedElsewhere(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	number := f.InputString(numberInputKeys...)
	entry, ok := lookupNumber(s, number)
	if !ok {
		return shared.Finding{}, false
	}
	holder := entry.Get("assignedTo").String()
	if holder == "" || strings.EqualFold(holder, f.InputString(identityInputKeys...)) {
		return shared.Finding{}, false
	}
	holderName := entry.Get("assignedToName").String()
	if holderName == "" {
		holderName = holder
	}

	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is assigned to %s", number, holderName),
		Description:    "A phone number can only be assigned to one identity at a time.",
		Recommendation: "Unassign the number from its current holder, then retry the assignment.",
		Evidence:       map[string]interface{}{"telephoneNumber": number, "assignedTo": holder},
		Remediation: &shared.RemediationAction{
			Kind:        shared.KindUnassignAndRetry,
			Label:       fmt.Sprintf("Unassign from %s and retry", holderName),
			RiskLevel:   shared.RiskHigh,
			RiskWarning: fmt.Sprintf("%s loses %s immediately and stops receiving calls on it.", holderName, number),
			Parameters:  map[string]interface{}{"telephoneNumber": number, "assignedTo": holder},
			Fix: &shared.ActionCall{
				ActionID:   ActionUnassignNumber,
				Parameters: map[string]interface{}{"telephoneNumber": number, "identity": holder},
			},
		},
	}, true
}

func numberTypeMismatch(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	number := f.InputString(numberInputKeys...)
	entry, ok := lookupNumber(s, number)
	if !ok {
		return shared.Finding{}, false
	}
	actual := entry.Get("numberType").String()
	requested := f.InputString(typeInputKeys...)
	if actual == "" || strings.EqualFold(actual, requested) {
		return shared.Finding{}, false
	}

	key := inputKey(f, typeInputKeys...)
	return shared.Finding{
		Severity:       shared.SeverityError,
		Title:          fmt.Sprintf("%s is a %s number", number, actual),
		Description:    fmt.Sprintf("The assignment asked for number type %q but the number is %q.", requested, actual),
		Recommendation: "Retry the assignment with the number's actual type.",
		Evidence:       map[string]interface{}{"telephoneNumber": number, "requested": requested, "actual": actual},
		Remediation: &shared.RemediationAction{
			Kind:           shared.KindRetryWithCorrectedParameter,
			Label:          fmt.Sprintf("Retry as %s", actual),
			RiskLevel:      shared.RiskLow,
			Parameters:     map[string]interface{}{key: actual},
			RetryOverrides: map[string]interface{}{key: actual},
		},
	}, true
}

func numberNotFound(f Failure, s shared.Snapshot) (shared.Finding, bool) {
	number := f.InputString(numberInputKeys...)
	if number == "" || !s.Exists("numbers") {
		return shared.Finding{}, false
	}
	if _, ok := lookupNumber(s, number); ok {
		return shared.Finding{}, false
	}
	return shared.Finding{
		Severity:       shared.SeverityWarning,
		Title:          fmt.Sprintf("%s is not in the tenant's number inventory", number),
		Description:    "The number may have been released or ported out, or it belongs to another tenant.",
		Recommendation: "Confirm the number in the phone number inventory.",
		Evidence:       map[string]interface{}{"telephoneNumber": number},
		SettingsPage:   phoneNumbersPage,
	}, true
}

// inputKey returns the key the original action used among candidates, so a
// corrected parameter overrides the same key.
func inputKey(f Failure, candidates ...string) string {
	for _, c := range candidates {
		for k := range f.Input {
			if strings.EqualFold(k, c) {
				return k
			}
		}
	}
	return candidates[0]
}
