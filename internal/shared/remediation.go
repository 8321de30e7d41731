package shared

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrAcknowledgmentRequired is returned when a high-risk fix is executed without
// the operator's separate acknowledgment.
var ErrAcknowledgmentRequired = errors.New("high-risk remediation requires explicit acknowledgment")

// RemediationKind names the shape of an automatic fix.
type RemediationKind string

const (
	KindUnassignAndRetry            RemediationKind = "unassign-and-retry"
	KindRemoveAndRetry              RemediationKind = "remove-and-retry"
	KindRetryWithCorrectedParameter RemediationKind = "retry-with-corrected-parameter"
	KindAddDomainAndRetry           RemediationKind = "add-domain-and-retry"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionCall is a pre-built request against the remote action boundary.
type ActionCall struct {
	ActionID   string                 `json:"action_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ActionOutcome is the result of one remote action. On failure ErrorPayload holds
// the raw error text or JSON body exactly as the remote returned it.
type ActionOutcome struct {
	Success      bool        `json:"success"`
	Result       interface{} `json:"result,omitempty"`
	ErrorPayload string      `json:"error_payload,omitempty"`
}

// ActionPerformer is the original-action boundary. Tenant context is explicit.
type ActionPerformer interface {
	PerformAction(ctx context.Context, tenant string, call ActionCall) (ActionOutcome, error)
}

// ActionPerformerFunc adapts a function to ActionPerformer.
type ActionPerformerFunc func(ctx context.Context, tenant string, call ActionCall) (ActionOutcome, error)

func (f ActionPerformerFunc) PerformAction(ctx context.Context, tenant string, call ActionCall) (ActionOutcome, error) {
	return f(ctx, tenant, call)
}

// RemediationAction is an executable fix attached to a diagnosed Finding.
// Fix is nil for pure corrected-parameter retries; RetryOverrides are merged
// into the original action's parameters when it is retried.
type RemediationAction struct {
	Kind           RemediationKind        `json:"kind"`
	Label          string                 `json:"label"`
	RiskLevel      RiskLevel              `json:"risk_level"`
	RiskWarning    string                 `json:"risk_warning,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Fix            *ActionCall            `json:"fix,omitempty"`
	RetryOverrides map[string]interface{} `json:"retry_overrides,omitempty"`
}

// RequiresAcknowledgment reports whether Execute needs acknowledged=true.
func (r *RemediationAction) RequiresAcknowledgment() bool {
	return r != nil && r.RiskLevel == RiskHigh
}

// Execute runs the fix call against performer. It never runs a high-risk fix
// without acknowledgment.
func (r *RemediationAction) Execute(ctx context.Context, performer ActionPerformer, tenant string, acknowledged bool) (ActionOutcome, error) {
	if r == nil {
		return ActionOutcome{}, fmt.Errorf("no remediation to execute")
	}
	if r.RequiresAcknowledgment() && !acknowledged {
		return ActionOutcome{}, ErrAcknowledgmentRequired
	}
	if r.Fix == nil {
		return ActionOutcome{Success: true}, nil
	}
	if performer == nil {
		return ActionOutcome{}, fmt.Errorf("no action performer configured for %s", r.Fix.ActionID)
	}
	return performer.PerformAction(ctx, tenant, *r.Fix)
}

// MergeParameters overlays overrides on base without touching either map.
func MergeParameters(base, overrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func ParseRiskLevel(raw string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("unknown risk level %q", raw)
	}
}
