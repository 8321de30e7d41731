package shared

import (
	"context"
	"errors"
	"testing"
)

type countingPerformer struct {
	calls []ActionCall
}

func (p *countingPerformer) PerformAction(_ context.Context, _ string, call ActionCall) (ActionOutcome, error) {
	p.calls = append(p.calls, call)
	return ActionOutcome{Success: true}, nil
}

func TestHighRiskExecuteRequiresAcknowledgment(t *testing.T) {
	performer := &countingPerformer{}
	action := &RemediationAction{
		Kind:      KindUnassignAndRetry,
		RiskLevel: RiskHigh,
		Fix:       &ActionCall{ActionID: "phone.unassign"},
	}

	_, err := action.Execute(context.Background(), performer, "contoso", false)
	if !errors.Is(err, ErrAcknowledgmentRequired) {
		t.Fatalf("expected ErrAcknowledgmentRequired, got %v", err)
	}
	if len(performer.calls) != 0 {
		t.Fatalf("performer must not be called without acknowledgment")
	}

	outcome, err := action.Execute(context.Background(), performer, "contoso", true)
	if err != nil {
		t.Fatalf("acknowledged execute failed: %v", err)
	}
	if !outcome.Success || len(performer.calls) != 1 {
		t.Fatalf("expected one successful call, got %+v / %d", outcome, len(performer.calls))
	}
}

func TestLowRiskExecuteWithoutAcknowledgment(t *testing.T) {
	performer := &countingPerformer{}
	action := &RemediationAction{
		Kind:      KindRemoveAndRetry,
		RiskLevel: RiskLow,
		Fix:       &ActionCall{ActionID: "collaboration.update"},
	}
	if _, err := action.Execute(context.Background(), performer, "contoso", false); err != nil {
		t.Fatalf("low risk execute failed: %v", err)
	}
	if len(performer.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(performer.calls))
	}
}

func TestCorrectedParameterExecuteIsNoop(t *testing.T) {
	action := &RemediationAction{
		Kind:           KindRetryWithCorrectedParameter,
		RiskLevel:      RiskLow,
		RetryOverrides: map[string]interface{}{"phoneNumberType": "DirectRouting"},
	}
	outcome, err := action.Execute(context.Background(), nil, "contoso", false)
	if err != nil || !outcome.Success {
		t.Fatalf("expected no-op success, got %+v, %v", outcome, err)
	}
}

func TestMergeParametersDoesNotMutate(t *testing.T) {
	base := map[string]interface{}{"a": 1, "b": 2}
	overrides := map[string]interface{}{"b": 3}
	merged := MergeParameters(base, overrides)
	if merged["b"] != 3 || merged["a"] != 1 {
		t.Fatalf("unexpected merge result %v", merged)
	}
	if base["b"] != 2 {
		t.Fatal("base map was mutated")
	}
}
