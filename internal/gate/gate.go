// Package gate holds configuration writes back until the operator has seen,
// and confirmed, every actionable risk finding for the proposed settings.
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/celeratec/cipp-console/internal/rules"
	"github.com/celeratec/cipp-console/internal/shared"
)

var (
	// ErrConfirmationRequired is returned when actionable findings exist and no
	// confirmation was given.
	ErrConfirmationRequired = errors.New("save requires confirmation of risk findings")
	// ErrFingerprintMismatch is returned when a confirmation refers to a
	// different snapshot or finding set than the one being saved.
	ErrFingerprintMismatch = errors.New("confirmation does not match current findings")
)

// Confirmer asks the operator to approve a save despite the findings in review.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, review Review) (bool, error)
}

type ConfirmerFunc func(ctx context.Context, review Review) (bool, error)

func (f ConfirmerFunc) RequestConfirmation(ctx context.Context, review Review) (bool, error) {
	return f(ctx, review)
}

// Group is every finding of one severity.
type Group struct {
	Severity shared.Severity  `json:"severity"`
	Findings []shared.Finding `json:"findings"`
}

// Review is what the operator sees before confirming a save.
type Review struct {
	Findings    []shared.Finding      `json:"findings"`
	Groups      []Group               `json:"groups"`
	Counts      shared.SeverityCounts `json:"counts"`
	Fingerprint string                `json:"fingerprint"`
}

// RequiresConfirmation is true when any error or warning finding exists.
func (r Review) RequiresConfirmation() bool {
	return r.Counts.Actionable() > 0
}

// Check evaluates snapshot without saving anything.
func Check(ruleSet []rules.Rule, snapshot shared.Snapshot) Review {
	findings := rules.Evaluate(ruleSet, snapshot)
	return Review{
		Findings:    findings,
		Groups:      group(findings),
		Counts:      shared.Summarize(findings),
		Fingerprint: fingerprint(snapshot, findings),
	}
}

func group(findings []shared.Finding) []Group {
	order := []shared.Severity{shared.SeverityError, shared.SeverityWarning, shared.SeverityInfo}
	groups := make([]Group, 0, len(order))
	for _, sev := range order {
		var members []shared.Finding
		for _, f := range findings {
			if f.Severity == sev {
				members = append(members, f)
			}
		}
		if len(members) > 0 {
			groups = append(groups, Group{Severity: sev, Findings: members})
		}
	}
	return groups
}

func fingerprint(snapshot shared.Snapshot, findings []shared.Finding) string {
	h := sha256.New()
	h.Write([]byte(snapshot.Fingerprint()))
	for _, f := range findings {
		h.Write([]byte{0})
		h.Write([]byte(f.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Result reports what GateSave did.
type Result struct {
	Review    Review `json:"review"`
	Saved     bool   `json:"saved"`
	Confirmed bool   `json:"confirmed"`
}

// GateSave runs save immediately when snapshot raises no actionable findings.
// Otherwise it asks confirmer and runs save exactly once only on approval. A
// cancelled or failed confirmation leaves save uncalled.
func GateSave(ctx context.Context, ruleSet []rules.Rule, snapshot shared.Snapshot, save func(context.Context) error, confirmer Confirmer) (Result, error) {
	if save == nil {
		return Result{}, fmt.Errorf("save function is required")
	}
	review := Check(ruleSet, snapshot)
	result := Result{Review: review}

	if review.RequiresConfirmation() {
		if confirmer == nil {
			return result, ErrConfirmationRequired
		}
		ok, err := confirmer.RequestConfirmation(ctx, review)
		if err != nil {
			return result, fmt.Errorf("request confirmation: %w", err)
		}
		if !ok {
			return result, nil
		}
		result.Confirmed = true
	}

	if err := save(ctx); err != nil {
		return result, fmt.Errorf("save: %w", err)
	}
	result.Saved = true
	return result, nil
}

// Decision is a confirmation submitted separately from the review it answers,
// as happens over HTTP.
type Decision struct {
	Confirm     bool   `json:"confirm"`
	Fingerprint string `json:"fingerprint"`
}

// Authorize reports whether decision permits saving the settings that produced
// review.
func Authorize(review Review, decision Decision) error {
	if !review.RequiresConfirmation() {
		return nil
	}
	if !decision.Confirm {
		return ErrConfirmationRequired
	}
	if decision.Fingerprint != review.Fingerprint {
		return ErrFingerprintMismatch
	}
	return nil
}
