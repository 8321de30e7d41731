package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/celeratec/cipp-console/internal/shared"
)

func TestDefaultRegistryAreas(t *testing.T) {
	reg, err := NewDefaultRegistry("")
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	want := []string{AreaBaseline, AreaCollaboration, AreaFederation, AreaPartner, AreaSharing}
	got := reg.Areas()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected areas %v, got %v", want, got)
	}

	c, ok := reg.Catalog(AreaSharing)
	if !ok {
		t.Fatal("sharing catalog missing")
	}
	for _, rule := range c.Rules {
		if rule.Area != AreaSharing {
			t.Errorf("rule %s has area %q", rule.ID, rule.Area)
		}
	}
}

func TestRegistryEvaluateUnknownArea(t *testing.T) {
	reg, err := NewDefaultRegistry("")
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	if _, err := reg.Evaluate("telephony", shared.Snapshot{}); !errors.Is(err, ErrUnknownArea) {
		t.Fatalf("expected ErrUnknownArea, got %v", err)
	}
}

func TestRegistryVersionConstraint(t *testing.T) {
	if _, err := NewDefaultRegistry(">= 1.2.0"); err == nil {
		t.Fatal("expected partner catalog 1.0.2 to fail a >= 1.2.0 constraint")
	}
	if _, err := NewDefaultRegistry(">= 1.0.0"); err != nil {
		t.Fatalf("built-ins should satisfy >= 1.0.0: %v", err)
	}
	if _, err := NewRegistry("not a constraint"); err == nil {
		t.Fatal("expected invalid constraint error")
	}
}

func TestRegistryRejectsDuplicateRuleIDs(t *testing.T) {
	reg, err := NewDefaultRegistry("")
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	dup := Catalog{
		Area:    "custom",
		Version: "1.0.0",
		Rules: []Rule{{
			ID:        "sharing.anonymous-links",
			Severity:  shared.SeverityInfo,
			Predicate: func(shared.Snapshot) bool { return false },
		}},
	}
	if err := reg.Register(dup); err == nil {
		t.Fatal("expected duplicate rule id to be rejected")
	}
}

func TestRegistryExtendAppendsAfterBuiltins(t *testing.T) {
	reg, err := NewDefaultRegistry("")
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	before, _ := reg.Catalog(AreaSharing)

	err = reg.Extend(Catalog{
		Area:    AreaSharing,
		Version: "1.4.0",
		Rules: []Rule{{
			ID:        "custom.sharing.extra",
			Severity:  shared.SeverityWarning,
			Predicate: func(shared.Snapshot) bool { return true },
		}},
	})
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}

	after, _ := reg.Catalog(AreaSharing)
	if len(after.Rules) != len(before.Rules)+1 {
		t.Fatalf("expected one extra rule, got %d -> %d", len(before.Rules), len(after.Rules))
	}
	if after.Rules[len(after.Rules)-1].ID != "custom.sharing.extra" {
		t.Error("custom rule should come after built-ins")
	}
	if after.Version != "1.4.0" {
		t.Errorf("expected version bump to 1.4.0, got %s", after.Version)
	}
}

func TestParseCatalogYAML(t *testing.T) {
	data := []byte(`
area: sharing
version: 1.0.0
title: Custom sharing checks
rules:
  - id: custom.guest-expiry
    severity: medium
    title: Guest access never expires
    description: Guests keep access indefinitely.
    when:
      all:
        - {path: externalUserExpirationRequired, op: "false"}
  - id: custom.capability
    severity: high
    title: Guest sharing without domain limits
    when:
      all:
        - {path: sharingCapability, op: in, value: [externalUserSharingOnly, externalUserAndGuestSharing]}
      any:
        - {path: sharingDomainRestrictionMode, op: equals, value: none}
        - {path: sharingDomainRestrictionMode, op: missing}
`)

	catalog, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if len(catalog.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(catalog.Rules))
	}

	snap := shared.MustSnapshot(map[string]interface{}{
		"externalUserExpirationRequired": false,
		"sharingCapability":              "externalUserSharingOnly",
	})
	findings := catalog.Evaluate(snap)
	if len(findings) != 2 {
		t.Fatalf("expected both custom rules to match, got %+v", findings)
	}
	if findings[0].ID != "custom.capability" || findings[0].Severity != shared.SeverityError {
		t.Errorf("expected high severity rule first, got %+v", findings[0])
	}
}

func TestParseCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"missing area":      "version: 1.0.0\nrules: []\n",
		"bad severity":      "area: x\nrules:\n  - id: a\n    severity: fatal\n    when: {all: [{path: a, op: exists}]}\n",
		"empty when":        "area: x\nrules:\n  - id: a\n    severity: info\n",
		"unknown operator":  "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: a, op: regex}]}\n",
		"bad in value":      "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: a, op: in, value: b}]}\n",
		"misspelled key":    "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: sharingCapability, op: equals, vaule: disabled}]}\n",
		"unknown rule key":  "area: x\nrules:\n  - id: a\n    severity: info\n    wehn: {all: [{path: a, op: exists}]}\n",
		"missing id":        "area: x\nrules:\n  - severity: info\n    when: {all: [{path: a, op: exists}]}\n",
		"duplicate id":      "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: a, op: exists}]}\n  - id: a\n    severity: info\n    when: {all: [{path: b, op: exists}]}\n",
		"equals no value":   "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: a, op: equals}]}\n",
		"contains no value": "area: x\nrules:\n  - id: a\n    severity: info\n    when: {all: [{path: a, op: contains}]}\n",
		"empty document":    "",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "federation.yaml")
	doc := "area: federation\nversion: 1.5.0\nrules:\n  - id: custom.federation.skype\n    severity: warning\n    title: Skype allowed\n    when: {all: [{path: allowPublicUsers, op: \"true\"}]}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogFile failed: %v", err)
	}
	if catalog.Area != AreaFederation || catalog.Version != "1.5.0" {
		t.Fatalf("unexpected catalog header %+v", catalog)
	}

	if _, err := LoadCatalogFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
