package shared

import (
	"errors"
	"testing"
)

func TestSnapshotAccessors(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{
		"sharingCapability": "externalUserAndGuestSharing",
		"requireAnonymousLinksExpireInDays": 0,
		"isResharingByExternalUsersEnabled": true,
		"domainRestrictions": {"BlockedDomains": ["blocked.com", "evil.example"], "AllowedDomains": []},
		"allowedDomainList": "a.com, b.com"
	}`))
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}

	if got := snap.String("sharingCapability"); got != "externalUserAndGuestSharing" {
		t.Errorf("unexpected sharingCapability %q", got)
	}
	if !snap.Bool("isResharingByExternalUsersEnabled") {
		t.Error("expected resharing enabled")
	}
	if snap.Number("requireAnonymousLinksExpireInDays") != 0 {
		t.Error("expected zero expiry")
	}
	if got := snap.Strings("domainRestrictions.BlockedDomains"); len(got) != 2 || got[0] != "blocked.com" {
		t.Errorf("unexpected blocked domains %v", got)
	}
	if got := snap.Strings("domainRestrictions.allowedDomains"); len(got) != 0 {
		t.Errorf("expected empty allowed list, got %v", got)
	}
	if !snap.Exists("domainRestrictions.allowedDomains") {
		t.Error("case-insensitive lookup should find AllowedDomains")
	}
	if got := snap.Strings("allowedDomainList"); len(got) != 2 || got[1] != "b.com" {
		t.Errorf("comma separated scalar not split: %v", got)
	}
	if snap.Exists("missing.path") {
		t.Error("missing path should not exist")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	raw := []byte(`{"allowInvitesFrom":"everyone"}`)
	snap, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("ParseSnapshot failed: %v", err)
	}
	copy(raw, []byte(`{"allowInvitesFrom":"nobody!!"}`))

	if got := snap.String("allowInvitesFrom"); got != "everyone" {
		t.Fatalf("snapshot changed after caller mutated buffer: %q", got)
	}

	exported := snap.Raw()
	exported[2] = 'X'
	if got := snap.String("allowInvitesFrom"); got != "everyone" {
		t.Fatalf("snapshot changed after Raw() copy was mutated: %q", got)
	}
}

func TestParseSnapshotRejectsNonObject(t *testing.T) {
	if _, err := ParseSnapshot([]byte(`[1,2,3]`)); !errors.Is(err, ErrSnapshotNotObject) {
		t.Errorf("expected ErrSnapshotNotObject, got %v", err)
	}
	if _, err := ParseSnapshot([]byte(`{broken`)); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}

func TestSnapshotFingerprintStable(t *testing.T) {
	a := MustSnapshot(map[string]interface{}{"x": 1, "y": "z"})
	b := MustSnapshot(map[string]interface{}{"y": "z", "x": 1})
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should not depend on map iteration order")
	}
	c := MustSnapshot(map[string]interface{}{"x": 2, "y": "z"})
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different content must produce different fingerprints")
	}
}

func TestZeroSnapshot(t *testing.T) {
	var snap Snapshot
	if !snap.IsEmpty() {
		t.Error("zero snapshot should be empty")
	}
	if snap.String("anything") != "" {
		t.Error("zero snapshot should return empty strings")
	}
	if string(snap.Raw()) != "{}" {
		t.Errorf("zero snapshot raw should be {}, got %s", snap.Raw())
	}
}
