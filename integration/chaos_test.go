package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/celeratec/cipp-console/internal/console"
	"github.com/celeratec/cipp-console/internal/consolectl"
	"github.com/celeratec/cipp-console/internal/gate"
)

func TestDirectoryOutageRecovery(t *testing.T) {
	backend := newDirectoryBackend(t)
	backend.seed(sharingPath, `{"sharingCapability":"externalUserAndGuestSharing"}`)
	h := newConsoleHarness(t, backend)
	client := h.client("alice")

	backend.down.Store(true)
	_, err := consolectl.GetFindings(client, "contoso", "sharing")
	var reqErr *consolectl.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected a request error during the outage, got %v", err)
	}
	if reqErr.StatusCode != http.StatusBadGateway || reqErr.Code != "DIRECTORY_ERROR" {
		t.Fatalf("expected 502 DIRECTORY_ERROR, got %d %s", reqErr.StatusCode, reqErr.Code)
	}

	resp, err := http.Get(h.baseURL + "/readyz")
	if err != nil {
		t.Fatalf("readiness: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("directory outage must not fail readiness, got %d", resp.StatusCode)
	}

	backend.down.Store(false)
	out, err := consolectl.GetFindings(client, "contoso", "sharing")
	if err != nil {
		t.Fatalf("findings after recovery: %v", err)
	}
	if out.Counts.Error == 0 {
		t.Fatalf("expected findings once the directory is back, got %+v", out.Counts)
	}
}

func TestSaveFailsWhileDirectoryDown(t *testing.T) {
	backend := newDirectoryBackend(t)
	h := newConsoleHarness(t, backend)
	client := h.client("alice")

	backend.down.Store(true)
	_, _, err := consolectl.SaveSettings(client, "contoso", "sharing",
		json.RawMessage(`{"sharingCapability":"disabled"}`), gate.Decision{})
	if err == nil {
		t.Fatal("expected the save to fail while the directory is down")
	}
	backend.down.Store(false)

	records, err := consolectl.QueryAudit(client, consolectl.AuditQuery{Action: console.AuditActionSettingsSave})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(records) != 1 || records[0].Result != console.AuditResultError {
		t.Fatalf("expected the failed save audited as an error, got %+v", records)
	}
}

func TestAuditSurvivesRestart(t *testing.T) {
	backend := newDirectoryBackend(t)
	dbPath := filepath.Join(t.TempDir(), "console.db")

	first := startConsole(t, consoleConfig(backend, dbPath), backend)
	res, err := consolectl.PerformAction(first.client("alice"), "contoso", "invite-guest", map[string]interface{}{"email": "user@partner.example"})
	if err != nil || !res.Success {
		t.Fatalf("perform action: %+v %v", res, err)
	}
	first.stop()

	second := startConsole(t, consoleConfig(backend, dbPath), backend)
	records, err := consolectl.QueryAudit(second.client("bob"), consolectl.AuditQuery{Action: console.AuditActionPerform})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(records) != 1 || records[0].Actor != "alice" || records[0].Result != console.AuditResultSuccess {
		t.Fatalf("expected the action recorded before restart, got %+v", records)
	}
}

func TestSessionsDoNotSurviveRestart(t *testing.T) {
	backend := newDirectoryBackend(t)
	backend.seed(collaborationPath, `{"domainRestrictions":{"BlockedDomains":["blocked.com"]}}`)
	dbPath := filepath.Join(t.TempDir(), "console.db")

	first := startConsole(t, consoleConfig(backend, dbPath), backend)
	res, err := consolectl.PerformAction(first.client("alice"), "contoso", "invite-guest", map[string]interface{}{"email": "user@blocked.com"})
	if err != nil || res.Session == nil {
		t.Fatalf("expected a remediation session: %+v %v", res, err)
	}
	first.stop()

	second := startConsole(t, consoleConfig(backend, dbPath), backend)
	_, err = consolectl.GetSession(second.client("alice"), res.Session.ID)
	var reqErr *consolectl.RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a session from a previous run, got %v", err)
	}
}
