package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/celeratec/cipp-console/internal/console"
	"github.com/celeratec/cipp-console/internal/consolectl"
	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

func TestGatedSaveLifecycle(t *testing.T) {
	backend := newDirectoryBackend(t)
	backend.seed(sharingPath, `{"sharingCapability":"disabled"}`)
	h := newConsoleHarness(t, backend)
	client := h.client("alice")

	before, err := consolectl.GetFindings(client, "contoso", "sharing")
	if err != nil {
		t.Fatalf("get findings: %v", err)
	}
	if _, ok := shared.FindByID(before.Findings, "sharing.anonymous-links"); ok {
		t.Fatal("anonymous links must not be reported while sharing is disabled")
	}

	var out bytes.Buffer
	prompter := consolectl.NewPrompter(strings.NewReader("y\n"), &out)
	proposed := json.RawMessage(`{"sharingCapability":"externalUserAndGuestSharing"}`)
	result, err := consolectl.GatedSave(client, prompter, "contoso", "sharing", proposed)
	if err != nil {
		t.Fatalf("gated save: %v", err)
	}
	if !result.Saved || !result.Confirmed {
		t.Fatalf("expected a confirmed save, got %+v", result)
	}
	if !strings.Contains(out.String(), "sharing.anonymous-links") {
		t.Errorf("operator was not shown the review:\n%s", out.String())
	}
	if got := backend.savedPaths(); len(got) != 1 || got[0] != "/api/EditSharepointSettings" {
		t.Fatalf("expected one settings write, got %v", got)
	}

	after, err := consolectl.GetFindings(client, "contoso", "sharing")
	if err != nil {
		t.Fatalf("get findings after save: %v", err)
	}
	if _, ok := shared.FindByID(after.Findings, "sharing.anonymous-links"); !ok {
		t.Fatalf("expected the saved settings to be evaluated, got %+v", after.Findings)
	}

	records, err := consolectl.QueryAudit(client, consolectl.AuditQuery{Action: console.AuditActionSettingsSave})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(records) != 1 || records[0].Actor != "alice" || records[0].Tenant != "contoso" {
		t.Fatalf("expected one audited save by alice, got %+v", records)
	}
}

func TestDeclinedSaveWritesNothing(t *testing.T) {
	backend := newDirectoryBackend(t)
	h := newConsoleHarness(t, backend)

	prompter := consolectl.NewPrompter(strings.NewReader("n\n"), &bytes.Buffer{})
	result, err := consolectl.GatedSave(h.client("bob"), prompter, "contoso", "sharing",
		json.RawMessage(`{"sharingCapability":"externalUserAndGuestSharing"}`))
	if err != nil {
		t.Fatalf("gated save: %v", err)
	}
	if result.Saved {
		t.Fatal("declined save must not be written")
	}
	if got := backend.savedPaths(); len(got) != 0 {
		t.Fatalf("expected no writes, got %v", got)
	}
}

func TestInviteDiagnoseFixRetry(t *testing.T) {
	backend := newDirectoryBackend(t)
	backend.seed(collaborationPath, `{"allowInvitesFrom":"everyone","domainRestrictions":{"BlockedDomains":["blocked.com","spam.example"]}}`)
	h := newConsoleHarness(t, backend)
	client := h.client("alice")

	header := http.Header{"Authorization": {"Bearer " + testToken}}
	conn, _, err := websocket.DefaultDialer.Dial(h.streamURL("contoso"), header)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close()
	waitFor(t, 2*time.Second, func() bool { return h.server.StreamClients() == 1 }, "stream subscription")

	res, err := consolectl.PerformAction(client, "contoso", "invite-guest", map[string]interface{}{"email": "user@blocked.com"})
	if err != nil {
		t.Fatalf("perform action: %v", err)
	}
	if res.Success || res.Session == nil {
		t.Fatalf("expected a failed invite with a session, got %+v", res)
	}
	if res.Session.State != remediation.StateReady {
		t.Fatalf("expected ready session, got %s", res.Session.State)
	}
	findingID := "domain-collaboration-restriction/domain-blocked"
	finding, ok := shared.FindByID(res.Session.Findings, findingID)
	if !ok || finding.Remediation == nil {
		t.Fatalf("expected fixable %s, got %+v", findingID, res.Session.Findings)
	}

	view, err := consolectl.ApplyFix(client, res.Session.ID, findingID, false)
	if err != nil {
		t.Fatalf("apply fix: %v", err)
	}
	if view.State != remediation.StateSucceeded {
		t.Fatalf("expected succeeded after retry, got %s (%s)", view.State, view.RawError)
	}

	wantActions := []string{"invite-guest", diagnose.ActionSetDomainRestrictions, "invite-guest"}
	gotActions := backend.actionIDs()
	if len(gotActions) != len(wantActions) {
		t.Fatalf("expected directory calls %v, got %v", wantActions, gotActions)
	}
	for i := range wantActions {
		if gotActions[i] != wantActions[i] {
			t.Errorf("call %d: expected %s, got %s", i, wantActions[i], gotActions[i])
		}
	}
	blocked := gjson.GetBytes(backend.document(collaborationPath), "domainRestrictions.BlockedDomains").Array()
	if len(blocked) != 1 || blocked[0].String() != "spam.example" {
		t.Fatalf("expected only blocked.com removed, got %v", blocked)
	}

	wantStates := []remediation.State{
		remediation.StateDiagnosing, remediation.StateReady,
		remediation.StateFixing, remediation.StateRetrying, remediation.StateSucceeded,
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i, want := range wantStates {
		var msg struct {
			Type string            `json:"type"`
			Data remediation.Event `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read transition %d: %v", i, err)
		}
		if msg.Type != "session.transition" || msg.Data.SessionID != res.Session.ID {
			t.Fatalf("unexpected stream message %+v", msg)
		}
		if msg.Data.To != want {
			t.Errorf("transition %d: expected %s, got %s", i, want, msg.Data.To)
		}
	}

	records, err := consolectl.QueryAudit(client, consolectl.AuditQuery{SessionID: res.Session.ID})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	actions := map[string]int{}
	for _, r := range records {
		actions[r.Action]++
	}
	if actions[console.AuditActionFix] != 1 || actions[console.AuditActionRetry] != 1 {
		t.Fatalf("expected one fix and one retry audited, got %v", actions)
	}
}

func TestSuccessfulActionOpensNoSession(t *testing.T) {
	backend := newDirectoryBackend(t)
	h := newConsoleHarness(t, backend)

	res, err := consolectl.PerformAction(h.client("alice"), "contoso", "invite-guest", map[string]interface{}{"email": "user@partner.example"})
	if err != nil {
		t.Fatalf("perform action: %v", err)
	}
	if !res.Success || res.Session != nil {
		t.Fatalf("expected plain success, got %+v", res)
	}
	if gjson.Get(mustJSON(t, res.Result), "id").String() != "guest-1" {
		t.Errorf("expected the directory result passed through, got %v", res.Result)
	}
}

func TestStreamRejectsBadToken(t *testing.T) {
	h := newConsoleHarness(t, newDirectoryBackend(t))

	_, resp, err := websocket.DefaultDialer.Dial(h.streamURL("contoso")+"&token=wrong", nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
