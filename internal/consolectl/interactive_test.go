package consolectl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/celeratec/cipp-console/internal/gate"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
)

func writeData(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": v})
}

func writeErr(w http.ResponseWriter, status int, code string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": strings.ToLower(code), "code": code, "details": details})
}

var anonymousLinks = shared.Finding{
	ID:             "sharing.anonymous-links",
	Severity:       shared.SeverityError,
	Title:          "Anyone links are enabled",
	Recommendation: "Limit sharing to authenticated guests.",
}

// gateServer answers saves like the console: confirmation is required until
// the caller echoes fingerprint "fp-1".
type gateServer struct {
	mu    sync.Mutex
	calls []gate.Decision
	clean bool
}

func (g *gateServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Settings json.RawMessage `json:"settings"`
		gate.Decision
	}
	json.NewDecoder(r.Body).Decode(&req)
	g.mu.Lock()
	g.calls = append(g.calls, req.Decision)
	g.mu.Unlock()

	review := gate.Review{Findings: []shared.Finding{anonymousLinks}, Fingerprint: "fp-1"}
	switch {
	case g.clean:
		writeData(w, gate.Result{Saved: true})
	case !req.Confirm:
		writeErr(w, http.StatusConflict, "CONFIRMATION_REQUIRED", review)
	case req.Fingerprint != "fp-1":
		writeErr(w, http.StatusConflict, "FINDINGS_CHANGED", review)
	default:
		writeData(w, gate.Result{Review: review, Saved: true, Confirmed: true})
	}
}

func TestGatedSave(t *testing.T) {
	tests := []struct {
		name      string
		clean     bool
		input     string
		wantCalls int
		wantSaved bool
	}{
		{"no findings saves at once", true, "", 1, true},
		{"operator confirms", false, "y\n", 2, true},
		{"operator declines", false, "n\n", 1, false},
		{"end of input declines", false, "", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gs := &gateServer{clean: tt.clean}
			server := httptest.NewServer(gs)
			defer server.Close()

			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)
			result, err := GatedSave(NewHTTPClient(server.URL, "t", "alice"), p, "contoso", "sharing", json.RawMessage(`{"sharingCapability":"externalUserAndGuestSharing"}`))
			if err != nil {
				t.Fatalf("gated save: %v", err)
			}
			if result.Saved != tt.wantSaved {
				t.Errorf("expected saved=%v, got %v", tt.wantSaved, result.Saved)
			}
			if len(gs.calls) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, len(gs.calls))
			}
			if tt.wantCalls == 2 && gs.calls[1].Fingerprint != "fp-1" {
				t.Errorf("confirmation must echo the review fingerprint, got %q", gs.calls[1].Fingerprint)
			}
			if !tt.clean && !strings.Contains(out.String(), "sharing.anonymous-links") {
				t.Errorf("review not shown:\n%s", out.String())
			}
		})
	}
}

func highRiskView() *remediation.View {
	return &remediation.View{
		ID:        "s1",
		Tenant:    "contoso",
		Operation: "assign-phone-number",
		State:     remediation.StateReady,
		Findings: []shared.Finding{
			{
				ID:       "resource-assigned/number-in-use",
				Severity: shared.SeverityError,
				Title:    "Number is assigned to alex@contoso.com",
				Remediation: &shared.RemediationAction{
					Kind:        shared.KindUnassignAndRetry,
					Label:       "Unassign from alex@contoso.com",
					RiskLevel:   shared.RiskHigh,
					RiskWarning: "Alex loses their number.",
				},
			},
			{ID: "resource-assigned/manual", Severity: shared.SeverityInfo, Title: "Check the number inventory"},
		},
	}
}

type fixServer struct {
	mu          sync.Mutex
	fixCalls    int
	acknowledge bool
}

func (f *fixServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/actions/assign-phone-number"):
		writeData(w, ActionResultJSON{Success: false, ErrorPayload: "Phone number is already assigned", Session: highRiskView()})
	case strings.HasSuffix(r.URL.Path, "/sessions/s1/fix"):
		var req struct {
			FindingID   string `json:"finding_id"`
			Acknowledge bool   `json:"acknowledge"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.fixCalls++
		f.acknowledge = req.Acknowledge
		f.mu.Unlock()
		if !req.Acknowledge {
			writeErr(w, http.StatusConflict, "ACKNOWLEDGMENT_REQUIRED", nil)
			return
		}
		view := highRiskView()
		view.State = remediation.StateSucceeded
		view.Result = map[string]interface{}{"assigned": true}
		writeData(w, view)
	default:
		http.NotFound(w, r)
	}
}

func TestRunActionHighRiskFix(t *testing.T) {
	fs := &fixServer{}
	server := httptest.NewServer(fs)
	defer server.Close()

	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("1\ny\n"), &out)
	res, err := RunAction(NewHTTPClient(server.URL, "t", "alice"), p, "contoso", "assign-phone-number", map[string]interface{}{"telephoneNumber": "+14255550100"})
	if err != nil {
		t.Fatalf("run action: %v", err)
	}
	if !res.Success || res.Session.State != remediation.StateSucceeded {
		t.Fatalf("expected success after fix, got %+v", res)
	}
	if fs.fixCalls != 1 || !fs.acknowledge {
		t.Errorf("expected one acknowledged fix, got %d ack=%v", fs.fixCalls, fs.acknowledge)
	}
	if !strings.Contains(out.String(), "HIGH RISK: Alex loses their number.") {
		t.Errorf("risk warning not shown:\n%s", out.String())
	}
}

func TestRunActionDeclinedAcknowledgment(t *testing.T) {
	fs := &fixServer{}
	server := httptest.NewServer(fs)
	defer server.Close()

	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("1\nn\n"), &out)
	res, err := RunAction(NewHTTPClient(server.URL, "t", ""), p, "contoso", "assign-phone-number", nil)
	if err != nil {
		t.Fatalf("run action: %v", err)
	}
	if res.Success {
		t.Fatal("action should remain failed")
	}
	if fs.fixCalls != 0 {
		t.Fatalf("fix must not be sent without acknowledgment, got %d calls", fs.fixCalls)
	}
}

func TestRunActionSkipFix(t *testing.T) {
	fs := &fixServer{}
	server := httptest.NewServer(fs)
	defer server.Close()

	p := NewPrompter(strings.NewReader("\n"), &bytes.Buffer{})
	if _, err := RunAction(NewHTTPClient(server.URL, "t", ""), p, "contoso", "assign-phone-number", nil); err != nil {
		t.Fatalf("run action: %v", err)
	}
	if fs.fixCalls != 0 {
		t.Fatal("skipping must not apply a fix")
	}
}

func TestApplyFixAcknowledgmentSentinel(t *testing.T) {
	server := httptest.NewServer(&fixServer{})
	defer server.Close()

	_, err := ApplyFix(NewHTTPClient(server.URL, "t", ""), "s1", "resource-assigned/number-in-use", false)
	if err != ErrAcknowledgmentNeeded {
		t.Fatalf("expected ErrAcknowledgmentNeeded, got %v", err)
	}
}

func TestPrompterChooseRetries(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("9\nabc\n2\n"), &out)
	choice, err := p.Choose("Pick", 3)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if choice != 2 {
		t.Fatalf("expected 2, got %d", choice)
	}
	if strings.Count(out.String(), "Please enter a number") != 2 {
		t.Errorf("expected two retries:\n%s", out.String())
	}
}

func TestFixable(t *testing.T) {
	got := Fixable(highRiskView().Findings)
	if len(got) != 1 || got[0].ID != "resource-assigned/number-in-use" {
		t.Fatalf("unexpected fixable findings %+v", got)
	}
}
