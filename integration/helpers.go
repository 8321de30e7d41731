package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celeratec/cipp-console/internal/config"
	"github.com/celeratec/cipp-console/internal/console"
	"github.com/celeratec/cipp-console/internal/consolectl"
	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const (
	testToken      = "integration-token"
	directoryToken = "directory-token"

	sharingPath       = "/api/ListSharepointSettings"
	collaborationPath = "/api/ListExternalCollaboration"

	blockedInvitePayload = `{"error":{"code":"BadRequest","message":"The organization does not allow collaboration with the domain of the user you are inviting."}}`
)

// directoryBackend is an in-memory directory API. Settings are kept per probe
// path; Edit* writes replace the matching List* document.
type directoryBackend struct {
	mu       sync.Mutex
	settings map[string][]byte
	saves    []string
	actions  []string
	down     atomic.Bool
	server   *httptest.Server
}

func newDirectoryBackend(t *testing.T) *directoryBackend {
	t.Helper()
	b := &directoryBackend{settings: make(map[string][]byte)}
	b.server = httptest.NewServer(b)
	t.Cleanup(b.server.Close)
	return b
}

func (b *directoryBackend) seed(path string, doc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings[path] = []byte(doc)
}

func (b *directoryBackend) document(path string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings[path]
}

func (b *directoryBackend) savedPaths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.saves...)
}

func (b *directoryBackend) actionIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.actions...)
}

func (b *directoryBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.down.Load() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+directoryToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("tenantFilter") == "" {
		http.Error(w, "tenantFilter is required", http.StatusBadRequest)
		return
	}

	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/List"):
		doc := b.document(path)
		if doc == nil {
			doc = []byte(`{}`)
		}
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"Results": doc})

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/api/Edit"):
		b.mu.Lock()
		b.settings["/api/List"+strings.TrimPrefix(path, "/api/Edit")] = body
		b.saves = append(b.saves, path)
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"Results": "Settings updated"})

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/api/actions/"):
		action := strings.TrimPrefix(path, "/api/actions/")
		b.mu.Lock()
		b.actions = append(b.actions, action)
		b.mu.Unlock()
		b.performAction(w, action, body)

	default:
		http.NotFound(w, r)
	}
}

func (b *directoryBackend) performAction(w http.ResponseWriter, action string, body []byte) {
	switch action {
	case "invite-guest":
		email := gjson.GetBytes(body, "email").String()
		_, domain, _ := strings.Cut(email, "@")
		blocked := gjson.GetBytes(b.document(collaborationPath), "domainRestrictions.BlockedDomains").Array()
		for _, d := range blocked {
			if strings.EqualFold(d.String(), domain) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(blockedInvitePayload))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "guest-1", "status": "PendingAcceptance"})

	case diagnose.ActionSetDomainRestrictions:
		restrictions := gjson.GetBytes(body, "domainRestrictions")
		if !restrictions.IsObject() {
			http.Error(w, "domainRestrictions must be an object", http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		doc := b.settings[collaborationPath]
		if doc == nil {
			doc = []byte(`{}`)
		}
		updated, err := sjson.SetRawBytes(doc, "domainRestrictions", []byte(restrictions.Raw))
		if err == nil {
			b.settings[collaborationPath] = updated
		}
		b.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"Results": "Domain restrictions updated"})

	default:
		http.Error(w, fmt.Sprintf("unknown action %s", action), http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type consoleHarness struct {
	t       *testing.T
	cfg     *config.ConsoleConfig
	server  *console.Server
	backend *directoryBackend
	baseURL string
	stopped bool
}

func newConsoleHarness(t *testing.T, backend *directoryBackend) *consoleHarness {
	t.Helper()
	return startConsole(t, consoleConfig(backend, filepath.Join(t.TempDir(), "console.db")), backend)
}

func consoleConfig(backend *directoryBackend, dbPath string) *config.ConsoleConfig {
	cfg := &config.ConsoleConfig{}
	cfg.Server.AuthToken = testToken
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 10
	cfg.Server.ShutdownTimeoutSec = 5
	cfg.Directory = config.DirectoryConfig{BaseURL: backend.server.URL, AuthToken: directoryToken, TimeoutSec: 5}
	cfg.Rules.MinCatalogVersion = ">= 1.0.0"
	cfg.Diagnostics.ProbeTimeoutSec = 5
	cfg.Remediation = config.RemediationConfig{MaxSessions: 32, SessionTTLSec: 600, FixRatePerMinute: 60, FixBurst: 5}
	cfg.Database.Path = dbPath
	cfg.Security.Audit = config.AuditConfig{Enabled: true, RetentionDays: 30}
	return cfg
}

// startConsole runs a full console on an ephemeral port.
func startConsole(t *testing.T, cfg *config.ConsoleConfig, backend *directoryBackend) *consoleHarness {
	t.Helper()
	srv, err := console.NewServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("create console: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start console: %v", err)
	}

	h := &consoleHarness{
		t:       t,
		cfg:     cfg,
		server:  srv,
		backend: backend,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port),
	}
	t.Cleanup(h.stop)
	return h
}

func (h *consoleHarness) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	if err := h.server.Stop(); err != nil {
		h.t.Errorf("stop console: %v", err)
	}
}

func (h *consoleHarness) client(actor string) *consolectl.HTTPClient {
	return consolectl.NewHTTPClient(h.baseURL, testToken, actor)
}

func (h *consoleHarness) streamURL(tenant string) string {
	return "ws" + strings.TrimPrefix(h.baseURL, "http") + "/ws/sessions?tenant=" + tenant
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool, label string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", label)
}
