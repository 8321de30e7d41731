package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/celeratec/cipp-console/internal/diagnose"
	"github.com/celeratec/cipp-console/internal/directory"
	"github.com/celeratec/cipp-console/internal/gate"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/rules"
	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/celeratec/cipp-console/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	maxRequestBodyBytes = 1 << 20
	actorHeader         = "X-Console-Actor"
	correlationHeader   = "X-Correlation-ID"
	defaultFixTimeout   = 2 * time.Minute
)

// Directory is the remote tenant API. *directory.Client satisfies it.
type Directory interface {
	shared.ActionPerformer
	FetchSnapshot(ctx context.Context, probeID, tenant string) (shared.Snapshot, error)
	ProbeForArea(area string) (directory.Probe, bool)
	SaveSettings(ctx context.Context, tenant, area string, snapshot shared.Snapshot) error
	Sources() []diagnose.Source
}

type HTTPAPI struct {
	rules         *rules.Registry
	directory     Directory
	diagnoser     remediation.Diagnoser
	sessions      *SessionStore
	hub           *EventHub
	auditLogger   *AuditLogger
	notifier      *Dispatcher
	healthChecker *HealthChecker
	fixLimiter    *tenantLimiter
	fixTimeout    time.Duration
	sinks         []func(remediation.Event)
	metrics       *Metrics
	authToken     string
	logger        *zap.Logger
}

func NewHTTPAPI(
	registry *rules.Registry,
	dir Directory,
	diagnoser remediation.Diagnoser,
	sessions *SessionStore,
	authToken string,
	logger *zap.Logger,
) *HTTPAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAPI{
		rules:       registry,
		directory:   dir,
		diagnoser:   diagnoser,
		sessions:    sessions,
		auditLogger: NewAuditLogger(nil, logger),
		fixTimeout:  defaultFixTimeout,
		metrics:     GetMetrics(),
		authToken:   authToken,
		logger:      logger,
	}
}

func (a *HTTPAPI) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", a.handleHealth)
	mux.HandleFunc("GET /healthz", a.handleLiveness)
	mux.HandleFunc("GET /readyz", a.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/rules", a.requireAuth(http.HandlerFunc(a.handleListRules)))
	mux.Handle("GET /api/v1/rules/{area}", a.requireAuth(http.HandlerFunc(a.handleGetRules)))
	mux.Handle("GET /api/v1/tenants/{tenant}/settings/{area}/findings", a.requireAuth(http.HandlerFunc(a.handleFindings)))
	mux.Handle("POST /api/v1/tenants/{tenant}/settings/{area}/evaluate", a.requireAuth(http.HandlerFunc(a.handleEvaluate)))
	mux.Handle("POST /api/v1/tenants/{tenant}/settings/{area}/save", a.requireAuth(http.HandlerFunc(a.handleSave)))
	mux.Handle("POST /api/v1/tenants/{tenant}/actions/{action}", a.requireAuth(http.HandlerFunc(a.handlePerformAction)))
	mux.Handle("GET /api/v1/sessions", a.requireAuth(http.HandlerFunc(a.handleListSessions)))
	mux.Handle("GET /api/v1/sessions/{id}", a.requireAuth(http.HandlerFunc(a.handleGetSession)))
	mux.Handle("POST /api/v1/sessions/{id}/acknowledge", a.requireAuth(http.HandlerFunc(a.handleAcknowledge)))
	mux.Handle("POST /api/v1/sessions/{id}/fix", a.requireAuth(http.HandlerFunc(a.handleFix)))
	mux.Handle("DELETE /api/v1/sessions/{id}", a.requireAuth(http.HandlerFunc(a.handleDeleteSession)))
	mux.Handle("GET /api/v1/audit", a.requireAuth(http.HandlerFunc(a.handleAudit)))
	if a.hub != nil {
		mux.HandleFunc("GET /ws/sessions", a.hub.ServeWS)
	}

	return a.observe(mux)
}

func (a *HTTPAPI) SetHub(hub *EventHub) {
	a.hub = hub
	if hub != nil {
		a.AddTransitionSink(hub.Publish)
	}
}

func (a *HTTPAPI) SetAuditLogger(al *AuditLogger) {
	a.auditLogger = al
}

func (a *HTTPAPI) SetHealthChecker(hc *HealthChecker) {
	a.healthChecker = hc
}

func (a *HTTPAPI) SetNotifier(d *Dispatcher) {
	a.notifier = d
}

// SetFixTimeout bounds one fix, its retry and any re-diagnosis.
func (a *HTTPAPI) SetFixTimeout(d time.Duration) {
	if d > 0 {
		a.fixTimeout = d
	}
}

// SetFixRateLimit caps automatic fixes per tenant. perMinute <= 0 disables it.
func (a *HTTPAPI) SetFixRateLimit(perMinute float64, burst int) {
	a.fixLimiter = newTenantLimiter(perMinute, burst)
}

// AddTransitionSink receives every transition of every session opened after
// the call.
func (a *HTTPAPI) AddTransitionSink(sink func(remediation.Event)) {
	a.sinks = append(a.sinks, sink)
}

type apiResponse struct {
	Data interface{} `json:"data"`
	Meta *apiMeta    `json:"meta,omitempty"`
}

type apiMeta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

type apiError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker for websocket upgrades.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// observe tags each request with a correlation id and records its metrics.
func (a *HTTPAPI) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/sessions" {
			next.ServeHTTP(w, r)
			return
		}
		correlationID := r.Header.Get(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set(correlationHeader, correlationID)
		ctx := shared.WithCorrelationID(r.Context(), correlationID)
		ctx = withRequestInfo(ctx, actorFrom(r), clientIP(r))
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.metrics.RecordRequest(route, rec.status, time.Since(start).Seconds())
	})
}

func (a *HTTPAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if token == "" || token != a.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_REQUIRED")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		return actor
	}
	return "api"
}

func clientIP(r *http.Request) string {
	if forwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *HTTPAPI) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		return
	}
	writeJSON(w, http.StatusOK, a.healthChecker.CheckLiveness(r.Context()))
}

func (a *HTTPAPI) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	result := a.healthChecker.CheckReadiness(r.Context())
	status := http.StatusOK
	if result.Status == HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (a *HTTPAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.healthChecker == nil {
		writeJSON(w, http.StatusOK, apiResponse{Data: map[string]string{"status": string(HealthHealthy)}})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: a.healthChecker.CheckReadiness(r.Context())})
}

type ruleJSON struct {
	ID             string          `json:"id"`
	Severity       shared.Severity `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Recommendation string          `json:"recommendation,omitempty"`
	Fields         []string        `json:"fields,omitempty"`
}

type catalogJSON struct {
	Area    string     `json:"area"`
	Version string     `json:"version"`
	Title   string     `json:"title,omitempty"`
	Rules   []ruleJSON `json:"rules"`
}

func toCatalogJSON(c rules.Catalog) catalogJSON {
	out := catalogJSON{
		Area:    c.Area,
		Version: c.Version,
		Title:   c.Title,
		Rules:   make([]ruleJSON, 0, len(c.Rules)),
	}
	for _, r := range c.Rules {
		out.Rules = append(out.Rules, ruleJSON{
			ID:             r.ID,
			Severity:       r.Severity,
			Title:          r.Title,
			Description:    r.Description,
			Recommendation: r.Recommendation,
			Fields:         r.Fields,
		})
	}
	return out
}

func (a *HTTPAPI) handleListRules(w http.ResponseWriter, r *http.Request) {
	areas := a.rules.Areas()
	out := make([]catalogJSON, 0, len(areas))
	for _, area := range areas {
		if c, ok := a.rules.Catalog(area); ok {
			out = append(out, toCatalogJSON(c))
		}
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out, Meta: &apiMeta{Total: len(out)}})
}

func (a *HTTPAPI) handleGetRules(w http.ResponseWriter, r *http.Request) {
	c, ok := a.rules.Catalog(r.PathValue("area"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown settings area", "UNKNOWN_AREA")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: toCatalogJSON(c)})
}

type findingsJSON struct {
	Tenant         string                `json:"tenant"`
	Area           string                `json:"area"`
	CatalogVersion string                `json:"catalog_version"`
	Findings       []shared.Finding      `json:"findings"`
	Counts         shared.SeverityCounts `json:"counts"`
	Settings       shared.Snapshot       `json:"settings"`
}

// handleFindings evaluates the tenant's current settings for area.
func (a *HTTPAPI) handleFindings(w http.ResponseWriter, r *http.Request) {
	tenant, area := r.PathValue("tenant"), r.PathValue("area")
	ctx := shared.WithTenant(r.Context(), tenant)

	catalog, ok := a.rules.Catalog(area)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown settings area", "UNKNOWN_AREA")
		return
	}
	probe, ok := a.directory.ProbeForArea(area)
	if !ok {
		writeError(w, http.StatusNotFound, "no probe configured for area", "UNKNOWN_AREA")
		return
	}

	snapshot, err := a.directory.FetchSnapshot(ctx, probe.ID, tenant)
	if err != nil {
		shared.LogErrorWithContext(ctx, a.logger, "fetch settings failed", err, zap.String("area", area))
		a.metrics.RecordError("directory", "fetch_failed")
		writeError(w, http.StatusBadGateway, "could not read tenant settings", "DIRECTORY_ERROR")
		return
	}

	findings := catalog.Evaluate(snapshot)
	counts := shared.Summarize(findings)
	a.metrics.RecordFindings("rules/"+area, counts)

	writeJSON(w, http.StatusOK, apiResponse{
		Data: findingsJSON{
			Tenant:         tenant,
			Area:           area,
			CatalogVersion: catalog.Version,
			Findings:       findings,
			Counts:         counts,
			Settings:       snapshot,
		},
		Meta: &apiMeta{Total: len(findings)},
	})
}

type settingsRequest struct {
	Settings    json.RawMessage `json:"settings"`
	Confirm     bool            `json:"confirm"`
	Fingerprint string          `json:"fingerprint"`
}

func (a *HTTPAPI) decodeSettings(w http.ResponseWriter, r *http.Request) (settingsRequest, shared.Snapshot, bool) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return req, shared.Snapshot{}, false
	}
	if len(req.Settings) == 0 {
		writeError(w, http.StatusBadRequest, "settings is required", "BAD_REQUEST")
		return req, shared.Snapshot{}, false
	}
	snapshot, err := shared.ParseSnapshot(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return req, shared.Snapshot{}, false
	}
	return req, snapshot, true
}

// handleEvaluate reviews proposed settings without saving them.
func (a *HTTPAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.rules.Catalog(r.PathValue("area"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown settings area", "UNKNOWN_AREA")
		return
	}
	_, snapshot, ok := a.decodeSettings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: gate.Check(catalog.Rules, snapshot)})
}

// handleSave is the two-phase gated save: a first call without a matching
// confirmation returns the review; the caller repeats it with confirm=true and
// the review's fingerprint.
func (a *HTTPAPI) handleSave(w http.ResponseWriter, r *http.Request) {
	tenant, area := r.PathValue("tenant"), r.PathValue("area")
	ctx := shared.WithTenant(r.Context(), tenant)

	catalog, ok := a.rules.Catalog(area)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown settings area", "UNKNOWN_AREA")
		return
	}
	req, snapshot, ok := a.decodeSettings(w, r)
	if !ok {
		return
	}

	decision := gate.Decision{Confirm: req.Confirm, Fingerprint: req.Fingerprint}
	confirmer := gate.ConfirmerFunc(func(_ context.Context, review gate.Review) (bool, error) {
		err := gate.Authorize(review, decision)
		if errors.Is(err, gate.ErrConfirmationRequired) {
			return false, nil
		}
		return err == nil, err
	})
	save := func(ctx context.Context) error {
		return a.directory.SaveSettings(ctx, tenant, area, snapshot)
	}

	start := time.Now()
	result, err := gate.GateSave(ctx, catalog.Rules, snapshot, save, confirmer)
	switch {
	case errors.Is(err, gate.ErrFingerprintMismatch):
		a.metrics.RecordGateDecision(area, "stale")
		writeErrorDetails(w, http.StatusConflict, "findings changed since they were reviewed", "FINDINGS_CHANGED", result.Review)
	case err != nil:
		a.auditLogger.LogSave(ctx, tenant, area, result.Confirmed, err, time.Since(start))
		a.metrics.RecordGateDecision(area, "error")
		shared.LogErrorWithContext(ctx, a.logger, "settings save failed", err, zap.String("area", area))
		writeError(w, http.StatusBadGateway, "saving tenant settings failed", "SAVE_FAILED")
	case !result.Saved:
		a.metrics.RecordGateDecision(area, "pending")
		writeErrorDetails(w, http.StatusConflict, "risk findings must be confirmed before saving", "CONFIRMATION_REQUIRED", result.Review)
	default:
		a.auditLogger.LogSave(ctx, tenant, area, result.Confirmed, nil, time.Since(start))
		outcome := "saved"
		if result.Confirmed {
			outcome = "confirmed"
		}
		a.metrics.RecordGateDecision(area, outcome)
		shared.LogWithContext(ctx, a.logger, "settings saved",
			zap.String("area", area),
			zap.Bool("confirmed", result.Confirmed),
			zap.Int("findings", len(result.Review.Findings)),
		)
		writeJSON(w, http.StatusOK, apiResponse{Data: result})
	}
}

type actionRequest struct {
	Parameters map[string]interface{} `json:"parameters"`
}

type actionResultJSON struct {
	Success      bool              `json:"success"`
	Result       interface{}       `json:"result,omitempty"`
	ErrorPayload string            `json:"error_payload,omitempty"`
	Session      *remediation.View `json:"session,omitempty"`
}

// handlePerformAction runs an original action. When it fails, the failure is
// diagnosed and a remediation session is opened for it.
func (a *HTTPAPI) handlePerformAction(w http.ResponseWriter, r *http.Request) {
	tenant, action := r.PathValue("tenant"), r.PathValue("action")
	ctx := shared.WithTenant(r.Context(), tenant)

	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	call := shared.ActionCall{ActionID: action, Parameters: req.Parameters}
	performer := &auditedPerformer{inner: a.directory, audit: a.auditLogger, metrics: a.metrics}
	outcome, err := performer.PerformAction(ctx, tenant, call)
	if err != nil {
		shared.LogErrorWithContext(ctx, a.logger, "action failed to reach directory", err, zap.String("action", action))
		a.metrics.RecordError("directory", "action_failed")
		writeError(w, http.StatusBadGateway, "directory api unreachable", "DIRECTORY_ERROR")
		return
	}
	if outcome.Success {
		writeJSON(w, http.StatusOK, apiResponse{Data: actionResultJSON{Success: true, Result: outcome.Result}})
		return
	}

	session, err := a.openSession(ctx, tenant, action, req.Parameters, outcome.ErrorPayload)
	if err != nil {
		shared.LogErrorWithContext(ctx, a.logger, "open remediation session failed", err, zap.String("action", action))
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
		return
	}
	view := session.View()
	a.metrics.RecordFindings("diagnose", shared.Summarize(view.Findings))
	writeJSON(w, http.StatusOK, apiResponse{Data: actionResultJSON{
		Success:      false,
		ErrorPayload: outcome.ErrorPayload,
		Session:      &view,
	}})
}

func (a *HTTPAPI) openSession(ctx context.Context, tenant, action string, input map[string]interface{}, payload string) (*remediation.Session, error) {
	id := uuid.NewString()
	session, err := remediation.New(remediation.Config{
		ID:        id,
		Tenant:    tenant,
		Operation: action,
		Input:     input,
		Performer: &auditedPerformer{
			inner:     a.directory,
			audit:     a.auditLogger,
			metrics:   a.metrics,
			sessionID: id,
			operation: action,
		},
		Diagnoser: a.diagnoser,
		Sources:   a.directory.Sources(),
		Logger:    a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	a.watch(session)
	a.sessions.Put(session)

	if err := session.Begin(ctx, payload); err != nil {
		return nil, fmt.Errorf("diagnose failure: %w", err)
	}
	return session, nil
}

func (a *HTTPAPI) watch(s *remediation.Session) {
	sinks := append([]func(remediation.Event){}, a.sinks...)
	s.OnTransition(func(ev remediation.Event) {
		a.metrics.RecordTransition(string(ev.To))
		for _, sink := range sinks {
			sink(ev)
		}
		if n, ok := notificationFor(s, ev); ok {
			a.notifier.Enqueue(n)
		}
	})
}

func (a *HTTPAPI) lookupSession(w http.ResponseWriter, r *http.Request) (*remediation.Session, bool) {
	s, ok := a.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
		return nil, false
	}
	return s, true
}

func (a *HTTPAPI) handleListSessions(w http.ResponseWriter, r *http.Request) {
	views := a.sessions.List(r.URL.Query().Get("tenant"))
	writeJSON(w, http.StatusOK, apiResponse{Data: views, Meta: &apiMeta{Total: len(views)}})
}

func (a *HTTPAPI) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: s.View()})
}

type fixRequest struct {
	FindingID   string `json:"finding_id"`
	Acknowledge bool   `json:"acknowledge"`
}

func (a *HTTPAPI) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	var req fixRequest
	if err := decodeBody(w, r, &req); err != nil || req.FindingID == "" {
		writeError(w, http.StatusBadRequest, "finding_id is required", "BAD_REQUEST")
		return
	}
	if err := s.Acknowledge(req.FindingID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: s.View()})
}

// handleFix applies one finding's remediation and retries the original action.
// Refusals that need no remote call are answered before the tenant's fix
// budget is charged.
func (a *HTTPAPI) handleFix(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookupSession(w, r)
	if !ok {
		return
	}
	var req fixRequest
	if err := decodeBody(w, r, &req); err != nil || req.FindingID == "" {
		writeError(w, http.StatusBadRequest, "finding_id is required", "BAD_REQUEST")
		return
	}
	ctx := shared.WithTenant(r.Context(), s.Tenant())

	view := s.View()
	finding, found := shared.FindByID(view.Findings, req.FindingID)
	if !found {
		writeSessionError(w, fmt.Errorf("%w: %s", remediation.ErrUnknownFinding, req.FindingID))
		return
	}
	if finding.Remediation == nil {
		writeSessionError(w, fmt.Errorf("%w: %s", remediation.ErrNoRemediation, req.FindingID))
		return
	}
	if req.Acknowledge {
		if err := s.Acknowledge(req.FindingID); err != nil {
			writeSessionError(w, err)
			return
		}
	} else if finding.Remediation.RequiresAcknowledgment() && !contains(view.Acknowledged, req.FindingID) {
		writeSessionError(w, shared.ErrAcknowledgmentRequired)
		return
	}

	if !a.fixLimiter.allow(s.Tenant()) {
		a.metrics.RecordFix(string(finding.Remediation.Kind), "rate_limited")
		writeError(w, http.StatusTooManyRequests, "fix rate limit exceeded for tenant", "RATE_LIMITED")
		return
	}

	// The fix and retry outlive the request; only a session reset abandons them.
	fixCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.fixTimeout)
	defer cancel()
	if err := s.ApplyFix(fixCtx, req.FindingID); err != nil {
		if !errors.Is(err, remediation.ErrStale) {
			shared.LogWarnWithContext(ctx, a.logger, "fix refused", zap.String("finding_id", req.FindingID), zap.Error(err))
		}
		writeSessionError(w, err)
		return
	}

	after := s.View()
	a.metrics.RecordFix(string(finding.Remediation.Kind), string(after.State))
	writeJSON(w, http.StatusOK, apiResponse{Data: after})
}

// handleDeleteSession resets the session and forgets it.
func (a *HTTPAPI) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: map[string]string{"id": id, "state": string(remediation.StateIdle)}})
}

func (a *HTTPAPI) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !a.auditLogger.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "audit storage unavailable", "SERVICE_UNAVAILABLE")
		return
	}
	q := r.URL.Query()
	filter := storage.AuditFilter{
		Tenant:    q.Get("tenant"),
		Action:    q.Get("action"),
		Actor:     q.Get("actor"),
		SessionID: q.Get("session_id"),
		Limit:     parseIntParam(q.Get("limit"), 100),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp", "BAD_REQUEST")
			return
		}
		filter.Since = t
	}

	records, err := a.auditLogger.Query(r.Context(), filter)
	if err != nil {
		shared.LogErrorWithContext(r.Context(), a.logger, "query audit log failed", err)
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: records, Meta: &apiMeta{Total: len(records), Limit: filter.Limit}})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrAcknowledgmentRequired):
		writeError(w, http.StatusConflict, err.Error(), "ACKNOWLEDGMENT_REQUIRED")
	case errors.Is(err, remediation.ErrUnknownFinding):
		writeError(w, http.StatusNotFound, err.Error(), "UNKNOWN_FINDING")
	case errors.Is(err, remediation.ErrNoRemediation):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "NO_REMEDIATION")
	case errors.Is(err, remediation.ErrFixAttempted):
		writeError(w, http.StatusConflict, err.Error(), "FIX_ALREADY_ATTEMPTED")
	case errors.Is(err, remediation.ErrStale):
		writeError(w, http.StatusConflict, err.Error(), "STALE_SESSION")
	case errors.Is(err, remediation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func parseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, apiError{Error: msg, Code: code})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg, code string, details interface{}) {
	writeJSON(w, status, apiError{Error: msg, Code: code, Details: details})
}
