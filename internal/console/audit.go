package console

import (
	"context"
	"time"

	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/celeratec/cipp-console/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Audit actions recorded for writes against the directory.
const (
	AuditActionSettingsSave = "settings.save"
	AuditActionPerform      = "action.perform"
	AuditActionFix          = "remediation.fix"
	AuditActionRetry        = "remediation.retry"
)

const (
	AuditResultSuccess = "success"
	AuditResultFailure = "failure"
	AuditResultError   = "error"
)

type requestInfoKey struct{}

type requestInfo struct {
	actor string
	ip    string
}

// withRequestInfo records who is acting so writes deep in a remediation session
// can be attributed.
func withRequestInfo(ctx context.Context, actor, ip string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{actor: actor, ip: ip})
}

func requestInfoFrom(ctx context.Context) requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		return info
	}
	return requestInfo{actor: "system"}
}

// AuditLogger writes the audit trail. A nil store turns every call into a
// no-op so the console can run without a database.
type AuditLogger struct {
	store  *storage.Storage
	logger *zap.Logger
}

func NewAuditLogger(store *storage.Storage, logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{store: store, logger: logger}
}

func (a *AuditLogger) Enabled() bool {
	return a != nil && a.store != nil
}

func (a *AuditLogger) record(ctx context.Context, rec storage.AuditRecord) {
	if !a.Enabled() {
		return
	}
	info := requestInfoFrom(ctx)
	rec.ID = uuid.NewString()
	rec.Timestamp = time.Now().UTC()
	rec.Actor = info.actor
	rec.IPAddress = info.ip
	if err := a.store.InsertAudit(ctx, rec); err != nil {
		shared.LogErrorWithContext(ctx, a.logger, "failed to write audit record", err,
			zap.String("action", rec.Action),
			zap.String("tenant", rec.Tenant),
		)
	}
}

// LogSave records a gated settings write.
func (a *AuditLogger) LogSave(ctx context.Context, tenant, area string, confirmed bool, saveErr error, duration time.Duration) {
	rec := storage.AuditRecord{
		Tenant:     tenant,
		Action:     AuditActionSettingsSave,
		Target:     area,
		Args:       SanitizeArgs(map[string]interface{}{"confirmed": confirmed}),
		Result:     AuditResultSuccess,
		DurationMs: duration.Milliseconds(),
	}
	if saveErr != nil {
		rec.Result = AuditResultError
		rec.Error = saveErr.Error()
	}
	a.record(ctx, rec)
}

// LogAction records one call against the action boundary.
func (a *AuditLogger) LogAction(ctx context.Context, action, tenant, sessionID string, call shared.ActionCall, outcome shared.ActionOutcome, callErr error, duration time.Duration) {
	rec := storage.AuditRecord{
		Tenant:     tenant,
		Action:     action,
		Target:     call.ActionID,
		SessionID:  sessionID,
		Args:       SanitizeArgs(call.Parameters),
		DurationMs: duration.Milliseconds(),
	}
	switch {
	case callErr != nil:
		rec.Result = AuditResultError
		rec.Error = callErr.Error()
	case !outcome.Success:
		rec.Result = AuditResultFailure
		rec.Error = outcome.ErrorPayload
	default:
		rec.Result = AuditResultSuccess
	}
	a.record(ctx, rec)
}

func (a *AuditLogger) Query(ctx context.Context, filter storage.AuditFilter) ([]storage.AuditRecord, error) {
	if !a.Enabled() {
		return []storage.AuditRecord{}, nil
	}
	return a.store.QueryAudit(ctx, filter)
}

// Purge drops records older than retention.
func (a *AuditLogger) Purge(ctx context.Context, retention time.Duration) {
	if !a.Enabled() || retention <= 0 {
		return
	}
	n, err := a.store.PurgeAuditOlderThan(ctx, retention)
	if err != nil {
		a.logger.Warn("audit purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		a.logger.Info("audit records purged", zap.Int64("count", n))
	}
}

// auditedPerformer records every call it forwards. Inside a session, a call to
// the session's original operation is the retry; any other call is the fix.
type auditedPerformer struct {
	inner     shared.ActionPerformer
	audit     *AuditLogger
	metrics   *Metrics
	sessionID string
	operation string
}

func (p *auditedPerformer) PerformAction(ctx context.Context, tenant string, call shared.ActionCall) (shared.ActionOutcome, error) {
	start := time.Now()
	outcome, err := p.inner.PerformAction(ctx, tenant, call)
	elapsed := time.Since(start)

	action := AuditActionPerform
	if p.sessionID != "" {
		action = AuditActionFix
		if call.ActionID == p.operation {
			action = AuditActionRetry
		}
	}
	p.audit.LogAction(ctx, action, tenant, p.sessionID, call, outcome, err, elapsed)
	p.metrics.RecordActionDuration(call.ActionID, elapsed.Seconds())
	return outcome, err
}
