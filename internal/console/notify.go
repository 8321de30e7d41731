package console

import (
	"context"
	"time"

	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"go.uber.org/zap"
)

type NotificationKind string

const (
	// NotifyEscalation fires when a fix or its retry failed and the operator
	// must act by hand.
	NotifyEscalation NotificationKind = "escalation"
	NotifyHighRiskFix NotificationKind = "high-risk-fix"
)

// Notification is what outside channels learn about a session.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	SessionID string           `json:"session_id"`
	Tenant    string           `json:"tenant"`
	Operation string           `json:"operation"`
	State     string           `json:"state"`
	FindingID string           `json:"finding_id,omitempty"`
	Title     string           `json:"title"`
	Detail    string           `json:"detail,omitempty"`
	Severity  shared.Severity  `json:"severity,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher delivers notifications off the request path. A full queue drops
// the notification rather than block a remediation session.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Notification
	logger    *zap.Logger
	metrics   *Metrics
	timeout   time.Duration
}

func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Notification, 64),
		logger:    logger,
		metrics:   GetMetrics(),
		timeout:   10 * time.Second,
	}
}

func (d *Dispatcher) Enqueue(n Notification) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full; dropping",
			zap.String("kind", string(n.Kind)),
			zap.String("session_id", n.SessionID),
		)
		d.metrics.RecordNotification("queue", "dropped")
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, notifier := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := notifier.Notify(sendCtx, n)
		cancel()
		if err != nil {
			d.logger.Warn("notification failed",
				zap.String("channel", notifier.Name()),
				zap.String("session_id", n.SessionID),
				zap.Error(err),
			)
			d.metrics.RecordNotification(notifier.Name(), "error")
			continue
		}
		d.metrics.RecordNotification(notifier.Name(), "sent")
	}
}

// notificationFor decides whether a transition is worth telling anyone about.
func notificationFor(s *remediation.Session, ev remediation.Event) (Notification, bool) {
	n := Notification{
		SessionID: ev.SessionID,
		Tenant:    ev.Tenant,
		State:     string(ev.To),
		FindingID: ev.FindingID,
		Timestamp: ev.Timestamp,
	}

	switch {
	case ev.To == remediation.StateFixing:
		f, ok := shared.FindByID(s.Findings(), ev.FindingID)
		if !ok || !f.Remediation.RequiresAcknowledgment() {
			return Notification{}, false
		}
		n.Kind = NotifyHighRiskFix
		n.Title = "High-risk fix executing: " + f.Remediation.Label
		n.Detail = f.Remediation.RiskWarning
		n.Severity = f.Severity
	case ev.To == remediation.StateFailed,
		ev.To == remediation.StateReady && (ev.From == remediation.StateFixing || ev.From == remediation.StateRetrying):
		view := s.View()
		n.Operation = view.Operation
		n.Kind = NotifyEscalation
		n.Title = "Manual action required"
		n.Detail = view.RawError
		if len(view.Findings) > 0 {
			n.Title = view.Findings[0].Title
			n.Severity = view.Findings[0].Severity
		}
	default:
		return Notification{}, false
	}
	if n.Operation == "" {
		n.Operation = s.View().Operation
	}
	return n, true
}
