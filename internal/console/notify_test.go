package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingNotifier struct {
	name string
	err  error
	got  chan Notification
}

func newRecordingNotifier(name string, err error) *recordingNotifier {
	return &recordingNotifier{name: name, err: err, got: make(chan Notification, 8)}
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got <- n
	return r.err
}

func TestDispatcherDeliversToEveryNotifier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := newRecordingNotifier("failing", errors.New("boom"))
	ok := newRecordingNotifier("ok", nil)
	d := NewDispatcher(zap.New(core), failing, ok)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	d.Enqueue(Notification{Kind: NotifyEscalation, SessionID: "s1"})

	for _, n := range []*recordingNotifier{failing, ok} {
		select {
		case got := <-n.got:
			if got.SessionID != "s1" {
				t.Errorf("%s: unexpected notification %+v", n.name, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: notification not delivered", n.name)
		}
	}
	cancel()
	wg.Wait()

	if logs.FilterMessage("notification failed").Len() != 1 {
		t.Errorf("expected one failure logged, got %d", logs.FilterMessage("notification failed").Len())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(zap.New(core), newRecordingNotifier("ok", nil))
	for i := 0; i < cap(d.queue)+1; i++ {
		d.Enqueue(Notification{SessionID: "s"})
	}
	if logs.FilterMessage("notification queue full; dropping").Len() != 1 {
		t.Fatal("expected the overflow to be dropped")
	}
}

func TestDispatcherWithoutNotifiersIsNoop(t *testing.T) {
	var nilDispatcher *Dispatcher
	nilDispatcher.Enqueue(Notification{})

	d := NewDispatcher(nil)
	d.Enqueue(Notification{})
	if len(d.queue) != 0 {
		t.Fatal("nothing should be queued without notifiers")
	}
}

func highRiskSession(t *testing.T) (*remediation.Session, shared.Finding) {
	t.Helper()
	finding := shared.Finding{
		ID:       "resource-assigned/number-in-use",
		Severity: shared.SeverityError,
		Title:    "Number is assigned to another user",
		Remediation: &shared.RemediationAction{
			Kind:        shared.KindUnassignAndRetry,
			Label:       "Unassign number from alex@contoso.com",
			RiskLevel:   shared.RiskHigh,
			RiskWarning: "Alex loses their phone number.",
			Fix:         &shared.ActionCall{ActionID: "telephony.unassign-number"},
		},
	}
	s, err := remediation.New(remediation.Config{
		ID:        "s-high",
		Tenant:    "contoso",
		Operation: "assign-phone-number",
		Performer: stubPerformer{},
		Diagnoser: stubDiagnoser{findings: []shared.Finding{finding}},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Begin(context.Background(), "already assigned"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return s, finding
}

func TestNotificationFor(t *testing.T) {
	s, finding := highRiskSession(t)
	low := readySession(t, "s-low", "contoso")

	tests := []struct {
		name    string
		session *remediation.Session
		ev      remediation.Event
		want    bool
		kind    NotificationKind
	}{
		{
			name:    "high-risk fix starting",
			session: s,
			ev:      remediation.Event{From: remediation.StateReady, To: remediation.StateFixing, FindingID: finding.ID},
			want:    true,
			kind:    NotifyHighRiskFix,
		},
		{
			name:    "low-risk fix starting",
			session: low,
			ev:      remediation.Event{From: remediation.StateReady, To: remediation.StateFixing, FindingID: "guest-invite/domain-blocked"},
		},
		{
			name:    "fix failed back to ready",
			session: s,
			ev:      remediation.Event{From: remediation.StateFixing, To: remediation.StateReady},
			want:    true,
			kind:    NotifyEscalation,
		},
		{
			name:    "retry failed",
			session: s,
			ev:      remediation.Event{From: remediation.StateRetrying, To: remediation.StateFailed},
			want:    true,
			kind:    NotifyEscalation,
		},
		{
			name:    "diagnosis finished",
			session: s,
			ev:      remediation.Event{From: remediation.StateDiagnosing, To: remediation.StateReady},
		},
		{
			name:    "succeeded",
			session: s,
			ev:      remediation.Event{From: remediation.StateRetrying, To: remediation.StateSucceeded},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := notificationFor(tt.session, tt.ev)
			if ok != tt.want {
				t.Fatalf("expected notify=%v, got %v", tt.want, ok)
			}
			if !ok {
				return
			}
			if n.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, n.Kind)
			}
			if n.Operation != "assign-phone-number" {
				t.Errorf("expected operation filled in, got %q", n.Operation)
			}
		})
	}

	n, _ := notificationFor(s, remediation.Event{To: remediation.StateFixing, FindingID: finding.ID})
	if n.Detail != finding.Remediation.RiskWarning {
		t.Errorf("expected risk warning in detail, got %q", n.Detail)
	}
}
