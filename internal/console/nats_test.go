package console

import (
	"context"
	"errors"
	"testing"

	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type publishedMsg struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	published []publishedMsg
	err       error
}

func (f *fakeJetStream) PublishAsync(subj string, data []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, publishedMsg{subject: subj, data: data})
	return nil, nil
}

func TestNATSPublisherSubjects(t *testing.T) {
	js := &fakeJetStream{}
	p := NewNATSPublisherWithJetStream(js, "console.sessions", nil)

	if err := p.Notify(context.Background(), Notification{Kind: NotifyEscalation, SessionID: "s1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	p.PublishTransition(remediation.Event{SessionID: "s1", Tenant: "contoso", To: remediation.StateFixing})

	if len(js.published) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(js.published))
	}
	if js.published[0].subject != "console.sessions.notifications" {
		t.Errorf("unexpected notification subject %s", js.published[0].subject)
	}
	if js.published[1].subject != "console.sessions.transitions" {
		t.Errorf("unexpected transition subject %s", js.published[1].subject)
	}

	env, err := shared.ParseEnvelope(js.published[1].data)
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if env.Type != shared.FrameTransition || env.SessionID != "s1" {
		t.Errorf("unexpected frame %+v", env)
	}
	var ev remediation.Event
	if err := env.DecodePayload(&ev); err != nil {
		t.Fatalf("decode transition: %v", err)
	}
	if ev.To != remediation.StateFixing || ev.Tenant != "contoso" {
		t.Errorf("unexpected transition %+v", ev)
	}
	if p.Name() != "nats" {
		t.Errorf("unexpected name %s", p.Name())
	}
}

func TestNATSPublisherErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewNATSPublisherWithJetStream(&fakeJetStream{err: errors.New("no responders")}, "console.sessions", zap.New(core))

	if err := p.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("expected notify error")
	}
	p.PublishTransition(remediation.Event{SessionID: "s1"})
	if logs.FilterMessage("transition not published").Len() != 1 {
		t.Error("expected transition failure to be logged")
	}
	if err := p.Close(); err != nil {
		t.Errorf("close without connection: %v", err)
	}
}
