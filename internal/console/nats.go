package console

import (
	"context"
	"fmt"
	"time"

	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JetStreamPublisher is the slice of nats.JetStreamContext the publisher uses.
type JetStreamPublisher interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
}

// NATSPublisher fans session transitions and notifications out to JetStream
// under <subject>.transitions and <subject>.notifications. Every message is a
// shared.Envelope whose id doubles as the JetStream dedup id.
type NATSPublisher struct {
	nc      *nats.Conn
	js      JetStreamPublisher
	subject string
	logger  *zap.Logger
}

func NewNATSPublisher(natsURL, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(natsURL,
		nats.Name("cipp-console"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	logger.Info("connected to nats", zap.String("url", natsURL), zap.String("subject", subject))
	p := NewNATSPublisherWithJetStream(js, subject, logger)
	p.nc = nc
	return p, nil
}

// NewNATSPublisherWithJetStream creates a publisher with an injected JetStream (for testing).
func NewNATSPublisherWithJetStream(js JetStreamPublisher, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{js: js, subject: subject, logger: logger}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Notify(_ context.Context, n Notification) error {
	env, err := shared.NewEnvelope(shared.FrameNotification, n.Tenant, n.SessionID, n)
	if err != nil {
		return err
	}
	return p.publish(p.subject+".notifications", env)
}

// PublishTransition is a remediation.Listener target; failures are logged.
func (p *NATSPublisher) PublishTransition(ev remediation.Event) {
	env, err := shared.NewEnvelope(shared.FrameTransition, ev.Tenant, ev.SessionID, ev)
	if err == nil {
		err = p.publish(p.subject+".transitions", env)
	}
	if err != nil {
		p.logger.Warn("transition not published", zap.String("session_id", ev.SessionID), zap.Error(err))
	}
}

func (p *NATSPublisher) publish(subject string, env *shared.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := p.js.PublishAsync(subject, data, nats.MsgId(env.ID)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("frame published", zap.String("subject", subject), zap.String("frame_id", env.ID), zap.Int("size", len(data)))
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
