package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FrameVersion is stamped on every frame published to the message bus.
const FrameVersion = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported frame version")
	ErrMissingType        = errors.New("missing required field: type")
	ErrMissingTime        = errors.New("missing required field: time")
	ErrInvalidPayload     = errors.New("invalid payload")
)

type FrameType string

const (
	FrameTransition   FrameType = "session.transition"
	FrameNotification FrameType = "session.notification"
)

// Envelope is a versioned bus frame. Payload is decoded according to Type.
type Envelope struct {
	Version   int             `json:"version"`
	Type      FrameType       `json:"type"`
	ID        string          `json:"id"`
	Tenant    string          `json:"tenant,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Time      time.Time       `json:"time"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a frame with a fresh id.
func NewEnvelope(frameType FrameType, tenant, sessionID string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &Envelope{
		Version:   FrameVersion,
		Type:      frameType,
		ID:        uuid.NewString(),
		Tenant:    tenant,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Payload:   data,
	}, nil
}

func (e *Envelope) Validate() error {
	if e.Version != FrameVersion {
		return fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, e.Version, FrameVersion)
	}
	if e.Type == "" {
		return ErrMissingType
	}
	if e.Time.IsZero() {
		return ErrMissingTime
	}
	return nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodePayload unmarshals the frame payload into v.
func (e *Envelope) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
