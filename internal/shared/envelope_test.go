package shared

import (
	"errors"
	"testing"
	"time"
)

func TestEnvelopeTransitionFrame(t *testing.T) {
	payload := map[string]string{"session_id": "s-1", "to": "ready"}
	env, err := NewEnvelope(FrameTransition, "contoso", "s-1", payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected a frame id")
	}

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if decoded.Type != FrameTransition || decoded.Tenant != "contoso" || decoded.ID != env.ID {
		t.Errorf("frame mismatch: %+v", decoded)
	}

	var got map[string]string
	if err := decoded.DecodePayload(&got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got["to"] != "ready" {
		t.Errorf("payload mismatch: %v", got)
	}
}

func TestNewEnvelopeRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope(FrameNotification, "contoso", "", make(chan int))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{"unsupported version", Envelope{Version: 999, Type: FrameTransition, Time: now}, ErrUnsupportedVersion},
		{"missing type", Envelope{Version: FrameVersion, Time: now}, ErrMissingType},
		{"missing time", Envelope{Version: FrameVersion, Type: FrameNotification}, ErrMissingTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			if _, err := env.Marshal(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := ParseEnvelope([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := ParseEnvelope([]byte(`{"version":1,"type":"session.transition"}`)); !errors.Is(err, ErrMissingTime) {
		t.Fatalf("expected ErrMissingTime, got %v", err)
	}
}
