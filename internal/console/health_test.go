package console

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/celeratec/cipp-console/internal/storage"
	"go.uber.org/zap"
)

func TestReadinessSessionPressure(t *testing.T) {
	sessions, err := NewSessionStore(2, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	hc := NewHealthChecker(nil, nil, newFakeDirectory(), sessions)

	if got := hc.CheckReadiness(context.Background()).Components["session_store"]; got.Status != StatusOK || got.Detail != "0/2 sessions" {
		t.Fatalf("expected empty store ok, got %+v", got)
	}

	sessions.Put(readySession(t, "s1", "contoso"))
	sessions.Put(readySession(t, "s2", "contoso"))
	result := hc.CheckReadiness(context.Background())
	if result.Components["session_store"].Status != StatusUnavailable {
		t.Fatalf("expected a full store to degrade, got %+v", result.Components["session_store"])
	}
	if result.Status != HealthDegraded {
		t.Errorf("expected degraded, got %s", result.Status)
	}
}

func TestReadinessDatabaseError(t *testing.T) {
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sessions, _ := NewSessionStore(8, time.Hour, nil)
	hc := NewHealthChecker(db, nil, newFakeDirectory(), sessions)

	if got := hc.CheckReadiness(context.Background()).Components["database"]; got.Status != StatusOK {
		t.Fatalf("expected database ok, got %+v", got)
	}

	db.Close()
	result := hc.CheckReadiness(context.Background())
	if result.Status != HealthUnhealthy {
		t.Fatalf("expected unhealthy with a closed database, got %s", result.Status)
	}
	if result.Components["database"].Error == "" {
		t.Error("expected the ping error to be reported")
	}
}

func TestLivenessIgnoresComponents(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil, nil)
	if got := hc.CheckLiveness(context.Background()); got.Status != HealthHealthy {
		t.Fatalf("expected healthy liveness, got %s", got.Status)
	}
	if got := hc.CheckReadiness(context.Background()); got.Status != HealthDegraded {
		t.Fatalf("expected degraded readiness with nothing configured, got %s", got.Status)
	}
}
