package console

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ComponentStatus string

const (
	StatusOK          ComponentStatus = "ok"
	StatusError       ComponentStatus = "error"
	StatusUnavailable ComponentStatus = "unavailable"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// sessionPressure is the store utilization above which readiness degrades.
const sessionPressure = 0.9

type ComponentHealth struct {
	Status ComponentStatus `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type HealthCheckResult struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthChecker reports on the components the console depends on. The audit
// database is optional; running without it degrades readiness but is not an
// error.
type HealthChecker struct {
	db        *sql.DB
	hub       *EventHub
	directory Directory
	sessions  *SessionStore
}

func NewHealthChecker(db *sql.DB, hub *EventHub, directory Directory, sessions *SessionStore) *HealthChecker {
	return &HealthChecker{db: db, hub: hub, directory: directory, sessions: sessions}
}

// CheckLiveness reports healthy for as long as requests are served.
func (hc *HealthChecker) CheckLiveness(context.Context) HealthCheckResult {
	return HealthCheckResult{Status: HealthHealthy, Components: map[string]ComponentHealth{}, Timestamp: time.Now().UTC()}
}

// CheckReadiness is unhealthy when any component errors and degraded when
// one is missing or under pressure.
func (hc *HealthChecker) CheckReadiness(ctx context.Context) HealthCheckResult {
	result := HealthCheckResult{
		Status: HealthHealthy,
		Components: map[string]ComponentHealth{
			"database":      hc.auditDatabase(ctx),
			"session_store": hc.sessionStore(),
			"event_stream":  hc.eventStream(),
			"directory_api": hc.directoryAPI(),
		},
		Timestamp: time.Now().UTC(),
	}
	for _, comp := range result.Components {
		switch comp.Status {
		case StatusError:
			result.Status = HealthUnhealthy
		case StatusUnavailable:
			if result.Status == HealthHealthy {
				result.Status = HealthDegraded
			}
		}
	}
	return result
}

func (hc *HealthChecker) auditDatabase(ctx context.Context) ComponentHealth {
	if hc.db == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "audit database not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hc.db.PingContext(ctx); err != nil {
		return ComponentHealth{Status: StatusError, Error: err.Error()}
	}
	return ComponentHealth{Status: StatusOK}
}

func (hc *HealthChecker) sessionStore() ComponentHealth {
	if hc.sessions == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "session store not configured"}
	}
	used, capacity := hc.sessions.Len(), hc.sessions.Capacity()
	detail := fmt.Sprintf("%d/%d sessions", used, capacity)
	if float64(used) >= sessionPressure*float64(capacity) {
		return ComponentHealth{Status: StatusUnavailable, Detail: detail, Error: "session store nearly full; idle sessions will be evicted"}
	}
	return ComponentHealth{Status: StatusOK, Detail: detail}
}

func (hc *HealthChecker) eventStream() ComponentHealth {
	if hc.hub == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "event stream not configured"}
	}
	return ComponentHealth{Status: StatusOK, Detail: fmt.Sprintf("%d subscribers", hc.hub.ClientCount())}
}

func (hc *HealthChecker) directoryAPI() ComponentHealth {
	if hc.directory == nil {
		return ComponentHealth{Status: StatusUnavailable, Error: "directory api not configured"}
	}
	return ComponentHealth{Status: StatusOK, Detail: fmt.Sprintf("%d probes", len(hc.directory.Sources()))}
}
