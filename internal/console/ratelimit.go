package console

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxTrackedTenants = 10_000
	tenantIdleAfter   = 30 * time.Minute
)

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// tenantLimiter caps how often automatic fixes may write to any one tenant.
type tenantLimiter struct {
	mu      sync.Mutex
	tenants map[string]*tenantBucket
	limit   rate.Limit
	burst   int
}

func newTenantLimiter(perMinute float64, burst int) *tenantLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &tenantLimiter{
		tenants: make(map[string]*tenantBucket),
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
	}
}

// allow reports whether tenant may write now. A nil limiter allows everything.
func (l *tenantLimiter) allow(tenant string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.tenants[tenant]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.tenants[tenant] = b
	}
	b.lastSeen = now
	if len(l.tenants) > maxTrackedTenants {
		l.cleanupLocked(now.Add(-tenantIdleAfter))
	}
	return b.limiter.AllowN(now, 1)
}

func (l *tenantLimiter) cleanupLocked(threshold time.Time) {
	for tenant, b := range l.tenants {
		if b.lastSeen.Before(threshold) {
			delete(l.tenants, tenant)
		}
	}
}
