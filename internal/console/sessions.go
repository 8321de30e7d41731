package console

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/celeratec/cipp-console/internal/remediation"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

type storedSession struct {
	session    *remediation.Session
	lastAccess time.Time
}

// SessionStore holds live remediation sessions in memory. Sessions leave the
// store when the operator closes them, when they sit idle past the TTL, or
// when the store is full and they are least recently used. A session that
// leaves is reset, so any fix still in flight has its result discarded.
type SessionStore struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *storedSession]
	capacity int
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *Metrics
}

func NewSessionStore(maxSessions int, ttl time.Duration, logger *zap.Logger) (*SessionStore, error) {
	if maxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &SessionStore{
		capacity: maxSessions,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		metrics:  GetMetrics(),
	}
	cache, err := lru.NewWithEvict[string, *storedSession](maxSessions, st.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	st.cache = cache
	return st, nil
}

func (st *SessionStore) onEvict(id string, entry *storedSession) {
	entry.session.Reset()
	st.logger.Debug("session evicted", zap.String("session_id", id))
	st.metrics.SetActiveSessions(st.cache.Len())
}

func (st *SessionStore) Put(s *remediation.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cache.Add(s.ID(), &storedSession{session: s, lastAccess: st.now()})
	st.metrics.SetActiveSessions(st.cache.Len())
}

// Get returns a live session and refreshes its idle timer.
func (st *SessionStore) Get(id string) (*remediation.Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	if st.expired(entry) {
		st.cache.Remove(id)
		return nil, false
	}
	entry.lastAccess = st.now()
	return entry.session, true
}

// Delete removes and resets a session.
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cache.Remove(id)
}

func (st *SessionStore) Capacity() int {
	return st.capacity
}

func (st *SessionStore) Len() int {
	return st.cache.Len()
}

// List returns views of live sessions, most recently updated first.
func (st *SessionStore) List(tenant string) []remediation.View {
	st.mu.Lock()
	entries := make([]*storedSession, 0, st.cache.Len())
	for _, id := range st.cache.Keys() {
		if entry, ok := st.cache.Peek(id); ok && !st.expired(entry) {
			entries = append(entries, entry)
		}
	}
	st.mu.Unlock()

	views := make([]remediation.View, 0, len(entries))
	for _, entry := range entries {
		if tenant != "" && entry.session.Tenant() != tenant {
			continue
		}
		views = append(views, entry.session.View())
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].UpdatedAt.After(views[j].UpdatedAt)
	})
	return views
}

// Sweep drops sessions idle longer than the TTL and reports how many went.
func (st *SessionStore) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for _, id := range st.cache.Keys() {
		entry, ok := st.cache.Peek(id)
		if ok && st.expired(entry) {
			st.cache.Remove(id)
			removed++
		}
	}
	return removed
}

func (st *SessionStore) expired(entry *storedSession) bool {
	return st.ttl > 0 && st.now().Sub(entry.lastAccess) > st.ttl
}
