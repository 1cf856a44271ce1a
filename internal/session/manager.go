package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// defaultIdleTTL is how long a session may stay untouched before the
	// janitor evicts it.
	defaultIdleTTL = 30 * time.Minute

	// defaultSweepInterval is the period between janitor sweeps.
	defaultSweepInterval = time.Minute
)

// Manager owns the live sessions keyed by user ID and evicts idle ones.
//
// All methods are safe for concurrent use.
type Manager struct {
	idleTTL       time.Duration
	sweepInterval time.Duration
	maxHistory    int
	now           func() time.Time
	onEvict       func(userID string)

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a [Manager].
type Option func(*Manager)

// WithIdleTTL sets how long an untouched session survives. Zero or a negative
// value disables eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) { m.idleTTL = d }
}

// WithSweepInterval sets how often [Manager.Run] looks for idle sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithMaxHistory bounds the number of history entries kept per session.
func WithMaxHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEvictHook registers fn to be called with the user ID of every session
// removed by a sweep or by [Manager.Delete].
func WithEvictHook(fn func(userID string)) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// NewManager creates an empty [Manager].
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		idleTTL:       defaultIdleTTL,
		sweepInterval: defaultSweepInterval,
		maxHistory:    defaultMaxHistory,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetOrCreate returns the session for userID, creating it on first contact.
// created reports whether a new session was made by this call. The session
// counts as active from this moment, so a sweep cannot evict it before the
// caller starts its turn.
func (m *Manager) GetOrCreate(userID string) (s *Session, created bool) {
	m.mu.RLock()
	s, ok := m.sessions[userID]
	if ok {
		s.touch()
	}
	m.mu.RUnlock()
	if ok {
		return s, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[userID]; ok {
		s.touch()
		return s, false
	}
	s = newSession(userID, m.maxHistory, m.now)
	m.sessions[userID] = s
	return s, true
}

// Get returns the live session for userID.
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Delete tears down the session for userID. It returns [ErrUnknownSession]
// when there is none.
func (m *Manager) Delete(userID string) error {
	m.mu.Lock()
	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	if m.onEvict != nil {
		m.onEvict(userID)
	}
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts every session idle for longer than the configured TTL and
// returns how many were removed. Sessions with undrained replies or a turn in
// progress are kept.
func (m *Manager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var evicted []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastActive().After(cutoff) || s.Pending() > 0 || s.busy() {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, id)
	}
	m.mu.Unlock()

	if m.onEvict != nil {
		for _, id := range evicted {
			m.onEvict(id)
		}
	}
	return len(evicted)
}

// Run sweeps idle sessions periodically until ctx is cancelled. With eviction
// disabled it simply waits for ctx.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTTL <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("evicted idle sessions", "count", n, "remaining", m.Len())
			}
		}
	}
}
