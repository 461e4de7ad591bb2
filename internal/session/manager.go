// Package session tracks per-client gateway sessions. Each session holds
// a frozen snapshot of the route maps taken at creation time, so a hot
// reload of the registry never re-points an existing client's calls.
package session

import (
	"context"
	"sync"
	"time"

	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"

	"github.com/google/uuid"
)

// Record is one client session. Routes never mutates after creation.
type Record struct {
	ID        string
	Routes    registry.Snapshot
	Counts    registry.Counts
	Transport string
	TTL       time.Duration

	CreatedAt   time.Time
	LastTouched time.Time
}

// expired reports whether the session has outlived its TTL at time now.
func (r *Record) expired(now time.Time) bool {
	return now.Sub(r.LastTouched) > r.TTL
}

// Manager owns all client sessions and the TTL sweeper.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Record

	ttl           time.Duration
	sweepInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a session manager with the given TTL and sweep
// interval.
func NewManager(ttl, sweepInterval time.Duration) *Manager {
	return &Manager{
		sessions:      make(map[string]*Record),
		ttl:           ttl,
		sweepInterval: sweepInterval,
	}
}

// Create registers a new session frozen on the given route snapshot and
// returns it. The id is usually the transport-assigned client session ID;
// an empty id gets a generated one.
func (m *Manager) Create(id string, routes registry.Snapshot, counts registry.Counts, transport string) *Record {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	record := &Record{
		ID:          id,
		Routes:      routes,
		Counts:      counts,
		Transport:   transport,
		TTL:         m.ttl,
		CreatedAt:   now,
		LastTouched: now,
	}

	m.mu.Lock()
	m.sessions[record.ID] = record
	m.mu.Unlock()

	logging.Debug("SessionManager", "Created session %s (transport %s, %d tools)",
		record.ID, transport, counts.Tools)
	return record
}

// Get returns the session and refreshes its last-touched time. Expired
// sessions are evicted and reported as absent.
func (m *Manager) Get(id string) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if record.expired(now) {
		delete(m.sessions, id)
		logging.Debug("SessionManager", "Session %s expired on access", id)
		return nil, false
	}
	record.LastTouched = now
	return record, true
}

// Delete removes a session explicitly.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start launches the periodic sweeper. It exits within one sweep interval
// of Stop.
func (m *Manager) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()

	logging.Info("SessionManager", "Started (ttl %s, sweep interval %s)", m.ttl, m.sweepInterval)
}

// Stop cancels the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	logging.Info("SessionManager", "Stopped")
}

// sweep evicts every expired session.
func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	var evicted int
	for id, record := range m.sessions {
		if record.expired(now) {
			delete(m.sessions, id)
			evicted++
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if evicted > 0 {
		logging.Info("SessionManager", "Swept %d expired sessions, %d remaining", evicted, remaining)
	}
}
