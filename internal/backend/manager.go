package backend

import (
	"context"
	"sync"

	"mcpgate/internal/config"
	"mcpgate/internal/gwerrors"
	"mcpgate/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// State tracks one configured backend: its descriptor, the attached client
// (nil until attach succeeds), and the attach error if any.
type State struct {
	Name   string
	Config config.BackendConfig
	Client MCPClient
	Err    error
}

// Connected reports whether the backend holds a live session.
func (s *State) Connected() bool {
	return s.Client != nil && s.Err == nil
}

// Manager is the registry of configured backends keyed by name. It owns
// every transport handle: StartAll attaches backends in parallel, StopAll
// tears them down in reverse attach order.
type Manager struct {
	mu          sync.RWMutex
	backends    map[string]*State
	attachOrder []string // successful attaches, oldest first

	cancelAttach context.CancelFunc
}

// NewManager creates an empty backend manager.
func NewManager() *Manager {
	return &Manager{
		backends: make(map[string]*State),
	}
}

// StartAll attaches every configured backend in parallel. Each attach runs
// under its own init deadline and its result is recorded independently;
// partial failure is acceptable. The call is fatal only when at least one
// backend is configured and none attaches.
func (m *Manager) StartAll(ctx context.Context, backends map[string]config.BackendConfig) error {
	attachCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelAttach = cancel
	for name, cfg := range backends {
		m.backends[name] = &State{Name: name, Config: cfg}
	}
	m.mu.Unlock()

	g, attachCtx := errgroup.WithContext(attachCtx)
	for name, cfg := range backends {
		g.Go(func() error {
			m.attach(attachCtx, name, cfg)
			return nil // results are collected per backend, never fail the group
		})
	}
	_ = g.Wait()

	connected := m.Count()
	if len(backends) > 0 && connected == 0 {
		return gwerrors.ErrNoBackendsReachable
	}
	if connected < len(backends) {
		logging.Warn("BackendManager", "Started with partial catalog: %d of %d backends attached",
			connected, len(backends))
	} else {
		logging.Info("BackendManager", "All %d backends attached", connected)
	}
	return nil
}

func (m *Manager) attach(ctx context.Context, name string, cfg config.BackendConfig) {
	client, err := NewClient(name, cfg)
	if err != nil {
		m.recordAttach(name, nil, err)
		logging.Error("BackendManager", err, "Backend %s failed to construct", name)
		return
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Init.Std())
	defer cancel()

	if err := client.Initialize(initCtx); err != nil {
		connectErr := &gwerrors.ConnectError{Backend: name, Err: err}
		m.recordAttach(name, nil, connectErr)
		logging.Error("BackendManager", connectErr, "Backend %s failed to attach", name)
		return
	}

	m.recordAttach(name, client, nil)
	logging.Info("BackendManager", "Backend %s attached (%s)", name, cfg.Type)
}

func (m *Manager) recordAttach(name string, client MCPClient, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.backends[name]
	if !ok {
		state = &State{Name: name}
		m.backends[name] = state
	}
	state.Client = client
	state.Err = err
	if client != nil && err == nil {
		m.attachOrder = append(m.attachOrder, name)
	}
}

// StartBackend attaches a single backend, for configuration reloads. The
// attach result is recorded like any other; the error is also returned so
// the caller can report it.
func (m *Manager) StartBackend(ctx context.Context, name string, cfg config.BackendConfig) error {
	m.mu.Lock()
	m.backends[name] = &State{Name: name, Config: cfg}
	m.mu.Unlock()

	m.attach(ctx, name, cfg)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if state := m.backends[name]; state != nil {
		return state.Err
	}
	return nil
}

// StopBackend detaches and forgets a single backend.
func (m *Manager) StopBackend(name string) {
	m.mu.Lock()
	state := m.backends[name]
	var client MCPClient
	if state != nil {
		client = state.Client
	}
	delete(m.backends, name)
	for i, attached := range m.attachOrder {
		if attached == name {
			m.attachOrder = append(m.attachOrder[:i], m.attachOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logging.Warn("BackendManager", "Error closing backend %s: %v", name, err)
	} else {
		logging.Info("BackendManager", "Backend %s detached", name)
	}
}

// StopAll cancels any in-flight attach, then closes every attached client
// in LIFO attach order. Individual close errors are logged and do not stop
// the teardown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancel := m.cancelAttach
	m.cancelAttach = nil
	order := make([]string, len(m.attachOrder))
	copy(order, m.attachOrder)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		m.mu.Lock()
		state := m.backends[name]
		var client MCPClient
		if state != nil {
			client = state.Client
			state.Client = nil
		}
		m.mu.Unlock()

		if client == nil {
			continue
		}
		if err := client.Close(); err != nil {
			logging.Warn("BackendManager", "Error closing backend %s: %v", name, err)
		} else {
			logging.Debug("BackendManager", "Backend %s closed", name)
		}
	}

	m.mu.Lock()
	m.attachOrder = nil
	m.mu.Unlock()
}

// Get returns the live session for a backend, if attached.
func (m *Manager) Get(name string) (MCPClient, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.backends[name]
	if !ok || !state.Connected() {
		return nil, false
	}
	return state.Client, true
}

// GetState returns the full state record for a backend.
func (m *Manager) GetState(name string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.backends[name]
	return state, ok
}

// Sessions returns a snapshot of all attached sessions keyed by backend
// name.
func (m *Manager) Sessions() map[string]MCPClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]MCPClient)
	for name, state := range m.backends {
		if state.Connected() {
			out[name] = state.Client
		}
	}
	return out
}

// AttachOrder returns the names of attached backends, oldest first. The
// registry registers capabilities in this order so first-wins conflict
// resolution is deterministic.
func (m *Manager) AttachOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.attachOrder))
	copy(out, m.attachOrder)
	return out
}

// Count returns the number of attached backends.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, state := range m.backends {
		if state.Connected() {
			n++
		}
	}
	return n
}

// Groups returns the configured group of each backend, for authorization
// resource matching.
func (m *Manager) Groups() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.backends))
	for name, state := range m.backends {
		out[name] = state.Config.Group
	}
	return out
}
