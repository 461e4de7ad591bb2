package health

import (
	"context"
	"sync"
	"time"

	"mcpgate/internal/backend"
	"mcpgate/pkg/logging"
)

// probeTimeout caps one health probe round-trip.
const probeTimeout = 10 * time.Second

// Monitor owns one circuit breaker per backend and probes every attached
// backend periodically. The forwarder shares the breakers through
// Breaker(); both the probe loop and the request path feed them.
type Monitor struct {
	manager  *backend.Manager
	interval time.Duration

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	threshold int
	cooldown  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Breakers are created lazily per backend
// with the given threshold and cooldown.
func NewMonitor(manager *backend.Manager, interval time.Duration, threshold int, cooldown time.Duration) *Monitor {
	return &Monitor{
		manager:   manager,
		interval:  interval,
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Breaker returns the circuit breaker for a backend, creating it on first
// use. Breakers persist for the backend's lifetime.
func (m *Monitor) Breaker(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, m.threshold, m.cooldown)
	m.breakers[name] = cb
	return cb
}

// Snapshots returns breaker snapshots keyed by backend name.
func (m *Monitor) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.GetSnapshot()
	}
	return out
}

// Start launches the probe loop. Stop cancels it and waits for exit.
func (m *Monitor) Start(ctx context.Context) {
	probeCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
				m.probeAll(probeCtx)
			}
		}
	}()

	logging.Info("HealthMonitor", "Started (interval %s, threshold %d, cooldown %s)",
		m.interval, m.threshold, m.cooldown)
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	logging.Info("HealthMonitor", "Stopped")
}

// probeAll pings every attached backend. A probe is a lightweight no-arg
// tool listing; outcome feeds the breaker. Backends whose circuit is open
// are skipped until AllowsRequest admits a half-open probe.
func (m *Monitor) probeAll(ctx context.Context) {
	for name, client := range m.manager.Sessions() {
		cb := m.Breaker(name)
		if !cb.AllowsRequest() {
			logging.Debug("HealthMonitor", "Skipping probe of %s: circuit %s", name, cb.State())
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err := client.ListTools(probeCtx)
		cancel()

		if err != nil {
			cb.RecordFailure()
			logging.Warn("HealthMonitor", "Probe of backend %s failed: %v", name, err)
		} else {
			cb.RecordSuccess()
		}
	}
}
