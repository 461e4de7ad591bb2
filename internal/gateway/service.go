package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"mcpgate/internal/auth"
	"mcpgate/internal/backend"
	"mcpgate/internal/config"
	"mcpgate/internal/health"
	"mcpgate/internal/middleware"
	"mcpgate/internal/registry"
	"mcpgate/internal/session"
	"mcpgate/pkg/logging"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces rapid config file writes (editors often write
// twice) into one reload.
const reloadDebounce = 500 * time.Millisecond

// Service is the composition root: it owns every gateway component and
// runs the startup and shutdown cascades in order.
type Service struct {
	cfg        config.Config
	configPath string

	manager  *backend.Manager
	registry *registry.Registry
	monitor  *health.Monitor
	sessions *session.Manager
	server   *Server

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu sync.Mutex
}

// NewService wires all components from a validated configuration. The
// configPath enables hot reload of the backend set; pass "" to disable
// watching.
func NewService(cfg config.Config, configPath string) (*Service, error) {
	policy, err := registry.NewConflictPolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		return nil, err
	}
	authorizer := auth.NewAuthorizer(cfg.Authorization)

	manager := backend.NewManager()
	reg := registry.NewRegistry(policy)
	monitor := health.NewMonitor(
		manager,
		cfg.Health.ProbeInterval.Std(),
		cfg.Health.FailureThreshold,
		cfg.Health.Cooldown.Std(),
	)
	sessions := session.NewManager(cfg.Session.TTL.Std(), cfg.Session.SweepInterval.Std())

	router := middleware.NewRouter(manager, reg, monitor)

	backendInfo := func(kind registry.Kind, exposed string) (string, string, bool) {
		route, ok := reg.Resolve(kind, exposed)
		if !ok {
			return "", "", false
		}
		groups := manager.Groups()
		return route.Backend, groups[route.Backend], true
	}

	handler := middleware.Chain(
		router.Handle,
		middleware.Recovery(),
		middleware.Audit(),
		middleware.Auth(provider),
		middleware.Authz(authorizer, backendInfo),
	)

	srv := NewServer(cfg.Server, manager, reg, sessions, handler)

	return &Service{
		cfg:        cfg,
		configPath: configPath,
		manager:    manager,
		registry:   reg,
		monitor:    monitor,
		sessions:   sessions,
		server:     srv,
	}, nil
}

// Start runs the startup cascade: attach backends, discover capabilities,
// serve the catalog, then start the health monitor, session sweeper, and
// config watcher. It notifies systemd readiness last.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.manager.StartAll(runCtx, s.cfg.Backends); err != nil {
		cancel()
		s.manager.StopAll()
		return err
	}

	if err := s.registry.Discover(runCtx, s.manager, s.cfg.Backends); err != nil {
		cancel()
		s.manager.StopAll()
		return fmt.Errorf("capability discovery failed: %w", err)
	}

	if err := s.server.Start(runCtx); err != nil {
		cancel()
		s.manager.StopAll()
		return err
	}

	s.monitor.Start(runCtx)
	s.sessions.Start(runCtx)

	if s.configPath != "" {
		if err := s.watchConfig(runCtx); err != nil {
			logging.Warn("Service", "Config watching disabled: %v", err)
		}
	}

	// Best effort; returns false when not running under systemd.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Debug("Service", "systemd notify failed: %v", err)
	}

	logging.Info("Service", "Gateway ready at %s (%d backends attached)",
		s.server.Endpoint(), s.manager.Count())
	return nil
}

// Stop runs the shutdown cascade in reverse startup order.
func (s *Service) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logging.Warn("Service", "Error closing config watcher: %v", err)
		}
	}
	s.wg.Wait()

	if err := s.server.Stop(ctx); err != nil {
		logging.Warn("Service", "Error stopping gateway server: %v", err)
	}
	s.sessions.Stop()
	s.monitor.Stop()
	s.manager.StopAll()

	logging.Info("Service", "Gateway stopped")
	return nil
}

// Endpoint returns the client-facing endpoint URL.
func (s *Service) Endpoint() string {
	return s.server.Endpoint()
}

// watchConfig watches the configuration file's directory and applies
// backend changes on modification. fsnotify watches the directory rather
// than the file so atomic saves (rename-over) keep working.
func (s *Service) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.configPath)); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var debounce *time.Timer
		target := filepath.Base(s.configPath)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					s.reloadConfig(ctx)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Service", "Config watcher error: %v", err)
			}
		}
	}()

	logging.Info("Service", "Watching %s for backend changes", s.configPath)
	return nil
}

// reloadConfig re-reads the config file and applies the backend diff:
// removed backends are detached, added ones attached, changed ones
// restarted. Other sections need a process restart and are left alone.
func (s *Service) reloadConfig(ctx context.Context) {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		logging.Error("Service", err, "Config reload rejected")
		return
	}

	s.mu.Lock()
	old := s.cfg.Backends
	s.cfg.Backends = cfg.Backends
	s.mu.Unlock()

	changed := false

	for name := range old {
		if _, kept := cfg.Backends[name]; !kept {
			logging.Info("Service", "Backend %s removed by config reload", name)
			s.manager.StopBackend(name)
			changed = true
		}
	}

	for name, newCfg := range cfg.Backends {
		oldCfg, existed := old[name]
		switch {
		case !existed:
			logging.Info("Service", "Backend %s added by config reload", name)
			if err := s.manager.StartBackend(ctx, name, newCfg); err != nil {
				logging.Error("Service", err, "Backend %s failed to attach on reload", name)
			}
			changed = true
		case !reflect.DeepEqual(oldCfg, newCfg):
			logging.Info("Service", "Backend %s changed by config reload, restarting", name)
			s.manager.StopBackend(name)
			if err := s.manager.StartBackend(ctx, name, newCfg); err != nil {
				logging.Error("Service", err, "Backend %s failed to reattach on reload", name)
			}
			changed = true
		}
	}

	if !changed {
		return
	}

	if err := s.registry.Discover(ctx, s.manager, cfg.Backends); err != nil {
		logging.Error("Service", err, "Rediscovery after config reload failed")
	}
}
