package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gephgui/internal/metrics"
	"gephgui/internal/storage/models"
	pkgerrors "gephgui/pkg/errors"
)

// State is the supervisor's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Controller sends RPCs to the daemon. The RPC bridge implements it.
type Controller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// ProxyConfigurator toggles the system proxy pointing at the daemon.
type ProxyConfigurator interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// SessionStore records supervised runs.
type SessionStore interface {
	StartSession(ctx context.Context, session *models.Session) error
	EndSession(ctx context.Context, id, reason string) error
}

// StrategySelector picks a launch strategy for a config.
type StrategySelector interface {
	Select(cfg DaemonConfig) LaunchStrategy
}

// Options holds the supervisor timings.
type Options struct {
	// ConfigDir receives the temporary --config files.
	ConfigDir      string
	StartupTimeout time.Duration
	PollInterval   time.Duration
	SettleDelay    time.Duration
	StopGrace      time.Duration
}

// Deps are the supervisor's collaborators. Proxy, Sessions, Metrics and
// Logs are optional.
type Deps struct {
	Launcher   StrategySelector
	Prober     Prober
	Controller Controller
	Proxy      ProxyConfigurator
	Sessions   SessionStore
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Logs       *LogRing
}

// handle is the one daemon owned by the supervisor.
type handle struct {
	proc       Process
	config     DaemonConfig
	strategy   string
	sessionID  string
	configPath string
	startedAt  time.Time
}

// Status is a snapshot for display.
type Status struct {
	State     State
	Reachable bool
	Owned     bool
	VPN       bool
	Strategy  string
	StartedAt time.Time
}

// Supervisor owns at most one daemon process: it launches it under the right
// privilege model, waits for readiness and tears it down.
type Supervisor struct {
	deps Deps
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	handle *handle
	state  atomic.Int32
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(deps Deps, opts Options) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 500 * time.Millisecond
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = time.Second
	}
	if opts.ConfigDir == "" {
		opts.ConfigDir = os.TempDir()
	}
	return &Supervisor{
		deps: deps,
		opts: opts,
		log:  deps.Logger,
	}
}

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Start launches a daemon with cfg and returns once it is reachable.
func (s *Supervisor) Start(ctx context.Context, cfg DaemonConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		return pkgerrors.ErrAlreadyRunning
	}

	if err := s.start(ctx, cfg); err != nil {
		s.setState(StateStopped)
		s.deps.Metrics.RecordDaemonStart(metrics.OutcomeError)
		return err
	}
	s.deps.Metrics.RecordDaemonStart(metrics.OutcomeOK)
	s.deps.Metrics.SetDaemonRunning(true)
	s.setState(StateRunning)
	return nil
}

func (s *Supervisor) start(ctx context.Context, cfg DaemonConfig) (err error) {
	s.setState(StateStarting)

	configPath, err := WriteConfigFile(s.opts.ConfigDir, cfg)
	if err != nil {
		return err
	}

	if usesSystemProxy(cfg) && s.deps.Proxy != nil {
		if err := s.deps.Proxy.Enable(ctx); err != nil {
			s.log.Warn("failed to configure system proxy", zap.Error(err))
		}
		defer func() {
			if err != nil {
				s.disableProxy()
			}
		}()
	}

	strategy := s.deps.Launcher.Select(cfg)
	name := strategy.Name()
	s.log.Info("spawning daemon", zap.String("strategy", name), zap.Bool("vpn", cfg.GlobalVPN))

	proc, err := strategy.Launch(ctx, configPath)
	if err != nil {
		os.Remove(configPath)
		s.log.Error("failed to spawn daemon", zap.Error(err))
		return err
	}

	if err := s.waitReady(ctx, proc); err != nil {
		os.Remove(configPath)
		var crash *pkgerrors.CrashError
		if errors.As(err, &crash) {
			s.log.Error("daemon crashed before becoming reachable", zap.String("stderr", crash.Stderr), zap.Error(crash.ExitErr))
		} else {
			s.log.Error("daemon did not become reachable", zap.Error(err))
		}
		return err
	}

	if s.opts.SettleDelay > 0 {
		select {
		case <-time.After(s.opts.SettleDelay):
		case <-ctx.Done():
		}
	}

	h := &handle{
		proc:       proc,
		config:     cfg,
		strategy:   name,
		sessionID:  uuid.NewString(),
		configPath: configPath,
		startedAt:  time.Now(),
	}
	s.handle = h

	if s.deps.Sessions != nil {
		session := &models.Session{ID: h.sessionID, StartedAt: h.startedAt, VPNMode: cfg.GlobalVPN, Strategy: name}
		if err := s.deps.Sessions.StartSession(ctx, session); err != nil {
			s.log.Warn("failed to record session", zap.Error(err))
		}
	}

	go s.watch(h)

	s.log.Info("daemon ready", zap.String("session", h.sessionID))
	return nil
}

// waitReady races the health poller against early process exit. The first
// outcome wins and the poller is cancelled on return.
func (s *Supervisor) waitReady(ctx context.Context, proc Process) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StartupTimeout)
	defer cancel()

	ready := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()
		for {
			if s.deps.Prober.Reachable(ctx) {
				close(ready)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	select {
	case <-ready:
		return nil
	case <-proc.Done():
		return &pkgerrors.CrashError{Stderr: proc.Stderr(), ExitErr: proc.ExitErr()}
	case <-ctx.Done():
		proc.Kill()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", pkgerrors.ErrStartupTimeout, s.opts.StartupTimeout)
		}
		return ctx.Err()
	}
}

// watch clears the handle if the daemon exits on its own.
func (s *Supervisor) watch(h *handle) {
	<-h.proc.Done()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != h {
		return
	}
	s.handle = nil
	os.Remove(h.configPath)
	s.setState(StateStopped)
	s.deps.Metrics.SetDaemonRunning(false)
	s.endSession(h, models.ExitCrashed)
	if usesSystemProxy(h.config) {
		s.disableProxy()
	}

	s.log.Error("daemon exited unexpectedly",
		zap.String("session", h.sessionID),
		zap.String("stderr", h.proc.Stderr()),
		zap.Error(h.proc.ExitErr()),
	)
}

// usesSystemProxy reports whether starting cfg points the system proxy at
// the daemon.
func usesSystemProxy(cfg DaemonConfig) bool {
	return cfg.ProxyAutoconf && !cfg.GlobalVPN
}

// disableProxy resets the system proxy after the daemon went away without Stop.
func (s *Supervisor) disableProxy() {
	if s.deps.Proxy == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Proxy.Disable(ctx); err != nil {
		s.log.Warn("failed to reset system proxy", zap.Error(err))
	}
}

func (s *Supervisor) endSession(h *handle, reason string) {
	if s.deps.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Sessions.EndSession(ctx, h.sessionID, reason); err != nil {
		s.log.Warn("failed to record session end", zap.Error(err))
	}
}

// Stop asks the owned daemon to exit. Without one it only resets the system
// proxy. Calling Stop repeatedly is safe.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deps.Proxy != nil {
		defer func() {
			if err := s.deps.Proxy.Disable(ctx); err != nil {
				s.log.Warn("failed to reset system proxy", zap.Error(err))
			}
		}()
	}

	h := s.handle
	if h == nil {
		return nil
	}

	s.setState(StateStopping)
	s.log.Info("stopping daemon", zap.String("session", h.sessionID))

	if _, err := s.deps.Controller.Call(ctx, "stop"); err != nil {
		s.log.Debug("stop rpc failed", zap.Error(err))
	}

	select {
	case <-h.proc.Done():
	case <-time.After(s.opts.StopGrace):
		s.log.Warn("daemon did not exit within grace period, killing", zap.Duration("grace", s.opts.StopGrace))
		if err := h.proc.Kill(); err != nil {
			s.log.Warn("failed to kill daemon", zap.Error(err))
		}
	}

	s.handle = nil
	os.Remove(h.configPath)
	s.setState(StateStopped)
	s.deps.Metrics.SetDaemonRunning(false)
	s.endSession(h, models.ExitStopped)
	return nil
}

// Restart stops the daemon and starts it again with cfg. It is refused while
// the running daemon is in VPN mode.
func (s *Supervisor) Restart(ctx context.Context, cfg DaemonConfig) error {
	s.mu.Lock()
	vpn := s.handle != nil && s.handle.config.GlobalVPN
	s.mu.Unlock()

	if vpn {
		return pkgerrors.ErrCannotRestartInVpnMode
	}
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	return s.Start(ctx, cfg)
}

// IsRunning probes the control endpoint. It never blocks on the supervisor lock.
func (s *Supervisor) IsRunning(ctx context.Context) bool {
	return s.deps.Prober.Reachable(ctx)
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := Status{
		State:     s.State(),
		Reachable: s.IsRunning(ctx),
	}

	s.mu.Lock()
	if h := s.handle; h != nil {
		st.Owned = true
		st.VPN = h.config.GlobalVPN
		st.Strategy = h.strategy
		st.StartedAt = h.startedAt
	}
	s.mu.Unlock()
	return st
}

// RecentLogs returns the latest daemon output lines.
func (s *Supervisor) RecentLogs() []string {
	if s.deps.Logs == nil {
		return nil
	}
	return s.deps.Logs.Lines()
}
