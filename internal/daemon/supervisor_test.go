package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gephgui/internal/storage/models"
	pkgerrors "gephgui/pkg/errors"
)

type fakeProcess struct {
	done    chan struct{}
	once    sync.Once
	stderr  string
	exitErr error
	killed  atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) exit()                 { p.once.Do(func() { close(p.done) }) }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitErr() error        { return p.exitErr }
func (p *fakeProcess) Stderr() string        { return p.stderr }

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit()
	return nil
}

type fakeStrategy struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	launches int
	err      error
	// next builds the process for each launch; nil yields a fresh fakeProcess.
	next func() *fakeProcess
	// configs records the config file contents seen at launch.
	configs []DaemonConfig
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) Launch(ctx context.Context, configPath string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launches++
	if cfg, err := ReadConfigFile(configPath); err == nil {
		s.configs = append(s.configs, cfg)
	}
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess()
	if s.next != nil {
		p = s.next()
	}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeStrategy) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

func (s *fakeStrategy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

type fakeSelector struct{ strategy LaunchStrategy }

func (f fakeSelector) Select(DaemonConfig) LaunchStrategy { return f.strategy }

type fakeProber struct{ up atomic.Bool }

func (p *fakeProber) Reachable(context.Context) bool { return p.up.Load() }

type fakeController struct {
	mu     sync.Mutex
	calls  []string
	onStop func()
}

func (c *fakeController) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	c.mu.Lock()
	c.calls = append(c.calls, method)
	onStop := c.onStop
	c.mu.Unlock()
	if method == "stop" && onStop != nil {
		onStop()
	}
	return json.RawMessage("null"), nil
}

func (c *fakeController) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeProxy struct {
	enabled  atomic.Int32
	disabled atomic.Int32
}

func (p *fakeProxy) Enable(context.Context) error  { p.enabled.Add(1); return nil }
func (p *fakeProxy) Disable(context.Context) error { p.disabled.Add(1); return nil }

type fakeSessions struct {
	mu      sync.Mutex
	started []*models.Session
	ended   map[string]string
}

func (f *fakeSessions) StartSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, s)
	return nil
}

func (f *fakeSessions) EndSession(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended == nil {
		f.ended = map[string]string{}
	}
	f.ended[id] = reason
	return nil
}

func (f *fakeSessions) reason(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended[id]
}

type harness struct {
	sup        *Supervisor
	strategy   *fakeStrategy
	prober     *fakeProber
	controller *fakeController
	proxy      *fakeProxy
	sessions   *fakeSessions
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		strategy:   &fakeStrategy{},
		prober:     &fakeProber{},
		controller: &fakeController{},
		proxy:      &fakeProxy{},
		sessions:   &fakeSessions{},
	}
	h.sup = NewSupervisor(Deps{
		Launcher:   fakeSelector{h.strategy},
		Prober:     h.prober,
		Controller: h.controller,
		Proxy:      h.proxy,
		Sessions:   h.sessions,
		Logger:     zaptest.NewLogger(t),
	}, Options{
		ConfigDir:      t.TempDir(),
		StartupTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
		SettleDelay:    time.Millisecond,
		StopGrace:      200 * time.Millisecond,
	})
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestStopWithoutDaemonIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.sup.Stop(ctx); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	}
	if n := h.controller.callCount(); n != 0 {
		t.Errorf("controller calls = %d, want 0", n)
	}
	if n := h.strategy.count(); n != 0 {
		t.Errorf("launches = %d, want 0", n)
	}
	if n := h.proxy.disabled.Load(); n != 2 {
		t.Errorf("proxy disabled %d times, want 2", n)
	}
}

func TestStartTwiceFailsWithAlreadyRunning(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := h.sup.State(); got != StateRunning {
		t.Errorf("State() = %v, want running", got)
	}

	err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()})
	if !errors.Is(err, pkgerrors.ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if n := h.strategy.count(); n != 1 {
		t.Errorf("launches = %d, want 1", n)
	}
}

func TestStartPassesConfigFile(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)

	cfg := DaemonConfig{Secret: "abc", Exit: ManualExit("Berlin", "DE"), PrcWhitelist: true}
	if err := h.sup.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(h.strategy.configs) != 1 || h.strategy.configs[0].Exit != cfg.Exit || h.strategy.configs[0].Secret != "abc" {
		t.Errorf("launched with %+v, want %+v", h.strategy.configs, cfg)
	}
}

func TestStartCrashBeforeReady(t *testing.T) {
	h := newHarness(t)
	h.strategy.next = func() *fakeProcess {
		p := newFakeProcess()
		p.stderr = "invalid secret"
		p.exit()
		return p
	}

	err := h.sup.Start(context.Background(), DaemonConfig{Exit: AutoExit()})
	var crash *pkgerrors.CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("Start() error = %v, want CrashError", err)
	}
	if crash.Stderr != "invalid secret" {
		t.Errorf("Stderr = %q", crash.Stderr)
	}
	if !errors.Is(err, pkgerrors.ErrCrashedBeforeReady) {
		t.Error("error does not match ErrCrashedBeforeReady")
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}

	entries, _ := os.ReadDir(h.sup.opts.ConfigDir)
	if len(entries) != 0 {
		t.Errorf("config files left behind: %d", len(entries))
	}
}

func TestStartTimeout(t *testing.T) {
	h := newHarness(t)
	h.sup.opts.StartupTimeout = 50 * time.Millisecond

	err := h.sup.Start(context.Background(), DaemonConfig{Exit: AutoExit()})
	if !errors.Is(err, pkgerrors.ErrStartupTimeout) {
		t.Fatalf("Start() error = %v, want ErrStartupTimeout", err)
	}
	if !h.strategy.last().killed.Load() {
		t.Error("process was not killed after timeout")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	h := newHarness(t)
	h.strategy.err = &pkgerrors.SpawnError{Binary: "geph5-client", Err: os.ErrNotExist}

	err := h.sup.Start(context.Background(), DaemonConfig{Exit: AutoExit()})
	if !errors.Is(err, pkgerrors.ErrSpawnFailed) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Start() error = %v, want spawn failure", err)
	}
}

func TestStopSendsRPCAndWaitsForExit(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	proc := h.strategy.last()
	h.controller.onStop = func() {
		h.prober.up.Store(false)
		proc.exit()
	}

	if err := h.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if proc.killed.Load() {
		t.Error("process was killed despite exiting on stop rpc")
	}
	if h.sup.IsRunning(ctx) {
		t.Error("IsRunning() = true after Stop")
	}
	if got := h.sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	id := h.sessions.started[0].ID
	if got := h.sessions.reason(id); got != models.ExitStopped {
		t.Errorf("session end reason = %q, want %q", got, models.ExitStopped)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	h.sup.opts.StopGrace = 20 * time.Millisecond
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !h.strategy.last().killed.Load() {
		t.Error("process not killed after grace period")
	}
}

func TestRestartRefusedInVPNMode(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit(), GlobalVPN: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := h.sup.Restart(ctx, DaemonConfig{Exit: AutoExit()})
	if !errors.Is(err, pkgerrors.ErrCannotRestartInVpnMode) {
		t.Fatalf("Restart() error = %v, want ErrCannotRestartInVpnMode", err)
	}
	if n := h.strategy.count(); n != 1 {
		t.Errorf("launches = %d, want 1", n)
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	h.controller.onStop = func() { h.strategy.last().exit() }
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.sup.Restart(ctx, DaemonConfig{Exit: ManualExit("Paris", "FR")}); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if n := h.strategy.count(); n != 2 {
		t.Errorf("launches = %d, want 2", n)
	}
	if got := h.strategy.configs[1].Exit; got != ManualExit("Paris", "FR") {
		t.Errorf("restarted with exit %v", got)
	}
}

func TestCrashAfterReadyClearsHandle(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.strategy.last().exit()

	waitFor(t, func() bool { return h.sup.State() == StateStopped })

	id := h.sessions.started[0].ID
	waitFor(t, func() bool { return h.sessions.reason(id) == models.ExitCrashed })

	if err := h.sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() after crash error = %v", err)
	}
}

func TestProxyAutoconf(t *testing.T) {
	tests := []struct {
		name string
		cfg  DaemonConfig
		want int32
	}{
		{"autoconf", DaemonConfig{ProxyAutoconf: true}, 1},
		{"autoconf in vpn mode", DaemonConfig{ProxyAutoconf: true, GlobalVPN: true}, 0},
		{"disabled", DaemonConfig{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.prober.up.Store(true)
			if err := h.sup.Start(context.Background(), tt.cfg); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if got := h.proxy.enabled.Load(); got != tt.want {
				t.Errorf("proxy enabled %d times, want %d", got, tt.want)
			}
		})
	}
}

func TestProxyResetWhenStartFails(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"spawn failure", func(h *harness) {
			h.strategy.err = &pkgerrors.SpawnError{Binary: "geph5-client", Err: os.ErrNotExist}
		}},
		{"crash before ready", func(h *harness) {
			h.strategy.next = func() *fakeProcess {
				p := newFakeProcess()
				p.stderr = "boom"
				p.exit()
				return p
			}
		}},
		{"startup timeout", func(h *harness) {
			h.sup.opts.StartupTimeout = 30 * time.Millisecond
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			if err := h.sup.Start(context.Background(), DaemonConfig{ProxyAutoconf: true}); err == nil {
				t.Fatal("Start() succeeded")
			}
			if got := h.proxy.enabled.Load(); got != 1 {
				t.Errorf("proxy enabled %d times, want 1", got)
			}
			if got := h.proxy.disabled.Load(); got != 1 {
				t.Errorf("proxy disabled %d times, want 1", got)
			}
		})
	}
}

func TestProxyResetWhenDaemonCrashes(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)

	if err := h.sup.Start(context.Background(), DaemonConfig{ProxyAutoconf: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := h.proxy.disabled.Load(); got != 0 {
		t.Fatalf("proxy disabled %d times while running", got)
	}
	h.strategy.last().exit()

	waitFor(t, func() bool { return h.proxy.disabled.Load() == 1 })
}

func TestNewSupervisorDefaults(t *testing.T) {
	s := NewSupervisor(Deps{}, Options{})
	if s.opts.StopGrace != time.Second {
		t.Errorf("StopGrace = %s, want 1s", s.opts.StopGrace)
	}
	if s.opts.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay = %s, want 500ms", s.opts.SettleDelay)
	}
	if s.opts.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %s, want 30s", s.opts.StartupTimeout)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if st := h.sup.Status(ctx); st.Owned || st.Reachable || st.State != StateStopped {
		t.Errorf("initial Status() = %+v", st)
	}

	h.prober.up.Store(true)
	if err := h.sup.Start(ctx, DaemonConfig{GlobalVPN: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := h.sup.Status(ctx)
	if !st.Owned || !st.Reachable || !st.VPN || st.Strategy != "fake" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestTempConfigRemovedOnStop(t *testing.T) {
	h := newHarness(t)
	h.prober.up.Store(true)
	h.sup.opts.StopGrace = 10 * time.Millisecond
	ctx := context.Background()

	if err := h.sup.Start(ctx, DaemonConfig{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(h.sup.opts.ConfigDir, "daemon-*.yaml"))
	if len(matches) != 1 {
		t.Fatalf("config files while running = %d, want 1", len(matches))
	}
	if err := h.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	matches, _ = filepath.Glob(filepath.Join(h.sup.opts.ConfigDir, "daemon-*.yaml"))
	if len(matches) != 0 {
		t.Errorf("config files after stop = %d, want 0", len(matches))
	}
}
