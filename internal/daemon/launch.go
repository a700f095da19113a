package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	pkgerrors "gephgui/pkg/errors"
)

// Platform is the runtime tag that selects launch strategies.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
)

// CurrentPlatform maps runtime.GOOS to a Platform.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	default:
		return PlatformLinux
	}
}

// Strategy names, recorded with each session.
const (
	StrategyDirect      = "direct"
	StrategyHelper      = "helper"
	StrategyService     = "service"
	StrategyElevated    = "elevated"
	StrategyUnsupported = "unsupported"
)

// LaunchStrategy starts a daemon reading its configuration from configPath.
type LaunchStrategy interface {
	Name() string
	Launch(ctx context.Context, configPath string) (Process, error)
}

// LaunchOptions configures the strategies built by NewLauncher.
type LaunchOptions struct {
	Binary          string
	PrivilegeHelper string
	ServiceName     string
	// ServiceConfigPath is where the installed service reads its config.
	// Empty selects the platform default.
	ServiceConfigPath string
	Services          ServiceController
	// Logs receives the daemon's stdout and stderr.
	Logs io.Writer
}

// Launcher holds one strategy for normal mode and one for VPN mode.
type Launcher struct {
	Platform Platform
	Normal   LaunchStrategy
	VPN      LaunchStrategy
}

// NewLauncher builds the strategies for platform.
func NewLauncher(platform Platform, opts LaunchOptions) *Launcher {
	direct := &directStrategy{binary: opts.Binary, logs: opts.Logs}

	l := &Launcher{Platform: platform, Normal: direct}
	switch platform {
	case PlatformLinux:
		l.VPN = &helperStrategy{helper: opts.PrivilegeHelper, binary: opts.Binary, logs: opts.Logs}
	case PlatformWindows:
		services := opts.Services
		if services == nil {
			services = NewServiceController()
		}
		cfgPath := opts.ServiceConfigPath
		if cfgPath == "" {
			cfgPath = DefaultServiceConfigPath(opts.ServiceName)
		}
		l.VPN = &windowsVPNStrategy{
			services:    services,
			serviceName: opts.ServiceName,
			configPath:  cfgPath,
			direct:      direct,
			binary:      opts.Binary,
			elevated:    isElevated,
			elevate:     launchElevated,
		}
	default:
		l.VPN = unsupportedStrategy{}
	}
	return l
}

// Select returns the strategy for a config.
func (l *Launcher) Select(cfg DaemonConfig) LaunchStrategy {
	if cfg.GlobalVPN {
		return l.VPN
	}
	return l.Normal
}

// DefaultServiceConfigPath is %ProgramData%\<service>\config.yaml.
func DefaultServiceConfigPath(service string) string {
	root := os.Getenv("ProgramData")
	if root == "" {
		root = `C:\ProgramData`
	}
	return filepath.Join(root, service, "config.yaml")
}

func configArgs(configPath string) []string {
	return []string{"--config", configPath}
}

// directStrategy spawns the daemon binary as an ordinary child.
type directStrategy struct {
	binary string
	logs   io.Writer
}

func (s *directStrategy) Name() string { return StrategyDirect }

func (s *directStrategy) Launch(ctx context.Context, configPath string) (Process, error) {
	return spawn(s.binary, configArgs(configPath), s.logs)
}

// helperStrategy re-invokes the daemon through a privilege escalation helper
// such as pkexec.
type helperStrategy struct {
	helper string
	binary string
	logs   io.Writer
}

func (s *helperStrategy) Name() string { return StrategyHelper }

func (s *helperStrategy) Launch(ctx context.Context, configPath string) (Process, error) {
	args := append([]string{s.binary}, configArgs(configPath)...)
	return spawn(s.helper, args, s.logs)
}

type unsupportedStrategy struct{}

func (unsupportedStrategy) Name() string { return StrategyUnsupported }

func (unsupportedStrategy) Launch(context.Context, string) (Process, error) {
	return nil, fmt.Errorf("VPN mode: %w", pkgerrors.ErrUnsupportedPlatform)
}

// windowsVPNStrategy prefers the installed background service. Without one it
// spawns directly when already elevated and otherwise goes through an
// elevation prompt.
type windowsVPNStrategy struct {
	services    ServiceController
	serviceName string
	configPath  string
	direct      LaunchStrategy
	binary      string
	elevated    func() bool
	elevate     func(binary string, args []string) error
}

func (s *windowsVPNStrategy) Name() string {
	if s.services.Installed(s.serviceName) {
		return StrategyService
	}
	if s.elevated() {
		return StrategyDirect
	}
	return StrategyElevated
}

func (s *windowsVPNStrategy) Launch(ctx context.Context, configPath string) (Process, error) {
	if s.services.Installed(s.serviceName) {
		return s.launchService(configPath)
	}
	if s.elevated() {
		return s.direct.Launch(ctx, configPath)
	}

	if err := s.elevate(s.binary, configArgs(configPath)); err != nil {
		return nil, &pkgerrors.SpawnError{
			Binary: s.binary,
			Err:    fmt.Errorf("%w: %v", pkgerrors.ErrElevationRequired, err),
		}
	}
	return newDetachedProcess(), nil
}

func (s *windowsVPNStrategy) launchService(configPath string) (Process, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read daemon config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0755); err != nil {
		return nil, &pkgerrors.SpawnError{Binary: s.serviceName, Err: err}
	}
	if err := os.WriteFile(s.configPath, data, 0600); err != nil {
		return nil, &pkgerrors.SpawnError{Binary: s.serviceName, Err: err}
	}
	if err := s.services.Start(s.serviceName); err != nil {
		return nil, &pkgerrors.SpawnError{Binary: s.serviceName, Err: err}
	}
	return newServiceProcess(s.services, s.serviceName, time.Second), nil
}

// serviceProcess tracks a daemon running as an OS service by polling its state.
type serviceProcess struct {
	services ServiceController
	name     string
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newServiceProcess(services ServiceController, name string, interval time.Duration) *serviceProcess {
	p := &serviceProcess{
		services: services,
		name:     name,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go p.poll(interval)
	return p
}

func (p *serviceProcess) poll(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			running, err := p.services.Running(p.name)
			if err == nil && !running {
				return
			}
		}
	}
}

func (p *serviceProcess) Done() <-chan struct{} { return p.done }
func (p *serviceProcess) ExitErr() error        { return nil }
func (p *serviceProcess) Stderr() string        { return "" }

func (p *serviceProcess) Kill() error {
	err := p.services.Stop(p.name)
	p.stopOnce.Do(func() { close(p.stop) })
	return err
}
