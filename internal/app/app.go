package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gephgui/internal/autoupdate"
	"gephgui/internal/config"
	"gephgui/internal/daemon"
	"gephgui/internal/ipc"
	"gephgui/internal/logging"
	"gephgui/internal/metrics"
	"gephgui/internal/paths"
	"gephgui/internal/rpc"
	"gephgui/internal/storage"
	"gephgui/internal/storage/sqlite"
	"gephgui/internal/sysproxy"
	"gephgui/internal/ui"
	pkgerrors "gephgui/pkg/errors"
)

const (
	dbFile      = "gephgui.db"
	lockFile    = "gephgui.lock"
	logRingSize = 1000
)

// App represents the application context. It is built once per process and
// handed to every command.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Storage    storage.Storage
	Metrics    *metrics.Metrics
	Bridge     *rpc.Bridge
	Supervisor *daemon.Supervisor
	Bus        *ui.Bus
	Cache      *autoupdate.Cache
	Checker    *autoupdate.Checker
	Scheduler  *autoupdate.Scheduler
	Platform   daemon.Platform
	// Version is the build version string; Current is its parsed form.
	Version string
	Current *semver.Version

	cacheDir string
	lock     *flock.Flock
}

// Options selects the config file and overrides a few of its values.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Version    string
}

// New creates a new application instance
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}

	cacheDir, err := paths.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Dir: cacheDir})
	if err != nil {
		return nil, err
	}

	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqlite.New(filepath.Join(dataDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	downloadDir, err := paths.DownloadDir()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	current, err := autoupdate.ParseVersion(opts.Version)
	if err != nil {
		logger.Warn("unparseable build version, treating as 0.0.0", zap.String("version", opts.Version))
		current = semver.New(0, 0, 0, "", "")
	}

	platform := daemon.CurrentPlatform()
	m := metrics.New()

	fetcher := autoupdate.NewFetcher(autoupdate.DefaultFetcherConfig())
	manifests := &autoupdate.HTTPSource{
		BaseURL: cfg.Update.ManifestURL,
		Fetcher: fetcher,
		Timeout: cfg.Update.HTTPTimeout,
	}

	bridge := rpc.NewBridge(rpc.BridgeOptions{
		Primary: rpc.NewTCPTransport(cfg.Daemon.ControlAddr, cfg.RPC.ConnectTimeout),
		NewLocal: func() *rpc.LocalService {
			local := rpc.NewLocalService()
			local.Register(autoupdate.ManifestMethod, manifests.Handler())
			return local
		},
		CallTimeout: cfg.RPC.CallTimeout,
		Metrics:     m,
		Logger:      logger.Named("bridge"),
	})

	logs := daemon.NewLogRing(logRingSize)
	launcher := daemon.NewLauncher(platform, daemon.LaunchOptions{
		Binary:          cfg.Daemon.Binary,
		PrivilegeHelper: cfg.Daemon.PrivilegeHelper,
		ServiceName:     cfg.Daemon.ServiceName,
		Logs:            logs,
	})
	supervisor := daemon.NewSupervisor(daemon.Deps{
		Launcher:   launcher,
		Prober:     daemon.NewTCPProber(cfg.Daemon.ControlAddr),
		Controller: bridge,
		Proxy:      sysproxy.New(sysproxy.DefaultPACURL, logger.Named("sysproxy")),
		Sessions:   store,
		Metrics:    m,
		Logger:     logger.Named("supervisor"),
		Logs:       logs,
	}, daemon.Options{
		StartupTimeout: cfg.Supervisor.StartupTimeout,
		PollInterval:   cfg.Supervisor.PollInterval,
		SettleDelay:    cfg.Supervisor.SettleDelay,
		StopGrace:      cfg.Supervisor.StopGrace,
	})

	cache := autoupdate.NewCache(downloadDir)
	updateLog := logger.Named("autoupdate")
	checker := autoupdate.NewChecker(autoupdate.CheckerDeps{
		Source:  &autoupdate.BridgeSource{Caller: bridge},
		Fetcher: fetcher,
		Cache:   cache,
		Track:   autoupdate.TrackFor(platform),
		Current: current,
		Events:  store,
		Metrics: m,
		Logger:  updateLog,
	})

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Storage:    store,
		Metrics:    m,
		Bridge:     bridge,
		Supervisor: supervisor,
		Bus:        ui.NewBus(),
		Cache:      cache,
		Checker:    checker,
		Platform:   platform,
		Version:    opts.Version,
		Current:    current,
		cacheDir:   cacheDir,
	}

	a.Scheduler, err = autoupdate.NewScheduler(a.CheckUpdate, autoupdate.SchedulerOptions{
		MeanInterval: cfg.Update.MeanInterval,
		RetryDelay:   cfg.Update.RetryDelay,
		Logger:       updateLog,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	a.Bus.Close()
	if a.lock != nil {
		a.lock.Unlock()
	}
	a.Logger.Sync()
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

// Lock claims the per-user instance lock. Only the holder may own a daemon.
func (a *App) Lock() error {
	fl := flock.New(filepath.Join(a.cacheDir, lockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !ok {
		return pkgerrors.ErrInstanceLocked
	}
	a.lock = fl
	return nil
}

// CheckUpdate runs one update check and remembers when it happened.
func (a *App) CheckUpdate(ctx context.Context) (autoupdate.Result, error) {
	result, err := a.Checker.Check(ctx)
	stamp := time.Now().UTC().Format(time.RFC3339)
	if serr := a.Storage.SetSetting(context.WithoutCancel(ctx), storage.SettingLastUpdateTick, stamp); serr != nil {
		a.Logger.Warn("failed to record update tick", zap.Error(serr))
	}
	return result, err
}

// LastUpdateCheck returns when the last check ran, or the zero time.
func (a *App) LastUpdateCheck(ctx context.Context) time.Time {
	raw, err := a.Storage.GetSetting(ctx, storage.SettingLastUpdateTick)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Dispatcher builds the front-end IPC dispatcher.
func (a *App) Dispatcher() *ipc.Dispatcher {
	return ipc.New(ipc.Deps{
		Supervisor:   a.Supervisor,
		Daemon:       a.Bridge,
		UI:           a.Bus,
		Capabilities: ipc.DefaultCapabilities(a.Platform),
		NativeInfo:   ipc.NewNativeInfo(a.Platform, runtime.GOOS+" "+runtime.GOARCH, a.Version),
		Logger:       a.Logger.Named("ipc"),
	})
}

// PromptCachedUpdate offers an update downloaded by an earlier run. After
// the installer launches exit is called; nil means os.Exit.
func (a *App) PromptCachedUpdate(ctx context.Context, prompter autoupdate.Prompter, exit func(code int)) (autoupdate.PromptOutcome, error) {
	if exit == nil {
		exit = os.Exit
	}
	return autoupdate.PromptCached(ctx, autoupdate.PromptDeps{
		Cache:     a.Cache,
		Current:   a.Current,
		Prompter:  prompter,
		Installer: autoupdate.CommandInstaller{Platform: a.Platform},
		Daemon:    a.Supervisor,
		Exit:      exit,
		Language:  autoupdate.SystemLanguage(),
		Events:    a.Storage,
		Logger:    a.Logger.Named("autoupdate"),
	})
}

// Run hosts a front end. main owns the UI; h consumes the UI bus. The update
// scheduler and the metrics endpoint run alongside until main returns.
func (a *App) Run(ctx context.Context, h ui.Handler, main func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return main(gctx)
	})

	g.Go(func() error {
		return ignoreCancel(a.Bus.Run(gctx, h))
	})

	if a.Config.Update.Enabled {
		g.Go(func() error {
			if err := a.Scheduler.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return a.Scheduler.Stop()
		})
	}

	if addr := a.Config.Metrics.Addr; addr != "" {
		g.Go(func() error {
			a.Logger.Info("serving metrics", zap.String("addr", addr))
			return a.Metrics.Serve(gctx, addr)
		})
	}

	return ignoreCancel(g.Wait())
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
