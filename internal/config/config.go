package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gephgui/internal/paths"
)

const (
	configFile = "config.yaml"
	envPrefix  = "GEPHGUI"
)

// DefaultManifestURL is the base URL of the update manifest.
// Override at build time with: go build -ldflags "-X gephgui/internal/config.DefaultManifestURL=https://..."
var DefaultManifestURL = "https://geph-updates.b-cdn.net"

// Config represents the application configuration
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon" mapstructure:"daemon"`
	Supervisor SupervisorConfig `yaml:"supervisor" mapstructure:"supervisor"`
	RPC        RPCConfig        `yaml:"rpc" mapstructure:"rpc"`
	Update     UpdateConfig     `yaml:"update" mapstructure:"update"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// DaemonConfig locates the daemon binary and its control endpoint.
type DaemonConfig struct {
	Binary          string `yaml:"binary" mapstructure:"binary"`
	ControlAddr     string `yaml:"control_addr" mapstructure:"control_addr"`
	ServiceName     string `yaml:"service_name" mapstructure:"service_name"`
	PrivilegeHelper string `yaml:"privilege_helper" mapstructure:"privilege_helper"`
}

// SupervisorConfig holds the daemon lifecycle timings.
type SupervisorConfig struct {
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	SettleDelay    time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	StopGrace      time.Duration `yaml:"stop_grace" mapstructure:"stop_grace"`
}

// RPCConfig holds the bridge timeouts.
type RPCConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// UpdateConfig controls the autoupdate pipeline.
type UpdateConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	ManifestURL  string        `yaml:"manifest_url" mapstructure:"manifest_url"`
	MeanInterval time.Duration `yaml:"mean_interval" mapstructure:"mean_interval"`
	RetryDelay   time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig enables the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Binary:          "geph5-client",
			ControlAddr:     "127.0.0.1:12222",
			ServiceName:     "GephDaemon",
			PrivilegeHelper: "pkexec",
		},
		Supervisor: SupervisorConfig{
			StartupTimeout: 30 * time.Second,
			PollInterval:   200 * time.Millisecond,
			SettleDelay:    500 * time.Millisecond,
			StopGrace:      time.Second,
		},
		RPC: RPCConfig{
			ConnectTimeout: 50 * time.Millisecond,
			CallTimeout:    5 * time.Second,
		},
		Update: UpdateConfig{
			Enabled:      true,
			ManifestURL:  DefaultManifestURL,
			MeanInterval: 72 * time.Hour,
			RetryDelay:   10 * time.Minute,
			HTTPTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load loads the configuration from path. An empty path selects the default
// location. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to path as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override values that
// are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("daemon.binary", d.Daemon.Binary)
	v.SetDefault("daemon.control_addr", d.Daemon.ControlAddr)
	v.SetDefault("daemon.service_name", d.Daemon.ServiceName)
	v.SetDefault("daemon.privilege_helper", d.Daemon.PrivilegeHelper)

	v.SetDefault("supervisor.startup_timeout", d.Supervisor.StartupTimeout)
	v.SetDefault("supervisor.poll_interval", d.Supervisor.PollInterval)
	v.SetDefault("supervisor.settle_delay", d.Supervisor.SettleDelay)
	v.SetDefault("supervisor.stop_grace", d.Supervisor.StopGrace)

	v.SetDefault("rpc.connect_timeout", d.RPC.ConnectTimeout)
	v.SetDefault("rpc.call_timeout", d.RPC.CallTimeout)

	v.SetDefault("update.enabled", d.Update.Enabled)
	v.SetDefault("update.manifest_url", d.Update.ManifestURL)
	v.SetDefault("update.mean_interval", d.Update.MeanInterval)
	v.SetDefault("update.retry_delay", d.Update.RetryDelay)
	v.SetDefault("update.http_timeout", d.Update.HTTPTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}
