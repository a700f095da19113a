package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "gephgui/pkg/errors"
)

const exitAuto = "auto"

// ExitConstraint selects the exit node: automatic, or a fixed city and country.
type ExitConstraint struct {
	Auto    bool
	City    string
	Country string
}

// AutoExit lets the daemon pick the exit.
func AutoExit() ExitConstraint {
	return ExitConstraint{Auto: true}
}

// ManualExit pins the exit to a city and country.
func ManualExit(city, country string) ExitConstraint {
	return ExitConstraint{City: city, Country: country}
}

func (e ExitConstraint) String() string {
	if e.Auto {
		return exitAuto
	}
	return fmt.Sprintf("%s, %s", e.City, e.Country)
}

// ParseExit accepts "auto" or "country/city".
func ParseExit(s string) (ExitConstraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, exitAuto) {
		return AutoExit(), nil
	}
	country, city, ok := strings.Cut(s, "/")
	country, city = strings.TrimSpace(country), strings.TrimSpace(city)
	if !ok || country == "" || city == "" {
		return ExitConstraint{}, fmt.Errorf("exit must be auto or country/city, got %q", s)
	}
	return ManualExit(city, country), nil
}

// Short renders e in the form ParseExit accepts.
func (e ExitConstraint) Short() string {
	if e.Auto {
		return exitAuto
	}
	return e.Country + "/" + e.City
}

type manualExit struct {
	City    string `json:"city" yaml:"city"`
	Country string `json:"country" yaml:"country"`
}

// MarshalJSON encodes an auto exit as the string "auto" and a manual exit as an object.
func (e ExitConstraint) MarshalJSON() ([]byte, error) {
	if e.Auto {
		return json.Marshal(exitAuto)
	}
	return json.Marshal(manualExit{City: e.City, Country: e.Country})
}

func (e *ExitConstraint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != exitAuto {
			return fmt.Errorf("unknown exit constraint %q", s)
		}
		*e = AutoExit()
		return nil
	}
	var m manualExit
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("invalid exit constraint: %w", err)
	}
	*e = ManualExit(m.City, m.Country)
	return nil
}

func (e ExitConstraint) MarshalYAML() (interface{}, error) {
	if e.Auto {
		return exitAuto, nil
	}
	return manualExit{City: e.City, Country: e.Country}, nil
}

func (e *ExitConstraint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value != exitAuto {
			return fmt.Errorf("unknown exit constraint %q", node.Value)
		}
		*e = AutoExit()
		return nil
	}
	var m manualExit
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("invalid exit constraint: %w", err)
	}
	*e = ManualExit(m.City, m.Country)
	return nil
}

// DaemonConfig is the set of arguments a daemon is started with. It is not
// modified after being handed to Start.
type DaemonConfig struct {
	Secret        string         `json:"secret" yaml:"secret"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Exit          ExitConstraint `json:"exit" yaml:"exit"`
	PrcWhitelist  bool           `json:"prc_whitelist" yaml:"prc_whitelist"`
	GlobalVPN     bool           `json:"global_vpn" yaml:"global_vpn"`
	ListenAll     bool           `json:"listen_all" yaml:"listen_all"`
	ProxyAutoconf bool           `json:"proxy_autoconf" yaml:"proxy_autoconf"`
	AllowDirect   bool           `json:"allow_direct" yaml:"allow_direct"`
}

// MarshalConfig renders cfg in the YAML form the daemon reads with --config.
func MarshalConfig(cfg DaemonConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}
	return data, nil
}

// WriteConfigFile serializes cfg into a new temporary file under dir and
// returns its path. The caller removes the file.
func WriteConfigFile(dir string, cfg DaemonConfig) (string, error) {
	data, err := MarshalConfig(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}

	f, err := os.CreateTemp(dir, "daemon-*.yaml")
	if err != nil {
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrConfigSerializationFailed, err)
	}
	return filepath.Clean(f.Name()), nil
}

// ReadConfigFile parses a file written by WriteConfigFile. Metadata comes
// back with JSON value types, so numbers are float64 as they were when the
// config arrived over JSON.
func ReadConfigFile(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse daemon config: %w", err)
	}
	if cfg.Metadata != nil {
		if cfg.Metadata, err = jsonMetadata(cfg.Metadata); err != nil {
			return cfg, fmt.Errorf("failed to parse daemon config metadata: %w", err)
		}
	}
	return cfg, nil
}

func jsonMetadata(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
