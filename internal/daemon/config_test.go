package daemon

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestConfigFileRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cfg  DaemonConfig
	}{
		{
			name: "auto exit",
			cfg:  DaemonConfig{Secret: "s3cret", Exit: AutoExit()},
		},
		{
			name: "manual exit with metadata",
			cfg: DaemonConfig{
				Secret:        "abc",
				Metadata:      map[string]any{"device": "laptop", "build": "5.0", "beta": true},
				Exit:          ManualExit("Montreal", "CA"),
				PrcWhitelist:  true,
				ListenAll:     true,
				ProxyAutoconf: true,
				AllowDirect:   true,
			},
		},
		{
			name: "metadata numbers and nesting",
			cfg: DaemonConfig{
				Exit: AutoExit(),
				Metadata: map[string]any{
					"port":  float64(8080),
					"ratio": 1.5,
					"tags":  []any{"a", float64(2)},
					"inner": map[string]any{"n": float64(3)},
				},
			},
		},
		{
			name: "vpn mode",
			cfg:  DaemonConfig{Exit: ManualExit("", "JP"), GlobalVPN: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := WriteConfigFile(t.TempDir(), tt.cfg)
			if err != nil {
				t.Fatalf("WriteConfigFile() error = %v", err)
			}
			got, err := ReadConfigFile(path)
			if err != nil {
				t.Fatalf("ReadConfigFile() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.cfg) {
				t.Errorf("round trip = %+v, want %+v", got, tt.cfg)
			}
		})
	}
}

func TestExitConstraintJSON(t *testing.T) {
	data, err := json.Marshal(DaemonConfig{Exit: AutoExit()})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["exit"] != "auto" {
		t.Errorf("exit = %v, want \"auto\"", raw["exit"])
	}

	var cfg DaemonConfig
	if err := json.Unmarshal([]byte(`{"exit":{"city":"Taipei","country":"TW"},"global_vpn":true}`), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Exit != ManualExit("Taipei", "TW") || !cfg.GlobalVPN {
		t.Errorf("decoded = %+v", cfg)
	}

	if err := json.Unmarshal([]byte(`{"exit":"nearest"}`), &cfg); err == nil {
		t.Error("Unmarshal() expected error for unknown exit string")
	}
}

func TestParseExit(t *testing.T) {
	tests := []struct {
		in      string
		want    ExitConstraint
		wantErr bool
	}{
		{in: "auto", want: AutoExit()},
		{in: "", want: AutoExit()},
		{in: "AUTO", want: AutoExit()},
		{in: "ca/Montreal", want: ManualExit("Montreal", "ca")},
		{in: " de / Frankfurt ", want: ManualExit("Frankfurt", "de")},
		{in: "ca", wantErr: true},
		{in: "/Montreal", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseExit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("ParseExit(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if back, _ := ParseExit(got.Short()); back != got {
				t.Errorf("Short() round trip = %+v", back)
			}
		})
	}
}
