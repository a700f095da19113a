package cli

import (
	"encoding/json"
	"testing"

	"github.com/spf13/pflag"

	"gephgui/internal/daemon"
)

func newDaemonFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	addDaemonFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return fs
}

func TestApplyDaemonFlagsOverridesOnlySetFlags(t *testing.T) {
	saved := daemon.DaemonConfig{
		Secret:        "old",
		Exit:          daemon.ManualExit("Montreal", "ca"),
		ProxyAutoconf: true,
		ListenAll:     true,
	}

	fs := newDaemonFlags(t, "--secret", "new", "--global-vpn", "--listen-all=false")
	got, err := applyDaemonFlags(saved, fs)
	if err != nil {
		t.Fatalf("applyDaemonFlags() error = %v", err)
	}

	if got.Secret != "new" {
		t.Errorf("Secret = %q", got.Secret)
	}
	if got.Exit != saved.Exit {
		t.Errorf("Exit = %+v, want unchanged", got.Exit)
	}
	if !got.GlobalVPN {
		t.Error("GlobalVPN not set")
	}
	if got.ListenAll {
		t.Error("ListenAll not cleared")
	}
	if !got.ProxyAutoconf {
		t.Error("ProxyAutoconf should keep its saved value")
	}
}

func TestApplyDaemonFlagsExitAndMetadata(t *testing.T) {
	fs := newDaemonFlags(t, "--exit", "de/Frankfurt", "--metadata", `{"region":"eu"}`)
	got, err := applyDaemonFlags(daemon.DaemonConfig{Exit: daemon.AutoExit()}, fs)
	if err != nil {
		t.Fatalf("applyDaemonFlags() error = %v", err)
	}
	if got.Exit != daemon.ManualExit("Frankfurt", "de") {
		t.Errorf("Exit = %+v", got.Exit)
	}
	if got.Metadata["region"] != "eu" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	bad := newDaemonFlags(t, "--metadata", "[1,2]")
	if _, err := applyDaemonFlags(daemon.DaemonConfig{}, bad); err == nil {
		t.Error("non-object metadata accepted")
	}
	badExit := newDaemonFlags(t, "--exit", "nowhere")
	if _, err := applyDaemonFlags(daemon.DaemonConfig{}, badExit); err == nil {
		t.Error("invalid exit accepted")
	}
}

func TestParseParams(t *testing.T) {
	params := parseParams([]string{`{"a":1}`, "42", "hello", `"quoted"`})
	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"a":1},42,"hello","quoted"]`
	if string(data) != want {
		t.Errorf("params = %s, want %s", data, want)
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"start", "stop", "restart", "status", "rpc", "call", "update", "serve-ipc", "ui", "version", "completion"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, sub := range []string{"check", "prompt", "status"} {
		if cmd, _, err := rootCmd.Find([]string{"update", sub}); err != nil || cmd.Name() != sub {
			t.Errorf("update %s not registered", sub)
		}
	}
}
