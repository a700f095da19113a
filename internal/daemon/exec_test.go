package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	pkgerrors "gephgui/pkg/errors"
)

const (
	fakeDaemonEnv     = "GEPHGUI_FAKE_DAEMON"
	fakeDaemonAddrEnv = "GEPHGUI_FAKE_DAEMON_ADDR"
)

// TestMain lets the test binary double as a daemon: when fakeDaemonEnv is set
// it serves the control protocol instead of running tests.
func TestMain(m *testing.M) {
	if os.Getenv(fakeDaemonEnv) == "1" {
		os.Exit(runFakeDaemon())
	}
	os.Exit(m.Run())
}

func runFakeDaemon() int {
	var path string
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			path = os.Args[i+1]
		}
	}
	cfg, err := ReadConfigFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.Secret == "crash" {
		fmt.Fprintln(os.Stderr, "invalid secret")
		return 3
	}

	ln, err := net.Listen("tcp", os.Getenv(fakeDaemonAddrEnv))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 4
	}
	defer ln.Close()
	fmt.Println("control endpoint listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return 0
		}
		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			conn.Close()
			continue
		}
		var req struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		json.Unmarshal(line, &req)
		fmt.Fprintf(conn, `{"jsonrpc":"2.0","result":null,"id":%s}`+"\n", req.ID)
		conn.Close()
		if req.Method == "stop" {
			return 0
		}
	}
}

// lineController speaks one request per connection, like the bridge's
// primary transport.
type lineController struct{ addr string }

func (c lineController) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	conn, err := net.DialTimeout("tcp", c.addr, time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	fmt.Fprintf(conn, `{"jsonrpc":"2.0","method":%q,"params":[],"id":1}`+"\n", method)
	return bufio.NewReader(conn).ReadBytes('\n')
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newExecSupervisor(t *testing.T) (*Supervisor, *LogRing) {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	addr := freeAddr(t)
	t.Setenv(fakeDaemonEnv, "1")
	t.Setenv(fakeDaemonAddrEnv, addr)

	logs := NewLogRing(100)
	launcher := NewLauncher(CurrentPlatform(), LaunchOptions{Binary: self, Logs: logs})
	sup := NewSupervisor(Deps{
		Launcher:   launcher,
		Prober:     NewTCPProber(addr),
		Controller: lineController{addr: addr},
		Logger:     zaptest.NewLogger(t),
		Logs:       logs,
	}, Options{
		ConfigDir:      t.TempDir(),
		StartupTimeout: 30 * time.Second,
		PollInterval:   50 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
		StopGrace:      time.Second,
	})
	return sup, logs
}

func TestSupervisorRealProcess(t *testing.T) {
	sup, logs := newExecSupervisor(t)
	ctx := context.Background()

	if err := sup.Start(ctx, DaemonConfig{Exit: AutoExit()}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !sup.IsRunning(ctx) {
		t.Fatal("IsRunning() = false after Start")
	}

	if err := sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for sup.IsRunning(ctx) {
		if time.Now().After(deadline) {
			t.Fatal("daemon still reachable 1s after Stop")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !strings.Contains(strings.Join(logs.Lines(), "\n"), "control endpoint listening") {
		t.Errorf("daemon output not captured: %v", logs.Lines())
	}
}

func TestSupervisorRealCrash(t *testing.T) {
	sup, _ := newExecSupervisor(t)

	err := sup.Start(context.Background(), DaemonConfig{Secret: "crash", Exit: AutoExit()})
	var crash *pkgerrors.CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("Start() error = %v, want CrashError", err)
	}
	if !strings.Contains(crash.Stderr, "invalid secret") {
		t.Errorf("Stderr = %q, want captured diagnostic", crash.Stderr)
	}
}

func TestSupervisorMissingBinary(t *testing.T) {
	launcher := NewLauncher(PlatformLinux, LaunchOptions{Binary: "/nonexistent/geph5-client"})
	sup := NewSupervisor(Deps{
		Launcher:   launcher,
		Prober:     NewTCPProber(freeAddr(t)),
		Controller: lineController{},
		Logger:     zaptest.NewLogger(t),
	}, Options{ConfigDir: t.TempDir()})

	err := sup.Start(context.Background(), DaemonConfig{})
	if !errors.Is(err, pkgerrors.ErrSpawnFailed) {
		t.Fatalf("Start() error = %v, want ErrSpawnFailed", err)
	}
}
