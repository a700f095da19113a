package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"gephgui/internal/daemon"
	"gephgui/internal/rpc"
	"gephgui/internal/ui"
	pkgerrors "gephgui/pkg/errors"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	started  []daemon.DaemonConfig
	stops    int
	running  bool
	startErr error
	logs     []string
}

func (f *fakeSupervisor) Start(_ context.Context, cfg daemon.DaemonConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, cfg)
	f.running = true
	return nil
}

func (f *fakeSupervisor) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeSupervisor) Restart(ctx context.Context, cfg daemon.DaemonConfig) error {
	if cfg.GlobalVPN {
		return pkgerrors.ErrCannotRestartInVpnMode
	}
	_ = f.Stop(ctx)
	return f.Start(ctx, cfg)
}

func (f *fakeSupervisor) IsRunning(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSupervisor) RecentLogs() []string { return f.logs }

type daemonCall struct {
	method string
	params string
}

type fakeDaemon struct {
	mu      sync.Mutex
	calls   []daemonCall
	results map[string]string
	errs    map[string]error
}

func (f *fakeDaemon) Call(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	data, _ := json.Marshal(params)
	f.mu.Lock()
	f.calls = append(f.calls, daemonCall{method: method, params: string(data)})
	f.mu.Unlock()
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	if r, ok := f.results[method]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage("null"), nil
}

func (f *fakeDaemon) lastCall() daemonCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type recordPoster struct {
	mu   sync.Mutex
	cmds []ui.Command
}

func (r *recordPoster) Post(cmd ui.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
}

func (r *recordPoster) snapshot() []ui.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ui.Command(nil), r.cmds...)
}

type fixture struct {
	d      *Dispatcher
	sup    *fakeSupervisor
	daemon *fakeDaemon
	ui     *recordPoster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sup:    &fakeSupervisor{},
		daemon: &fakeDaemon{results: map[string]string{}, errs: map[string]error{}},
		ui:     &recordPoster{},
	}
	f.d = New(Deps{
		Supervisor:   f.sup,
		Daemon:       f.daemon,
		UI:           f.ui,
		Capabilities: DefaultCapabilities(daemon.PlatformLinux),
		NativeInfo:   NewNativeInfo(daemon.PlatformLinux, "linux", ""),
		Logger:       zaptest.NewLogger(t),
	})
	return f
}

// call runs method synchronously and returns the encoded result or the error.
func (f *fixture) call(t *testing.T, method string, params ...any) (string, *rpc.Error) {
	t.Helper()
	req, err := rpc.NewRequest(method, params...)
	if err != nil {
		t.Fatal(err)
	}
	resp := f.d.Respond(context.Background(), req)
	if string(resp.ID) != string(req.ID) {
		t.Fatalf("response id %s, want %s", resp.ID, req.ID)
	}
	return string(resp.Result), resp.Error
}

func TestEcho(t *testing.T) {
	f := newFixture(t)
	got, rerr := f.call(t, "echo", 4.5)
	if rerr != nil || got != "4.5" {
		t.Fatalf("echo = %s, %v", got, rerr)
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t)
	_, rerr := f.call(t, "launch_rockets")
	if rerr == nil || rerr.Code != rpc.CodeMethodNotFound {
		t.Fatalf("error = %+v, want method not found", rerr)
	}
}

func TestBadParams(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		method string
		params []any
	}{
		{"echo", nil},
		{"echo", []any{"not a number"}},
		{"set_conversion_factor", []any{0}},
		{"pay_invoice", []any{"not json", "card"}},
		{"daemon_rpc", []any{"x"}},
	}
	for _, tt := range tests {
		_, rerr := f.call(t, tt.method, tt.params...)
		if rerr == nil || rerr.Code != rpc.CodeInvalidParams {
			t.Errorf("%s%v error = %+v, want invalid params", tt.method, tt.params, rerr)
		}
	}
}

func TestSetConversionFactorResizes(t *testing.T) {
	f := newFixture(t)
	if got, rerr := f.call(t, "set_conversion_factor", 1.25); rerr != nil || got != "null" {
		t.Fatalf("set_conversion_factor = %s, %v", got, rerr)
	}
	cmds := f.ui.snapshot()
	if len(cmds) != 1 || cmds[0] != (ui.ResizeWindow{Factor: 1.25}) {
		t.Fatalf("posted %v", cmds)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	f := newFixture(t)

	cfg := `{"secret":"s3cret","exit":{"city":"Zurich","country":"CH"},"listen_all":true}`
	req := &rpc.Request{JSONRPC: rpc.Version, Method: "start_daemon", Params: []json.RawMessage{json.RawMessage(cfg)}, ID: json.RawMessage("7")}
	if resp := f.d.Respond(context.Background(), req); resp.Error != nil {
		t.Fatalf("start_daemon error = %+v", resp.Error)
	}
	if len(f.sup.started) != 1 {
		t.Fatalf("started %d times", len(f.sup.started))
	}
	got := f.sup.started[0]
	if got.Secret != "s3cret" || got.Exit.Country != "CH" || !got.ListenAll {
		t.Errorf("config = %+v", got)
	}

	if out, _ := f.call(t, "is_running"); out != "true" {
		t.Errorf("is_running = %s", out)
	}
	if _, rerr := f.call(t, "stop_daemon"); rerr != nil {
		t.Fatalf("stop_daemon error = %+v", rerr)
	}
	if out, _ := f.call(t, "is_running"); out != "false" {
		t.Errorf("is_running after stop = %s", out)
	}
}

func TestStartDaemonErrorIsReported(t *testing.T) {
	f := newFixture(t)
	f.sup.startErr = &pkgerrors.CrashError{Stderr: "invalid secret"}
	_, rerr := f.call(t, "start_daemon", daemon.DaemonConfig{Exit: daemon.AutoExit()})
	if rerr == nil || !strings.Contains(rerr.Message, "invalid secret") {
		t.Fatalf("error = %+v, want crash stderr", rerr)
	}
}

func TestRestartRefusedInVPNMode(t *testing.T) {
	f := newFixture(t)
	_, rerr := f.call(t, "restart_daemon", daemon.DaemonConfig{Exit: daemon.AutoExit(), GlobalVPN: true})
	if rerr == nil || rerr.Message != pkgerrors.ErrCannotRestartInVpnMode.Error() {
		t.Fatalf("error = %+v", rerr)
	}
}

func TestDaemonRPCPassthrough(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["user_info"] = `{"level":"plus"}`

	out, rerr := f.call(t, "daemon_rpc", "user_info", []any{"abc", 3})
	if rerr != nil || out != `{"level":"plus"}` {
		t.Fatalf("daemon_rpc = %s, %+v", out, rerr)
	}
	if c := f.daemon.lastCall(); c.method != "user_info" || c.params != `["abc",3]` {
		t.Errorf("daemon saw %+v", c)
	}

	f.daemon.errs["user_info"] = &pkgerrors.RemoteError{Code: rpc.CodeServerError, Message: "not logged in"}
	_, rerr = f.call(t, "daemon_rpc", "user_info", []any{})
	if rerr == nil || !strings.Contains(rerr.Message, "not logged in") {
		t.Fatalf("error = %+v", rerr)
	}
}

func TestBrokerRPC(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["broker_rpc"] = `"pong"`
	out, rerr := f.call(t, "broker_rpc", "ping", map[string]int{"n": 1})
	if rerr != nil || out != `"pong"` {
		t.Fatalf("broker_rpc = %s, %+v", out, rerr)
	}
	if c := f.daemon.lastCall(); c.method != "broker_rpc" || c.params != `["ping",{"n":1}]` {
		t.Errorf("daemon saw %+v", c)
	}
}

func TestBasicInfo(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["basic_mb_limit"] = "5000"
	f.daemon.results["ab_test"] = "true"
	out, rerr := f.call(t, "get_basic_info", "s3cret")
	if rerr != nil || out != `{"bw_limit":5000}` {
		t.Fatalf("get_basic_info = %s, %+v", out, rerr)
	}
	if c := f.daemon.lastCall(); c.params != `["basic","s3cret"]` {
		t.Errorf("ab_test params = %s", c.params)
	}

	f.daemon.results["ab_test"] = "false"
	if out, _ := f.call(t, "get_basic_info", "s3cret"); out != "null" {
		t.Errorf("hidden tier = %s, want null", out)
	}
}

func TestPricePoints(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["price_points"] = `[[30,5.0],[90,14.0]]`
	out, rerr := f.call(t, "price_points")
	if rerr != nil || out != `[[30,5],[90,14]]` {
		t.Fatalf("price_points = %s, %+v", out, rerr)
	}
	if out, _ := f.call(t, "basic_price_points"); out != "[]" {
		t.Errorf("basic_price_points with null = %s", out)
	}
}

func TestInvoiceRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["payment_methods"] = `["card","alipay"]`
	f.daemon.results["create_basic_payment"] = `"https://pay.example/abc"`

	out, rerr := f.call(t, "create_basic_invoice", "s3cret", 30)
	if rerr != nil {
		t.Fatalf("create_basic_invoice error = %+v", rerr)
	}
	var inv InvoiceInfo
	if err := json.Unmarshal([]byte(out), &inv); err != nil {
		t.Fatal(err)
	}
	if inv.ID != `["s3cret",30,"basic"]` || len(inv.Methods) != 2 {
		t.Fatalf("invoice = %+v", inv)
	}

	if _, rerr := f.call(t, "pay_invoice", inv.ID, "alipay"); rerr != nil {
		t.Fatalf("pay_invoice error = %+v", rerr)
	}
	if c := f.daemon.lastCall(); c.method != "create_basic_payment" || c.params != `["s3cret",30,"alipay"]` {
		t.Errorf("daemon saw %+v", c)
	}
	cmds := f.ui.snapshot()
	if len(cmds) != 1 || cmds[0] != (ui.OpenURL{URL: "https://pay.example/abc"}) {
		t.Errorf("posted %v", cmds)
	}
}

func TestDebugPack(t *testing.T) {
	f := newFixture(t)
	f.daemon.results["recent_logs"] = `["a","b"]`
	out, _ := f.call(t, "get_debug_pack")
	var pack string
	_ = json.Unmarshal([]byte(out), &pack)
	if pack != DebugPackHeader+"a\nb" {
		t.Errorf("pack = %q", pack)
	}

	f.daemon.errs["recent_logs"] = pkgerrors.ErrTransportConnectFailed
	f.sup.logs = []string{"captured"}
	out, _ = f.call(t, "get_debug_pack")
	_ = json.Unmarshal([]byte(out), &pack)
	if pack != DebugPackHeader+"captured" {
		t.Errorf("fallback pack = %q", pack)
	}

	if _, rerr := f.call(t, "export_debug_pack", "me@example.com"); rerr != nil {
		t.Fatalf("export_debug_pack error = %+v", rerr)
	}
	c := f.daemon.lastCall()
	if c.method != "export_debug_pack" || !strings.HasPrefix(c.params, `["me@example.com","===== DAEMON`) {
		t.Errorf("daemon saw %+v", c)
	}
}

func TestNativeInfoAndFlags(t *testing.T) {
	f := newFixture(t)
	out, _ := f.call(t, "get_native_info")
	if out != `{"platform_type":"Linux","platform_details":"linux","version":"(development version)"}` {
		t.Errorf("native info = %s", out)
	}
	flags := map[string]string{
		"supports_listen_all":    "true",
		"supports_app_whitelist": "false",
		"supports_prc_whitelist": "true",
		"supports_proxy_conf":    "true",
		"supports_vpn_conf":      "true",
		"supports_autoupdate":    "true",
	}
	for name, want := range flags {
		if got, _ := f.call(t, name); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
}

func TestHandleRepliesThroughCallback(t *testing.T) {
	f := newFixture(t)
	line := `{"callback_code":"window.cb_1","inner":{"jsonrpc":"2.0","method":"echo","params":[2],"id":1}}`
	if err := f.d.Handle(context.Background(), []byte(line)); err != nil {
		t.Fatal(err)
	}
	f.d.Wait()

	cmds := f.ui.snapshot()
	if len(cmds) != 1 {
		t.Fatalf("posted %v", cmds)
	}
	script := cmds[0].(ui.EvalScript).Script
	if script != `(window.cb_1)({"jsonrpc":"2.0","result":2,"id":1})` {
		t.Errorf("script = %s", script)
	}
}

func TestHandleRejectsBadEnvelope(t *testing.T) {
	f := newFixture(t)
	for _, line := range []string{`nope`, `{"inner":{"method":"echo"}}`} {
		if err := f.d.Handle(context.Background(), []byte(line)); err == nil {
			t.Errorf("Handle(%s) = nil, want error", line)
		}
	}
}

// blockingSupervisor holds Start until released so a slow call can be
// overtaken by a fast one.
type blockingSupervisor struct {
	fakeSupervisor
	release chan struct{}
}

func (b *blockingSupervisor) Start(ctx context.Context, cfg daemon.DaemonConfig) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.fakeSupervisor.Start(ctx, cfg)
}

func TestServeAnswersOutOfOrder(t *testing.T) {
	f := newFixture(t)
	sup := &blockingSupervisor{release: make(chan struct{})}
	f.d = New(Deps{Supervisor: sup, Daemon: f.daemon, UI: f.ui})

	input := strings.Join([]string{
		`{"callback_code":"slow","inner":{"jsonrpc":"2.0","method":"start_daemon","params":[{"exit":"auto"}],"id":1}}`,
		`{"callback_code":"fast","inner":{"jsonrpc":"2.0","method":"echo","params":[1],"id":2}}`,
	}, "\n")

	done := make(chan error, 1)
	go func() { done <- f.d.Serve(context.Background(), strings.NewReader(input)) }()

	deadline := time.After(2 * time.Second)
	for len(f.ui.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("fast call never answered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(sup.release)
	if err := <-done; err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	cmds := f.ui.snapshot()
	if len(cmds) != 2 {
		t.Fatalf("posted %d commands", len(cmds))
	}
	if !strings.HasPrefix(cmds[0].(ui.EvalScript).Script, "(fast)") || !strings.HasPrefix(cmds[1].(ui.EvalScript).Script, "(slow)") {
		t.Errorf("order = %v", cmds)
	}
}

func TestServeStopsOnCancelWithInputOpen(t *testing.T) {
	f := newFixture(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.d.Serve(ctx, pr) }()

	line := `{"callback_code":"cb","inner":{"jsonrpc":"2.0","method":"echo","params":[1],"id":1}}` + "\n"
	if _, err := pw.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(f.ui.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("echo never answered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestDefaultCapabilities(t *testing.T) {
	if DefaultCapabilities(daemon.PlatformMacOS).VPNConf {
		t.Error("macOS must not offer VPN mode")
	}
	if DefaultCapabilities(daemon.PlatformWindows).ProxyConf {
		t.Error("windows has no proxy autoconfiguration")
	}
}

