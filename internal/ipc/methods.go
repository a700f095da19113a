package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gephgui/internal/daemon"
	"gephgui/internal/ui"
)

// DebugPackHeader prefixes the daemon log section of a debug pack.
const DebugPackHeader = "===== DAEMON =====\n\n "

// Subscription levels encoded into invoice ids.
const (
	LevelUnlimited = "unlimited"
	LevelBasic     = "basic"
)

// Capabilities are the feature flags reported to the front end.
type Capabilities struct {
	ListenAll    bool
	AppWhitelist bool
	PrcWhitelist bool
	ProxyConf    bool
	VPNConf      bool
	Autoupdate   bool
}

// DefaultCapabilities reports what this build supports on platform.
func DefaultCapabilities(platform daemon.Platform) Capabilities {
	return Capabilities{
		ListenAll:    true,
		PrcWhitelist: true,
		ProxyConf:    platform != daemon.PlatformWindows,
		VPNConf:      platform != daemon.PlatformMacOS,
		Autoupdate:   true,
	}
}

// NativeInfo describes the host to the front end.
type NativeInfo struct {
	PlatformType    string `json:"platform_type"`
	PlatformDetails string `json:"platform_details"`
	Version         string `json:"version"`
}

// DevelopmentVersion is reported when the build carries no version.
const DevelopmentVersion = "(development version)"

// NewNativeInfo builds the host description for platform.
func NewNativeInfo(platform daemon.Platform, details, version string) NativeInfo {
	kind := "Linux"
	switch platform {
	case daemon.PlatformWindows:
		kind = "Windows"
	case daemon.PlatformMacOS:
		kind = "macOS"
	}
	if version == "" {
		version = DevelopmentVersion
	}
	return NativeInfo{PlatformType: kind, PlatformDetails: details, Version: version}
}

// InvoiceInfo is returned by create_invoice.
type InvoiceInfo struct {
	ID      string   `json:"id"`
	Methods []string `json:"methods"`
}

// BasicInfo is returned by get_basic_info for accounts in the basic tier.
type BasicInfo struct {
	BwLimit uint32 `json:"bw_limit"`
}

func (d *Dispatcher) routes() map[string]method {
	caps := d.deps.Capabilities
	flag := func(v bool) method {
		return func(context.Context, []json.RawMessage) (any, error) { return v, nil }
	}
	return map[string]method{
		"echo":                  d.echo,
		"set_conversion_factor": d.setConversionFactor,
		"start_daemon":          d.startDaemon,
		"stop_daemon":           d.stopDaemon,
		"restart_daemon":        d.restartDaemon,
		"is_running":            d.isRunning,
		"daemon_rpc":            d.daemonRPC,
		"broker_rpc":            d.brokerRPC,
		"get_basic_info":        d.getBasicInfo,
		"price_points":          d.pricePoints("price_points"),
		"basic_price_points":    d.pricePoints("basic_price_points"),
		"create_invoice":        d.createInvoice(LevelUnlimited),
		"create_basic_invoice":  d.createInvoice(LevelBasic),
		"pay_invoice":           d.payInvoice,
		"get_debug_pack":        d.getDebugPack,
		"export_debug_pack":     d.exportDebugPack,
		"get_native_info":       d.getNativeInfo,
		"open_browser":          d.openBrowser,

		"supports_listen_all":    flag(caps.ListenAll),
		"supports_app_whitelist": flag(caps.AppWhitelist),
		"supports_prc_whitelist": flag(caps.PrcWhitelist),
		"supports_proxy_conf":    flag(caps.ProxyConf),
		"supports_vpn_conf":      flag(caps.VPNConf),
		"supports_autoupdate":    flag(caps.Autoupdate),
	}
}

func (d *Dispatcher) echo(_ context.Context, params []json.RawMessage) (any, error) {
	var v float64
	if err := decodeParams(params, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (d *Dispatcher) setConversionFactor(_ context.Context, params []json.RawMessage) (any, error) {
	var factor float64
	if err := decodeParams(params, &factor); err != nil {
		return nil, err
	}
	if factor <= 0 {
		return nil, &paramError{msg: fmt.Sprintf("conversion factor must be positive, got %v", factor)}
	}
	d.deps.UI.Post(ui.ResizeWindow{Factor: factor})
	return nil, nil
}

func (d *Dispatcher) startDaemon(ctx context.Context, params []json.RawMessage) (any, error) {
	var cfg daemon.DaemonConfig
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return nil, d.deps.Supervisor.Start(ctx, cfg)
}

func (d *Dispatcher) stopDaemon(ctx context.Context, params []json.RawMessage) (any, error) {
	if err := d.deps.Supervisor.Stop(ctx); err != nil {
		d.log.Warn("stop_daemon", zap.Error(err))
	}
	return nil, nil
}

func (d *Dispatcher) restartDaemon(ctx context.Context, params []json.RawMessage) (any, error) {
	var cfg daemon.DaemonConfig
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return nil, d.deps.Supervisor.Restart(ctx, cfg)
}

func (d *Dispatcher) isRunning(ctx context.Context, _ []json.RawMessage) (any, error) {
	return d.deps.Supervisor.IsRunning(ctx), nil
}

func (d *Dispatcher) daemonRPC(ctx context.Context, params []json.RawMessage) (any, error) {
	var (
		name string
		args []json.RawMessage
	)
	if err := decodeParams(params, &name, &args); err != nil {
		return nil, err
	}
	return d.call(ctx, name, args...)
}

func (d *Dispatcher) brokerRPC(ctx context.Context, params []json.RawMessage) (any, error) {
	var (
		name string
		args json.RawMessage
	)
	if err := decodeParams(params, &name, &args); err != nil {
		return nil, err
	}
	rawName, err := json.Marshal(name)
	if err != nil {
		return nil, err
	}
	return d.call(ctx, "broker_rpc", rawName, args)
}

// call forwards to the daemon and returns its raw result, null when absent.
func (d *Dispatcher) call(ctx context.Context, name string, args ...json.RawMessage) (json.RawMessage, error) {
	params := make([]any, len(args))
	for i, a := range args {
		params[i] = a
	}
	result, err := d.deps.Daemon.Call(ctx, name, params...)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return json.RawMessage("null"), nil
	}
	return result, nil
}

// callInto forwards to the daemon and decodes the result into dst.
func (d *Dispatcher) callInto(ctx context.Context, dst any, name string, params ...any) error {
	result, err := d.deps.Daemon.Call(ctx, name, params...)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if err := json.Unmarshal(result, dst); err != nil {
		return fmt.Errorf("unexpected %s result: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) getBasicInfo(ctx context.Context, params []json.RawMessage) (any, error) {
	var secret string
	if err := decodeParams(params, &secret); err != nil {
		return nil, err
	}
	var limit *uint32
	if err := d.callInto(ctx, &limit, "basic_mb_limit"); err != nil {
		return nil, err
	}
	var shown bool
	if err := d.callInto(ctx, &shown, "ab_test", LevelBasic, secret); err != nil {
		return nil, err
	}
	if !shown || limit == nil {
		return nil, nil
	}
	return BasicInfo{BwLimit: *limit}, nil
}

func (d *Dispatcher) pricePoints(name string) method {
	return func(ctx context.Context, _ []json.RawMessage) (any, error) {
		var points [][2]float64
		if err := d.callInto(ctx, &points, name); err != nil {
			return nil, err
		}
		if points == nil {
			points = [][2]float64{}
		}
		return points, nil
	}
}

// invoiceID is serialized as the JSON array [secret, days, level].
type invoiceID struct {
	Secret string
	Days   uint32
	Level  string
}

func (id invoiceID) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{id.Secret, id.Days, id.Level})
}

func (id *invoiceID) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("invoice id has %d parts, want 3", len(parts))
	}
	if err := json.Unmarshal(parts[0], &id.Secret); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &id.Days); err != nil {
		return err
	}
	return json.Unmarshal(parts[2], &id.Level)
}

func (d *Dispatcher) createInvoice(level string) method {
	return func(ctx context.Context, params []json.RawMessage) (any, error) {
		var (
			secret string
			days   uint32
		)
		if err := decodeParams(params, &secret, &days); err != nil {
			return nil, err
		}
		var methods []string
		if err := d.callInto(ctx, &methods, "payment_methods"); err != nil {
			return nil, err
		}
		if methods == nil {
			methods = []string{}
		}
		id, err := json.Marshal(invoiceID{Secret: secret, Days: days, Level: level})
		if err != nil {
			return nil, err
		}
		return InvoiceInfo{ID: string(id), Methods: methods}, nil
	}
}

func (d *Dispatcher) payInvoice(ctx context.Context, params []json.RawMessage) (any, error) {
	var idText, payMethod string
	if err := decodeParams(params, &idText, &payMethod); err != nil {
		return nil, err
	}
	var id invoiceID
	if err := json.Unmarshal([]byte(idText), &id); err != nil {
		return nil, &paramError{msg: fmt.Sprintf("invalid invoice id: %v", err)}
	}
	name := "create_payment"
	if id.Level == LevelBasic {
		name = "create_basic_payment"
	}
	var url string
	if err := d.callInto(ctx, &url, name, id.Secret, id.Days, payMethod); err != nil {
		return nil, err
	}
	d.deps.UI.Post(ui.OpenURL{URL: url})
	return nil, nil
}

// debugPack prefers the daemon's own log buffer and falls back to the
// supervisor's captured output.
func (d *Dispatcher) debugPack(ctx context.Context) string {
	var lines []string
	if err := d.callInto(ctx, &lines, "recent_logs"); err != nil {
		d.log.Debug("recent_logs unavailable, using captured output", zap.Error(err))
		lines = d.deps.Supervisor.RecentLogs()
	}
	return DebugPackHeader + strings.Join(lines, "\n")
}

func (d *Dispatcher) getDebugPack(ctx context.Context, _ []json.RawMessage) (any, error) {
	return d.debugPack(ctx), nil
}

func (d *Dispatcher) exportDebugPack(ctx context.Context, params []json.RawMessage) (any, error) {
	var email string
	if err := decodeParams(params, &email); err != nil {
		return nil, err
	}
	if _, err := d.call(ctx, "export_debug_pack", mustJSON(email), mustJSON(d.debugPack(ctx))); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Dispatcher) getNativeInfo(context.Context, []json.RawMessage) (any, error) {
	return d.deps.NativeInfo, nil
}

func (d *Dispatcher) openBrowser(_ context.Context, params []json.RawMessage) (any, error) {
	var url string
	if err := decodeParams(params, &url); err != nil {
		return nil, err
	}
	d.deps.UI.Post(ui.OpenURL{URL: url})
	return nil, nil
}

func mustJSON(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
