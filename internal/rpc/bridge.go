package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gephgui/internal/metrics"
	pkgerrors "gephgui/pkg/errors"
)

// DefaultCallTimeout bounds a call across both transports.
const DefaultCallTimeout = 5 * time.Second

// Bridge routes requests to the running daemon, falling back to an
// in-process LocalService when the daemon cannot be reached.
type Bridge struct {
	primary  Transport
	newLocal func() *LocalService
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger

	localOnce sync.Once
	local     *LocalService
}

// BridgeOptions configures a Bridge. NewLocal is called at most once, on the
// first fallback.
type BridgeOptions struct {
	Primary     Transport
	NewLocal    func() *LocalService
	CallTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

func NewBridge(opts BridgeOptions) *Bridge {
	if opts.NewLocal == nil {
		opts.NewLocal = NewLocalService
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{
		primary:  opts.Primary,
		newLocal: opts.NewLocal,
		timeout:  opts.CallTimeout,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// Local returns the in-process service, constructing it on first use.
func (b *Bridge) Local() *LocalService {
	b.localOnce.Do(func() {
		b.log.Info("starting in-process daemon service")
		b.local = b.newLocal()
	})
	return b.local
}

// Dispatch sends req to the daemon, or to the local service if the daemon
// transport fails. A response that arrives but cannot be decoded is not
// retried locally.
func (b *Bridge) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.primary.RoundTrip(ctx, req)
	if err == nil {
		b.metrics.RecordBridgeCall(metrics.TransportDaemon, outcome(resp))
		return resp, nil
	}
	if ctx.Err() != nil {
		b.metrics.RecordBridgeCall(metrics.TransportDaemon, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrTransportTimeout, req.Method)
	}
	if errors.Is(err, pkgerrors.ErrMalformedResponse) || errors.Is(err, pkgerrors.ErrTransportTimeout) {
		b.metrics.RecordBridgeCall(metrics.TransportDaemon, metrics.OutcomeError)
		return nil, err
	}

	b.log.Debug("daemon unreachable, dispatching in-process",
		zap.String("method", req.Method), zap.Error(err))

	local := b.Local()
	done := make(chan *Response, 1)
	go func() { done <- local.Serve(ctx, req) }()

	select {
	case resp := <-done:
		b.metrics.RecordBridgeCall(metrics.TransportFallback, outcome(resp))
		return resp, nil
	case <-ctx.Done():
		b.metrics.RecordBridgeCall(metrics.TransportFallback, metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrTransportTimeout, req.Method)
	}
}

// Call is Dispatch for callers that want the result value. An error object
// in the response comes back as *errors.RemoteError.
func (b *Bridge) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	req, err := NewRequest(method, params...)
	if err != nil {
		return nil, err
	}
	resp, err := b.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func outcome(resp *Response) string {
	if resp.Error != nil {
		return metrics.OutcomeError
	}
	return metrics.OutcomeOK
}
