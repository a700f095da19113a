package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"gephgui/internal/daemon"
	"gephgui/internal/rpc"
	"gephgui/internal/ui"
)

// Envelope is one call from the front end. The response is delivered by
// evaluating "(CallbackCode)(<response json>)" on the UI thread.
type Envelope struct {
	CallbackCode string      `json:"callback_code"`
	Inner        rpc.Request `json:"inner"`
}

// Supervisor is the daemon lifecycle surface used by the front end.
type Supervisor interface {
	Start(ctx context.Context, cfg daemon.DaemonConfig) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context, cfg daemon.DaemonConfig) error
	IsRunning(ctx context.Context) bool
	RecentLogs() []string
}

// Caller sends RPCs to the daemon.
type Caller interface {
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Poster enqueues UI commands.
type Poster interface {
	Post(cmd ui.Command)
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Supervisor   Supervisor
	Daemon       Caller
	UI           Poster
	Capabilities Capabilities
	NativeInfo   NativeInfo
	Logger       *zap.Logger
}

type method func(ctx context.Context, params []json.RawMessage) (any, error)

// Dispatcher serves front-end calls. Each call runs on its own goroutine and
// replies through the UI bus, so calls may complete out of order.
type Dispatcher struct {
	deps    Deps
	log     *zap.Logger
	methods map[string]method
	wg      sync.WaitGroup
}

func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	d := &Dispatcher{deps: deps, log: deps.Logger}
	d.methods = d.routes()
	return d
}

// Handle parses one envelope and answers it asynchronously.
func (d *Dispatcher) Handle(ctx context.Context, line []byte) error {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return fmt.Errorf("invalid ipc envelope: %w", err)
	}
	if env.CallbackCode == "" {
		return errors.New("invalid ipc envelope: missing callback_code")
	}
	d.log.Debug("ipc", zap.String("method", env.Inner.Method))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resp := d.Respond(ctx, &env.Inner)
		data, err := json.Marshal(resp)
		if err != nil {
			d.log.Error("failed to encode ipc response", zap.Error(err))
			return
		}
		d.deps.UI.Post(ui.EvalScript{Script: fmt.Sprintf("(%s)(%s)", env.CallbackCode, data)})
	}()
	return nil
}

// Respond runs one request synchronously.
func (d *Dispatcher) Respond(ctx context.Context, req *rpc.Request) *rpc.Response {
	m, ok := d.methods[req.Method]
	if !ok {
		return rpc.ErrorResponse(req.ID, rpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
	result, err := m(ctx, req.Params)
	if err != nil {
		var pe *paramError
		if errors.As(err, &pe) {
			return rpc.ErrorResponse(req.ID, rpc.CodeInvalidParams, err.Error())
		}
		return rpc.ErrorResponse(req.ID, rpc.CodeServerError, err.Error())
	}
	resp, err := rpc.ResultResponse(req.ID, result)
	if err != nil {
		return rpc.ErrorResponse(req.ID, rpc.CodeInternalError, err.Error())
	}
	return resp
}

// Serve reads newline-delimited envelopes from r until EOF or ctx is done,
// then waits for in-flight calls. A blocked read on r is abandoned when ctx
// is cancelled.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader) error {
	defer d.wg.Wait()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 16<<20)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			if err := d.Handle(ctx, line); err != nil {
				d.log.Warn("dropping ipc line", zap.Error(err))
			}
		}
	}
}

// Wait blocks until every in-flight call has posted its reply.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Methods lists the served method names.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	return names
}

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

// decodeParams unmarshals positional params into dst, one per pointer.
func decodeParams(params []json.RawMessage, dst ...any) error {
	if len(params) != len(dst) {
		return &paramError{msg: fmt.Sprintf("expected %d params, got %d", len(dst), len(params))}
	}
	for i, p := range params {
		if err := json.Unmarshal(p, dst[i]); err != nil {
			return &paramError{msg: fmt.Sprintf("param %d: %v", i, err)}
		}
	}
	return nil
}
