package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	pkgerrors "gephgui/pkg/errors"
)

// DefaultConnectTimeout fails fast when nothing listens on the control port.
const DefaultConnectTimeout = 50 * time.Millisecond

const maxResponseSize = 16 << 20

// Transport delivers one request and returns its response.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// TCPTransport opens a connection per request to the daemon's loopback
// control address and exchanges one newline-terminated JSON object each way.
type TCPTransport struct {
	Addr           string
	ConnectTimeout time.Duration
}

func NewTCPTransport(addr string, connectTimeout time.Duration) *TCPTransport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &TCPTransport{Addr: addr, ConnectTimeout: connectTimeout}
}

func (t *TCPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	d := net.Dialer{Timeout: t.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrTransportConnectFailed, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, t.ioError(ctx, err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := readLine(reader)
	if err != nil {
		return nil, t.ioError(ctx, err)
	}
	return ParseResponse(line, req.ID)
}

func (t *TCPTransport) ioError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrTransportTimeout, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", pkgerrors.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", pkgerrors.ErrTransportConnectFailed, err)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
		if len(line) > maxResponseSize {
			return nil, fmt.Errorf("%w: response exceeds %d bytes", pkgerrors.ErrMalformedResponse, maxResponseSize)
		}
	}
}
