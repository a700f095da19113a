package daemon

import (
	"context"
	"net"
	"time"
)

// DefaultProbeTimeout bounds one reachability attempt.
const DefaultProbeTimeout = 200 * time.Millisecond

// Prober reports whether the daemon's control endpoint accepts connections.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// TCPProber dials the control address.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

func NewTCPProber(addr string) *TCPProber {
	return &TCPProber{Addr: addr, Timeout: DefaultProbeTimeout}
}

func (p *TCPProber) Reachable(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
