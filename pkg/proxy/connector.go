package proxy

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// DefaultConnectTimeout bounds the outbound connect attempt.
const DefaultConnectTimeout = 10 * time.Second

// Dialer opens the outbound connection for a target.
type Dialer interface {
	Dial(ctx context.Context, target Target) (net.Conn, error)
}

// Connector is the default Dialer. The timeout applies to the connect
// attempt only; I/O on the returned connection has no deadline.
type Connector struct {
	Timeout time.Duration
	// DialContext replaces net.Dialer.DialContext when set. Used in tests.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewConnector creates a Connector with the given connect timeout.
func NewConnector(timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Connector{Timeout: timeout}
}

// Dial connects to target over TCP. Failures are returned as *Error with
// KindConnectTimeout, KindConnectionRefused, KindDNSFailure or KindUpstream.
func (c *Connector) Dial(ctx context.Context, target Target) (net.Conn, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := c.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, &Error{Kind: classifyDialError(err), Target: target.Addr(), Err: err}
	}
	return conn, nil
}

// classifyDialError maps a dial failure to its ErrorKind. Resolver errors
// are DNS failures even when the lookup ran into the connect deadline.
func classifyDialError(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNSFailure
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return KindConnectTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	return KindUpstream
}
