// Package transport is the TCP capability surface used by the coordinator and
// participants: a listener with a cancellable accept, and connections that
// move exact byte counts, peek without consuming, and half-close.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultPollInterval bounds how long Accept waits before re-checking its
// context.
const DefaultPollInterval = time.Second

// ErrClosed is returned by Accept once the listener has been closed.
var ErrClosed = errors.New("transport: listener closed")

// Listener accepts inbound TCP connections.
type Listener struct {
	ln           *net.TCPListener
	pollInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds to port on all interfaces. Port 0 picks an ephemeral port.
func Listen(port int) (*Listener, error) {
	return ListenAddr(net.JoinHostPort("", strconv.Itoa(port)))
}

// ListenAddr binds to a host:port address.
func ListenAddr(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{
		ln:           ln,
		pollInterval: DefaultPollInterval,
		closed:       make(chan struct{}),
	}, nil
}

// SetPollInterval changes how often a blocked Accept observes cancellation.
func (l *Listener) SetPollInterval(d time.Duration) {
	if d > 0 {
		l.pollInterval = d
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Port returns the bound port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Poll waits up to timeout for a pending connection and accepts it.
// A zero timeout checks once without waiting; a negative timeout blocks until
// a connection arrives or the listener is closed. ok is false when the
// timeout elapsed with nothing pending.
func (l *Listener) Poll(timeout time.Duration) (conn *Conn, ok bool, err error) {
	var deadline time.Time
	switch {
	case timeout > 0:
		deadline = time.Now().Add(timeout)
	case timeout == 0:
		deadline = time.Now().Add(time.Millisecond)
	}
	if err := l.ln.SetDeadline(deadline); err != nil {
		return nil, false, l.mapErr(err)
	}

	c, err := l.ln.AcceptTCP()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, false, nil
		}
		return nil, false, l.mapErr(err)
	}
	return newConn(c), true, nil
}

// Accept blocks until a connection arrives, ctx is done, or the listener is
// closed. Cancellation is observed within one poll interval.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, ok, err := l.Poll(l.pollInterval)
		if err != nil {
			return nil, err
		}
		if ok {
			return conn, nil
		}
	}
}

// Close stops accepting. Pending Accept calls return ErrClosed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.ln.Close()
	})
	return err
}

func (l *Listener) mapErr(err error) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("accept: %w", err)
}
