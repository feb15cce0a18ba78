package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dreamware/relay/internal/protocol"
)

// Conn is one bidirectional TCP connection. Reads go through a buffer so that
// Peek can look ahead without consuming.
type Conn struct {
	c net.Conn
	r *bufio.Reader
}

func newConn(c net.Conn) *Conn {
	return &Conn{c: c, r: bufio.NewReader(c)}
}

// Dial opens a connection to addr. A positive timeout bounds the connect.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newConn(c), nil
}

// RemoteIP returns the peer IP without the port.
func (c *Conn) RemoteIP() string {
	if tcp, ok := c.c.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(c.c.RemoteAddr().String())
	if err != nil {
		return c.c.RemoteAddr().String()
	}
	return host
}

// Peek reports whether at least one byte is ready, waiting for up to n bytes
// without consuming them. A peer that connected and closed without sending
// yields (false, nil).
func (c *Conn) Peek(n int) (bool, error) {
	b, err := c.r.Peek(n)
	if len(b) > 0 {
		return true, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, err
}

// ReceiveAll reads exactly n bytes. A peer that closes before sending
// anything yields io.EOF; a partial read yields io.ErrUnexpectedEOF.
func (c *Conn) ReceiveAll(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// SendAll writes every byte of b.
func (c *Conn) SendAll(b []byte) error {
	for len(b) > 0 {
		n, err := c.c.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// ShutdownWrite half-closes the connection: the peer sees EOF while reads on
// this side keep working.
func (c *Conn) ShutdownWrite() error {
	if cw, ok := c.c.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// SetDeadline sets the read and write deadline. The zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// SetReadDeadline sets the read deadline. The zero time clears it.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

// Close releases the connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// ReadMessage reads one header and its body. A zero maxBody disables the
// size limit.
func (c *Conn) ReadMessage(maxBody uint32) (*protocol.Message, error) {
	raw, err := c.ReceiveAll(protocol.HeaderSize)
	if err != nil {
		return nil, err
	}
	h, err := protocol.DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	msg := &protocol.Message{Header: h}
	if maxBody > 0 && h.BodySize > maxBody {
		return msg, fmt.Errorf("%w: %d > %d", protocol.ErrBodyTooLarge, h.BodySize, maxBody)
	}
	if h.BodySize == 0 {
		return msg, nil
	}
	body, err := c.ReceiveAll(int(h.BodySize))
	if err != nil {
		return nil, err
	}
	msg.Body = body
	return msg, nil
}

// WriteMessage encodes and sends msg.
func (c *Conn) WriteMessage(msg *protocol.Message) error {
	return c.SendAll(protocol.Encode(msg))
}
