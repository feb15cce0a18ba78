// Package participant is the member side of the relay: a client for the
// coordinator's request/ACK protocol, a receiver for broadcast deliveries,
// and a session that enforces the member's local state rules.
package participant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dreamware/relay/internal/protocol"
	"github.com/dreamware/relay/internal/transport"
)

var (
	// ErrNegativeAck is returned when the coordinator answers with a NACK.
	ErrNegativeAck = errors.New("coordinator rejected request")

	// ErrNoReply is returned when the coordinator closes without answering.
	ErrNoReply = errors.New("coordinator closed without replying")
)

// DefaultTimeout bounds one request/reply exchange.
const DefaultTimeout = 5 * time.Second

// Client sends requests on behalf of one pid. Each request uses its own
// connection, closed after the reply.
type Client struct {
	addr    string
	timeout time.Duration
	pid     uint16
}

// NewClient creates a client for the coordinator at addr. A non-positive
// timeout means DefaultTimeout.
func NewClient(addr string, pid uint16, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, pid: pid, timeout: timeout}
}

// PID returns the participant id stamped on every request.
func (c *Client) PID() uint16 {
	return c.pid
}

// Addr returns the coordinator address.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Register(ctx context.Context, port int) error {
	_, err := c.Do(ctx, protocol.TypeRegister, []byte(strconv.Itoa(port)))
	return err
}

func (c *Client) Deregister(ctx context.Context) error {
	_, err := c.Do(ctx, protocol.TypeDeregister, nil)
	return err
}

func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.Do(ctx, protocol.TypeDisconnect, nil)
	return err
}

func (c *Client) Reconnect(ctx context.Context, port int) error {
	_, err := c.Do(ctx, protocol.TypeReconnect, []byte(strconv.Itoa(port)))
	return err
}

// MSend asks the coordinator to broadcast text to the group.
func (c *Client) MSend(ctx context.Context, text string) error {
	_, err := c.Do(ctx, protocol.TypeMSend, []byte(text))
	return err
}

// Do sends one request and waits for its ACK. A NACK is returned together
// with ErrNegativeAck.
func (c *Client) Do(ctx context.Context, t protocol.Type, body []byte) (*protocol.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, c.addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := conn.WriteMessage(protocol.New(t, c.pid, time.Now(), body)); err != nil {
		return nil, fmt.Errorf("send %s: %w", t, err)
	}

	ready, err := conn.Peek(protocol.HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("await reply to %s: %w", t, err)
	}
	if !ready {
		return nil, fmt.Errorf("%s: %w", t, ErrNoReply)
	}

	reply, err := conn.ReadMessage(0)
	if err != nil {
		return nil, fmt.Errorf("read reply to %s: %w", t, err)
	}
	switch reply.Type {
	case protocol.TypeAck:
		return reply, nil
	case protocol.TypeNack:
		return reply, fmt.Errorf("%s: %w", t, ErrNegativeAck)
	default:
		return reply, fmt.Errorf("%s: unexpected reply %s", t, reply.Type)
	}
}
