package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrState is returned when a command does not fit the session's current
// state. The wrapped message says what to do instead.
var ErrState = errors.New("invalid participant state")

func stateError(reason string) error {
	return fmt.Errorf("%w: %s", ErrState, reason)
}

// Session tracks one participant's registration and connectivity and owns
// its delivery receiver.
//
// The receiver is bound before REGISTER or RECONNECT is sent: the
// coordinator may start a replay the moment it has acknowledged a
// RECONNECT, and that connection must find a listener.
//
// Thread Safety:
// All methods are safe for concurrent use; commands are serialized.
type Session struct {
	client     *Client
	logPath    string
	onDelivery func(Delivery)
	logger     *zap.Logger
	receiver   *Receiver
	registered bool
	connected  bool
	mu         sync.Mutex
}

// NewSession creates an unregistered session. Deliveries are appended to
// logPath and passed to onDelivery.
func NewSession(client *Client, logPath string, onDelivery func(Delivery), logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		client:     client,
		logPath:    logPath,
		onDelivery: onDelivery,
		logger:     logger,
	}
}

// State reports whether the session is registered and connected.
func (s *Session) State() (registered, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered, s.connected
}

// DeliveryPort returns the port deliveries are received on, or 0 while
// disconnected.
func (s *Session) DeliveryPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiver == nil {
		return 0
	}
	return s.receiver.Port()
}

// Register joins the group, receiving deliveries on port (0 picks one).
func (s *Session) Register(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return stateError("you are already registered")
	}
	if err := s.openReceiver(port, func(p int) error { return s.client.Register(ctx, p) }); err != nil {
		return err
	}
	s.registered = true
	s.connected = true
	return nil
}

// Deregister leaves the group. The session must be disconnected first.
func (s *Session) Deregister(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return stateError("you are already deregistered")
	}
	if s.connected {
		return stateError("please disconnect before deregistering")
	}
	if err := s.client.Deregister(ctx); err != nil {
		return err
	}
	s.registered = false
	return nil
}

// Disconnect goes offline; the coordinator buffers broadcasts until Reconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return stateError("you must be registered to disconnect")
	}
	if !s.connected {
		return stateError("you are already disconnected")
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return err
	}
	s.closeReceiver()
	s.connected = false
	return nil
}

// Reconnect comes back online on port (0 picks one). Buffered broadcasts
// still inside the persistence window are delivered first.
func (s *Session) Reconnect(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return stateError("you must be registered to reconnect")
	}
	if s.connected {
		return stateError("you are already connected")
	}
	if err := s.openReceiver(port, func(p int) error { return s.client.Reconnect(ctx, p) }); err != nil {
		return err
	}
	s.connected = true
	return nil
}

// MSend broadcasts text to the group.
func (s *Session) MSend(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return stateError("you must be registered to send messages")
	}
	if !s.connected {
		return stateError("you must be connected to send messages")
	}
	return s.client.MSend(ctx, text)
}

// CanQuit reports whether the process may exit without leaving the
// coordinator believing this participant is still connected.
func (s *Session) CanQuit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return stateError("please disconnect before quitting")
	}
	return nil
}

// Close releases the receiver without talking to the coordinator.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeReceiver()
	return nil
}

// openReceiver binds the delivery port, then sends the request. The
// receiver is released again if the request fails.
func (s *Session) openReceiver(port int, request func(port int) error) error {
	r, err := Listen(port, s.logPath, s.onDelivery, s.logger)
	if err != nil {
		return fmt.Errorf("bind delivery port: %w", err)
	}
	if err := request(r.Port()); err != nil {
		_ = r.Close()
		return err
	}
	s.receiver = r
	s.logger.Debug("receiving deliveries", zap.Int("port", r.Port()))
	return nil
}

func (s *Session) closeReceiver() {
	if s.receiver == nil {
		return
	}
	if err := s.receiver.Close(); err != nil {
		s.logger.Debug("close receiver", zap.Error(err))
	}
	s.receiver = nil
}
