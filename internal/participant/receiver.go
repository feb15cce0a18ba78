package participant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/relay/internal/protocol"
	"github.com/dreamware/relay/internal/transport"
)

// deliveryReadTimeout bounds how long one coordinator connection may hold
// the receiver.
const deliveryReadTimeout = 5 * time.Second

// Delivery is one broadcast received from the coordinator.
type Delivery struct {
	Arrival   time.Time // Coordinator receipt time of the original MSEND
	Body      string
	SenderPID uint16
}

// String renders the delivery the way it is written to the message log.
func (d Delivery) String() string {
	return fmt.Sprintf("[Multicast Message Sent from Participant #%d]: %s", d.SenderPID, d.Body)
}

// Receiver accepts the coordinator's delivery connections on the
// participant's delivery port, appends every delivery to the log file and
// hands it to the callback.
//
// Connections are served one at a time in accept order, which is the order
// the coordinator sent them in. A replay batch arrives on a single
// connection and is processed in order.
type Receiver struct {
	ln        *transport.Listener
	logPath   string
	onMessage func(Delivery)
	logger    *zap.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // serializes log file writes
}

// Listen binds port (0 picks one) and starts receiving in the background.
// An empty logPath disables the log file; a nil onMessage is allowed.
func Listen(port int, logPath string, onMessage func(Delivery), logger *zap.Logger) (*Receiver, error) {
	ln, err := transport.Listen(port)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		ln:        ln,
		logPath:   logPath,
		onMessage: onMessage,
		logger:    logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	ln.SetPollInterval(100 * time.Millisecond)
	go r.run(ctx)
	return r, nil
}

// Port returns the bound delivery port.
func (r *Receiver) Port() int {
	return r.ln.Port()
}

// Close stops accepting and waits for the receive loop to exit.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.ln.Close()
		<-r.done
	})
	return err
}

func (r *Receiver) run(ctx context.Context) {
	defer close(r.done)
	for {
		conn, err := r.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				r.logger.Warn("delivery accept failed", zap.Error(err))
			}
			return
		}
		r.serve(conn)
	}
}

func (r *Receiver) serve(conn *transport.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(deliveryReadTimeout))

	for {
		ready, err := conn.Peek(protocol.HeaderSize)
		if err != nil || !ready {
			return
		}
		msg, err := conn.ReadMessage(0)
		if err != nil {
			r.logger.Debug("incomplete delivery", zap.Error(err))
			return
		}
		if msg.Type != protocol.TypeMultiMessage {
			r.logger.Debug("ignoring non-delivery message", zap.Stringer("type", msg.Type))
			continue
		}

		d := Delivery{SenderPID: msg.PID, Arrival: msg.Arrival(), Body: msg.Text()}
		if err := r.record(d); err != nil {
			r.logger.Warn("message log write failed", zap.String("path", r.logPath), zap.Error(err))
		}
		if r.onMessage != nil {
			r.onMessage(d)
		}
	}
}

func (r *Receiver) record(d Delivery) error {
	if r.logPath == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(d.String() + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
