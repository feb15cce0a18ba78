package coordinator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/relay/internal/protocol"
	"github.com/dreamware/relay/internal/storage"
	"github.com/dreamware/relay/internal/telemetry"
	"github.com/dreamware/relay/internal/transport"
)

// Delivery kinds used in metrics and logs.
const (
	kindFanout = "fanout"
	kindReplay = "replay"
)

// parsePort reads a REGISTER/RECONNECT body: the decimal delivery port.
func parsePort(body []byte) (int, error) {
	s := strings.TrimSpace(strings.TrimRight(string(body), "\x00"))
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("delivery port %q: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("delivery port %d out of range", port)
	}
	return port, nil
}

// handleRegister records the peer address and delivery port and marks pid
// connected. Registering an already-registered pid changes nothing.
func (c *Coordinator) handleRegister(log *zap.Logger, msg *protocol.Message, peer string) {
	port, err := parsePort(msg.Body)
	if err != nil {
		log.Warn("ignoring register", zap.Error(err))
		return
	}

	unlock := c.dir.Lock(msg.PID)
	defer unlock()

	if !c.dir.Register(msg.PID, peer, port) {
		log.Debug("already registered")
		return
	}
	log.Info("participant registered", zap.String("addr", peer), zap.Int("port", port))
	c.refreshGauges()
}

// handleDeregister removes pid, discarding its log if it was disconnected.
func (c *Coordinator) handleDeregister(log *zap.Logger, pid uint16) {
	unlock := c.dir.Lock(pid)
	defer unlock()

	p, ok := c.dir.Remove(pid)
	if !ok {
		log.Debug("deregister for unregistered pid")
		return
	}
	if !p.Connected && !c.store.Discard(pid) {
		c.violation(log, "deregister", storage.ErrNoLog)
	}
	log.Info("participant deregistered")
	c.refreshGauges()
}

// handleDisconnect opens an empty log for pid stamped with now. A second
// DISCONNECT leaves the first log and its timestamp in place.
func (c *Coordinator) handleDisconnect(log *zap.Logger, pid uint16, now time.Time) {
	unlock := c.dir.Lock(pid)
	defer unlock()

	p, ok := c.dir.Get(pid)
	if !ok || !p.Connected {
		log.Debug("disconnect ignored", zap.Bool("registered", ok))
		return
	}
	if err := c.store.Open(pid, now); err != nil {
		c.violation(log, "disconnect", err)
		return
	}
	c.dir.SetConnected(pid, false)
	log.Info("participant disconnected")
	c.refreshGauges()
}

// handleReconnect replays the still-eligible backlog to the new delivery
// port, drops the log and marks pid connected. The replay happens before pid
// is visible as connected, so any broadcast fanned out to pid afterwards
// arrives after the backlog.
func (c *Coordinator) handleReconnect(log *zap.Logger, msg *protocol.Message, now time.Time) {
	port, err := parsePort(msg.Body)
	if err != nil {
		log.Warn("ignoring reconnect", zap.Error(err))
		return
	}
	pid := msg.PID

	unlock := c.dir.Lock(pid)
	defer unlock()

	p, ok := c.dir.Get(pid)
	if !ok || p.Connected {
		log.Debug("reconnect ignored", zap.Bool("registered", ok))
		return
	}

	pending := c.store.Pending(pid)
	entries, err := c.store.ReplayAndClear(pid, now)
	if err != nil {
		c.violation(log, "reconnect", err)
	}
	if expired := pending - len(entries); expired > 0 {
		telemetry.ExpiredTotal.WithLabelValues(kindReplay).Add(float64(expired))
	}

	c.dir.SetPort(pid, port)
	p.Port = port

	if len(entries) > 0 {
		batch := make([]*protocol.Message, 0, len(entries))
		for _, e := range entries {
			batch = append(batch, protocol.New(protocol.TypeMultiMessage, e.SenderPID, e.Arrival, e.Body))
		}
		addr := deliveryAddr(p)
		if err := c.deliver(addr, batch); err != nil {
			telemetry.DeliveriesTotal.WithLabelValues(kindReplay, "failed").Inc()
			log.Warn("replay failed", zap.String("addr", addr), zap.Int("messages", len(batch)), zap.Error(err))
		} else {
			telemetry.DeliveriesTotal.WithLabelValues(kindReplay, "ok").Inc()
		}
	}

	c.dir.SetConnected(pid, true)
	log.Info("participant reconnected",
		zap.Int("port", port),
		zap.Int("replayed", len(entries)),
		zap.Int("expired", pending-len(entries)))
	c.refreshGauges()
}

// handleMSend delivers the broadcast to every connected participant and
// buffers it for every disconnected one. Each recipient is handled under its
// own pid lock; a failed delivery is logged and the loop moves on. Buffered
// copies carry the receipt sequence so that concurrent broadcasts land in a
// log in the order they were read.
func (c *Coordinator) handleMSend(log *zap.Logger, msg *protocol.Message, rc receipt) {
	envelope := protocol.New(protocol.TypeMultiMessage, msg.PID, rc.at, msg.Body)

	var delivered, buffered, failed int
	for _, p := range c.dir.Snapshot() {
		switch c.deliverOrBuffer(log, p.PID, envelope, rc.seq) {
		case outcomeDelivered:
			delivered++
		case outcomeBuffered:
			buffered++
		case outcomeFailed:
			failed++
		}
	}
	log.Debug("broadcast complete",
		zap.Int("bytes", len(msg.Body)),
		zap.Int("delivered", delivered),
		zap.Int("buffered", buffered),
		zap.Int("failed", failed))
	if buffered > 0 {
		c.refreshGauges()
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeBuffered
	outcomeFailed
)

// deliverOrBuffer re-reads pid's state under its lock so a concurrent
// DISCONNECT or RECONNECT is ordered strictly before or after this message.
func (c *Coordinator) deliverOrBuffer(log *zap.Logger, pid uint16, envelope *protocol.Message, seq uint64) outcome {
	unlock := c.dir.Lock(pid)
	defer unlock()

	p, ok := c.dir.Get(pid)
	if !ok {
		return outcomeSkipped
	}

	if !p.Connected {
		err := c.store.Append(pid, storage.Entry{
			Arrival:   envelope.Arrival(),
			Body:      envelope.Body,
			SenderPID: envelope.PID,
			Seq:       seq,
		})
		if err != nil {
			c.violation(log.With(zap.Uint16("recipient", pid)), "append", err)
			return outcomeFailed
		}
		telemetry.BufferedTotal.Inc()
		return outcomeBuffered
	}

	addr := deliveryAddr(p)
	if err := c.deliver(addr, []*protocol.Message{envelope}); err != nil {
		telemetry.DeliveriesTotal.WithLabelValues(kindFanout, "failed").Inc()
		log.Warn("delivery failed", zap.Uint16("recipient", pid), zap.String("addr", addr), zap.Error(err))
		return outcomeFailed
	}
	telemetry.DeliveriesTotal.WithLabelValues(kindFanout, "ok").Inc()
	return outcomeDelivered
}

// deliver opens one outbound connection to addr, writes every message in
// order, half-closes and closes. The whole exchange is bounded by the
// delivery timeout.
func (c *Coordinator) deliver(addr string, batch []*protocol.Message) error {
	timeout := c.cfg.DeliveryTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	for _, msg := range batch {
		if err := conn.WriteMessage(msg); err != nil {
			return fmt.Errorf("write to %s: %w", addr, err)
		}
	}
	return conn.ShutdownWrite()
}

func deliveryAddr(p Participant) string {
	return net.JoinHostPort(p.Addr, strconv.Itoa(p.Port))
}

// violation records a lookup error that means pid was handled outside its
// legal transitions.
func (c *Coordinator) violation(log *zap.Logger, op string, err error) {
	telemetry.InvariantViolations.Inc()
	log.Error("message store invariant violated", zap.String("op", op), zap.Error(err))
}

func (c *Coordinator) refreshGauges() {
	connected, disconnected := c.dir.Counts()
	telemetry.Participants.WithLabelValues("connected").Set(float64(connected))
	telemetry.Participants.WithLabelValues("disconnected").Set(float64(disconnected))
	telemetry.PendingMessages.Set(float64(c.store.Stats().Messages))
}
