package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dreamware/relay/internal/cluster"
	"github.com/dreamware/relay/internal/config"
	"github.com/dreamware/relay/internal/protocol"
	"github.com/dreamware/relay/internal/storage"
	"github.com/dreamware/relay/internal/telemetry"
	"github.com/dreamware/relay/internal/transport"
)

// ErrNotStarted is returned by Serve when Start has not bound a listener.
var ErrNotStarted = errors.New("coordinator: not started")

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces the receipt-time source. Times are truncated to whole
// seconds, matching the wire format.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStore replaces the default in-memory message store.
func WithStore(store storage.Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithPollInterval sets how often the accept loop checks for a stop request.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// Coordinator accepts participant requests, acknowledges them, and runs the
// registration state machine, broadcast fan-out and replay.
//
// Lifecycle:
//
//	c := coordinator.New(cfg, coordinator.WithLogger(logger))
//	if err := c.Start(); err != nil { ... }  // bind failures surface here
//	go c.Serve(ctx)
//	...
//	c.Stop()  // observed within one poll interval
//	c.Wait()  // optional: drain in-flight handlers
//
// Thread Safety:
// Serve runs one goroutine per accepted connection, bounded by
// MaxConnections. Handlers for the same pid are serialized by
// Directory.Lock; handlers for different pids run in parallel.
type Coordinator struct {
	cfg          config.Coordinator
	dir          *Directory
	store        storage.Store
	janitor      *storage.Janitor
	receipts     *receipts
	now          func() time.Time
	logger       *zap.Logger
	ln           *transport.Listener
	sem          chan struct{}
	limiter      *rate.Limiter
	stopCtx      context.Context
	stop         context.CancelFunc
	pollInterval time.Duration
	handlers     sync.WaitGroup
	running      atomic.Bool
	mu           sync.Mutex
}

// New creates a coordinator from cfg. Zero-valued tuning fields fall back to
// the config package defaults.
func New(cfg config.Coordinator, opts ...Option) *Coordinator {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = config.DefaultMaxConnections
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = config.DefaultDeliveryTimeout
	}

	c := &Coordinator{
		cfg:          cfg,
		dir:          NewDirectory(),
		now:          time.Now,
		logger:       zap.NewNop(),
		pollInterval: transport.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = storage.NewMemoryStore(cfg.Persistence())
	}
	c.receipts = newReceipts(c.stamp)
	c.sem = make(chan struct{}, cfg.MaxConnections)
	if cfg.AcceptRate > 0 {
		burst := int(cfg.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	if cfg.SweepInterval > 0 {
		c.janitor = storage.NewJanitor(c.store, cfg.SweepInterval, c.logger.Named("janitor"))
		c.janitor.SetClock(c.receipts.horizon)
		c.janitor.SetOnPrune(func(dropped int) {
			telemetry.ExpiredTotal.WithLabelValues("sweep").Add(float64(dropped))
			c.refreshGauges()
		})
	}
	return c
}

// Start binds the listening port. It does not accept connections; call Serve.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln != nil {
		return nil
	}
	ln, err := transport.Listen(c.cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("bind coordinator port %d: %w", c.cfg.ListenPort, err)
	}
	ln.SetPollInterval(c.pollInterval)
	c.ln = ln
	c.stopCtx, c.stop = context.WithCancel(context.Background())
	c.running.Store(true)
	c.logger.Info("coordinator listening",
		zap.Int("port", ln.Port()),
		zap.Duration("persistence", c.cfg.Persistence()),
		zap.Int("max_connections", c.cfg.MaxConnections))
	return nil
}

// Serve runs the accept loop until ctx is done or Stop is called, then closes
// the listener. In-flight handlers are not interrupted.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.mu.Lock()
	ln := c.ln
	if ln == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(c.stopCtx, cancel)
	c.mu.Unlock()

	defer func() {
		unhook()
		c.running.Store(false)
		cancel()
		_ = ln.Close()
		if c.janitor != nil {
			c.janitor.Stop()
		}
		c.logger.Info("coordinator stopped")
	}()

	if c.janitor != nil {
		c.janitor.Start(ctx)
	}

	for c.running.Load() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			c.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				_ = conn.Close()
				return nil
			}
		}

		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		}

		c.handlers.Add(1)
		go func() {
			defer c.handlers.Done()
			defer func() { <-c.sem }()
			c.handleConn(conn)
		}()
	}
	return nil
}

// Run binds and serves until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Serve(ctx)
}

// Stop asks the accept loop to exit. It returns immediately.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running.Store(false)
	if c.stop != nil {
		c.stop()
	}
}

// Wait blocks until every in-flight connection handler has returned.
func (c *Coordinator) Wait() {
	c.handlers.Wait()
}

// Addr returns the bound address, or nil before Start.
func (c *Coordinator) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Port returns the bound port, or 0 before Start.
func (c *Coordinator) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return 0
	}
	return c.ln.Port()
}

// Participants returns the admin view of the directory, ordered by pid.
func (c *Coordinator) Participants() []cluster.ParticipantInfo {
	entries := c.dir.Snapshot()
	out := make([]cluster.ParticipantInfo, 0, len(entries))
	for _, p := range entries {
		info := cluster.ParticipantInfo{
			PID:   p.PID,
			Addr:  p.Addr,
			Port:  p.Port,
			State: cluster.StateConnected,
		}
		if !p.Connected {
			info.State = cluster.StateDisconnected
			info.Pending = c.store.Pending(p.PID)
		}
		out = append(out, info)
	}
	return out
}

// stamp is the receipt time at wire resolution.
func (c *Coordinator) stamp() time.Time {
	return time.Unix(c.now().Unix(), 0)
}

// handleConn reads one request, replies ACK or NACK, closes the connection
// and then runs the handler.
func (c *Coordinator) handleConn(conn *transport.Conn) {
	defer conn.Close()

	telemetry.InFlight.Inc()
	defer telemetry.InFlight.Dec()

	peer := conn.RemoteIP()
	log := c.logger.With(zap.String("conn", uuid.NewString()), zap.String("peer", peer))

	if c.cfg.RequestTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout))
	}

	ready, err := conn.Peek(protocol.HeaderSize)
	if err != nil {
		log.Debug("peek failed", zap.Error(err))
		return
	}
	if !ready {
		log.Debug("peer closed without sending")
		return
	}

	msg, err := conn.ReadMessage(c.cfg.MaxBodySize)
	if errors.Is(err, protocol.ErrBodyTooLarge) {
		log.Warn("rejecting oversized request", zap.Uint16("pid", msg.PID), zap.Error(err))
		c.reply(conn, log, protocol.TypeNack, msg.Header)
		return
	}
	if err != nil {
		log.Debug("incomplete request", zap.Error(err))
		return
	}

	rc, release := c.receipts.receive(msg.Type)
	defer release()
	msg.ArrivalTime = rc.at.Unix()
	log = log.With(zap.Stringer("type", msg.Type), zap.Uint16("pid", msg.PID))

	if msg.Type == protocol.TypeInvalid {
		log.Warn("rejecting invalid message type")
		c.reply(conn, log, protocol.TypeNack, msg.Header)
		return
	}

	c.reply(conn, log, protocol.TypeAck, msg.Header)
	_ = conn.Close()

	start := time.Now()
	c.dispatch(log, msg, peer, rc)
	telemetry.RequestDuration.WithLabelValues(msg.Type.String()).Observe(time.Since(start).Seconds())
}

func (c *Coordinator) reply(conn *transport.Conn, log *zap.Logger, t protocol.Type, req protocol.Header) {
	result := "ack"
	if t == protocol.TypeNack {
		result = "nack"
	}
	telemetry.RequestsTotal.WithLabelValues(req.Type.String(), result).Inc()

	if err := conn.WriteMessage(protocol.New(t, req.PID, c.stamp(), nil)); err != nil {
		log.Debug("reply not delivered", zap.Stringer("reply", t), zap.Error(err))
	}
}

func (c *Coordinator) dispatch(log *zap.Logger, msg *protocol.Message, peer string, rc receipt) {
	switch msg.Type {
	case protocol.TypeRegister:
		c.handleRegister(log, msg, peer)
	case protocol.TypeDeregister:
		c.handleDeregister(log, msg.PID)
	case protocol.TypeDisconnect:
		c.handleDisconnect(log, msg.PID, rc.at)
	case protocol.TypeReconnect:
		c.handleReconnect(log, msg, rc.at)
	case protocol.TypeMSend:
		c.handleMSend(log, msg, rc)
	default:
		log.Debug("ignoring non-request message")
	}
}
