package coordinator

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/relay/internal/config"
	"github.com/dreamware/relay/internal/protocol"
	"github.com/dreamware/relay/internal/storage"
	"github.com/dreamware/relay/internal/transport"
)

var epoch = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func testConfig(persistence int) config.Coordinator {
	cfg := config.DefaultCoordinator()
	cfg.ListenPort = 0
	cfg.PersistenceTime = persistence
	cfg.DeliveryTimeout = 2 * time.Second
	cfg.SweepInterval = 0
	return cfg
}

// harness drives handlers directly, bypassing the accept loop, so each
// request's effects are complete when send returns.
type harness struct {
	c     *Coordinator
	clock *fakeClock
}

func newHarness(t *testing.T, persistence int) *harness {
	t.Helper()
	clock := newFakeClock()
	c := New(testConfig(persistence), WithClock(clock.Now), WithLogger(zap.NewNop()))
	return &harness{c: c, clock: clock}
}

func (h *harness) send(typ protocol.Type, pid uint16, body string) {
	rc, release := h.c.receipts.receive(typ)
	defer release()
	h.dispatch(typ, pid, body, rc)
}

// dispatch runs a request under an already issued receipt.
func (h *harness) dispatch(typ protocol.Type, pid uint16, body string, rc receipt) {
	msg := protocol.NewText(typ, pid, time.Time{}, body)
	msg.ArrivalTime = rc.at.Unix()
	h.c.dispatch(h.c.logger, msg, "127.0.0.1", rc)
}

func (h *harness) register(pid uint16, port int) {
	h.send(protocol.TypeRegister, pid, strconv.Itoa(port))
}

func (h *harness) reconnect(pid uint16, port int) {
	h.send(protocol.TypeReconnect, pid, strconv.Itoa(port))
}

func (h *harness) memStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	m, ok := h.c.store.(*storage.MemoryStore)
	require.True(t, ok, "expected default MemoryStore")
	return m
}

// requireExclusive checks that no pid is both connected and holding a log,
// and that every disconnected pid has one.
func requireExclusive(t *testing.T, c *Coordinator) {
	t.Helper()
	for _, p := range c.dir.Snapshot() {
		if p.Connected {
			require.False(t, c.store.Has(p.PID), "pid %d connected with an open log", p.PID)
		} else {
			require.True(t, c.store.Has(p.PID), "pid %d disconnected without a log", p.PID)
		}
	}
}

// sink is a participant delivery port that records every MULTI_MESSAGE.
type sink struct {
	ln   *transport.Listener
	msgs chan *protocol.Message
}

func newSink(t *testing.T) *sink {
	t.Helper()
	ln, err := transport.ListenAddr("127.0.0.1:0")
	require.NoError(t, err)
	ln.SetPollInterval(20 * time.Millisecond)

	s := &sink{ln: ln, msgs: make(chan *protocol.Message, 128)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					msg, err := conn.ReadMessage(0)
					if err != nil {
						return
					}
					s.msgs <- msg
				}
			}()
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	return s
}

func (s *sink) port() int {
	return s.ln.Port()
}

// expect waits for n messages and returns their bodies in receipt order.
func (s *sink) expect(t *testing.T, n int) []string {
	t.Helper()
	var bodies []string
	for i := 0; i < n; i++ {
		select {
		case msg := <-s.msgs:
			require.Equal(t, protocol.TypeMultiMessage, msg.Type)
			bodies = append(bodies, msg.Text())
		case <-time.After(2 * time.Second):
			require.Failf(t, "missing delivery", "got %d of %d: %v", i, n, bodies)
		}
	}
	return bodies
}

func (s *sink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-s.msgs:
		require.Failf(t, "unexpected delivery", "%s from pid %d", msg.Text(), msg.PID)
	case <-time.After(100 * time.Millisecond):
	}
}

// deadPort returns a loopback port with nothing listening on it.
func deadPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
