package coordinator

import (
	"sync"
	"time"

	"github.com/dreamware/relay/internal/protocol"
)

// receipt is when a request was read, at wire resolution, and its position in
// the coordinator's receipt order.
type receipt struct {
	at  time.Time
	seq uint64
}

// receipts hands out receipt stamps and remembers the stamps of RECONNECTs
// whose replay has not run yet. The janitor prunes against the oldest of
// those, so an entry is never dropped while an in-flight replay measured at
// an earlier instant could still return it.
type receipts struct {
	now   func() time.Time
	holds map[int64]int
	next  uint64
	mu    sync.Mutex
}

func newReceipts(now func() time.Time) *receipts {
	return &receipts{now: now, holds: make(map[int64]int)}
}

// receive stamps one request. The returned release must be called once the
// request has been handled.
func (r *receipts) receive(t protocol.Type) (receipt, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	rc := receipt{at: r.now(), seq: r.next}
	if t != protocol.TypeReconnect {
		return rc, func() {}
	}

	sec := rc.at.Unix()
	r.holds[sec]++
	return rc, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.holds[sec]--
		if r.holds[sec] <= 0 {
			delete(r.holds, sec)
		}
	}
}

// horizon is the instant the janitor may prune against: the current time, or
// the oldest pending RECONNECT stamp if that is earlier.
func (r *receipts) horizon() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.now()
	for sec := range r.holds {
		if t := time.Unix(sec, 0); t.Before(h) {
			h = t
		}
	}
	return h
}

// pending reports how many RECONNECTs hold the horizon back.
func (r *receipts) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.holds {
		n += c
	}
	return n
}
