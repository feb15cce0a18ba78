package storage

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoLog is returned when a participant has no open log, i.e. it is not
	// currently disconnected.
	ErrNoLog = errors.New("no message log for participant")

	// ErrLogExists is returned by Open when the participant already has a log.
	ErrLogExists = errors.New("message log already open for participant")
)

// Entry is one broadcast buffered for a disconnected participant.
type Entry struct {
	Arrival   time.Time // Coordinator receipt time of the original MSEND
	Body      []byte    // Broadcast payload
	SenderPID uint16    // Participant that sent the MSEND
	Seq       uint64    // Receipt order of the MSEND; zero appends at the end
}

// Store defines the interface for per-participant message logs.
// All implementations must be thread-safe for concurrent access.
type Store interface {
	// Open creates an empty log for pid stamped with the disconnect time.
	// Returns ErrLogExists if pid already has a log.
	Open(pid uint16, at time.Time) error

	// Append adds e to pid's log, after every entry whose Seq is not greater.
	// Returns ErrNoLog if pid has no open log.
	Append(pid uint16, e Entry) error

	// ReplayAndClear returns the entries still inside the persistence window
	// at now, in arrival order, and deletes the log.
	// Returns ErrNoLog if pid has no open log.
	ReplayAndClear(pid uint16, now time.Time) ([]Entry, error)

	// Discard deletes pid's log without replaying it.
	// Reports whether a log existed.
	Discard(pid uint16) bool

	// Has reports whether pid has an open log.
	Has(pid uint16) bool

	// Pending returns the number of entries buffered for pid.
	Pending(pid uint16) int

	// Prune drops entries that can no longer be replayed at or after now.
	// Returns the number of entries dropped.
	Prune(now time.Time) int

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Logs     int // Number of open logs (disconnected participants)
	Messages int // Number of buffered entries across all logs
	Bytes    int // Total body bytes across all logs
}

// messageLog is the ordered backlog of one disconnected participant.
type messageLog struct {
	openedAt time.Time
	entries  []Entry
	mu       sync.Mutex
}

// MemoryStore implements Store with in-memory logs.
// The map lock is held only to find or replace a log; appends to different
// participants' logs proceed under their own locks.
type MemoryStore struct {
	logs   map[uint16]*messageLog
	window time.Duration
	mu     sync.RWMutex
}

// NewMemoryStore creates a store whose replay window is window.
func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		logs:   make(map[uint16]*messageLog),
		window: window,
	}
}

// eligible reports whether an entry that arrived at arrival may be replayed at
// now. Entries stamped after now were not missed before the replay instant.
func (m *MemoryStore) eligible(arrival, now time.Time) bool {
	return !arrival.After(now) && !m.expired(arrival, now)
}

// expired reports whether an entry can no longer be replayed at now or later.
func (m *MemoryStore) expired(arrival, now time.Time) bool {
	return now.Sub(arrival) > m.window
}

// Open creates an empty log for pid.
func (m *MemoryStore) Open(pid uint16, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.logs[pid]; exists {
		return ErrLogExists
	}
	m.logs[pid] = &messageLog{openedAt: at}
	return nil
}

// OpenedAt returns the time pid's log was created.
func (m *MemoryStore) OpenedAt(pid uint16) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.logs[pid]
	if !ok {
		return time.Time{}, false
	}
	return l.openedAt, true
}

// Append copies the body so later changes by the caller are not visible.
// An entry with a lower Seq than the tail is inserted before it; entries
// without a Seq always go last.
func (m *MemoryStore) Append(pid uint16, e Entry) error {
	m.mu.RLock()
	l, ok := m.logs[pid]
	m.mu.RUnlock()
	if !ok {
		return ErrNoLog
	}

	e.Body = append([]byte(nil), e.Body...)

	l.mu.Lock()
	i := len(l.entries)
	if e.Seq != 0 {
		for i > 0 && l.entries[i-1].Seq > e.Seq {
			i--
		}
	}
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	l.mu.Unlock()
	return nil
}

// ReplayAndClear removes the log before filtering so a concurrent Append for
// the same pid fails with ErrNoLog instead of landing in a dropped log.
func (m *MemoryStore) ReplayAndClear(pid uint16, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	l, ok := m.logs[pid]
	if ok {
		delete(m.logs, pid)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoLog
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if m.eligible(e.Arrival, now) {
			out = append(out, e)
		}
	}
	l.entries = nil
	return out, nil
}

// Discard removes pid's log.
func (m *MemoryStore) Discard(pid uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.logs[pid]
	delete(m.logs, pid)
	return ok
}

// Has reports whether pid has an open log.
func (m *MemoryStore) Has(pid uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.logs[pid]
	return ok
}

// Pending returns the number of entries buffered for pid.
func (m *MemoryStore) Pending(pid uint16) int {
	m.mu.RLock()
	l, ok := m.logs[pid]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune filters every open log in place, keeping entries in their original order.
func (m *MemoryStore) Prune(now time.Time) int {
	m.mu.RLock()
	logs := make([]*messageLog, 0, len(m.logs))
	for _, l := range m.logs {
		logs = append(logs, l)
	}
	m.mu.RUnlock()

	dropped := 0
	for _, l := range logs {
		l.mu.Lock()
		kept := l.entries[:0]
		for _, e := range l.entries {
			if !m.expired(e.Arrival, now) {
				kept = append(kept, e)
			}
		}
		for i := len(kept); i < len(l.entries); i++ {
			l.entries[i] = Entry{}
		}
		dropped += len(l.entries) - len(kept)
		l.entries = kept
		l.mu.Unlock()
	}
	return dropped
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{Logs: len(m.logs)}
	for _, l := range m.logs {
		l.mu.Lock()
		stats.Messages += len(l.entries)
		for _, e := range l.entries {
			stats.Bytes += len(e.Body)
		}
		l.mu.Unlock()
	}
	return stats
}
