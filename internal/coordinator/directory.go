// Package coordinator implements the relay's coordinator engine.
// See doc.go for complete package documentation.
package coordinator

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Participant is the Directory's record of one registered pid.
//
// Addr is captured from the socket peer at REGISTER time and never taken
// from the request body. Port is the delivery port from the latest
// REGISTER or RECONNECT.
type Participant struct {
	Addr      string // Peer IP observed at registration
	Port      int    // Delivery port the participant listens on
	PID       uint16 // Participant identifier
	Connected bool   // false means registered but disconnected
}

// Directory tracks registered participants and their connectivity.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│            Directory                │
//	├─────────────────────────────────────┤
//	│  entries: map[pid]→Participant      │
//	│  locks:   map[pid]→*sync.Mutex      │
//	│  mu: RWMutex for the entries map    │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - mu guards only the map itself and is never held across I/O
//   - Lock(pid) serializes whole handler transitions for one pid, so
//     handlers for different pids never wait on each other
//   - All returned data is copied
//
// A pid missing from entries is unregistered.
type Directory struct {
	entries map[uint16]*Participant
	locks   lockTable
	mu      sync.RWMutex
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		entries: make(map[uint16]*Participant),
		locks:   lockTable{m: make(map[uint16]*sync.Mutex)},
	}
}

// Lock acquires the transition lock for pid and returns its release func.
//
// Every handler that reads then mutates the Directory or the message store
// for pid must hold this lock for the whole read-modify-write, including any
// delivery made on pid's behalf.
//
// Example:
//
//	unlock := dir.Lock(pid)
//	defer unlock()
func (d *Directory) Lock(pid uint16) func() {
	return d.locks.lock(pid)
}

// Register adds pid as connected at addr:port.
// Returns false, leaving the existing entry untouched, if pid is already registered.
func (d *Directory) Register(pid uint16, addr string, port int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[pid]; exists {
		return false
	}
	d.entries[pid] = &Participant{
		PID:       pid,
		Addr:      addr,
		Port:      port,
		Connected: true,
	}
	return true
}

// Remove deletes pid and returns the entry it had.
func (d *Directory) Remove(pid uint16) (Participant, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.entries[pid]
	if !ok {
		return Participant{}, false
	}
	delete(d.entries, pid)
	return *p, true
}

// Get returns a copy of pid's entry.
func (d *Directory) Get(pid uint16) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.entries[pid]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// SetConnected flips pid's connectivity. Returns false if pid is unregistered.
func (d *Directory) SetConnected(pid uint16, connected bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.entries[pid]
	if !ok {
		return false
	}
	p.Connected = connected
	return true
}

// SetPort records a new delivery port. Returns false if pid is unregistered.
func (d *Directory) SetPort(pid uint16, port int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.entries[pid]
	if !ok {
		return false
	}
	p.Port = port
	return true
}

// Snapshot returns every entry ordered by pid.
func (d *Directory) Snapshot() []Participant {
	d.mu.RLock()
	out := make([]Participant, 0, len(d.entries))
	for _, p := range d.entries {
		out = append(out, *p)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b Participant) int {
		return int(a.PID) - int(b.PID)
	})
	return out
}

// Counts returns the number of connected and disconnected participants.
func (d *Directory) Counts() (connected, disconnected int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, p := range d.entries {
		if p.Connected {
			connected++
		} else {
			disconnected++
		}
	}
	return connected, disconnected
}

// lockTable hands out one mutex per pid. Entries are never removed; the pid
// space is 16 bits, so the table is bounded.
type lockTable struct {
	m  map[uint16]*sync.Mutex
	mu sync.Mutex
}

func (t *lockTable) lock(pid uint16) func() {
	t.mu.Lock()
	l, ok := t.m[pid]
	if !ok {
		l = &sync.Mutex{}
		t.m[pid] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
