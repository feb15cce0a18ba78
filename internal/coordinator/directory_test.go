package coordinator

import (
	"sync"
	"testing"
	"time"
)

// TestDirectoryRegister tests registration and lookup
func TestDirectoryRegister(t *testing.T) {
	t.Run("register new pid", func(t *testing.T) {
		dir := NewDirectory()

		if !dir.Register(1, "10.0.0.1", 9001) {
			t.Fatal("Expected first registration to succeed")
		}

		p, ok := dir.Get(1)
		if !ok {
			t.Fatal("Expected pid 1 to be registered")
		}
		if p.Addr != "10.0.0.1" || p.Port != 9001 || !p.Connected {
			t.Errorf("Unexpected entry: %+v", p)
		}
	})

	t.Run("register twice keeps original entry", func(t *testing.T) {
		dir := NewDirectory()
		dir.Register(1, "10.0.0.1", 9001)

		if dir.Register(1, "10.0.0.2", 9999) {
			t.Error("Expected second registration to be refused")
		}
		p, _ := dir.Get(1)
		if p.Addr != "10.0.0.1" || p.Port != 9001 {
			t.Errorf("Expected original entry to survive, got %+v", p)
		}
	})

	t.Run("unknown pid", func(t *testing.T) {
		dir := NewDirectory()
		if _, ok := dir.Get(42); ok {
			t.Error("Expected pid 42 to be unregistered")
		}
		if dir.SetConnected(42, true) {
			t.Error("Expected SetConnected on unknown pid to fail")
		}
		if dir.SetPort(42, 1) {
			t.Error("Expected SetPort on unknown pid to fail")
		}
		if _, ok := dir.Remove(42); ok {
			t.Error("Expected Remove on unknown pid to fail")
		}
	})
}

// TestDirectoryTransitions tests connectivity and port updates
func TestDirectoryTransitions(t *testing.T) {
	dir := NewDirectory()
	dir.Register(1, "10.0.0.1", 9001)
	dir.Register(2, "10.0.0.2", 9002)

	dir.SetConnected(2, false)
	connected, disconnected := dir.Counts()
	if connected != 1 || disconnected != 1 {
		t.Errorf("Expected 1/1, got %d/%d", connected, disconnected)
	}

	dir.SetPort(2, 9102)
	dir.SetConnected(2, true)
	p, _ := dir.Get(2)
	if p.Port != 9102 || !p.Connected {
		t.Errorf("Unexpected entry after reconnect: %+v", p)
	}

	removed, ok := dir.Remove(1)
	if !ok || removed.PID != 1 {
		t.Errorf("Expected to remove pid 1, got %+v", removed)
	}
	if _, ok := dir.Get(1); ok {
		t.Error("Expected pid 1 to be gone")
	}
}

// TestDirectorySnapshot tests ordering and isolation of snapshots
func TestDirectorySnapshot(t *testing.T) {
	dir := NewDirectory()
	for _, pid := range []uint16{30, 2, 17, 5} {
		dir.Register(pid, "127.0.0.1", 9000+int(pid))
	}

	snap := dir.Snapshot()
	want := []uint16{2, 5, 17, 30}
	if len(snap) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(snap))
	}
	for i, pid := range want {
		if snap[i].PID != pid {
			t.Errorf("Position %d: expected pid %d, got %d", i, pid, snap[i].PID)
		}
	}

	// Mutating the snapshot must not touch the directory
	snap[0].Port = 1
	p, _ := dir.Get(2)
	if p.Port != 9002 {
		t.Errorf("Snapshot aliased directory state: port %d", p.Port)
	}
}

// TestDirectoryLock tests that the per-pid lock serializes one pid only
func TestDirectoryLock(t *testing.T) {
	dir := NewDirectory()

	unlock := dir.Lock(1)

	// A different pid is not blocked
	done := make(chan struct{})
	go func() {
		u := dir.Lock(2)
		u()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock on pid 2 blocked behind pid 1")
	}

	// The same pid waits
	acquired := make(chan struct{})
	go func() {
		u := dir.Lock(1)
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("Second Lock on pid 1 did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Second Lock on pid 1 never acquired")
	}
}

// TestDirectoryConcurrentAccess runs mixed operations from many goroutines
func TestDirectoryConcurrentAccess(t *testing.T) {
	dir := NewDirectory()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(pid uint16) {
			defer wg.Done()
			unlock := dir.Lock(pid)
			defer unlock()

			dir.Register(pid, "127.0.0.1", 9000)
			dir.SetConnected(pid, false)
			dir.SetPort(pid, 9100)
			dir.SetConnected(pid, true)
			_ = dir.Snapshot()
		}(uint16(i + 1))
	}
	wg.Wait()

	connected, disconnected := dir.Counts()
	if connected != 50 || disconnected != 0 {
		t.Errorf("Expected 50/0, got %d/%d", connected, disconnected)
	}
}
