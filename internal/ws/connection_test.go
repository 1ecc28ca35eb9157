package ws

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// newTestConnection builds a Connection over one end of a net.Pipe. The other
// end is drained so writes never block, and closed via t.Cleanup.
func newTestConnection(t *testing.T, id string, fd int) *Connection {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	c := &Connection{
		ID:         id,
		Conn:       server,
		Fd:         fd,
		RemoteHost: "127.0.0.1",
		CreatedAt:  time.Now(),
	}
	c.Touch()
	return c
}

// ---------------------------------------------------------------------------
// Test: Open flips to false after Close, and Close is re-entrant
// ---------------------------------------------------------------------------

func TestConnection_OpenAfterClose(t *testing.T) {
	c := newTestConnection(t, "c1", 10)

	if !c.Open() {
		t.Fatal("a fresh connection should report open")
	}
	c.Close()
	if c.Open() {
		t.Fatal("a closed connection must report not open")
	}

	// Closing again must not panic or reopen.
	c.Close()
	if c.Open() {
		t.Fatal("double close must keep the connection closed")
	}
}

// ---------------------------------------------------------------------------
// Test: Registry lookups by identity and fd
// ---------------------------------------------------------------------------

func TestRegistry_AddAndGet(t *testing.T) {
	r := NewConnectionRegistry()
	c := newTestConnection(t, "c1", 11)
	r.Add(c)

	if got := r.Get("c1"); got != c {
		t.Error("Get by identity returned the wrong connection")
	}
	if got := r.GetByFd(11); got != c {
		t.Error("GetByFd returned the wrong connection")
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get for an unknown identity should be nil, got %v", got)
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: Remove reports true exactly once
// ---------------------------------------------------------------------------

func TestRegistry_RemoveOnce(t *testing.T) {
	r := NewConnectionRegistry()
	c := newTestConnection(t, "c1", 12)
	r.Add(c)

	if !r.Remove("c1") {
		t.Fatal("first Remove should report true")
	}
	if c.Open() {
		t.Error("Remove must close the connection")
	}
	if r.Remove("c1") {
		t.Error("second Remove must report false")
	}
	if r.Get("c1") != nil || r.GetByFd(12) != nil {
		t.Error("removed connection still resolvable")
	}
	if r.Count() != 0 {
		t.Errorf("expected count 0, got %d", r.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: Concurrent Remove of the same identity yields one winner
// ---------------------------------------------------------------------------

func TestRegistry_ConcurrentRemove(t *testing.T) {
	r := NewConnectionRegistry()
	c := newTestConnection(t, "c1", 13)
	r.Add(c)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Remove("c1")
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for won := range results {
		if won {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("%d removers reported true, want exactly 1", wins)
	}
}

// ---------------------------------------------------------------------------
// Test: All returns a stable snapshot
// ---------------------------------------------------------------------------

func TestRegistry_AllSnapshot(t *testing.T) {
	r := NewConnectionRegistry()
	for i := 0; i < 5; i++ {
		r.Add(newTestConnection(t, fmt.Sprintf("c%d", i), 20+i))
	}

	snapshot := r.All()
	if len(snapshot) != 5 {
		t.Fatalf("expected 5 connections in snapshot, got %d", len(snapshot))
	}

	// Mutating the registry after the snapshot leaves the slice intact.
	r.Remove("c0")
	if len(snapshot) != 5 {
		t.Error("snapshot changed after registry mutation")
	}
	if r.Count() != 4 {
		t.Errorf("expected count 4 after removal, got %d", r.Count())
	}
}

// ---------------------------------------------------------------------------
// Test: Concurrent Send calls never interleave and never panic
// ---------------------------------------------------------------------------

func TestConnection_ConcurrentSend(t *testing.T) {
	c := newTestConnection(t, "c1", 30)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte(fmt.Sprintf(`{"type":"text_message","content":"m%d"}`, i))
			for j := 0; j < 20; j++ {
				if err := c.Send(msg); err != nil {
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// Test: Activity timestamp is safe under concurrent readers and writers
// ---------------------------------------------------------------------------

func TestConnection_ConcurrentActivity(t *testing.T) {
	c := newTestConnection(t, "c1", 40)
	start := c.LastActive()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.Touch()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if c.LastActive().Before(start) {
					t.Error("activity timestamp moved backwards")
					return
				}
			}
		}()
	}
	wg.Wait()
}
