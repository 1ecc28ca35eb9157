package pairing

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/WeshnovskySmart/hearmeapp/internal/matching"
	"github.com/WeshnovskySmart/hearmeapp/internal/protocol"
	"github.com/WeshnovskySmart/hearmeapp/internal/session"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakePeer struct {
	mu     sync.Mutex
	open   bool
	frames [][]byte
}

func newFakePeer() *fakePeer {
	return &fakePeer{open: true}
}

func (p *fakePeer) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePeer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	p.frames = append(p.frames, buf)
	return nil
}

func (p *fakePeer) countType(msgType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, frame := range p.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &env) == nil && env.Type == msgType {
			n++
		}
	}
	return n
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(matching.NewMatcher(), session.NewStore())
}

// checkExclusive fails the test if id is observable as both queued and in a
// session.
func checkExclusive(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	_, inSession := c.sessions.SessionID(id)
	if c.matcher.Queued(id) && inSession {
		t.Fatalf("conn %s is queued and in a session at the same time", id)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSearch_PairsTwoSearchers(t *testing.T) {
	c := newTestCoordinator()
	a, b := newFakePeer(), newFakePeer()

	matched, err := c.Search("a", a, matching.ModeText)
	if err != nil || matched {
		t.Fatalf("first searcher: matched=%v err=%v, want queued", matched, err)
	}
	matched, err = c.Search("b", b, matching.ModeText)
	if err != nil || !matched {
		t.Fatalf("second searcher: matched=%v err=%v, want match", matched, err)
	}

	if a.countType(protocol.TypePartnerFound) != 1 || b.countType(protocol.TypePartnerFound) != 1 {
		t.Fatal("both sides should receive exactly one partner_found")
	}
	checkExclusive(t, c, "a")
	checkExclusive(t, c, "b")
	if c.matcher.Queued("a") || c.matcher.Queued("b") {
		t.Fatal("paired connections must not remain queued")
	}
}

func TestSearch_ReSearchEndsSessionBeforeQueueing(t *testing.T) {
	c := newTestCoordinator()
	b, cc := newFakePeer(), newFakePeer()

	c.Search("b", b, matching.ModeText)
	c.Search("c", cc, matching.ModeText)

	// b searches again while paired with c. The session must be gone before
	// b reappears in a queue.
	matched, err := c.Search("b", b, matching.ModeText)
	if err != nil || matched {
		t.Fatalf("re-search: matched=%v err=%v, want queued", matched, err)
	}

	if _, ok := c.sessions.SessionID("b"); ok {
		t.Fatal("re-searching connection still holds its old session")
	}
	if _, ok := c.sessions.SessionID("c"); ok {
		t.Fatal("abandoned partner still holds the old session")
	}
	if !c.matcher.Queued("b") {
		t.Fatal("re-searching connection should be queued")
	}
	if got := cc.countType(protocol.TypePartnerDisconnected); got != 1 {
		t.Fatalf("abandoned partner got %d partner_disconnected frames, want 1", got)
	}
	checkExclusive(t, c, "b")
	checkExclusive(t, c, "c")
}

func TestSearch_DeadWaiterNeverStamped(t *testing.T) {
	c := newTestCoordinator()
	b, cc := newFakePeer(), newFakePeer()

	c.Search("b", b, matching.ModeVoice)

	// b's transport drops before its disconnect cleanup runs. A later
	// searcher must discard it, not pair with it.
	b.close()

	matched, err := c.Search("c", cc, matching.ModeVoice)
	if err != nil || matched {
		t.Fatalf("search against dead waiter: matched=%v err=%v, want queued", matched, err)
	}
	if _, ok := c.sessions.SessionID("b"); ok {
		t.Fatal("dead waiter was stamped into a session")
	}
	if c.matcher.Queued("b") {
		t.Fatal("dead waiter should be discarded from the queue")
	}
	if !c.matcher.Queued("c") {
		t.Fatal("live searcher should be queued")
	}
}

func TestSearch_UnknownMode(t *testing.T) {
	c := newTestCoordinator()
	p := newFakePeer()

	if _, err := c.Search("a", p, matching.Mode("video")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if c.matcher.Queued("a") {
		t.Fatal("failed search must not queue the connection")
	}
}

func TestDisconnect_CleansQueueAndSession(t *testing.T) {
	c := newTestCoordinator()

	queued := newFakePeer()
	c.Search("queued", queued, matching.ModeText)
	c.Disconnect("queued")
	if c.matcher.Queued("queued") {
		t.Fatal("disconnect should remove the connection from the queue")
	}

	b, cc := newFakePeer(), newFakePeer()
	c.Search("b", b, matching.ModeText)
	c.Search("c", cc, matching.ModeText)
	c.Disconnect("b")
	if _, ok := c.sessions.SessionID("c"); ok {
		t.Fatal("disconnect should tear down the session for both sides")
	}
	if got := cc.countType(protocol.TypePartnerDisconnected); got != 1 {
		t.Fatalf("surviving partner got %d partner_disconnected frames, want 1", got)
	}
}

func TestCancel_LeavesSessionAlone(t *testing.T) {
	c := newTestCoordinator()
	b, cc := newFakePeer(), newFakePeer()

	c.Search("b", b, matching.ModeText)
	c.Search("c", cc, matching.ModeText)

	c.Cancel("b")
	if _, ok := c.sessions.SessionID("b"); !ok {
		t.Fatal("cancel_search must not end an active session")
	}
}

func TestSearch_ExclusiveUnderConcurrentReSearch(t *testing.T) {
	c := newTestCoordinator()

	const n = 32
	peers := make([]*fakePeer, n)
	for i := range peers {
		peers[i] = newFakePeer()
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			c.Search(id, peers[i], matching.ModeText)
			if i%2 == 0 {
				c.Search(id, peers[i], matching.ModeText)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		checkExclusive(t, c, fmt.Sprintf("conn-%d", i))
	}
}
