// Package pairing owns the compound matchmaking transitions that span the
// waiting queues and the session registry. Popping a partner and creating
// the session, and ending a session before re-queueing, must each be a
// single atomic step: the coordinator serializes every transition behind
// one mutex so a connection is never observable as both queued and in a
// session.
package pairing

import (
	"log"
	"sync"

	"github.com/WeshnovskySmart/hearmeapp/internal/matching"
	"github.com/WeshnovskySmart/hearmeapp/internal/session"
)

// Peer is a connection as seen by the pairing flow: liveness plus frame
// delivery. *ws.Connection satisfies it.
type Peer interface {
	Open() bool
	Send(data []byte) error
}

// Coordinator routes all queue and session mutations through one lock.
// Reads (session lookups for relay and reporting) stay on the stores
// themselves.
type Coordinator struct {
	mu       sync.Mutex
	matcher  *matching.Matcher
	sessions *session.Store
}

func NewCoordinator(matcher *matching.Matcher, sessions *session.Store) *Coordinator {
	return &Coordinator{matcher: matcher, sessions: sessions}
}

// Search runs the full start-search transition for one connection: any
// session it holds is ended first (the partner is notified), then it either
// pairs with the oldest live waiter in mode or joins the queue. Returns
// whether a session was created.
func (c *Coordinator) Search(id string, peer Peer, mode matching.Mode) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions.End(id)

	for attempt := 0; ; attempt++ {
		partnerID, partner, matched, err := c.matcher.RequestSearch(id, peer, mode)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}

		p, ok := partner.(Peer)
		if !ok {
			// Queue entries only enter through Search, so this cannot
			// happen unless a caller bypassed the coordinator.
			log.Printf("[pairing] dropping partner %s: peer cannot receive frames", partnerID)
			continue
		}
		if _, err := c.sessions.Create(id, peer, partnerID, p); err == nil {
			return true, nil
		} else if attempt == 0 && p.Open() {
			log.Printf("[pairing] create session %s with %s: %v", id, partnerID, err)
			if err := c.matcher.PushFront(partnerID, p, mode); err != nil {
				log.Printf("[pairing] requeue %s: %v", partnerID, err)
			}
		} else {
			log.Printf("[pairing] create session %s with %s: %v, dropping partner", id, partnerID, err)
		}
	}
}

// Cancel removes id from the waiting queues. Its session, if any, is left
// alone.
func (c *Coordinator) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher.CancelSearch(id)
}

// End tears down id's current session and reports whether one existed.
func (c *Coordinator) End(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.End(id)
}

// Disconnect runs the full cleanup for a departed connection: queue removal
// and session teardown in one step. Safe for connections that were neither
// queued nor paired.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.matcher.CancelSearch(id)
	if c.sessions.End(id) {
		log.Printf("[pairing] disconnect tore down session held by conn=%s", id)
	}
}
