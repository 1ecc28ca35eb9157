// Package matching implements the waiting-queue matchmaker that pairs
// searching connections into sessions. It keeps one FIFO queue per
// conversation mode; all queue state is process-local and guarded by a
// single mutex, so every mutation is serialized.
package matching

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/WeshnovskySmart/hearmeapp/internal/metrics"
)

// Mode selects which waiting queue a connection joins. The set is fixed.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// ParseMode validates a client-supplied mode string. Unrecognized values
// return an error and must cause no state change in the caller.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVoice, ModeText:
		return Mode(s), nil
	}
	return "", fmt.Errorf("matching: unknown mode %q", s)
}

// Peer is the matcher's view of a connection: only its transport liveness.
// A queued peer whose Open reports false is a ghost. Its transport closed
// while it waited, and it is discarded during pairing, never paired.
type Peer interface {
	Open() bool
}

type waiter struct {
	id       string
	peer     Peer
	joinedAt time.Time
}

// Matcher owns the per-mode waiting queues. Connections are referenced,
// never owned: the matcher holds no responsibility for closing them. The
// single mutex is the one mutual-exclusion domain for all queue state.
type Matcher struct {
	mu     sync.Mutex
	queues map[Mode][]waiter
}

// NewMatcher creates a Matcher with one empty queue per mode.
func NewMatcher() *Matcher {
	return &Matcher{
		queues: map[Mode][]waiter{
			ModeVoice: nil,
			ModeText:  nil,
		},
	}
}

// RequestSearch enters id into matchmaking for the given mode. Any previous
// pending search is superseded first, so a connection is never queued twice
// across modes. If a live partner is already waiting, the oldest one is
// popped (FIFO) and returned with matched=true; queued ghosts found on the
// way are discarded and the pop retried. Otherwise the requester is
// enqueued and matched=false is returned.
//
// An unrecognized mode returns an error and performs no state change.
func (m *Matcher) RequestSearch(id string, peer Peer, mode Mode) (partnerID string, partner Peer, matched bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[mode]; !ok {
		return "", nil, false, fmt.Errorf("matching: unknown mode %q", mode)
	}

	m.removeLocked(id)

	q := m.queues[mode]
	for len(q) > 0 {
		head := q[0]
		q = q[1:]

		if !head.peer.Open() {
			// Ghost: transport closed while queued, cleanup not yet run.
			// Not an error, discard and retry against the new head.
			metrics.GhostsDiscarded.Inc()
			log.Printf("[matcher] discarded ghost conn=%s mode=%s", head.id, mode)
			continue
		}

		m.queues[mode] = q
		m.updateGauge(mode)
		return head.id, head.peer, true, nil
	}

	// Queue exhausted, wait for the next searcher.
	m.queues[mode] = append(q, waiter{id: id, peer: peer, joinedAt: time.Now()})
	m.updateGauge(mode)
	return "", nil, false, nil
}

// PushFront returns a waiter to the head of its mode queue so it is not
// starved behind newer arrivals. It is the recovery path for a popped
// partner that could not be paired after all.
func (m *Matcher) PushFront(id string, peer Peer, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[mode]; !ok {
		return fmt.Errorf("matching: unknown mode %q", mode)
	}

	m.removeLocked(id)
	m.queues[mode] = append([]waiter{{id: id, peer: peer, joinedAt: time.Now()}}, m.queues[mode]...)
	m.updateGauge(mode)
	return nil
}

// CancelSearch removes id from every queue unconditionally. It is a no-op
// if the connection is not queued.
func (m *Matcher) CancelSearch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

// Queued reports whether id currently waits in any queue.
func (m *Matcher) Queued(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.queues {
		for _, w := range q {
			if w.id == id {
				return true
			}
		}
	}
	return false
}

// QueueLen returns the number of waiters in the given mode's queue.
func (m *Matcher) QueueLen(mode Mode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[mode])
}

// removeLocked removes id from all queues. Callers hold the mutex.
func (m *Matcher) removeLocked(id string) {
	for mode, q := range m.queues {
		kept := q[:0]
		for _, w := range q {
			if w.id != id {
				kept = append(kept, w)
			}
		}
		if len(kept) != len(q) {
			m.queues[mode] = kept
			m.updateGauge(mode)
		}
	}
}

func (m *Matcher) updateGauge(mode Mode) {
	metrics.MatchQueueSize.WithLabelValues(string(mode)).Set(float64(len(m.queues[mode])))
}
