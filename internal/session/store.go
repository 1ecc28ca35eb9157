// Package session owns the registry of active pairings. It mediates message
// and signaling relay between the two members of a session and handles
// teardown, keeping the session-identity stamps on both sides consistent.
package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WeshnovskySmart/hearmeapp/internal/metrics"
	"github.com/WeshnovskySmart/hearmeapp/internal/protocol"
)

// Peer is the store's view of a connection: transport liveness and the
// ability to deliver a frame. Delivery to a closed peer is a silent drop.
type Peer interface {
	Open() bool
	Send(data []byte) error
}

// Session is one active pairing between exactly two distinct connections.
// The caller side initiates WebRTC negotiation; the assignment is arbitrary
// but mutually exclusive.
type Session struct {
	ID        string
	CallerID  string
	CalleeID  string
	caller    Peer
	callee    Peer
	CreatedAt time.Time
}

// partner returns the other participant's identity and peer, or ("", nil)
// if id is not a participant.
func (s *Session) partner(id string) (string, Peer) {
	switch id {
	case s.CallerID:
		return s.CalleeID, s.callee
	case s.CalleeID:
		return s.CallerID, s.caller
	}
	return "", nil
}

// Store maps session identities to their participant pairs and connection
// identities back to their session. One mutex serializes all mutations;
// outbound frames are written after the lock is released so a slow client
// cannot stall the store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session // session_id -> Session
	byConn   map[string]string   // conn_id -> session_id
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
	}
}

// Create allocates a fresh session identity for the caller/callee pair,
// stamps both connections with it, and notifies both sides with a
// partner_found event carrying their negotiation role. The caller is the
// side whose search completed the pair.
//
// Participants must be distinct, and neither may already hold a session
// identity; violating either returns an error with no state change.
func (st *Store) Create(callerID string, caller Peer, calleeID string, callee Peer) (string, error) {
	if callerID == calleeID {
		return "", fmt.Errorf("session: cannot pair %s with itself", callerID)
	}

	st.mu.Lock()
	if sid, ok := st.byConn[callerID]; ok {
		st.mu.Unlock()
		return "", fmt.Errorf("session: conn %s already in session %s", callerID, sid)
	}
	if sid, ok := st.byConn[calleeID]; ok {
		st.mu.Unlock()
		return "", fmt.Errorf("session: conn %s already in session %s", calleeID, sid)
	}

	sess := &Session{
		ID:        uuid.New().String(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		caller:    caller,
		callee:    callee,
		CreatedAt: time.Now(),
	}
	st.sessions[sess.ID] = sess
	st.byConn[callerID] = sess.ID
	st.byConn[calleeID] = sess.ID
	st.mu.Unlock()

	metrics.ActiveSessions.Inc()
	log.Printf("[session] created %s caller=%s callee=%s", sess.ID, callerID, calleeID)

	notify(caller, callerID, protocol.RoleCaller)
	notify(callee, calleeID, protocol.RoleCallee)

	return sess.ID, nil
}

func notify(p Peer, connID, role string) {
	msg, err := protocol.NewServerMessage(protocol.TypePartnerFound, protocol.PartnerFoundMsg{Role: role})
	if err != nil {
		log.Printf("[session] build partner_found for %s: %v", connID, err)
		return
	}
	if err := p.Send(msg); err != nil {
		// The partner keeps the session; a dead side is torn down by its
		// own disconnect cleanup.
		log.Printf("[session] send partner_found to %s: %v", connID, err)
	}
}

// SessionID returns the session identity held by connID, if any.
func (st *Store) SessionID(connID string) (string, bool) {
	st.mu.Lock()
	sid, ok := st.byConn[connID]
	st.mu.Unlock()
	return sid, ok
}

// Partner returns the identity of connID's current session partner.
func (st *Store) Partner(connID string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sid, ok := st.byConn[connID]
	if !ok {
		return "", false
	}
	pid, _ := st.sessions[sid].partner(connID)
	return pid, true
}

// RelayToPartner forwards frame verbatim to the sender's session partner.
// With no active session it is a silent no-op; if the partner's transport
// is closed the frame is silently dropped, never queued or retried.
// It reports whether the frame was handed to an open partner transport.
func (st *Store) RelayToPartner(senderID string, frame []byte) bool {
	st.mu.Lock()
	sid, ok := st.byConn[senderID]
	if !ok {
		st.mu.Unlock()
		return false
	}
	pid, peer := st.sessions[sid].partner(senderID)
	st.mu.Unlock()

	if peer == nil || !peer.Open() {
		metrics.RelayedFrames.WithLabelValues("dropped").Inc()
		return false
	}
	if err := peer.Send(frame); err != nil {
		log.Printf("[session] relay to %s failed: %v", pid, err)
		metrics.RelayedFrames.WithLabelValues("dropped").Inc()
		return false
	}
	return true
}

// End tears down the initiator's current session: the other participant is
// notified of the departure (if still open), both session-identity stamps
// are cleared, and the record removed. Calling it again for the same
// session finds nothing and is a no-op, so the surviving partner is never
// double-notified.
func (st *Store) End(initiatorID string) bool {
	st.mu.Lock()
	sid, ok := st.byConn[initiatorID]
	if !ok {
		st.mu.Unlock()
		return false
	}
	sess := st.sessions[sid]
	pid, peer := sess.partner(initiatorID)

	delete(st.sessions, sid)
	delete(st.byConn, sess.CallerID)
	delete(st.byConn, sess.CalleeID)
	st.mu.Unlock()

	metrics.ActiveSessions.Dec()
	log.Printf("[session] ended %s by=%s", sid, initiatorID)

	if peer != nil && peer.Open() {
		msg, err := protocol.NewServerMessage(protocol.TypePartnerDisconnected, protocol.PartnerDisconnectedMsg{})
		if err != nil {
			log.Printf("[session] build partner_disconnected for %s: %v", pid, err)
			return true
		}
		if err := peer.Send(msg); err != nil {
			log.Printf("[session] send partner_disconnected to %s: %v", pid, err)
		}
	}
	return true
}

// Count returns the number of active sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	n := len(st.sessions)
	st.mu.Unlock()
	return n
}
