// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeStartSearch  = "start_search"
	TypeCancelSearch = "cancel_search"
	TypeTextMessage  = "text_message"
	TypeWebRTCSignal = "webrtc_signal"
	TypeEndChat      = "end_chat"
	TypeReportUser   = "report_user"
	TypePing         = "ping"
)

// Server -> Client message types. TypeTextMessage and TypeWebRTCSignal are
// used in both directions: the server relays them to the session partner
// under the same discriminator.
const (
	TypeWelcome             = "welcome_message"
	TypePartnerFound        = "partner_found"
	TypePartnerDisconnected = "partner_disconnected"
	TypeBanned              = "you_are_banned"
	TypeRateLimited         = "rate_limited"
	TypePong                = "pong"
)

// Negotiation roles carried by partner_found. Exactly one side of a session
// is the caller and initiates the WebRTC offer.
const (
	RoleCaller = "caller"
	RoleCallee = "callee"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// StartSearchMsg is sent by the client to enter matchmaking for a
// conversation mode ("voice" or "text").
type StartSearchMsg struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// CancelSearchMsg is sent by the client to leave matchmaking.
type CancelSearchMsg struct {
	Type string `json:"type"`
}

// TextMsg carries a text message to relay to the current session partner. It
// is also the shape the server sends to the receiving side.
type TextMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SignalMsg carries an opaque WebRTC negotiation payload (SDP or ICE
// candidate). The server never inspects Signal; it is relayed byte-for-byte
// to the session partner.
type SignalMsg struct {
	Type   string          `json:"type"`
	Signal json.RawMessage `json:"signal"`
}

// EndChatMsg is sent by the client to end the current session.
type EndChatMsg struct {
	Type string `json:"type"`
}

// ReportUserMsg is sent by the client to file a report against the current
// session partner.
type ReportUserMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// WelcomeMsg is sent by the server immediately after a connection is
// established.
type WelcomeMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// PartnerFoundMsg is sent to both members of a freshly created session.
// Role is "caller" on exactly one side and "callee" on the other.
type PartnerFoundMsg struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

// PartnerDisconnectedMsg notifies a client that the session partner has left
// the session (explicit end or disconnect).
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// BannedMsg notifies a client that it is banned from matchmaking until
// BanExpiresAt (unix seconds).
type BannedMsg struct {
	Type         string `json:"type"`
	BanExpiresAt int64  `json:"ban_expires_at"`
}

// RateLimitedMsg is sent when the client has exceeded a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStartSearch:
		var m StartSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelSearch:
		var m CancelSearchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTextMessage:
		var m TextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCSignal:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndChat:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportUser:
		var m ReportUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the *Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewSignalFrame builds a webrtc_signal relay frame. Unlike NewServerMessage
// it marshals the struct directly, without the generic-map round trip, so the
// opaque signal bytes pass through to the partner untouched.
func NewSignalFrame(signal json.RawMessage) ([]byte, error) {
	out, err := json.Marshal(SignalMsg{Type: TypeWebRTCSignal, Signal: signal})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal signal frame: %w", err)
	}
	return out, nil
}
