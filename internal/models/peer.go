package models

import (
	"encoding/json"
	"time"
)

// Peer is an endpoint identity registered with the signaling relay.
type Peer struct {
	PeerID      string    `json:"peer_id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	IsHost      bool      `json:"is_host"`
	Quality     string    `json:"quality,omitempty"`
	TransportID string    `json:"-"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConnectionKey identifies one handshake attempt between two users of a session.
type ConnectionKey struct {
	SessionID string
	Initiator string
	Target    string
}

// HandshakeState is the relay's view of a handshake.
type HandshakeState string

const (
	HandshakeOffering HandshakeState = "offering"
	HandshakeAnswered HandshakeState = "answered"
)

// PeerConnectionRecord tracks one in-flight offer/answer exchange.
// Payloads are opaque to the relay.
type PeerConnectionRecord struct {
	Key          ConnectionKey   `json:"-"`
	ConnectionID string          `json:"connection_id"`
	SessionID    string          `json:"session_id"`
	PeerID       string          `json:"peer_id"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Quality      string          `json:"quality,omitempty"`
	State        HandshakeState  `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	AnsweredAt   *time.Time      `json:"answered_at,omitempty"`
}

// Involves reports whether userID is either side of the handshake.
func (r *PeerConnectionRecord) Involves(userID string) bool {
	return r.Key.Initiator == userID || r.Key.Target == userID
}
