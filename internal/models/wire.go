package models

import "encoding/json"

// Client -> server payloads.

type CreateSessionRequest struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	Quality   QualityConfig `json:"quality"`
	Settings  *Settings     `json:"settings,omitempty"`
}

type JoinSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type RemoveUserRequest struct {
	SessionID      string `json:"session_id"`
	UserIDToRemove string `json:"user_id_to_remove"`
}

// SessionRequest carries only a session id (end_remote_session, get_session_info).
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type PeerConnectionRequest struct {
	SessionID string `json:"session_id"`
	PeerID    string `json:"peer_id"`
	Action    string `json:"action"`
	UserID    string `json:"user_id"`
	IsHost    bool   `json:"is_host"`
	Quality   string `json:"quality,omitempty"`
}

type StreamRequest struct {
	SessionID  string `json:"session_id"`
	FromPeerID string `json:"from_peer_id"`
}

// SignalRequest is the body of webrtc_offer, webrtc_answer and webrtc_ice_candidate.
// Payload is relayed untouched.
type SignalRequest struct {
	SessionID    string          `json:"session_id"`
	PeerID       string          `json:"peer_id"`
	ConnectionID string          `json:"connection_id,omitempty"`
	TargetUserID string          `json:"target_user_id,omitempty"`
	Quality      string          `json:"quality,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type PerformanceStatsRequest struct {
	SessionID string            `json:"session_id"`
	Stats     PerformanceSample `json:"stats"`
}

// Server -> client payloads.

type SessionErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserJoinedEvent struct {
	SessionID        string          `json:"session_id"`
	UserID           string          `json:"user_id"`
	Role             ParticipantRole `json:"role"`
	Profile          Profile         `json:"profile"`
	Reconnected      bool            `json:"reconnected"`
	ParticipantCount int             `json:"participant_count"`
}

type UserLeftEvent struct {
	SessionID        string `json:"session_id"`
	UserID           string `json:"user_id"`
	Removed          bool   `json:"removed,omitempty"`
	Temporary        bool   `json:"temporary,omitempty"`
	ParticipantCount int    `json:"participant_count"`
	OnlineCount      int    `json:"online_count"`
}

type UserRemovedEvent struct {
	SessionID string `json:"session_id"`
	RemovedBy string `json:"removed_by"`
}

type UserRemoveSuccessEvent struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// FinalStats summarises a session at the moment it ended.
type FinalStats struct {
	DurationSeconds  float64     `json:"duration_seconds"`
	PeakParticipants int         `json:"peak_participants"`
	TotalJoins       int         `json:"total_joins"`
	ParticipantCount int         `json:"participant_count"`
	Performance      Performance `json:"performance"`
}

// End reasons carried by session_ended.
const (
	EndReasonHostEnded        = "host_ended"
	EndReasonHostDisconnected = "host_disconnected"
)

type SessionEndedEvent struct {
	SessionID  string     `json:"session_id"`
	EndedBy    string     `json:"ended_by"`
	Reason     string     `json:"reason"`
	FinalStats FinalStats `json:"final_stats"`
}

type ActiveSessionsEvent struct {
	Sessions []SessionSummary `json:"sessions"`
}

type ExistingPeersEvent struct {
	SessionID string `json:"session_id"`
	Peers     []Peer `json:"peers"`
}

type PeerJoinedEvent struct {
	SessionID string `json:"session_id"`
	Peer      Peer   `json:"peer"`
}

type PeerLeftEvent struct {
	SessionID string `json:"session_id"`
	PeerID    string `json:"peer_id"`
	UserID    string `json:"user_id"`
}

type StreamRequestEvent struct {
	SessionID  string `json:"session_id"`
	FromPeerID string `json:"from_peer_id"`
	ToPeerID   string `json:"to_peer_id"`
	Priority   string `json:"priority"`
}

// SignalEvent is the relayed form of offers, answers and candidates.
type SignalEvent struct {
	SessionID    string          `json:"session_id"`
	ConnectionID string          `json:"connection_id,omitempty"`
	PeerID       string          `json:"peer_id"`
	FromUserID   string          `json:"from_user_id"`
	ToUserID     string          `json:"to_user_id,omitempty"`
	Quality      string          `json:"quality,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type QualityRecommendationEvent struct {
	SessionID  string  `json:"session_id"`
	Label      string  `json:"label"`
	Resolution string  `json:"resolution"`
	TargetFPS  int     `json:"target_fps"`
	AvgLatency float64 `json:"avg_latency"`
	AvgFPS     float64 `json:"avg_fps"`
}
