package models

// Client -> server events.
const (
	EventCreateSession    = "create_remote_session"
	EventJoinSession      = "join_remote_session"
	EventRemoveUser       = "remove_user"
	EventEndSession       = "end_remote_session"
	EventGetSessionInfo   = "get_session_info"
	EventGetActive        = "get_active_sessions"
	EventPeerConnection   = "peer_connection"
	EventRequestStream    = "request_stream"
	EventWebRTCOffer      = "webrtc_offer"
	EventWebRTCAnswer     = "webrtc_answer"
	EventWebRTCCandidate  = "webrtc_ice_candidate"
	EventPerformanceStats = "performance_stats"
)

// Server -> client events.
const (
	EventSessionCreated        = "session_created"
	EventSessionJoined         = "session_joined"
	EventSessionError          = "session_error"
	EventSessionEnded          = "session_ended"
	EventSessionInfo           = "session_info"
	EventActiveSessions        = "active_sessions"
	EventUserJoined            = "user_joined"
	EventUserLeft              = "user_left"
	EventUserRemoved           = "user_removed"
	EventUserRemoveSuccess     = "user_remove_success"
	EventExistingPeers         = "existing_peers"
	EventPeerJoined            = "peer_joined"
	EventPeerLeft              = "peer_left"
	EventStreamRequest         = "stream_request"
	EventQualityRecommendation = "quality_recommendation"
)

// Peer actions carried by peer_connection.
const (
	PeerActionJoin   = "join"
	PeerActionUpdate = "update"
	PeerActionLeave  = "leave"
)

// PriorityHigh is the only priority stream requests carry today.
const PriorityHigh = "high"
