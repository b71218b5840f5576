package models

import "time"

// SessionStatus is the lifecycle state of a remote session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// ParticipantRole is the role a participant holds inside a session.
type ParticipantRole string

const (
	RoleHost   ParticipantRole = "host"
	RoleViewer ParticipantRole = "viewer"
)

// Presence reports whether a participant's transport is currently attached.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// QualityConfig is the transmission quality requested by the host.
type QualityConfig struct {
	Mode            string `json:"mode"`
	TargetFPS       int    `json:"target_fps"`
	Resolution      string `json:"resolution"`
	AdaptiveBitrate bool   `json:"adaptive_bitrate"`
}

// Settings holds per-session behaviour switches.
type Settings struct {
	AllowScreenControl bool `json:"allow_screen_control"`
	MaxParticipants    int  `json:"max_participants"`
	PrioritizeLatency  bool `json:"prioritize_latency"`
}

// Performance is the trailing telemetry written back by the stats aggregator.
type Performance struct {
	AvgLatency float64 `json:"avg_latency"`
	AvgFPS     float64 `json:"avg_fps"`
	TotalBytes int64   `json:"total_bytes"`
	Drops      int64   `json:"drops"`
}

// Profile is the display information of a user, resolved once per participant.
type Profile struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// Participant is one user attached to a session.
type Participant struct {
	UserID            string          `json:"user_id"`
	TransportID       string          `json:"transport_id"`
	Role              ParticipantRole `json:"role"`
	Profile           Profile         `json:"profile"`
	ConnectionQuality string          `json:"connection_quality,omitempty"`
	JoinedAt          time.Time       `json:"joined_at"`
	ReconnectedAt     *time.Time      `json:"reconnected_at,omitempty"`
	Presence          Presence        `json:"presence"`
	DisconnectedAt    *time.Time      `json:"disconnected_at,omitempty"`
}

// Session is a single screen share: one host and zero or more viewers.
// Participants are kept in join order and are unique by UserID.
type Session struct {
	ID           string        `json:"id"`
	HostUserID   string        `json:"host_user_id"`
	Participants []Participant `json:"participants"`
	Quality      QualityConfig `json:"quality"`
	Settings     Settings      `json:"settings"`
	Performance  Performance   `json:"performance"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// IndexOf returns the roster position of userID or -1.
func (s *Session) IndexOf(userID string) int {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Host returns the host participant, if still on the roster.
func (s *Session) Host() (Participant, bool) {
	for _, p := range s.Participants {
		if p.Role == RoleHost {
			return p, true
		}
	}
	return Participant{}, false
}

// OnlineCount returns the number of participants whose transport is attached.
func (s *Session) OnlineCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.Presence == PresenceOnline {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy safe to hand outside the registry.
func (s *Session) Snapshot() Session {
	out := *s
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		p.ReconnectedAt = copyTime(p.ReconnectedAt)
		p.DisconnectedAt = copyTime(p.DisconnectedAt)
		out.Participants[i] = p
	}
	out.EndedAt = copyTime(s.EndedAt)
	return out
}

// SessionMetrics is auxiliary bookkeeping; the Session roster stays authoritative.
type SessionMetrics struct {
	StartTime        time.Time `json:"start_time"`
	PeakParticipants int       `json:"peak_participants"`
	TotalJoins       int       `json:"total_joins"`
}

// SessionInfo is the read projection returned by get_session_info.
type SessionInfo struct {
	Session Session        `json:"session"`
	Metrics SessionMetrics `json:"metrics"`
}

// SessionSummary is one row of get_active_sessions.
type SessionSummary struct {
	ID               string        `json:"id"`
	HostUserID       string        `json:"host_user_id"`
	HostName         string        `json:"host_name"`
	ParticipantCount int           `json:"participant_count"`
	OnlineCount      int           `json:"online_count"`
	Quality          QualityConfig `json:"quality"`
	Performance      Performance   `json:"performance"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActivity     time.Time     `json:"last_activity"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
