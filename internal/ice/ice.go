// Package ice builds the STUN/TURN server list handed to endpoints.
package ice

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"

	"github.com/aura-remote/backend/pkg/response"
)

var defaultServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// Servers turns configured URLs into ICE servers. TURN URLs get the credentials; STUN URLs never do.
func Servers(urls []string, username, credential string) []webrtc.ICEServer {
	var stun, turn []string
	for _, u := range urls {
		u = strings.TrimSpace(u)
		switch {
		case u == "":
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		default:
			stun = append(stun, u)
		}
	}
	var out []webrtc.ICEServer
	if len(stun) > 0 {
		out = append(out, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		out = append(out, webrtc.ICEServer{URLs: turn, Username: username, Credential: credential})
	}
	if len(out) == 0 {
		return defaultServers
	}
	return out
}

// Handler serves GET /api/ice-servers.
func Handler(servers []webrtc.ICEServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		response.OK(c, gin.H{"ice_servers": servers})
	}
}
