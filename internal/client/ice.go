package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pion/webrtc/v3"
)

// FetchICEServers reads the coordinator's ICE server list from /api/ice-servers.
func FetchICEServers(ctx context.Context, serverURL, token string, hc *http.Client) ([]webrtc.ICEServer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/api/ice-servers"
	u.RawQuery = ""
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice servers: status %d", resp.StatusCode)
	}
	var body struct {
		Data struct {
			ICEServers []webrtc.ICEServer `json:"ice_servers"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	return body.Data.ICEServers, nil
}
