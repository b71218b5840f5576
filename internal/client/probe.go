package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aura-remote/backend/internal/quality"
)

// Prober measures round-trip time to the coordinator's health endpoint.
type Prober struct {
	healthURL string
	client    *http.Client
	samples   int
}

// NewProber creates a prober for serverURL. A nil client gets a 5s timeout client.
func NewProber(serverURL string, client *http.Client) (*Prober, error) {
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
	u.Path = "/health"
	u.RawQuery = ""
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Prober{healthURL: u.String(), client: client, samples: 3}, nil
}

// RTT returns the fastest of a few round trips; the first one also pays for connection setup.
func (p *Prober) RTT(ctx context.Context) (time.Duration, error) {
	var best time.Duration
	var lastErr error
	for i := 0; i < p.samples; i++ {
		d, err := p.once(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if best == 0 || d < best {
			best = d
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("probe %s: %w", p.healthURL, lastErr)
	}
	return best, nil
}

// Probe classifies the link into a capture tier.
func (p *Prober) Probe(ctx context.Context) (quality.Tier, time.Duration, error) {
	rtt, err := p.RTT(ctx)
	if err != nil {
		return quality.Tier{}, 0, err
	}
	return quality.Classify(rtt), rtt, nil
}

func (p *Prober) once(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("health status %d", resp.StatusCode)
	}
	d := time.Since(start)
	if d <= 0 {
		d = time.Nanosecond
	}
	return d, nil
}
