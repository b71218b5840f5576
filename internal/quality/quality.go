// Package quality maps link latency to a capture tier.
package quality

import (
	"fmt"
	"time"
)

// Label names a link quality class.
type Label string

const (
	Excellent Label = "excellent"
	Good      Label = "good"
	Fair      Label = "fair"
	Poor      Label = "poor"
)

// Tier is a link class plus the capture constraints derived from it.
type Tier struct {
	Label  Label `json:"label"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
	FPS    int   `json:"fps"`
}

// Resolution formats the tier as e.g. "1280x720".
func (t Tier) Resolution() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

var (
	tier1080p60 = Tier{Label: Excellent, Width: 1920, Height: 1080, FPS: 60}
	tier720p30  = Tier{Label: Good, Width: 1280, Height: 720, FPS: 30}
	tier480p24  = Tier{Label: Fair, Width: 854, Height: 480, FPS: 24}
	// Poor links fall back to 720p30 and rely on the transport to adapt.
	tierFallback = Tier{Label: Poor, Width: 1280, Height: 720, FPS: 30}
)

// Classify maps a round-trip time to a tier:
// <50ms 1080p60, <150ms 720p30, <300ms 480p24, otherwise 720p30 fallback.
func Classify(rtt time.Duration) Tier {
	switch {
	case rtt < 50*time.Millisecond:
		return tier1080p60
	case rtt < 150*time.Millisecond:
		return tier720p30
	case rtt < 300*time.Millisecond:
		return tier480p24
	default:
		return tierFallback
	}
}

// ClassifyMillis is Classify for telemetry that reports latency in milliseconds.
func ClassifyMillis(ms float64) Tier {
	return Classify(time.Duration(ms * float64(time.Millisecond)))
}
