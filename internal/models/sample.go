package models

import "time"

// PerformanceSample is one telemetry report from an endpoint.
type PerformanceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Latency    float64   `json:"latency"`
	FPS        float64   `json:"fps"`
	Bitrate    float64   `json:"bitrate"`
	PacketLoss float64   `json:"packet_loss"`
	Bytes      int64     `json:"bytes,omitempty"`
}
