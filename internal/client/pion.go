package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PionOptions configures calls backed by pion/webrtc.
type PionOptions struct {
	ICEServers []webrtc.ICEServer
	// Tracks are attached to every call (host capture). Empty for viewers.
	Tracks []webrtc.TrackLocal
	// OnTrack receives each remote track (viewer playback or recording).
	OnTrack func(track *webrtc.TrackRemote)
	Logger  *zap.Logger
}

// PionFactory opens WebRTC calls.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	opts   PionOptions
	logger *zap.Logger
}

// NewPionFactory registers the default codecs and returns a factory.
func NewPionFactory(opts PionOptions) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
		opts:   opts,
		logger: logger,
	}, nil
}

// NewCall creates a peer connection wired to h.
func (f *PionFactory) NewCall(h CallHandlers) (Call, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	c := &pionCall{pc: pc, hasTracks: len(f.opts.Tracks) > 0, logger: f.logger}

	for _, t := range f.opts.Tracks {
		sender, err := pc.AddTrack(t)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
		// RTCP must be drained for interceptors to run.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || h.OnCandidate == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		h.OnCandidate(b)
	})
	var mediaOnce sync.Once
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.logger.Info("remote track", zap.String("id", track.ID()), zap.String("codec", track.Codec().MimeType))
		if h.OnMedia != nil {
			mediaOnce.Do(h.OnMedia)
		}
		if f.opts.OnTrack != nil {
			go f.opts.OnTrack(track)
		}
	})
	var closedOnce sync.Once
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		f.logger.Debug("connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			if h.OnClosed != nil {
				closedOnce.Do(h.OnClosed)
			}
		}
	})
	return c, nil
}

type pionCall struct {
	pc        *webrtc.PeerConnection
	hasTracks bool
	logger    *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (c *pionCall) CreateOffer() (json.RawMessage, error) {
	if !c.hasTracks {
		if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return nil, fmt.Errorf("add transceiver: %w", err)
		}
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionCall) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	desc, err := parseDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := c.setRemote(desc); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionCall) AcceptAnswer(answer json.RawMessage) error {
	desc, err := parseDescription(answer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return c.setRemote(desc)
}

// AddCandidate applies a remote candidate, holding it until the remote description is known.
func (c *pionCall) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(init)
}

func (c *pionCall) Close() error {
	return c.pc.Close()
}

func (c *pionCall) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Debug("add buffered candidate", zap.Error(err))
		}
	}
	return nil
}

var errDescription = errors.New("unexpected session description")

func parseDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("parse session description: %w", err)
	}
	if desc.Type != want || desc.SDP == "" {
		return desc, fmt.Errorf("%w: got %s", errDescription, desc.Type)
	}
	return desc, nil
}
