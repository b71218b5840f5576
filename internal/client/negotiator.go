// Package client is the endpoint side of a remote session: it probes the link,
// talks to the coordinator over WebSocket and drives one WebRTC call per remote user.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/quality"
)

// Role is the part an endpoint plays in a session.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// State is the negotiator's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateJoined      State = "joined"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateStopped     State = "stopped"
)

var (
	ErrStopped       = errors.New("negotiator stopped")
	ErrInvalidConfig = errors.New("invalid negotiator config")
)

// Envelope is one message on the coordinator socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Signaler sends events to the coordinator. Send must be safe for concurrent use.
type Signaler interface {
	Send(event string, payload any) error
}

// CallHandlers are invoked by a Call from its own goroutines.
type CallHandlers struct {
	OnCandidate func(candidate json.RawMessage)
	OnMedia     func()
	OnClosed    func()
}

// Call is one peer connection with a remote user. Descriptions and candidates are opaque JSON.
type Call interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (answer json.RawMessage, err error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// CallFactory opens calls. A host's factory attaches the local capture to each call.
type CallFactory interface {
	NewCall(h CallHandlers) (Call, error)
}

// MediaSource is the local capture. Done closes when capture ends on its own.
type MediaSource interface {
	Done() <-chan struct{}
	Close() error
}

// Config describes the endpoint.
type Config struct {
	SessionID string
	UserID    string
	PeerID    string // generated when empty
	Role      Role
	Tier      quality.Tier
	Settings  *models.Settings // host only
	Logger    *zap.Logger
}

type call struct {
	connID     string
	remoteUser string
	remotePeer string
	outbound   bool
	c          Call
}

// Negotiator drives the signaling state machine for one endpoint.
type Negotiator struct {
	cfg     Config
	signal  Signaler
	factory CallFactory
	media   MediaSource
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	peers       map[string]models.Peer // peerID -> peer
	calls       map[string]*call       // remote userID -> call
	recommended *models.QualityRecommendationEvent
	connected   chan struct{}
	connOnce    sync.Once
	stopOnce    sync.Once
	stopped     chan struct{}
}

// NewNegotiator creates a negotiator. media may be nil for viewers.
func NewNegotiator(cfg Config, signal Signaler, factory CallFactory, media MediaSource) (*Negotiator, error) {
	if cfg.SessionID == "" || cfg.UserID == "" || signal == nil || factory == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Role != RoleHost && cfg.Role != RoleViewer {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidConfig, cfg.Role)
	}
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.New().String()
	}
	if cfg.Tier.FPS == 0 {
		cfg.Tier = quality.Classify(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Negotiator{
		cfg:       cfg,
		signal:    signal,
		factory:   factory,
		media:     media,
		logger:    logger.With(zap.String("session_id", cfg.SessionID), zap.String("peer_id", cfg.PeerID)),
		state:     StateIdle,
		peers:     make(map[string]models.Peer),
		calls:     make(map[string]*call),
		connected: make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// PeerID returns this endpoint's peer id.
func (n *Negotiator) PeerID() string { return n.cfg.PeerID }

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Connected closes once the first call carries media.
func (n *Negotiator) Connected() <-chan struct{} { return n.connected }

// Stopped closes once Stop ran.
func (n *Negotiator) Stopped() <-chan struct{} { return n.stopped }

// Recommended returns the latest quality recommendation from the coordinator, if any.
func (n *Negotiator) Recommended() (models.QualityRecommendationEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.recommended == nil {
		return models.QualityRecommendationEvent{}, false
	}
	return *n.recommended, true
}

// Start creates (host) or joins (viewer) the session and registers the peer.
func (n *Negotiator) Start() error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return fmt.Errorf("start in state %s", n.state)
	}
	n.state = StateJoined
	n.mu.Unlock()

	var err error
	if n.cfg.Role == RoleHost {
		err = n.signal.Send(models.EventCreateSession, models.CreateSessionRequest{
			SessionID: n.cfg.SessionID,
			UserID:    n.cfg.UserID,
			Quality: models.QualityConfig{
				Mode:       string(n.cfg.Tier.Label),
				TargetFPS:  n.cfg.Tier.FPS,
				Resolution: n.cfg.Tier.Resolution(),
			},
			Settings: n.cfg.Settings,
		})
	} else {
		err = n.signal.Send(models.EventJoinSession, models.JoinSessionRequest{
			SessionID: n.cfg.SessionID,
			UserID:    n.cfg.UserID,
		})
	}
	if err != nil {
		return err
	}
	return n.signal.Send(models.EventPeerConnection, models.PeerConnectionRequest{
		SessionID: n.cfg.SessionID,
		PeerID:    n.cfg.PeerID,
		Action:    models.PeerActionJoin,
		UserID:    n.cfg.UserID,
		IsHost:    n.cfg.Role == RoleHost,
		Quality:   string(n.cfg.Tier.Label),
	})
}

// Run feeds incoming events to Handle until ctx ends, the stream closes, capture ends or Stop runs.
func (n *Negotiator) Run(ctx context.Context, incoming <-chan Envelope) error {
	var mediaDone <-chan struct{}
	if n.media != nil {
		mediaDone = n.media.Done()
	}
	for {
		select {
		case <-ctx.Done():
			n.Stop()
			return ctx.Err()
		case <-n.stopped:
			return nil
		case <-mediaDone:
			n.logger.Info("local capture ended")
			n.Stop()
			return nil
		case env, ok := <-incoming:
			if !ok {
				n.teardown(false)
				return nil
			}
			if err := n.Handle(env); err != nil {
				n.logger.Warn("handle event", zap.String("event", env.Event), zap.Error(err))
			}
		}
	}
}

// Handle applies one coordinator event.
func (n *Negotiator) Handle(env Envelope) error {
	if n.isStopped() {
		return ErrStopped
	}
	switch env.Event {
	case models.EventExistingPeers:
		var ev models.ExistingPeersEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		return n.onExistingPeers(ev)

	case models.EventPeerJoined:
		var ev models.PeerJoinedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		n.remember(ev.Peer)
		if n.cfg.Role == RoleHost && ev.Peer.UserID != n.cfg.UserID {
			return n.offer(ev.Peer.UserID, ev.Peer.PeerID)
		}

	case models.EventStreamRequest:
		var ev models.StreamRequestEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if n.cfg.Role != RoleHost || ev.ToPeerID != n.cfg.PeerID {
			return nil
		}
		peer, ok := n.peer(ev.FromPeerID)
		if !ok {
			return fmt.Errorf("stream request from unknown peer %s", ev.FromPeerID)
		}
		return n.offer(peer.UserID, peer.PeerID)

	case models.EventWebRTCOffer:
		var ev models.SignalEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if !n.addressedToMe(ev) {
			return nil
		}
		return n.answer(ev)

	case models.EventWebRTCAnswer:
		var ev models.SignalEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if !n.addressedToMe(ev) {
			return nil
		}
		cl := n.callByConn(ev.ConnectionID)
		if cl == nil || !cl.outbound {
			return nil
		}
		if err := cl.c.AcceptAnswer(ev.Payload); err != nil {
			return fmt.Errorf("accept answer: %w", err)
		}
		if n.cfg.Role == RoleHost {
			n.markConnected()
		}

	case models.EventWebRTCCandidate:
		var ev models.SignalEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		if !n.addressedToMe(ev) {
			return nil
		}
		if cl := n.callByConn(ev.ConnectionID); cl != nil {
			return cl.c.AddCandidate(ev.Payload)
		}

	case models.EventPeerLeft:
		var ev models.PeerLeftEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		n.forget(ev.PeerID, ev.UserID)

	case models.EventQualityRecommendation:
		var ev models.QualityRecommendationEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		n.mu.Lock()
		n.recommended = &ev
		n.mu.Unlock()
		n.logger.Info("quality recommendation", zap.String("label", ev.Label), zap.String("resolution", ev.Resolution))

	case models.EventSessionEnded, models.EventUserRemoved:
		n.logger.Info("session closed by coordinator", zap.String("event", env.Event))
		n.teardown(false)

	case models.EventSessionError:
		var ev models.SessionErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return err
		}
		return fmt.Errorf("%s rejected: %s (%s)", ev.Event, ev.Message, ev.Code)
	}
	return nil
}

// ReportStats sends a telemetry sample for the session.
func (n *Negotiator) ReportStats(sample models.PerformanceSample) error {
	if n.isStopped() {
		return ErrStopped
	}
	return n.signal.Send(models.EventPerformanceStats, models.PerformanceStatsRequest{
		SessionID: n.cfg.SessionID,
		Stats:     sample,
	})
}

// Stop closes every call, tells the relay the peer left and releases local media.
func (n *Negotiator) Stop() {
	n.teardown(true)
}

func (n *Negotiator) teardown(notify bool) {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.state = StateStopped
		calls := make([]*call, 0, len(n.calls))
		for _, cl := range n.calls {
			calls = append(calls, cl)
		}
		n.calls = make(map[string]*call)
		n.mu.Unlock()

		for _, cl := range calls {
			if err := cl.c.Close(); err != nil {
				n.logger.Debug("close call", zap.String("connection_id", cl.connID), zap.Error(err))
			}
		}
		if notify {
			if err := n.signal.Send(models.EventPeerConnection, models.PeerConnectionRequest{
				SessionID: n.cfg.SessionID,
				PeerID:    n.cfg.PeerID,
				Action:    models.PeerActionLeave,
				UserID:    n.cfg.UserID,
			}); err != nil {
				n.logger.Debug("send leave", zap.Error(err))
			}
		}
		if n.media != nil {
			if err := n.media.Close(); err != nil {
				n.logger.Debug("close media", zap.Error(err))
			}
		}
		close(n.stopped)
	})
}

func (n *Negotiator) onExistingPeers(ev models.ExistingPeersEvent) error {
	var host *models.Peer
	for i := range ev.Peers {
		n.remember(ev.Peers[i])
		if ev.Peers[i].IsHost {
			host = &ev.Peers[i]
		}
	}
	if n.cfg.Role != RoleViewer {
		return nil
	}
	if host == nil {
		n.logger.Info("no host peer yet, waiting for an offer")
		return nil
	}
	n.setState(StateNegotiating)
	return n.signal.Send(models.EventRequestStream, models.StreamRequest{
		SessionID:  n.cfg.SessionID,
		FromPeerID: n.cfg.PeerID,
	})
}

// offer opens an outbound call to remoteUser unless one is already open.
func (n *Negotiator) offer(remoteUser, remotePeer string) error {
	n.mu.Lock()
	if _, ok := n.calls[remoteUser]; ok {
		n.mu.Unlock()
		return nil
	}
	cl := &call{connID: uuid.New().String(), remoteUser: remoteUser, remotePeer: remotePeer, outbound: true}
	n.calls[remoteUser] = cl
	n.state = StateNegotiating
	n.mu.Unlock()

	c, err := n.factory.NewCall(n.handlers(cl))
	if err != nil {
		n.drop(cl)
		return fmt.Errorf("new call: %w", err)
	}
	n.mu.Lock()
	cl.c = c
	n.mu.Unlock()

	sdp, err := c.CreateOffer()
	if err != nil {
		n.drop(cl)
		_ = c.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	return n.signal.Send(models.EventWebRTCOffer, models.SignalRequest{
		SessionID:    n.cfg.SessionID,
		PeerID:       n.cfg.PeerID,
		ConnectionID: cl.connID,
		TargetUserID: remoteUser,
		Quality:      string(n.cfg.Tier.Label),
		Payload:      sdp,
	})
}

// answer accepts an inbound offer, replacing any earlier call with the same user.
func (n *Negotiator) answer(ev models.SignalEvent) error {
	cl := &call{connID: ev.ConnectionID, remoteUser: ev.FromUserID, remotePeer: ev.PeerID}
	n.mu.Lock()
	prev := n.calls[ev.FromUserID]
	n.calls[ev.FromUserID] = cl
	n.state = StateNegotiating
	n.mu.Unlock()
	if prev != nil && prev.c != nil {
		_ = prev.c.Close()
	}

	c, err := n.factory.NewCall(n.handlers(cl))
	if err != nil {
		n.drop(cl)
		return fmt.Errorf("new call: %w", err)
	}
	n.mu.Lock()
	cl.c = c
	n.mu.Unlock()

	sdp, err := c.AcceptOffer(ev.Payload)
	if err != nil {
		n.drop(cl)
		_ = c.Close()
		return fmt.Errorf("accept offer: %w", err)
	}
	return n.signal.Send(models.EventWebRTCAnswer, models.SignalRequest{
		SessionID:    n.cfg.SessionID,
		PeerID:       n.cfg.PeerID,
		ConnectionID: ev.ConnectionID,
		TargetUserID: ev.FromUserID,
		Payload:      sdp,
	})
}

func (n *Negotiator) handlers(cl *call) CallHandlers {
	return CallHandlers{
		OnCandidate: func(candidate json.RawMessage) {
			if n.isStopped() {
				return
			}
			if err := n.signal.Send(models.EventWebRTCCandidate, models.SignalRequest{
				SessionID:    n.cfg.SessionID,
				PeerID:       n.cfg.PeerID,
				ConnectionID: cl.connID,
				TargetUserID: cl.remoteUser,
				Payload:      candidate,
			}); err != nil {
				n.logger.Debug("send candidate", zap.Error(err))
			}
		},
		OnMedia: func() {
			n.logger.Info("remote media attached", zap.String("remote_user", cl.remoteUser))
			n.markConnected()
		},
		OnClosed: func() {
			n.drop(cl)
		},
	}
}

func (n *Negotiator) addressedToMe(ev models.SignalEvent) bool {
	if ev.FromUserID == n.cfg.UserID {
		return false
	}
	return ev.ToUserID == "" || ev.ToUserID == n.cfg.UserID
}

func (n *Negotiator) callByConn(connID string) *call {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cl := range n.calls {
		if cl.connID == connID && cl.c != nil {
			return cl
		}
	}
	return nil
}

// drop forgets cl if it is still the current call with its user.
func (n *Negotiator) drop(cl *call) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.calls[cl.remoteUser]; ok && cur == cl {
		delete(n.calls, cl.remoteUser)
	}
}

func (n *Negotiator) forget(peerID, userID string) {
	n.mu.Lock()
	delete(n.peers, peerID)
	cl := n.calls[userID]
	if cl != nil && cl.remotePeer == peerID {
		delete(n.calls, userID)
	} else {
		cl = nil
	}
	n.mu.Unlock()
	if cl != nil && cl.c != nil {
		_ = cl.c.Close()
	}
}

func (n *Negotiator) remember(p models.Peer) {
	if p.PeerID == "" || p.PeerID == n.cfg.PeerID {
		return
	}
	n.mu.Lock()
	n.peers[p.PeerID] = p
	n.mu.Unlock()
}

func (n *Negotiator) peer(peerID string) (models.Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[peerID]
	return p, ok
}

func (n *Negotiator) markConnected() {
	n.setState(StateConnected)
	n.connOnce.Do(func() { close(n.connected) })
}

func (n *Negotiator) setState(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateStopped {
		n.state = s
	}
}

func (n *Negotiator) isStopped() bool {
	select {
	case <-n.stopped:
		return true
	default:
		return false
	}
}
