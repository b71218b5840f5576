package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/sessions"
	"github.com/aura-remote/backend/internal/signaling"
	"github.com/aura-remote/backend/internal/stats"
)

// Error codes carried by session_error.
const (
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeCapacity       = "capacity"
	CodeNoHostFound    = "no_host_found"
	CodeAlreadyExists  = "already_exists"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errInternal     = errors.New("internal error")
)

// Dispatcher routes client events to the registry, relay and stats aggregator.
// Failures are reported to the calling client only.
type Dispatcher struct {
	hub      *Hub
	registry *sessions.Registry
	relay    *signaling.Relay
	stats    *stats.Aggregator
	logger   *zap.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(hub *Hub, registry *sessions.Registry, relay *signaling.Relay, agg *stats.Aggregator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{hub: hub, registry: registry, relay: relay, stats: agg, logger: logger}
}

// Handle processes one message from c. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, c *Client, msg WSMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("handler panic",
				zap.String("event", msg.Event),
				zap.String("client_id", c.ID),
				zap.Any("panic", rec),
			)
			d.fail(c, msg.Event, errInternal)
		}
	}()

	if err := d.route(ctx, c, msg); err != nil {
		d.fail(c, msg.Event, err)
	}
}

func (d *Dispatcher) route(ctx context.Context, c *Client, msg WSMessage) error {
	switch msg.Event {
	case models.EventCreateSession:
		var req models.CreateSessionRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if err := d.sameUser(c, req.UserID); err != nil {
			return err
		}
		snap, err := d.registry.CreateSession(ctx, sessions.CreateParams{
			SessionID:   req.SessionID,
			UserID:      c.UserID,
			TransportID: c.ID,
			Quality:     req.Quality,
			Settings:    req.Settings,
		})
		if err != nil {
			return err
		}
		d.hub.SendTo(c.ID, models.EventSessionCreated, snap)

	case models.EventJoinSession:
		var req models.JoinSessionRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if err := d.sameUser(c, req.UserID); err != nil {
			return err
		}
		snap, err := d.registry.JoinSession(ctx, req.SessionID, c.UserID, c.ID)
		if err != nil {
			return err
		}
		d.hub.SendTo(c.ID, models.EventSessionJoined, snap)

	case models.EventRemoveUser:
		var req models.RemoveUserRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if _, err := d.registry.RemoveParticipant(ctx, req.SessionID, c.UserID, req.UserIDToRemove); err != nil {
			return err
		}
		d.hub.SendTo(c.ID, models.EventUserRemoveSuccess, models.UserRemoveSuccessEvent{
			SessionID: req.SessionID,
			UserID:    req.UserIDToRemove,
		})

	case models.EventEndSession:
		var req models.SessionRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if _, err := d.registry.EndSession(ctx, req.SessionID, c.UserID); err != nil {
			return err
		}

	case models.EventGetSessionInfo:
		var req models.SessionRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		info, err := d.registry.GetSessionInfo(req.SessionID)
		if err != nil {
			return err
		}
		d.hub.SendTo(c.ID, models.EventSessionInfo, info)

	case models.EventGetActive:
		d.hub.SendTo(c.ID, models.EventActiveSessions, models.ActiveSessionsEvent{Sessions: d.registry.ListActiveSessions()})

	case models.EventPeerConnection:
		return d.peerConnection(c, msg.Data)

	case models.EventRequestStream:
		var req models.StreamRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if err := d.member(c, req.SessionID); err != nil {
			return err
		}
		_, err := d.relay.RequestStream(req.SessionID, req.FromPeerID)
		return err

	case models.EventWebRTCOffer, models.EventWebRTCAnswer, models.EventWebRTCCandidate:
		return d.signal(c, msg.Event, msg.Data)

	case models.EventPerformanceStats:
		return d.performance(c, msg.Data)

	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, msg.Event)
	}
	return nil
}

func (d *Dispatcher) peerConnection(c *Client, data json.RawMessage) error {
	var req models.PeerConnectionRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := d.sameUser(c, req.UserID); err != nil {
		return err
	}
	isHost := false
	if req.Action != models.PeerActionLeave {
		host, err := d.registry.HostUserID(req.SessionID)
		if err != nil {
			return err
		}
		if !d.registry.IsParticipant(req.SessionID, c.UserID) {
			return sessions.ErrParticipantNotFound
		}
		// The host flag is derived from the roster, not trusted from the client.
		isHost = host == c.UserID
	}
	existing, err := d.relay.RegisterPeer(signaling.PeerRegistration{
		SessionID:   req.SessionID,
		PeerID:      req.PeerID,
		UserID:      c.UserID,
		TransportID: c.ID,
		IsHost:      isHost,
		Quality:     req.Quality,
		Action:      req.Action,
	})
	if err != nil {
		return err
	}
	if req.Action == models.PeerActionJoin {
		if existing == nil {
			existing = []models.Peer{}
		}
		d.hub.SendTo(c.ID, models.EventExistingPeers, models.ExistingPeersEvent{SessionID: req.SessionID, Peers: existing})
	}
	return nil
}

func (d *Dispatcher) signal(c *Client, event string, data json.RawMessage) error {
	var req models.SignalRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.SessionID != "" {
		if err := d.member(c, req.SessionID); err != nil {
			return err
		}
	}
	sig := signaling.Signal{
		SessionID:    req.SessionID,
		ConnectionID: req.ConnectionID,
		PeerID:       req.PeerID,
		FromUserID:   c.UserID,
		TargetUserID: req.TargetUserID,
		TransportID:  c.ID,
		Quality:      req.Quality,
		Payload:      req.Payload,
	}
	switch event {
	case models.EventWebRTCOffer:
		_, err := d.relay.RelayOffer(sig)
		return err
	case models.EventWebRTCAnswer:
		return d.relay.RelayAnswer(sig)
	default:
		return d.relay.RelayIceCandidate(sig)
	}
}

func (d *Dispatcher) performance(c *Client, data json.RawMessage) error {
	var req models.PerformanceStatsRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if err := d.member(c, req.SessionID); err != nil {
		return err
	}
	res, err := d.stats.RecordSample(req.SessionID, req.Stats)
	if err != nil {
		return err
	}
	if res.TierChanged && d.registry.AdaptiveBitrate(req.SessionID) {
		d.hub.Broadcast(req.SessionID, models.EventQualityRecommendation, models.QualityRecommendationEvent{
			SessionID:  req.SessionID,
			Label:      string(res.Tier.Label),
			Resolution: res.Tier.Resolution(),
			TargetFPS:  res.Tier.FPS,
			AvgLatency: res.Performance.AvgLatency,
			AvgFPS:     res.Performance.AvgFPS,
		})
	}
	return nil
}

// Disconnect releases everything tied to a closed transport.
func (d *Dispatcher) Disconnect(ctx context.Context, c *Client) {
	d.relay.CleanupTransport(c.ID)
	d.hub.Unregister(c)
	if d.hub.UserConnections(c.UserID) == 0 {
		d.relay.Cleanup(c.UserID)
	}
	d.registry.HandleDisconnect(ctx, c.ID)
}

func (d *Dispatcher) member(c *Client, sessionID string) error {
	if sessionID == "" {
		return sessions.ErrInvalidRequest
	}
	if !d.registry.IsParticipant(sessionID, c.UserID) {
		if _, err := d.registry.HostUserID(sessionID); err != nil {
			return err
		}
		return sessions.ErrUnauthorized
	}
	return nil
}

func (d *Dispatcher) sameUser(c *Client, claimed string) error {
	if claimed != "" && claimed != c.UserID {
		return sessions.ErrUnauthorized
	}
	return nil
}

func (d *Dispatcher) fail(c *Client, event string, err error) {
	code := ErrorCode(err)
	if code == CodeInternal {
		d.logger.Error("event failed", zap.String("event", event), zap.String("client_id", c.ID), zap.Error(err))
	} else {
		d.logger.Debug("event rejected", zap.String("event", event), zap.String("code", code), zap.Error(err))
	}
	d.hub.SendTo(c.ID, models.EventSessionError, models.SessionErrorEvent{
		Event:   event,
		Code:    code,
		Message: err.Error(),
	})
}

// ErrorCode maps an operation error to its session_error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound),
		errors.Is(err, sessions.ErrParticipantNotFound),
		errors.Is(err, stats.ErrUnknownSession):
		return CodeNotFound
	case errors.Is(err, sessions.ErrUnauthorized),
		errors.Is(err, sessions.ErrHostRemoval):
		return CodeUnauthorized
	case errors.Is(err, sessions.ErrCapacity):
		return CodeCapacity
	case errors.Is(err, signaling.ErrNoHostFound):
		return CodeNoHostFound
	case errors.Is(err, sessions.ErrSessionExists):
		return CodeAlreadyExists
	case errors.Is(err, sessions.ErrInvalidRequest),
		errors.Is(err, signaling.ErrInvalidRequest),
		errors.Is(err, signaling.ErrInvalidAction),
		errors.Is(err, signaling.ErrConnectionInUse),
		errors.Is(err, errUnknownEvent),
		errors.Is(err, errDecode):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

var errDecode = errors.New("malformed payload")

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", errDecode)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}
