// Package signaling relays opaque WebRTC handshake messages between the peers of a session.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/models"
)

var (
	ErrNoHostFound    = errors.New("no host peer registered in session")
	ErrInvalidAction  = errors.New("invalid peer action")
	ErrInvalidRequest = errors.New("invalid signaling request")
	// ErrConnectionInUse is returned when an offer reuses a connection id that belongs
	// to another session or another initiator.
	ErrConnectionInUse = errors.New("connection id already in use")
)

// Notifier delivers relay events to a session room.
type Notifier interface {
	Broadcast(sessionID, event string, payload any)
	BroadcastExcept(sessionID, exceptTransportID, event string, payload any)
}

// Options configures a Relay.
type Options struct {
	Notifier      Notifier
	OfferTTL      time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// PeerRegistration is the input of RegisterPeer.
type PeerRegistration struct {
	SessionID   string
	PeerID      string
	UserID      string
	TransportID string
	IsHost      bool
	Quality     string
	Action      string
}

// Signal is one offer, answer or candidate travelling through the relay.
// FromUserID and TransportID identify the sender.
type Signal struct {
	SessionID    string
	ConnectionID string
	PeerID       string
	FromUserID   string
	TargetUserID string
	TransportID  string
	Quality      string
	Payload      json.RawMessage
}

type peerKey struct {
	sessionID string
	peerID    string
}

// Relay tracks registered peers and in-flight handshakes. It never inspects payloads.
type Relay struct {
	mu           sync.Mutex
	peers        map[peerKey]*models.Peer
	sessionPeers map[string]map[string]struct{}
	connections  map[models.ConnectionKey]*models.PeerConnectionRecord
	byConnID     map[string]models.ConnectionKey
	quality      map[peerKey]string

	notify        Notifier
	offerTTL      time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewRelay creates an empty relay.
func NewRelay(opts Options) *Relay {
	r := &Relay{
		peers:         make(map[peerKey]*models.Peer),
		sessionPeers:  make(map[string]map[string]struct{}),
		connections:   make(map[models.ConnectionKey]*models.PeerConnectionRecord),
		byConnID:      make(map[string]models.ConnectionKey),
		quality:       make(map[peerKey]string),
		notify:        opts.Notifier,
		offerTTL:      opts.OfferTTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if r.notify == nil {
		r.notify = nopNotifier{}
	}
	if r.offerTTL <= 0 {
		r.offerTTL = 2 * time.Minute
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = 30 * time.Second
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RegisterPeer handles a peer_connection message. On join it returns the other peers
// of the session and announces the newcomer to them.
func (r *Relay) RegisterPeer(reg PeerRegistration) ([]models.Peer, error) {
	if reg.SessionID == "" || reg.PeerID == "" {
		return nil, ErrInvalidRequest
	}
	switch reg.Action {
	case models.PeerActionLeave:
		r.CleanupPeer(reg.PeerID, reg.SessionID)
		return nil, nil
	case models.PeerActionJoin, models.PeerActionUpdate:
	default:
		return nil, ErrInvalidAction
	}

	now := r.now()
	key := peerKey{reg.SessionID, reg.PeerID}

	r.mu.Lock()
	p, ok := r.peers[key]
	if !ok {
		p = &models.Peer{PeerID: reg.PeerID, SessionID: reg.SessionID, JoinedAt: now}
		r.peers[key] = p
	}
	p.UserID = reg.UserID
	p.IsHost = reg.IsHost
	p.Quality = reg.Quality
	p.TransportID = reg.TransportID
	p.UpdatedAt = now
	if reg.Quality != "" {
		r.quality[key] = reg.Quality
	}
	set, ok := r.sessionPeers[reg.SessionID]
	if !ok {
		set = make(map[string]struct{})
		r.sessionPeers[reg.SessionID] = set
	}
	set[reg.PeerID] = struct{}{}

	var existing []models.Peer
	if reg.Action == models.PeerActionJoin {
		existing = r.othersLocked(reg.SessionID, reg.PeerID)
	}
	self := *p
	r.mu.Unlock()

	if reg.Action == models.PeerActionJoin {
		r.notify.BroadcastExcept(reg.SessionID, reg.TransportID, models.EventPeerJoined, models.PeerJoinedEvent{
			SessionID: reg.SessionID,
			Peer:      self,
		})
		r.logger.Debug("peer joined", zap.String("session_id", reg.SessionID), zap.String("peer_id", reg.PeerID))
	}
	return existing, nil
}

// RequestStream asks the session's host peer to start streaming to fromPeerID.
func (r *Relay) RequestStream(sessionID, fromPeerID string) (models.StreamRequestEvent, error) {
	if sessionID == "" || fromPeerID == "" {
		return models.StreamRequestEvent{}, ErrInvalidRequest
	}
	r.mu.Lock()
	hostPeerID := ""
	for _, p := range r.othersLocked(sessionID, "") {
		if p.IsHost {
			hostPeerID = p.PeerID
			break
		}
	}
	r.mu.Unlock()
	if hostPeerID == "" {
		return models.StreamRequestEvent{}, ErrNoHostFound
	}

	ev := models.StreamRequestEvent{
		SessionID:  sessionID,
		FromPeerID: fromPeerID,
		ToPeerID:   hostPeerID,
		Priority:   models.PriorityHigh,
	}
	r.notify.Broadcast(sessionID, models.EventStreamRequest, ev)
	return ev, nil
}

// RelayOffer records a new handshake between FromUserID and TargetUserID and
// broadcasts the offer to the session. A previous handshake between the same
// pair is replaced. The sender may pick the connection id; otherwise one is
// generated. A chosen id may only be reused by the initiator that holds it, in the
// same session. It returns the connection id of the handshake.
func (r *Relay) RelayOffer(sig Signal) (string, error) {
	if sig.SessionID == "" || sig.FromUserID == "" || len(sig.Payload) == 0 {
		return "", ErrInvalidRequest
	}
	now := r.now()
	key := models.ConnectionKey{SessionID: sig.SessionID, Initiator: sig.FromUserID, Target: sig.TargetUserID}
	connID := sig.ConnectionID
	if connID == "" {
		connID = uuid.New().String()
	}

	r.mu.Lock()
	prev, bound := r.byConnID[connID]
	if bound && (prev.SessionID != key.SessionID || prev.Initiator != key.Initiator) {
		r.mu.Unlock()
		return "", ErrConnectionInUse
	}
	if old, ok := r.connections[key]; ok {
		delete(r.byConnID, old.ConnectionID)
	}
	if bound && prev != key {
		delete(r.connections, prev)
	}
	r.connections[key] = &models.PeerConnectionRecord{
		Key:          key,
		ConnectionID: connID,
		SessionID:    sig.SessionID,
		PeerID:       sig.PeerID,
		Offer:        sig.Payload,
		Quality:      sig.Quality,
		State:        models.HandshakeOffering,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byConnID[connID] = key
	if sig.Quality != "" && sig.PeerID != "" {
		r.quality[peerKey{sig.SessionID, sig.PeerID}] = sig.Quality
	}
	r.mu.Unlock()

	r.notify.BroadcastExcept(sig.SessionID, sig.TransportID, models.EventWebRTCOffer, models.SignalEvent{
		SessionID:    sig.SessionID,
		ConnectionID: connID,
		PeerID:       sig.PeerID,
		FromUserID:   sig.FromUserID,
		ToUserID:     sig.TargetUserID,
		Quality:      sig.Quality,
		Payload:      sig.Payload,
	})
	return connID, nil
}

// RelayAnswer forwards an answer. The matching handshake, if still tracked, moves
// to Answered; an unknown connection id is forwarded all the same.
func (r *Relay) RelayAnswer(sig Signal) error {
	if sig.ConnectionID == "" || len(sig.Payload) == 0 {
		return ErrInvalidRequest
	}
	now := r.now()
	sessionID := sig.SessionID
	toUser := sig.TargetUserID

	r.mu.Lock()
	key, ok := r.byConnID[sig.ConnectionID]
	if ok {
		rec := r.connections[key]
		rec.Answer = sig.Payload
		rec.State = models.HandshakeAnswered
		rec.UpdatedAt = now
		rec.AnsweredAt = &now
		sessionID = rec.SessionID
		toUser = rec.Key.Initiator
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("relaying answer for untracked connection", zap.String("connection_id", sig.ConnectionID))
	}
	if sessionID == "" {
		return ErrInvalidRequest
	}
	r.notify.BroadcastExcept(sessionID, sig.TransportID, models.EventWebRTCAnswer, models.SignalEvent{
		SessionID:    sessionID,
		ConnectionID: sig.ConnectionID,
		PeerID:       sig.PeerID,
		FromUserID:   sig.FromUserID,
		ToUserID:     toUser,
		Payload:      sig.Payload,
	})
	return nil
}

// RelayIceCandidate forwards a candidate without touching relay state.
func (r *Relay) RelayIceCandidate(sig Signal) error {
	if sig.SessionID == "" || len(sig.Payload) == 0 {
		return ErrInvalidRequest
	}
	r.notify.BroadcastExcept(sig.SessionID, sig.TransportID, models.EventWebRTCCandidate, models.SignalEvent{
		SessionID:    sig.SessionID,
		ConnectionID: sig.ConnectionID,
		PeerID:       sig.PeerID,
		FromUserID:   sig.FromUserID,
		ToUserID:     sig.TargetUserID,
		Payload:      sig.Payload,
	})
	return nil
}

// CleanupPeer forgets a peer and every handshake its user takes part in within the session.
func (r *Relay) CleanupPeer(peerID, sessionID string) {
	r.mu.Lock()
	p, ok := r.removePeerLocked(sessionID, peerID)
	if ok {
		r.dropConnectionsLocked(func(rec *models.PeerConnectionRecord) bool {
			return rec.SessionID == sessionID && (rec.Involves(p.UserID) || rec.PeerID == peerID)
		})
	}
	r.mu.Unlock()

	if ok {
		r.notify.Broadcast(sessionID, models.EventPeerLeft, models.PeerLeftEvent{
			SessionID: sessionID,
			PeerID:    peerID,
			UserID:    p.UserID,
		})
	}
}

// CleanupUser removes a user's peers and handshakes from one session.
func (r *Relay) CleanupUser(sessionID, userID string) {
	for _, peerID := range r.peersOf(func(p *models.Peer) bool {
		return p.SessionID == sessionID && p.UserID == userID
	}) {
		r.CleanupPeer(peerID, sessionID)
	}
	r.mu.Lock()
	r.dropConnectionsLocked(func(rec *models.PeerConnectionRecord) bool {
		return rec.SessionID == sessionID && rec.Involves(userID)
	})
	r.mu.Unlock()
}

// Cleanup removes every peer and handshake of userID across all sessions.
func (r *Relay) Cleanup(userID string) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	var keys []peerKey
	for k, p := range r.peers {
		if p.UserID == userID {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.CleanupPeer(k.peerID, k.sessionID)
	}
	r.mu.Lock()
	r.dropConnectionsLocked(func(rec *models.PeerConnectionRecord) bool { return rec.Involves(userID) })
	r.mu.Unlock()
}

// CleanupTransport removes every peer registered through a transport, together with
// the handshakes of their users in those sessions. It returns the number of peers removed.
func (r *Relay) CleanupTransport(transportID string) int {
	if transportID == "" {
		return 0
	}
	r.mu.Lock()
	var keys []peerKey
	for k, p := range r.peers {
		if p.TransportID == transportID {
			keys = append(keys, k)
		}
	}
	r.mu.Unlock()

	for _, k := range keys {
		r.CleanupPeer(k.peerID, k.sessionID)
	}
	return len(keys)
}

// CleanupSession drops all peers, handshakes and quality data of a session.
func (r *Relay) CleanupSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for peerID := range r.sessionPeers[sessionID] {
		r.removePeerLocked(sessionID, peerID)
	}
	delete(r.sessionPeers, sessionID)
	n := r.dropConnectionsLocked(func(rec *models.PeerConnectionRecord) bool { return rec.SessionID == sessionID })
	if n > 0 {
		r.logger.Debug("dropped handshakes of ended session", zap.String("session_id", sessionID), zap.Int("count", n))
	}
}

// SweepExpired deletes handshakes still Offering after the offer TTL and returns how many were removed.
func (r *Relay) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropConnectionsLocked(func(rec *models.PeerConnectionRecord) bool {
		return rec.State == models.HandshakeOffering && now.Sub(rec.CreatedAt) > r.offerTTL
	})
}

// Run sweeps expired handshakes until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	r.logger.Info("offer reaper started", zap.Duration("ttl", r.offerTTL), zap.Duration("interval", r.sweepInterval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("offer reaper stopped")
			return
		case <-ticker.C:
			if n := r.SweepExpired(r.now()); n > 0 {
				r.logger.Info("expired offers swept", zap.Int("count", n))
			}
		}
	}
}

// Peers returns the peers registered in a session, oldest first.
func (r *Relay) Peers(sessionID string) []models.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.othersLocked(sessionID, "")
}

// Connection returns the handshake tracked under connID.
func (r *Relay) Connection(connID string) (models.PeerConnectionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byConnID[connID]
	if !ok {
		return models.PeerConnectionRecord{}, false
	}
	return *r.connections[key], true
}

// ConnectionCount returns the number of handshakes involving userID, or all of them when userID is empty.
func (r *Relay) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID == "" {
		return len(r.connections)
	}
	n := 0
	for _, rec := range r.connections {
		if rec.Involves(userID) {
			n++
		}
	}
	return n
}

// PeerQuality returns the last quality label reported for a peer.
func (r *Relay) PeerQuality(sessionID, peerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quality[peerKey{sessionID, peerID}]
}

func (r *Relay) othersLocked(sessionID, excludePeerID string) []models.Peer {
	out := make([]models.Peer, 0, len(r.sessionPeers[sessionID]))
	for peerID := range r.sessionPeers[sessionID] {
		if peerID == excludePeerID {
			continue
		}
		if p, ok := r.peers[peerKey{sessionID, peerID}]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].PeerID < out[j].PeerID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Relay) removePeerLocked(sessionID, peerID string) (models.Peer, bool) {
	key := peerKey{sessionID, peerID}
	p, ok := r.peers[key]
	delete(r.peers, key)
	delete(r.quality, key)
	if set, found := r.sessionPeers[sessionID]; found {
		delete(set, peerID)
		if len(set) == 0 {
			delete(r.sessionPeers, sessionID)
		}
	}
	if !ok {
		return models.Peer{}, false
	}
	return *p, true
}

func (r *Relay) dropConnectionsLocked(match func(*models.PeerConnectionRecord) bool) int {
	n := 0
	for key, rec := range r.connections {
		if match(rec) {
			delete(r.connections, key)
			delete(r.byConnID, rec.ConnectionID)
			n++
		}
	}
	return n
}

func (r *Relay) peersOf(match func(*models.Peer) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for k, p := range r.peers {
		if match(p) {
			out = append(out, k.peerID)
		}
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, string, any)               {}
func (nopNotifier) BroadcastExcept(string, string, string, any) {}
