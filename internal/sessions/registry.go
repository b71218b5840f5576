// Package sessions owns the in-memory roster of remote screen-share sessions.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/persistence"
)

// ProfileLookup resolves display information for a user. It must not fail:
// implementations fall back to a placeholder profile.
type ProfileLookup interface {
	GetUserProfile(ctx context.Context, userID string) models.Profile
}

// Mirror is the best-effort durable copy of session state.
type Mirror interface {
	TryPersist(collection, id string, doc any)
	TryAppend(collection, id string, doc any)
	Load(ctx context.Context, collection, id string, dst any) (bool, error)
}

// Notifier delivers events to the endpoints of a session room.
type Notifier interface {
	Join(sessionID, transportID string)
	Leave(sessionID, transportID string)
	Broadcast(sessionID, event string, payload any)
	BroadcastExcept(sessionID, exceptTransportID, event string, payload any)
	SendTo(transportID, event string, payload any)
	CloseRoom(sessionID string)
}

// CreateParams is the input of CreateSession.
type CreateParams struct {
	SessionID   string
	UserID      string
	TransportID string
	Quality     models.QualityConfig
	Settings    *models.Settings
}

// Options configures a Registry. Nil collaborators are replaced by no-ops.
type Options struct {
	Profiles ProfileLookup
	Mirror   Mirror
	Notifier Notifier
	Leases   Leases
	Defaults models.Settings
	Logger   *zap.Logger
	Now      func() time.Time
	// TombstoneTTL is how long an ended id stays barred from rehydration (default 24h).
	TombstoneTTL time.Duration
}

// Registry is the authoritative store of active sessions. Every mutating
// operation on a session id runs under that id's lock, including the time
// spent waiting on profile lookups and rehydration.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	metrics    map[string]*models.SessionMetrics
	transports map[string]map[string]string // transportID -> sessionID -> userID
	ended      map[string]time.Time         // sessionID -> end time

	locks        *keyedMutex
	profiles     ProfileLookup
	mirror       Mirror
	notify       Notifier
	leases       Leases
	tombstoneTTL time.Duration
	defaults     models.Settings
	logger       *zap.Logger
	now          func() time.Time

	hooksMu sync.RWMutex
	onEnded []func(sessionID string)
	onLeft  []func(sessionID, userID string)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		sessions:   make(map[string]*models.Session),
		metrics:    make(map[string]*models.SessionMetrics),
		transports: make(map[string]map[string]string),
		ended:      make(map[string]time.Time),
		locks:      newKeyedMutex(),
		profiles:   opts.Profiles,
		mirror:     opts.Mirror,
		notify:     opts.Notifier,
		leases:     opts.Leases,
		defaults:   opts.Defaults,
		logger:     opts.Logger,
		now:        opts.Now,

		tombstoneTTL: opts.TombstoneTTL,
	}
	if r.leases == nil {
		r.leases = localLeases{}
	}
	if r.tombstoneTTL <= 0 {
		r.tombstoneTTL = 24 * time.Hour
	}
	if r.profiles == nil {
		r.profiles = placeholderProfiles{}
	}
	if r.mirror == nil {
		r.mirror = nopMirror{}
	}
	if r.notify == nil {
		r.notify = nopNotifier{}
	}
	if r.defaults.MaxParticipants <= 0 {
		r.defaults.MaxParticipants = 10
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// OnSessionEnded registers fn to run after a session has been removed from memory.
func (r *Registry) OnSessionEnded(fn func(sessionID string)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onEnded = append(r.onEnded, fn)
}

// OnParticipantRemoved registers fn to run after a participant was removed by the host.
func (r *Registry) OnParticipantRemoved(fn func(sessionID, userID string)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onLeft = append(r.onLeft, fn)
}

// CreateSession starts a session with the caller as its only participant and host.
func (r *Registry) CreateSession(ctx context.Context, p CreateParams) (models.Session, error) {
	if p.SessionID == "" || p.UserID == "" {
		return models.Session{}, ErrInvalidRequest
	}
	unlock := r.locks.Lock(p.SessionID)
	defer unlock()

	r.mu.RLock()
	_, exists := r.sessions[p.SessionID]
	r.mu.RUnlock()
	if exists {
		return models.Session{}, ErrSessionExists
	}
	owned, err := r.acquire(ctx, p.SessionID, true)
	if err != nil {
		// Without the lease store a new id is still safe to serve locally.
		r.logger.Warn("acquire session lease", zap.String("session_id", p.SessionID), zap.Error(err))
	} else if !owned {
		return models.Session{}, ErrSessionExists
	}

	profile := r.profiles.GetUserProfile(ctx, p.UserID)
	now := r.now()

	sess := &models.Session{
		ID:         p.SessionID,
		HostUserID: p.UserID,
		Participants: []models.Participant{{
			UserID:      p.UserID,
			TransportID: p.TransportID,
			Role:        models.RoleHost,
			Profile:     profile,
			JoinedAt:    now,
			Presence:    models.PresenceOnline,
		}},
		Quality:      withQualityDefaults(p.Quality),
		Settings:     r.settingsFor(p.Settings),
		Status:       models.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	delete(r.ended, sess.ID)
	r.sessions[sess.ID] = sess
	r.metrics[sess.ID] = &models.SessionMetrics{StartTime: now, PeakParticipants: 1, TotalJoins: 1}
	r.bindLocked(p.TransportID, sess.ID, p.UserID)
	snap := sess.Snapshot()
	r.mu.Unlock()

	if p.TransportID != "" {
		r.notify.Join(sess.ID, p.TransportID)
	}
	r.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("host", p.UserID))
	r.mirror.TryPersist(persistence.CollectionSessions, sess.ID, snap)
	return snap, nil
}

// JoinSession adds userID as a viewer, or reattaches it when it is already on the roster.
// A session missing from memory is rehydrated once from the mirror if it is still active there.
func (r *Registry) JoinSession(ctx context.Context, sessionID, userID, transportID string) (models.Session, error) {
	if sessionID == "" || userID == "" {
		return models.Session{}, ErrInvalidRequest
	}
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	r.mu.RLock()
	_, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		if err := r.rehydrate(ctx, sessionID); err != nil {
			return models.Session{}, err
		}
	}

	profile := r.profiles.GetUserProfile(ctx, userID)
	now := r.now()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, ErrSessionNotFound
	}
	reconnected := false
	staleTransport := ""
	var role models.ParticipantRole
	if idx := sess.IndexOf(userID); idx >= 0 {
		p := &sess.Participants[idx]
		if p.TransportID != "" && p.TransportID != transportID {
			staleTransport = p.TransportID
			r.unbindLocked(staleTransport, sessionID)
		}
		at := now
		p.TransportID = transportID
		p.Profile = profile
		p.ReconnectedAt = &at
		p.Presence = models.PresenceOnline
		p.DisconnectedAt = nil
		role = p.Role
		reconnected = true
	} else {
		if len(sess.Participants) >= sess.Settings.MaxParticipants {
			r.mu.Unlock()
			return models.Session{}, ErrCapacity
		}
		sess.Participants = append(sess.Participants, models.Participant{
			UserID:      userID,
			TransportID: transportID,
			Role:        models.RoleViewer,
			Profile:     profile,
			JoinedAt:    now,
			Presence:    models.PresenceOnline,
		})
		role = models.RoleViewer
		if m := r.metrics[sessionID]; m != nil {
			m.TotalJoins++
			if n := len(sess.Participants); n > m.PeakParticipants {
				m.PeakParticipants = n
			}
		}
	}
	sess.LastActivity = now
	r.bindLocked(transportID, sessionID, userID)
	snap := sess.Snapshot()
	r.mu.Unlock()

	if staleTransport != "" {
		r.notify.Leave(sessionID, staleTransport)
	}
	if transportID != "" {
		r.notify.Join(sessionID, transportID)
	}
	r.notify.BroadcastExcept(sessionID, transportID, models.EventUserJoined, models.UserJoinedEvent{
		SessionID:        sessionID,
		UserID:           userID,
		Role:             role,
		Profile:          profile,
		Reconnected:      reconnected,
		ParticipantCount: len(snap.Participants),
	})
	r.logger.Info("session joined",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Bool("reconnected", reconnected),
	)
	r.mirror.TryPersist(persistence.CollectionSessions, sessionID, snap)
	return snap, nil
}

// RemoveParticipant lets the host drop a viewer from the session.
func (r *Registry) RemoveParticipant(ctx context.Context, sessionID, actingUserID, targetUserID string) (models.Session, error) {
	if sessionID == "" || targetUserID == "" {
		return models.Session{}, ErrInvalidRequest
	}
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, ErrSessionNotFound
	}
	if sess.HostUserID != actingUserID {
		r.mu.Unlock()
		return models.Session{}, ErrUnauthorized
	}
	idx := sess.IndexOf(targetUserID)
	if idx < 0 {
		r.mu.Unlock()
		return models.Session{}, ErrParticipantNotFound
	}
	if sess.Participants[idx].Role == models.RoleHost {
		r.mu.Unlock()
		return models.Session{}, ErrHostRemoval
	}
	removed := sess.Participants[idx]
	sess.Participants = append(sess.Participants[:idx], sess.Participants[idx+1:]...)
	sess.LastActivity = r.now()
	r.unbindLocked(removed.TransportID, sessionID)
	snap := sess.Snapshot()
	r.mu.Unlock()

	if removed.TransportID != "" {
		r.notify.SendTo(removed.TransportID, models.EventUserRemoved, models.UserRemovedEvent{
			SessionID: sessionID,
			RemovedBy: actingUserID,
		})
		r.notify.Leave(sessionID, removed.TransportID)
	}
	r.notify.Broadcast(sessionID, models.EventUserLeft, models.UserLeftEvent{
		SessionID:        sessionID,
		UserID:           targetUserID,
		Removed:          true,
		ParticipantCount: len(snap.Participants),
		OnlineCount:      snap.OnlineCount(),
	})

	r.hooksMu.RLock()
	hooks := append([]func(string, string){}, r.onLeft...)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID, targetUserID)
	}

	r.logger.Info("participant removed", zap.String("session_id", sessionID), zap.String("user_id", targetUserID))
	r.mirror.TryPersist(persistence.CollectionSessions, sessionID, snap)
	return snap, nil
}

// EndSession terminates a session on behalf of its host.
func (r *Registry) EndSession(ctx context.Context, sessionID, actingUserID string) (models.Session, error) {
	if sessionID == "" {
		return models.Session{}, ErrInvalidRequest
	}
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	var host string
	if ok {
		host = sess.HostUserID
	}
	r.mu.RUnlock()
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	if host != actingUserID {
		return models.Session{}, ErrUnauthorized
	}
	return r.end(sessionID, actingUserID, models.EndReasonHostEnded)
}

// HandleDisconnect reacts to a transport going away. A host loss ends its session;
// a viewer is marked offline and keeps its slot for reconnection.
func (r *Registry) HandleDisconnect(ctx context.Context, transportID string) {
	if transportID == "" {
		return
	}
	r.mu.RLock()
	memberships := make(map[string]string, len(r.transports[transportID]))
	for sid, uid := range r.transports[transportID] {
		memberships[sid] = uid
	}
	r.mu.RUnlock()

	for sessionID, userID := range memberships {
		r.disconnect(sessionID, userID, transportID)
	}
}

func (r *Registry) disconnect(sessionID, userID, transportID string) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.unbindLocked(transportID, sessionID)
		r.mu.Unlock()
		return
	}
	idx := sess.IndexOf(userID)
	if idx < 0 || sess.Participants[idx].TransportID != transportID {
		// Already reattached on another transport or removed.
		r.unbindLocked(transportID, sessionID)
		r.mu.Unlock()
		return
	}
	if sess.Participants[idx].Role == models.RoleHost {
		r.mu.Unlock()
		if _, err := r.end(sessionID, userID, models.EndReasonHostDisconnected); err != nil {
			r.logger.Warn("end session on host disconnect", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	now := r.now()
	p := &sess.Participants[idx]
	p.Presence = models.PresenceOffline
	p.DisconnectedAt = &now
	sess.LastActivity = now
	r.unbindLocked(transportID, sessionID)
	snap := sess.Snapshot()
	r.mu.Unlock()

	r.notify.Leave(sessionID, transportID)
	r.notify.Broadcast(sessionID, models.EventUserLeft, models.UserLeftEvent{
		SessionID:        sessionID,
		UserID:           userID,
		Temporary:        true,
		ParticipantCount: len(snap.Participants),
		OnlineCount:      snap.OnlineCount(),
	})
	r.logger.Info("participant offline", zap.String("session_id", sessionID), zap.String("user_id", userID))
	r.mirror.TryPersist(persistence.CollectionSessions, sessionID, snap)
}

// end must be called with the session lock held.
func (r *Registry) end(sessionID, endedBy, reason string) (models.Session, error) {
	now := r.now()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return models.Session{}, ErrSessionNotFound
	}
	var metrics models.SessionMetrics
	if m := r.metrics[sessionID]; m != nil {
		metrics = *m
	}
	for _, p := range sess.Participants {
		r.unbindLocked(p.TransportID, sessionID)
	}
	delete(r.sessions, sessionID)
	delete(r.metrics, sessionID)
	r.pruneTombstonesLocked(now)
	r.ended[sessionID] = now

	sess.Status = models.SessionEnded
	sess.LastActivity = now
	sess.EndedAt = &now
	snap := sess.Snapshot()
	r.mu.Unlock()

	start := metrics.StartTime
	if start.IsZero() {
		start = snap.CreatedAt
	}
	r.notify.Broadcast(sessionID, models.EventSessionEnded, models.SessionEndedEvent{
		SessionID: sessionID,
		EndedBy:   endedBy,
		Reason:    reason,
		FinalStats: models.FinalStats{
			DurationSeconds:  now.Sub(start).Seconds(),
			PeakParticipants: metrics.PeakParticipants,
			TotalJoins:       metrics.TotalJoins,
			ParticipantCount: len(snap.Participants),
			Performance:      snap.Performance,
		},
	})

	r.runEndedHooks(sessionID)
	r.notify.CloseRoom(sessionID)

	r.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.String("ended_by", endedBy),
		zap.String("reason", reason),
	)
	r.retire(sessionID)
	r.mirror.TryPersist(persistence.CollectionSessions, sessionID, snap)
	r.mirror.TryAppend(persistence.CollectionHistory, sessionID, models.SessionInfo{Session: snap, Metrics: metrics})
	return snap, nil
}

// GetSessionInfo returns a copy of an active session and its metrics.
func (r *Registry) GetSessionInfo(sessionID string) (models.SessionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return models.SessionInfo{}, ErrSessionNotFound
	}
	info := models.SessionInfo{Session: sess.Snapshot()}
	if m := r.metrics[sessionID]; m != nil {
		info.Metrics = *m
	}
	return info, nil
}

// ListActiveSessions returns a summary of every active session, oldest first.
func (r *Registry) ListActiveSessions() []models.SessionSummary {
	r.mu.RLock()
	out := make([]models.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		sum := models.SessionSummary{
			ID:               s.ID,
			HostUserID:       s.HostUserID,
			ParticipantCount: len(s.Participants),
			OnlineCount:      s.OnlineCount(),
			Quality:          s.Quality,
			Performance:      s.Performance,
			CreatedAt:        s.CreatedAt,
			LastActivity:     s.LastActivity,
		}
		if h, ok := s.Host(); ok {
			sum.HostName = h.Profile.Name
		}
		out = append(out, sum)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsParticipant reports whether userID is on the roster of an active session.
func (r *Registry) IsParticipant(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return ok && sess.IndexOf(userID) >= 0
}

// UpdatePerformance overwrites the performance block of an active session.
// It reports false when the session is not active.
func (r *Registry) UpdatePerformance(sessionID string, perf models.Performance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	sess.Performance = perf
	return true
}

// HostUserID returns the host of an active session.
func (r *Registry) HostUserID(sessionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return sess.HostUserID, nil
}

// AdaptiveBitrate reports whether the session asked for quality recommendations.
func (r *Registry) AdaptiveBitrate(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return ok && sess.Quality.AdaptiveBitrate
}

// rehydrate restores a session from the mirror. Ended ids are never restored, even when
// the mirror still holds an Active copy because the final write is pending or failed.
func (r *Registry) rehydrate(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	endedAt, ended := r.ended[sessionID]
	r.mu.RUnlock()
	if ended && r.now().Sub(endedAt) <= r.tombstoneTTL {
		return ErrSessionNotFound
	}

	owned, err := r.acquire(ctx, sessionID, false)
	if err != nil {
		r.logger.Warn("acquire session lease", zap.String("session_id", sessionID), zap.Error(err))
		return ErrSessionNotFound
	}
	if !owned {
		return ErrRemoteSession
	}

	var stored models.Session
	found, err := r.mirror.Load(ctx, persistence.CollectionSessions, sessionID, &stored)
	if err != nil {
		r.logger.Warn("rehydrate session", zap.String("session_id", sessionID), zap.Error(err))
		r.release(sessionID)
		return ErrSessionNotFound
	}
	if !found || stored.Status != models.SessionActive || stored.ID != sessionID {
		r.release(sessionID)
		return ErrSessionNotFound
	}

	now := r.now()
	// Transports did not survive the restart.
	for i := range stored.Participants {
		p := &stored.Participants[i]
		p.TransportID = ""
		if p.Presence == models.PresenceOnline {
			p.Presence = models.PresenceOffline
			p.DisconnectedAt = &now
		}
	}
	if stored.Settings.MaxParticipants <= 0 {
		stored.Settings.MaxParticipants = r.defaults.MaxParticipants
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return nil
	}
	r.sessions[sessionID] = &stored
	r.metrics[sessionID] = &models.SessionMetrics{
		StartTime:        stored.CreatedAt,
		PeakParticipants: len(stored.Participants),
		TotalJoins:       len(stored.Participants),
	}
	r.logger.Info("session rehydrated", zap.String("session_id", sessionID))
	return nil
}

// RunLeases renews the leases of every active session until ctx is cancelled.
// A session whose lease was taken over by another instance is dropped from memory.
func (r *Registry) RunLeases(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.renewLeases(ctx)
		}
	}
}

func (r *Registry) renewLeases(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	if len(ids) == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, leaseCallTimeout)
	lost, err := r.leases.Renew(callCtx, ids)
	cancel()
	if err != nil {
		r.logger.Warn("renew session leases", zap.Int("sessions", len(ids)), zap.Error(err))
		return
	}
	for _, id := range lost {
		r.logger.Error("session lease lost, dropping local copy", zap.String("session_id", id))
		r.evict(id)
	}
}

// evict forgets a session without ending it; its new owner stays authoritative.
func (r *Registry) evict(sessionID string) {
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, p := range sess.Participants {
		r.unbindLocked(p.TransportID, sessionID)
	}
	delete(r.sessions, sessionID)
	delete(r.metrics, sessionID)
	r.mu.Unlock()

	r.notify.Broadcast(sessionID, models.EventSessionError, models.SessionErrorEvent{
		Code:    "not_found",
		Message: ErrRemoteSession.Error(),
	})
	r.runEndedHooks(sessionID)
	r.notify.CloseRoom(sessionID)
}

func (r *Registry) runEndedHooks(sessionID string) {
	r.hooksMu.RLock()
	hooks := append([]func(string){}, r.onEnded...)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(sessionID)
	}
}

func (r *Registry) acquire(ctx context.Context, sessionID string, fresh bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, leaseCallTimeout)
	defer cancel()
	return r.leases.Acquire(ctx, sessionID, fresh)
}

func (r *Registry) release(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()
	if err := r.leases.Release(ctx, sessionID); err != nil {
		r.logger.Warn("release session lease", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (r *Registry) retire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()
	if err := r.leases.Retire(ctx, sessionID); err != nil {
		r.logger.Warn("retire session lease", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (r *Registry) pruneTombstonesLocked(now time.Time) {
	for id, at := range r.ended {
		if now.Sub(at) > r.tombstoneTTL {
			delete(r.ended, id)
		}
	}
}

func (r *Registry) settingsFor(in *models.Settings) models.Settings {
	if in == nil {
		return r.defaults
	}
	out := *in
	if out.MaxParticipants <= 0 {
		out.MaxParticipants = r.defaults.MaxParticipants
	}
	return out
}

func (r *Registry) bindLocked(transportID, sessionID, userID string) {
	if transportID == "" {
		return
	}
	m, ok := r.transports[transportID]
	if !ok {
		m = make(map[string]string)
		r.transports[transportID] = m
	}
	m[sessionID] = userID
}

func (r *Registry) unbindLocked(transportID, sessionID string) {
	m, ok := r.transports[transportID]
	if !ok {
		return
	}
	delete(m, sessionID)
	if len(m) == 0 {
		delete(r.transports, transportID)
	}
}

func withQualityDefaults(q models.QualityConfig) models.QualityConfig {
	if q.Mode == "" {
		q.Mode = "balanced"
	}
	if q.TargetFPS <= 0 {
		q.TargetFPS = 30
	}
	if q.Resolution == "" {
		q.Resolution = "1280x720"
	}
	return q
}

type nopMirror struct{}

func (nopMirror) TryPersist(string, string, any) {}
func (nopMirror) TryAppend(string, string, any)  {}
func (nopMirror) Load(context.Context, string, string, any) (bool, error) {
	return false, nil
}

type nopNotifier struct{}

func (nopNotifier) Join(string, string)                         {}
func (nopNotifier) Leave(string, string)                        {}
func (nopNotifier) Broadcast(string, string, any)               {}
func (nopNotifier) BroadcastExcept(string, string, string, any) {}
func (nopNotifier) SendTo(string, string, any)                  {}
func (nopNotifier) CloseRoom(string)                            {}

type placeholderProfiles struct{}

func (placeholderProfiles) GetUserProfile(_ context.Context, userID string) models.Profile {
	return models.Profile{Name: userID}
}
