package signaling_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/signaling"
)

type broadcast struct {
	sessionID string
	except    string
	event     string
	payload   any
}

type recorder struct {
	mu  sync.Mutex
	out []broadcast
}

func (r *recorder) Broadcast(sessionID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, broadcast{sessionID: sessionID, event: event, payload: payload})
}

func (r *recorder) BroadcastExcept(sessionID, except, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, broadcast{sessionID: sessionID, except: except, event: event, payload: payload})
}

func (r *recorder) last(event string) (broadcast, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.out) - 1; i >= 0; i-- {
		if r.out[i].event == event {
			return r.out[i], true
		}
	}
	return broadcast{}, false
}

var sdp = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

func newRelay(t *testing.T, now func() time.Time) (*signaling.Relay, *recorder) {
	t.Helper()
	rec := &recorder{}
	return signaling.NewRelay(signaling.Options{Notifier: rec, OfferTTL: time.Minute, Now: now}), rec
}

func join(t *testing.T, r *signaling.Relay, session, peer, user string, host bool) []models.Peer {
	t.Helper()
	existing, err := r.RegisterPeer(signaling.PeerRegistration{
		SessionID:   session,
		PeerID:      peer,
		UserID:      user,
		TransportID: "t-" + user,
		IsHost:      host,
		Action:      models.PeerActionJoin,
	})
	require.NoError(t, err)
	return existing
}

func TestRegisterPeer_JoinReturnsOthersAndAnnounces(t *testing.T) {
	r, rec := newRelay(t, nil)

	assert.Empty(t, join(t, r, "S1", "p-host", "host", true))
	existing := join(t, r, "S1", "p-a", "A", false)

	require.Len(t, existing, 1)
	assert.Equal(t, "p-host", existing[0].PeerID)
	assert.True(t, existing[0].IsHost)

	b, ok := rec.last(models.EventPeerJoined)
	require.True(t, ok)
	assert.Equal(t, "t-A", b.except)
	assert.Equal(t, "p-a", b.payload.(models.PeerJoinedEvent).Peer.PeerID)
}

func TestRegisterPeer_UpdateAndLeave(t *testing.T) {
	r, rec := newRelay(t, nil)
	join(t, r, "S1", "p-a", "A", false)

	_, err := r.RegisterPeer(signaling.PeerRegistration{SessionID: "S1", PeerID: "p-a", UserID: "A", Quality: "good", Action: models.PeerActionUpdate})
	require.NoError(t, err)
	assert.Equal(t, "good", r.PeerQuality("S1", "p-a"))

	_, err = r.RegisterPeer(signaling.PeerRegistration{SessionID: "S1", PeerID: "p-a", UserID: "A", Action: models.PeerActionLeave})
	require.NoError(t, err)
	assert.Empty(t, r.Peers("S1"))
	assert.Empty(t, r.PeerQuality("S1", "p-a"))

	b, ok := rec.last(models.EventPeerLeft)
	require.True(t, ok)
	assert.Equal(t, "A", b.payload.(models.PeerLeftEvent).UserID)
}

func TestRegisterPeer_InvalidAction(t *testing.T) {
	r, _ := newRelay(t, nil)
	_, err := r.RegisterPeer(signaling.PeerRegistration{SessionID: "S1", PeerID: "p", Action: "dance"})
	assert.ErrorIs(t, err, signaling.ErrInvalidAction)
}

func TestRequestStream(t *testing.T) {
	r, rec := newRelay(t, nil)
	join(t, r, "S1", "p-a", "A", false)

	_, err := r.RequestStream("S1", "p-a")
	assert.ErrorIs(t, err, signaling.ErrNoHostFound)

	join(t, r, "S1", "p-host", "host", true)
	ev, err := r.RequestStream("S1", "p-a")
	require.NoError(t, err)
	assert.Equal(t, "p-host", ev.ToPeerID)
	assert.Equal(t, models.PriorityHigh, ev.Priority)

	b, ok := rec.last(models.EventStreamRequest)
	require.True(t, ok)
	assert.Equal(t, "S1", b.sessionID)
}

func TestRelayOffer_CreatesRecordAndBroadcasts(t *testing.T) {
	r, rec := newRelay(t, nil)

	connID, err := r.RelayOffer(signaling.Signal{SessionID: "S1", PeerID: "p-host", FromUserID: "host", TargetUserID: "A", TransportID: "t-host", Payload: sdp})
	require.NoError(t, err)
	require.NotEmpty(t, connID)

	record, ok := r.Connection(connID)
	require.True(t, ok)
	assert.Equal(t, models.HandshakeOffering, record.State)
	assert.Equal(t, models.ConnectionKey{SessionID: "S1", Initiator: "host", Target: "A"}, record.Key)

	b, ok := rec.last(models.EventWebRTCOffer)
	require.True(t, ok)
	assert.Equal(t, "t-host", b.except)
	assert.Equal(t, connID, b.payload.(models.SignalEvent).ConnectionID)

	// A fresh offer between the same pair replaces the old handshake.
	connID2, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", ConnectionID: "C2", Payload: sdp})
	require.NoError(t, err)
	assert.Equal(t, "C2", connID2)
	_, ok = r.Connection(connID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.ConnectionCount(""))
}

func TestRelayOffer_ConnectionIDBoundToOtherSessionRejected(t *testing.T) {
	r, _ := newRelay(t, nil)
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", ConnectionID: "C1", Payload: sdp})
	require.NoError(t, err)

	_, err = r.RelayOffer(signaling.Signal{SessionID: "S2", FromUserID: "intruder", TargetUserID: "B", ConnectionID: "C1", Payload: sdp})
	assert.ErrorIs(t, err, signaling.ErrConnectionInUse)

	// Same session, different initiator.
	_, err = r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "A", TargetUserID: "host", ConnectionID: "C1", Payload: sdp})
	assert.ErrorIs(t, err, signaling.ErrConnectionInUse)

	record, ok := r.Connection("C1")
	require.True(t, ok)
	assert.Equal(t, models.ConnectionKey{SessionID: "S1", Initiator: "host", Target: "A"}, record.Key)
	assert.Equal(t, 1, r.ConnectionCount(""))
}

func TestRelayOffer_InitiatorMayRetargetItsConnectionID(t *testing.T) {
	r, _ := newRelay(t, nil)
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", ConnectionID: "C1", Payload: sdp})
	require.NoError(t, err)

	_, err = r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "B", ConnectionID: "C1", Payload: sdp})
	require.NoError(t, err)

	record, ok := r.Connection("C1")
	require.True(t, ok)
	assert.Equal(t, "B", record.Key.Target)
	assert.Equal(t, 1, r.ConnectionCount(""))
}

func TestRelayAnswer_MarksAnswered(t *testing.T) {
	r, rec := newRelay(t, nil)
	connID, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)

	err = r.RelayAnswer(signaling.Signal{ConnectionID: connID, FromUserID: "A", Payload: sdp})
	require.NoError(t, err)

	record, ok := r.Connection(connID)
	require.True(t, ok)
	assert.Equal(t, models.HandshakeAnswered, record.State)
	assert.NotNil(t, record.AnsweredAt)

	b, ok := rec.last(models.EventWebRTCAnswer)
	require.True(t, ok)
	assert.Equal(t, "S1", b.sessionID)
	assert.Equal(t, "host", b.payload.(models.SignalEvent).ToUserID)
}

func TestRelayAnswer_OrphanStillForwarded(t *testing.T) {
	r, rec := newRelay(t, nil)
	connID, err := r.RelayOffer(signaling.Signal{SessionID: "S1", ConnectionID: "C1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)
	r.Cleanup("host")
	_, ok := r.Connection(connID)
	require.False(t, ok)

	err = r.RelayAnswer(signaling.Signal{SessionID: "S1", ConnectionID: "C1", FromUserID: "A", TargetUserID: "host", Payload: sdp})

	require.NoError(t, err)
	b, ok := rec.last(models.EventWebRTCAnswer)
	require.True(t, ok)
	assert.Equal(t, "C1", b.payload.(models.SignalEvent).ConnectionID)
	assert.Equal(t, "host", b.payload.(models.SignalEvent).ToUserID)
}

func TestRelayIceCandidate_PassThrough(t *testing.T) {
	r, rec := newRelay(t, nil)

	err := r.RelayIceCandidate(signaling.Signal{SessionID: "S1", ConnectionID: "C1", FromUserID: "A", Payload: json.RawMessage(`{"candidate":"x"}`)})

	require.NoError(t, err)
	assert.Equal(t, 0, r.ConnectionCount(""))
	_, ok := rec.last(models.EventWebRTCCandidate)
	assert.True(t, ok)

	assert.ErrorIs(t, r.RelayIceCandidate(signaling.Signal{SessionID: "S1"}), signaling.ErrInvalidRequest)
}

func TestCleanup_RemovesEveryRecordOfUser(t *testing.T) {
	r, _ := newRelay(t, nil)
	join(t, r, "S1", "p-host", "host", true)
	join(t, r, "S1", "p-a", "A", false)
	join(t, r, "S2", "p-a2", "A", false)
	for _, sig := range []signaling.Signal{
		{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp},
		{SessionID: "S1", FromUserID: "A", TargetUserID: "host", Payload: sdp},
		{SessionID: "S2", FromUserID: "B", TargetUserID: "A", Payload: sdp},
		{SessionID: "S1", FromUserID: "host", TargetUserID: "C", Payload: sdp},
	} {
		_, err := r.RelayOffer(sig)
		require.NoError(t, err)
	}

	r.Cleanup("A")

	assert.Equal(t, 0, r.ConnectionCount("A"))
	assert.Equal(t, 1, r.ConnectionCount(""))
	assert.Len(t, r.Peers("S1"), 1)
	assert.Empty(t, r.Peers("S2"))
}

func TestCleanupUser_OnlyTouchesThatSession(t *testing.T) {
	r, rec := newRelay(t, nil)
	join(t, r, "S1", "p-host", "host", true)
	join(t, r, "S1", "p-a", "A", false)
	join(t, r, "S2", "p-a2", "A", false)
	for _, sig := range []signaling.Signal{
		{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp},
		{SessionID: "S1", FromUserID: "A", TargetUserID: "host", Payload: sdp},
		{SessionID: "S1", FromUserID: "host", TargetUserID: "C", Payload: sdp},
		{SessionID: "S2", FromUserID: "B", TargetUserID: "A", Payload: sdp},
	} {
		_, err := r.RelayOffer(sig)
		require.NoError(t, err)
	}

	r.CleanupUser("S1", "A")

	assert.Equal(t, 1, r.ConnectionCount("A")) // the S2 handshake survives
	assert.Equal(t, 2, r.ConnectionCount(""))
	require.Len(t, r.Peers("S1"), 1)
	assert.Equal(t, "p-host", r.Peers("S1")[0].PeerID)
	assert.Len(t, r.Peers("S2"), 1)

	left, ok := rec.last(models.EventPeerLeft)
	require.True(t, ok)
	assert.Equal(t, "S1", left.sessionID)
	assert.Equal(t, "p-a", left.payload.(models.PeerLeftEvent).PeerID)
}

func TestCleanupUser_DropsHandshakesWithoutRegisteredPeer(t *testing.T) {
	r, _ := newRelay(t, nil)
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)

	r.CleanupUser("S1", "A")

	assert.Equal(t, 0, r.ConnectionCount(""))
}

func TestCleanupTransport(t *testing.T) {
	r, _ := newRelay(t, nil)
	join(t, r, "S1", "p-a", "A", false)
	join(t, r, "S1", "p-b", "B", false)
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "A", TargetUserID: "B", Payload: sdp})
	require.NoError(t, err)

	n := r.CleanupTransport("t-A")

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, r.ConnectionCount(""))
	require.Len(t, r.Peers("S1"), 1)
	assert.Equal(t, "p-b", r.Peers("S1")[0].PeerID)
}

func TestCleanupSession_DropsAllRecords(t *testing.T) {
	r, _ := newRelay(t, nil)
	join(t, r, "S1", "p-host", "host", true)
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)
	_, err = r.RelayOffer(signaling.Signal{SessionID: "S2", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)

	r.CleanupSession("S1")

	assert.Empty(t, r.Peers("S1"))
	assert.Equal(t, 1, r.ConnectionCount(""))
}

func TestSweepExpired_OnlyStaleOffers(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	r, _ := newRelay(t, func() time.Time { return clock })

	stale, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)
	answered, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "B", Payload: sdp})
	require.NoError(t, err)
	require.NoError(t, r.RelayAnswer(signaling.Signal{ConnectionID: answered, FromUserID: "B", Payload: sdp}))

	clock = now.Add(30 * time.Second)
	fresh, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "C", Payload: sdp})
	require.NoError(t, err)

	removed := r.SweepExpired(now.Add(90 * time.Second))

	assert.Equal(t, 1, removed)
	_, ok := r.Connection(stale)
	assert.False(t, ok)
	_, ok = r.Connection(answered)
	assert.True(t, ok)
	_, ok = r.Connection(fresh)
	assert.True(t, ok)
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := signaling.NewRelay(signaling.Options{SweepInterval: 5 * time.Millisecond, OfferTTL: time.Nanosecond})
	_, err := r.RelayOffer(signaling.Signal{SessionID: "S1", FromUserID: "host", TargetUserID: "A", Payload: sdp})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.ConnectionCount("") == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
