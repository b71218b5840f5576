package sessions_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/persistence"
	"github.com/aura-remote/backend/internal/sessions"
)

// flakyStore is a MemoryStore whose upserts can be switched to fail.
type flakyStore struct {
	*persistence.MemoryStore
	failUpserts atomic.Bool
}

func (s *flakyStore) Upsert(ctx context.Context, collection, id string, doc []byte) error {
	if s.failUpserts.Load() {
		return errors.New("connection refused")
	}
	return s.MemoryStore.Upsert(ctx, collection, id, doc)
}

// leaseTable is a lease store shared by several registries, one view per instance.
type leaseTable struct {
	mu     sync.Mutex
	owners map[string]string
}

func newLeaseTable() *leaseTable {
	return &leaseTable{owners: make(map[string]string)}
}

func (lt *leaseTable) owner(id string) string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.owners[id]
}

func (lt *leaseTable) set(id, owner string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if owner == "" {
		delete(lt.owners, id)
		return
	}
	lt.owners[id] = owner
}

type leaseView struct {
	table *leaseTable
	name  string
}

func (v leaseView) Acquire(_ context.Context, id string, fresh bool) (bool, error) {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	cur := v.table.owners[id]
	if cur == "" || cur == v.name || (fresh && cur == "ended") {
		v.table.owners[id] = v.name
		return true, nil
	}
	return false, nil
}

func (v leaseView) Renew(_ context.Context, ids []string) ([]string, error) {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	var lost []string
	for _, id := range ids {
		if v.table.owners[id] != v.name {
			lost = append(lost, id)
		}
	}
	return lost, nil
}

func (v leaseView) Release(_ context.Context, id string) error {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	if v.table.owners[id] == v.name {
		delete(v.table.owners, id)
	}
	return nil
}

func (v leaseView) Retire(_ context.Context, id string) error {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	if cur := v.table.owners[id]; cur == "" || cur == v.name {
		v.table.owners[id] = "ended"
	}
	return nil
}

func newInstance(mirror sessions.Mirror, leases sessions.Leases) (*sessions.Registry, *fakeNotifier) {
	notify := newFakeNotifier()
	return sessions.NewRegistry(sessions.Options{
		Mirror:   mirror,
		Notifier: notify,
		Leases:   leases,
		Defaults: models.Settings{MaxParticipants: 10},
	}), notify
}

func createOn(t *testing.T, reg *sessions.Registry, id string) {
	t.Helper()
	_, err := reg.CreateSession(context.Background(), sessions.CreateParams{SessionID: id, UserID: "host", TransportID: "t-host"})
	require.NoError(t, err)
}

func TestJoinSession_EndedSessionStaysEndedWhenFinalWriteIsLost(t *testing.T) {
	e := newEnv(t)
	e.create(t, "S1", 5)
	e.mirror.freeze() // the mirror keeps the Active copy

	_, err := e.reg.EndSession(context.Background(), "S1", "host")
	require.NoError(t, err)

	_, err = e.reg.JoinSession(context.Background(), "S1", "A", "t-a")

	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Empty(t, e.reg.ListActiveSessions())
}

func TestJoinSession_EndedSessionStaysEndedWhenStoreFails(t *testing.T) {
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore()}
	gateway := persistence.NewGateway(store, time.Second, nil)
	defer gateway.Close()
	reg, _ := newInstance(gateway, nil)

	createOn(t, reg, "S1")
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), persistence.CollectionSessions, "S1")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	store.failUpserts.Store(true)

	_, err := reg.EndSession(context.Background(), "S1", "host")
	require.NoError(t, err)
	_, err = reg.JoinSession(context.Background(), "S1", "A", "t-a")

	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Empty(t, reg.ListActiveSessions())
}

func TestJoinSession_ImmediatelyAfterEndNeverRevives(t *testing.T) {
	gateway := persistence.NewGateway(persistence.NewMemoryStore(), time.Second, nil)
	defer gateway.Close()
	reg, _ := newInstance(gateway, nil)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("S%d", i)
		createOn(t, reg, id)
		_, err := reg.EndSession(context.Background(), id, "host")
		require.NoError(t, err)

		_, err = reg.JoinSession(context.Background(), id, "A", "t-a")
		require.ErrorIs(t, err, sessions.ErrSessionNotFound, id)
	}
	assert.Empty(t, reg.ListActiveSessions())
}

func TestCreateSession_ReusesEndedID(t *testing.T) {
	e := newEnv(t)
	e.create(t, "S1", 5)
	_, err := e.reg.EndSession(context.Background(), "S1", "host")
	require.NoError(t, err)

	e.create(t, "S1", 5)
	_, err = e.reg.JoinSession(context.Background(), "S1", "A", "t-a")

	assert.NoError(t, err)
}

func TestJoinSession_RefusedWhenAnotherInstanceOwnsSession(t *testing.T) {
	mirror := newFakeMirror()
	table := newLeaseTable()
	a, _ := newInstance(mirror, leaseView{table, "a"})
	b, _ := newInstance(mirror, leaseView{table, "b"})
	createOn(t, a, "S1")
	writes := len(mirror.persists)

	_, err := b.JoinSession(context.Background(), "S1", "A", "t-a")

	assert.ErrorIs(t, err, sessions.ErrRemoteSession)
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Empty(t, b.ListActiveSessions())
	assert.Len(t, mirror.persists, writes)
	assert.Equal(t, "a", table.owner("S1"))
}

func TestCreateSession_RefusedWhenAnotherInstanceOwnsID(t *testing.T) {
	mirror := newFakeMirror()
	table := newLeaseTable()
	a, _ := newInstance(mirror, leaseView{table, "a"})
	b, _ := newInstance(mirror, leaseView{table, "b"})
	createOn(t, a, "S1")

	_, err := b.CreateSession(context.Background(), sessions.CreateParams{SessionID: "S1", UserID: "other"})

	assert.ErrorIs(t, err, sessions.ErrSessionExists)
}

func TestJoinSession_RehydratesOnceOwnerLeaseExpires(t *testing.T) {
	mirror := newFakeMirror()
	table := newLeaseTable()
	a, _ := newInstance(mirror, leaseView{table, "a"})
	b, _ := newInstance(mirror, leaseView{table, "b"})
	createOn(t, a, "S1")

	table.set("S1", "") // instance a crashed and its lease expired
	snap, err := b.JoinSession(context.Background(), "S1", "A", "t-a")

	require.NoError(t, err)
	assert.Len(t, snap.Participants, 2)
	assert.Equal(t, "b", table.owner("S1"))
}

func TestEndSession_RetiredIDNotRehydratedElsewhere(t *testing.T) {
	mirror := newFakeMirror()
	table := newLeaseTable()
	a, _ := newInstance(mirror, leaseView{table, "a"})
	b, _ := newInstance(mirror, leaseView{table, "b"})
	createOn(t, a, "S1")
	mirror.freeze()

	_, err := a.EndSession(context.Background(), "S1", "host")
	require.NoError(t, err)

	_, err = b.JoinSession(context.Background(), "S1", "A", "t-a")
	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Equal(t, "ended", table.owner("S1"))

	// A brand new session may take the id.
	createOn(t, b, "S1")
	assert.Equal(t, "b", table.owner("S1"))
}

func TestJoinSession_ReleasesLeaseWhenMirrorHasNothing(t *testing.T) {
	table := newLeaseTable()
	b, _ := newInstance(newFakeMirror(), leaseView{table, "b"})

	_, err := b.JoinSession(context.Background(), "nope", "A", "t-a")

	assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	assert.Empty(t, table.owner("nope"))
}

func TestRunLeases_DropsSessionTakenOverElsewhere(t *testing.T) {
	table := newLeaseTable()
	a, notify := newInstance(newFakeMirror(), leaseView{table, "a"})
	var ended atomic.Int32
	a.OnSessionEnded(func(string) { ended.Add(1) })
	createOn(t, a, "S1")
	createOn(t, a, "S2")
	table.set("S1", "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RunLeases(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := a.GetSessionInfo("S1")
		return errors.Is(err, sessions.ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond)
	_, err := a.GetSessionInfo("S2")
	assert.NoError(t, err)
	assert.Equal(t, int32(1), ended.Load())
	assert.Contains(t, notify.closed, "S1")
	assert.Len(t, notify.find(models.EventSessionEnded), 0)
}
