package persistence_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/persistence"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Upsert(ctx context.Context, collection, id string, doc []byte) error {
	args := m.Called(collection, id, doc)
	return args.Error(0)
}

func (m *MockStore) Append(ctx context.Context, collection, id string, doc []byte) error {
	args := m.Called(collection, id, doc)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	args := m.Called(collection, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type doc struct {
	Name string `json:"name"`
}

func TestGateway_TryPersistWritesDocument(t *testing.T) {
	store := new(MockStore)
	store.On("Upsert", persistence.CollectionSessions, "s1", []byte(`{"name":"a"}`)).Return(nil).Once()

	gw := persistence.NewGateway(store, time.Second, nil)
	gw.TryPersist(persistence.CollectionSessions, "s1", doc{Name: "a"})
	gw.Close()

	store.AssertExpectations(t)
}

func TestGateway_SwallowsStoreFailures(t *testing.T) {
	store := new(MockStore)
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	store.On("Append", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	gw := persistence.NewGateway(store, time.Second, nil)
	assert.NotPanics(t, func() {
		gw.TryPersist(persistence.CollectionSessions, "s1", doc{Name: "a"})
		gw.TryAppend(persistence.CollectionHistory, "s1", doc{Name: "a"})
	})
	gw.Close()

	store.AssertNumberOfCalls(t, "Upsert", 1)
	store.AssertNumberOfCalls(t, "Append", 1)
}

func TestGateway_PreservesOrderPerID(t *testing.T) {
	store := persistence.NewMemoryStore()
	gw := persistence.NewGateway(store, time.Second, nil)

	for i := 0; i < 50; i++ {
		gw.TryPersist(persistence.CollectionSessions, "s1", map[string]int{"v": i})
	}
	gw.Close()

	var got map[string]int
	raw, err := store.Get(context.Background(), persistence.CollectionSessions, "s1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 49, got["v"])
}

func TestGateway_AppendExportsHistory(t *testing.T) {
	store := persistence.NewMemoryStore()
	gw := persistence.NewGateway(store, time.Second, nil)

	exported := make(chan string, 1)
	gw.SetHistoryExporter(persistence.ExporterFunc(func(ctx context.Context, collection, id string, body []byte) error {
		exported <- collection + "/" + id
		return nil
	}))

	gw.TryAppend(persistence.CollectionHistory, "s9", doc{Name: "final"})
	gw.Close()

	assert.Equal(t, "session_history/s9", <-exported)
	assert.Len(t, store.History(persistence.CollectionHistory, "s9"), 1)
}

func TestGateway_Load(t *testing.T) {
	store := new(MockStore)
	store.On("Get", persistence.CollectionSessions, "known").Return([]byte(`{"name":"x"}`), nil)
	store.On("Get", persistence.CollectionSessions, "missing").Return(nil, persistence.ErrNotFound)
	store.On("Get", persistence.CollectionSessions, "broken").Return(nil, errors.New("timeout"))

	gw := persistence.NewGateway(store, time.Second, nil)
	defer gw.Close()

	var d doc
	ok, err := gw.Load(context.Background(), persistence.CollectionSessions, "known", &d)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", d.Name)

	ok, err = gw.Load(context.Background(), persistence.CollectionSessions, "missing", &d)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gw.Load(context.Background(), persistence.CollectionSessions, "broken", &d)
	assert.ErrorIs(t, err, persistence.ErrTransient)
	assert.False(t, ok)
}

func TestGateway_WriteAfterCloseIsDropped(t *testing.T) {
	store := new(MockStore)
	gw := persistence.NewGateway(store, time.Second, nil)
	gw.Close()

	assert.NotPanics(t, func() {
		gw.TryPersist(persistence.CollectionSessions, "s1", doc{})
	})
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}
