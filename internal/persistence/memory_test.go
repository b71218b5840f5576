package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/persistence"
)

func TestMemoryStore_UpsertGet(t *testing.T) {
	s := persistence.NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "c", "a")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, "c", "a", []byte(`1`)))
	require.NoError(t, s.Upsert(ctx, "c", "a", []byte(`2`)))

	got, err := s.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`2`), got)
}

func TestMemoryStore_AppendKeepsEveryVersion(t *testing.T) {
	s := persistence.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "h", "a", []byte(`1`)))
	require.NoError(t, s.Append(ctx, "h", "a", []byte(`2`)))

	assert.Equal(t, [][]byte{[]byte(`1`), []byte(`2`)}, s.History("h", "a"))
	_, err := s.Get(ctx, "h", "a")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := persistence.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Upsert(ctx, "c", "a", nil))
}
