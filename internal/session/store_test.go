package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	got, err := s.Get(ctx, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, got, "missing session is nil, not an error")

	st := New("tab-1", "contact-1")
	st = SelectConversation(st, "conv-a", nil)
	require.NoError(t, s.Put(ctx, st))

	got, err = s.Get(ctx, "tab-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "conv-a", got.ActiveConversationID)
	assert.EqualValues(t, 1, got.Epoch)

	// Put replaces.
	st = NewConversation(st)
	require.NoError(t, s.Put(ctx, st))
	got, err = s.Get(ctx, "tab-1")
	require.NoError(t, err)
	assert.Empty(t, got.ActiveConversationID)

	require.NoError(t, s.Delete(ctx, "tab-1"))
	got, err = s.Get(ctx, "tab-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_CopySemantics(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	st := New("tab-1", "contact-1")
	require.NoError(t, s.Put(ctx, st))

	got, err := s.Get(ctx, "tab-1")
	require.NoError(t, err)
	got.ActiveConversationID = "mutated"

	again, err := s.Get(ctx, "tab-1")
	require.NoError(t, err)
	assert.Empty(t, again.ActiveConversationID, "callers get a copy, not the stored value")
}

func TestNewStore_InvalidConfigurations(t *testing.T) {
	_, err := NewStore(StoreType("cassandra"))
	assert.ErrorIs(t, err, ErrInvalidStoreType)

	_, err = NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig, "redis driver requires a client")
}
