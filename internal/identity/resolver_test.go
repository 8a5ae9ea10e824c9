package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/store"
)

// fakeContactStore implements just enough of store.Store to exercise the
// resolver: an upsert keyed by fingerprint.
type fakeContactStore struct {
	store.Store

	contacts map[string]string // fingerprint -> id
	calls    []store.EnsureContactParams
}

func newFakeContactStore() *fakeContactStore {
	return &fakeContactStore{contacts: make(map[string]string)}
}

func (f *fakeContactStore) EnsureContact(ctx context.Context, params store.EnsureContactParams) (string, error) {
	f.calls = append(f.calls, params)
	if id, ok := f.contacts[params.Fingerprint]; ok {
		return id, nil
	}
	id := uuid.NewString()
	f.contacts[params.Fingerprint] = id
	return id, nil
}

func TestResolver_EnsureContactIdempotent(t *testing.T) {
	fake := newFakeContactStore()
	resolver := NewResolver(fake)
	user := &auth.User{Email: "alice@example.com", Name: "Alice"}

	first, err := resolver.EnsureContact(context.Background(), user)
	require.NoError(t, err)

	second, err := resolver.EnsureContact(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, fake.contacts, 1, "second ensure must not create a second record")
}

func TestResolver_EnsureContactSendsFingerprint(t *testing.T) {
	fake := newFakeContactStore()
	resolver := NewResolver(fake)

	_, err := resolver.EnsureContact(context.Background(), &auth.User{Email: "Alice@Example.com", Name: "Alice"})
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	params := fake.calls[0]
	assert.Equal(t, Fingerprint("alice@example.com"), params.Fingerprint)
	assert.Equal(t, "Alice@Example.com", params.Email)
	assert.Equal(t, "Alice", params.Name)
}

func TestResolver_EnsureContactUnauthorized(t *testing.T) {
	resolver := NewResolver(newFakeContactStore())

	_, err := resolver.EnsureContact(context.Background(), nil)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = resolver.EnsureContact(context.Background(), &auth.User{})
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}
