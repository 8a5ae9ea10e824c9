package identity

import (
	"context"
	"fmt"

	"github.com/conversekit/chat-gateway/internal/auth"
	"github.com/conversekit/chat-gateway/internal/store"
)

// Resolver ensures a durable contact record exists for an authenticated
// user without the store ever learning more than it needs.
type Resolver struct {
	store store.Store
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// EnsureContact resolves the contact id for a user, creating the contact on
// first call. Idempotent by delegation: the store's ensure operation is an
// upsert keyed by the fingerprint, so no local caching is needed.
func (r *Resolver) EnsureContact(ctx context.Context, user *auth.User) (string, error) {
	if user == nil || user.Email == "" {
		return "", auth.ErrUnauthorized
	}

	id, err := r.store.EnsureContact(ctx, store.EnsureContactParams{
		Fingerprint: Fingerprint(user.Email),
		Email:       user.Email,
		Name:        user.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to ensure contact: %w", err)
	}
	return id, nil
}
