package session

import (
	"context"
	"errors"
)

// ErrNoStore is returned by helpers that require a loaded store.
var ErrNoStore = errors.New("session: store missing from context")

type storeContextKey struct{}

// WithStore stores the session store in context.
func WithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// FromContext extracts the session store from context.
func FromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}
