// Package auth identifies the back-office user behind a request.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
	// ActorID is the back-office user the key acts for, if any.
	ActorID *int64
}

// HasScope reports whether the key grants scope. Keys without scopes are
// unrestricted.
func (k *APIKeyInfo) HasScope(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type keyInfoKey struct{}

// WithKey stores the authenticated key in ctx.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyInfoKey{}, k)
}

// KeyFromContext returns the authenticated key, if any.
func KeyFromContext(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(keyInfoKey{}).(*APIKeyInfo)
	return k, ok
}

// ActorFromContext returns the id of the user acting on this request, or nil.
func ActorFromContext(ctx context.Context) *int64 {
	if k, ok := KeyFromContext(ctx); ok {
		return k.ActorID
	}
	return nil
}
