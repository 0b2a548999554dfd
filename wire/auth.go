package wire

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the authenticated user/service ID.
	Subject string `json:"subject"`

	// Scopes defines what operations are permitted.
	// Examples: "subscribe", "stats:read", "*"
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope returns true if the identity has the given scope.
// A wildcard "*" scope grants all permissions.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates credentials and returns an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = fmt.Errorf("wire: unauthorized")

// ── API key authenticator ───────────────────────────

// APIKeyEntry maps a named key to an identity. Hash is the bcrypt
// hash of the key secret; presented tokens have the form
// "<name>.<secret>".
type APIKeyEntry struct {
	Name     string
	Hash     []byte
	Identity Identity
}

// HashKey bcrypt-hashes a key secret for storage in an APIKeyEntry.
func HashKey(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// dummyHash is compared against when the key name is unknown, so a
// miss costs the same as a bad secret.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("circulate"), bcrypt.DefaultCost)

type apiKey struct {
	hash     []byte
	identity Identity
}

// APIKeyAuthenticator validates "<name>.<secret>" tokens against
// bcrypt-hashed key entries. Secrets never live in memory in the
// clear; only their hashes do.
type APIKeyAuthenticator struct {
	keys map[string]*apiKey
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(entries ...APIKeyEntry) *APIKeyAuthenticator {
	keys := make(map[string]*apiKey, len(entries))
	for _, e := range entries {
		keys[e.Name] = &apiKey{hash: e.Hash, identity: e.Identity}
	}
	return &APIKeyAuthenticator{keys: keys}
}

func (a *APIKeyAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	name, secret, ok := strings.Cut(token, ".")
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(token))
		return nil, ErrUnauthorized
	}
	key, found := a.keys[name]
	if !found {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(key.hash, []byte(secret)); err != nil {
		return nil, ErrUnauthorized
	}
	id := key.identity
	return &id, nil
}

// ── No-op authenticator ─────────────────────────────

// NoopAuthenticator accepts all tokens with a wildcard identity.
// Use for development only.
type NoopAuthenticator struct{}

func (a *NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{
		Subject: "anonymous",
		Scopes:  []string{"*"},
	}, nil
}

// ── Composite authenticator ─────────────────────────

// CompositeAuthenticator tries multiple authenticators in order.
// The first successful authentication wins.
type CompositeAuthenticator struct {
	authenticators []Authenticator
}

// NewCompositeAuthenticator chains multiple authenticators.
func NewCompositeAuthenticator(auths ...Authenticator) *CompositeAuthenticator {
	return &CompositeAuthenticator{authenticators: auths}
}

func (c *CompositeAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	for _, auth := range c.authenticators {
		id, err := auth.Authenticate(ctx, token)
		if err == nil {
			return id, nil
		}
	}
	return nil, ErrUnauthorized
}

// ── Scope constants ─────────────────────────────────

const (
	ScopeSubscribe = "subscribe"
	ScopeStatsRead = "stats:read"
	ScopeAdmin     = "admin"
	ScopeAll       = "*"
)

// RequiredScope returns the minimum scope required for a wire method.
func RequiredScope(method string) string {
	switch method {
	case MethodAuth:
		return "" // No scope needed for auth.
	case MethodSubscribe, MethodUnsubscribe:
		return ScopeSubscribe
	case MethodStats:
		return ScopeStatsRead
	default:
		return ScopeAdmin
	}
}
