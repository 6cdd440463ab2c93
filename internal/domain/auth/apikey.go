// Package auth identifies staff callers by API key.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/fault"
)

// ScopeStaff grants staff-only operations: status updates, refunds, restock.
const ScopeStaff = "staff"

// ErrInvalidKey is returned for unknown, inactive or malformed keys.
var ErrInvalidKey = errors.Wrap(fault.ErrUnauthorized, "api key")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator validates raw API keys against stored hashes.
type Authenticator struct {
	repo   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator. Keys are hashed with
// HMAC-SHA256 keyed by pepper, so a leaked table cannot be replayed.
func NewAuthenticator(repo Repository, pepper string) *Authenticator {
	return &Authenticator{repo: repo, pepper: []byte(pepper)}
}

// Hash returns the hex HMAC of key, as stored in the api_keys table.
func (a *Authenticator) Hash(key string) string {
	return hex.EncodeToString(a.sum(key))
}

func (a *Authenticator) sum(key string) []byte {
	m := hmac.New(sha256.New, a.pepper)
	m.Write([]byte(key))
	return m.Sum(nil)
}

// Authenticate resolves key to its stored identity.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	sum := a.sum(key)

	info, err := a.repo.FindByHash(ctx, hex.EncodeToString(sum))
	if err != nil {
		return nil, ErrInvalidKey
	}

	// The stored row must match what we computed, not just be found.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(sum, stored) != 1 {
		return nil, ErrInvalidKey
	}
	return info, nil
}
