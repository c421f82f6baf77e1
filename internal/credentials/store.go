// Package credentials resolves the long-lived Strava refresh token for an athlete.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/linhptit/strava-webhook-vercel/internal/redact"
)

var (
	// ErrNotFound is returned by a Store when the key has no value.
	ErrNotFound = errors.New("credential not found")
	// ErrCredentialNotFound is returned by a Resolver when the athlete has never linked an account.
	ErrCredentialNotFound = errors.New("refresh token not found for athlete")
)

// Store is a durable key/value mapping. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Key builds the store key holding an athlete's refresh token.
func Key(athleteID string) string {
	return fmt.Sprintf("athlete:%s:refresh_token", strings.TrimSpace(athleteID))
}

// UserCredential pairs an athlete with their refresh token.
type UserCredential struct {
	AthleteID    string
	RefreshToken redact.Secret
}

// Resolver returns the refresh credential for the owner of a webhook event.
type Resolver interface {
	Resolve(ctx context.Context, athleteID string) (UserCredential, error)
}

// StoreResolver looks credentials up in a Store, one key per athlete.
type StoreResolver struct {
	store Store
}

// NewStoreResolver constructs a multi-user resolver.
func NewStoreResolver(store Store) *StoreResolver {
	return &StoreResolver{store: store}
}

// Resolve fetches the athlete's refresh token. Missing or blank values yield ErrCredentialNotFound;
// any other error is a store failure and is returned wrapped.
func (r *StoreResolver) Resolve(ctx context.Context, athleteID string) (UserCredential, error) {
	value, err := r.store.Get(ctx, Key(athleteID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserCredential{}, ErrCredentialNotFound
		}
		return UserCredential{}, fmt.Errorf("load credential: %w", err)
	}
	secret := redact.Secret(value)
	if secret.Empty() {
		return UserCredential{}, ErrCredentialNotFound
	}
	return UserCredential{AthleteID: athleteID, RefreshToken: secret}, nil
}

// Link stores a freshly granted refresh token for an athlete.
func (r *StoreResolver) Link(ctx context.Context, cred UserCredential) error {
	if strings.TrimSpace(cred.AthleteID) == "" {
		return errors.New("athlete id is required")
	}
	if cred.RefreshToken.Empty() {
		return errors.New("refresh token is required")
	}
	if err := r.store.Set(ctx, Key(cred.AthleteID), cred.RefreshToken.Reveal()); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// StaticResolver serves a single configured refresh token. When athleteID is empty the token
// is returned for every owner, which is how a one-athlete deployment behaves.
type StaticResolver struct {
	athleteID string
	token     redact.Secret
}

// NewStaticResolver constructs a single-user resolver.
func NewStaticResolver(athleteID string, token redact.Secret) *StaticResolver {
	return &StaticResolver{athleteID: strings.TrimSpace(athleteID), token: token}
}

// Resolve returns the configured token when the athlete matches.
func (r *StaticResolver) Resolve(_ context.Context, athleteID string) (UserCredential, error) {
	if r.token.Empty() {
		return UserCredential{}, ErrCredentialNotFound
	}
	if r.athleteID != "" && r.athleteID != athleteID {
		return UserCredential{}, ErrCredentialNotFound
	}
	return UserCredential{AthleteID: athleteID, RefreshToken: r.token}, nil
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
