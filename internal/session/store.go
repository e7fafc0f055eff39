// Package session authenticates inbound connections against the
// external identity subsystem's session store. Tokens are re-validated
// per connection and never cached here.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bugtrackr/realtime/pkg/json"
)

var (
	// ErrSessionNotFound means the token maps to no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound means a session referenced a user the directory
	// no longer knows.
	ErrUserNotFound = errors.New("user not found")
)

// Identity is the read-only snapshot of the principal behind a
// connection, fixed at authentication time.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Anonymous reports whether the identity is unresolved.
func (id Identity) Anonymous() bool { return id.ID == "" }

// Store resolves a session token to the user id it was issued for. Owned
// by the identity subsystem; this layer only reads.
type Store interface {
	LookupSession(ctx context.Context, token string) (string, error)
}

// Directory resolves a user id to its identity snapshot.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (Identity, error)
}

const (
	sessionPrefix = "session:"
	userPrefix    = "user:"
)

// RedisStore reads session and user records the identity subsystem keeps
// in Redis: session:{token} -> {"user_id": ...}, user:{id} -> identity.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) LookupSession(ctx context.Context, token string) (string, error) {
	data, err := s.client.Get(ctx, sessionPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session record: %w", err)
	}
	var record struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("failed to decode session record: %w", err)
	}
	if record.UserID == "" {
		return "", ErrSessionNotFound
	}
	return record.UserID, nil
}

func (s *RedisStore) LookupUser(ctx context.Context, userID string) (Identity, error) {
	data, err := s.client.Get(ctx, userPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrUserNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to read user record: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("failed to decode user record: %w", err)
	}
	if id.ID == "" {
		return Identity{}, ErrUserNotFound
	}
	return id, nil
}
