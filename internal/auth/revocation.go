package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedPrefix is the Redis key prefix for revoked token IDs. The value is
// the revocation reason; the TTL matches the remaining token lifetime so
// entries expire themselves.
const RevokedPrefix = "revoked:"

// RevocationStore tracks revoked token IDs in Redis.
type RevocationStore struct {
	client *redis.Client
}

// NewRevocationStore creates a revocation store using the provided Redis
// client.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client}
}

// IsRevoked checks whether a token ID is on the revocation list. Redis
// errors are returned so the authenticator can fail closed.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.client.Get(ctx, RevokedPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke places a token ID on the revocation list for the given duration,
// which should cover the token's remaining lifetime.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration, reason string) error {
	return s.client.Set(ctx, RevokedPrefix+jti, reason, ttl).Err()
}
