// Package session mirrors live hub sessions into Redis for operational
// visibility: which users are connected, on which server instance, and since
// when. The mirror is advisory — the in-process hub registry is the source
// of truth for delivery — so mirror failures are logged, never fatal.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys. It is refreshed on
	// heartbeat activity so a crashed server's mirrors expire on their own.
	SessionTTL = 1 * time.Hour
)

// Session is the mirrored view of one live connection.
type Session struct {
	ID          string `redis:"id"`
	UserID      string `redis:"user_id"`
	Role        string `redis:"role"`
	Server      string `redis:"server"` // which hub instance owns the session
	ConnectedAt int64  `redis:"connected_at"`
	LastActive  int64  `redis:"last_active"`
}

// Store manages session mirrors in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a session mirror store using the provided Redis client
// and this server instance's name.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create writes a mirror for a newly activated session with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID, userID, role string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"id":           sessionID,
		"user_id":      userID,
		"role":         role,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create mirror: %w", err)
	}
	return nil
}

// Get retrieves a session mirror. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var sess Session
	if err := s.client.HGetAll(ctx, key).Scan(&sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch updates the mirror's last-active marker and refreshes the TTL.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session mirror.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, SessionPrefix+sessionID).Err()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
