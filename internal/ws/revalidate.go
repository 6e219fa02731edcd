package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/waboard/realtime/internal/auth"
)

// DefaultRevalidateInterval is how often connected users are re-checked
// against the user store.
const DefaultRevalidateInterval = 5 * time.Minute

// StartRevalidation begins a background sweep that periodically re-checks
// every connected user against the user store and closes the sessions of
// users who have been deactivated or deleted since their handshake. This
// bounds how long a revoked account can keep receiving events, since
// credentials are otherwise verified only once per connection.
//
// A store outage skips the sweep rather than disconnecting everyone: the
// sweep is a revocation mechanism, not a liveness check.
func StartRevalidation(server *Server, users auth.UserDirectory, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultRevalidateInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				revalidateSessions(server, users)
			}
		}
	}()
}

func revalidateSessions(server *Server, users auth.UserDirectory) {
	// One lookup per distinct user, not per session.
	checked := make(map[string]bool)

	for _, sess := range server.Hub().ActiveSessions() {
		active, seen := checked[sess.UserID]
		if !seen {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := users.FindActiveUser(ctx, sess.UserID)
			cancel()

			switch {
			case err == nil:
				active = true
			case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrUserInactive):
				active = false
			default:
				log.Printf("ws: revalidation lookup failed user=%s: %v (skipping)", sess.UserID, err)
				active = true
			}
			checked[sess.UserID] = active
		}

		if !active {
			log.Printf("ws: closing session %s: user %s no longer active", sess.ID, sess.UserID)
			server.CloseSession(sess.ID)
		}
	}
}
