package ws

import (
	"context"
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters. The defaults follow the
// protocol cadence the admin-panel clients expect: a ping every 25 seconds,
// eviction after roughly 60 seconds without any inbound frame. Abrupt
// transport loss therefore triggers the same cleanup path as a graceful
// close within a bounded window.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // extra grace after Interval before eviction
}

// DefaultHeartbeatConfig returns the reference cadence: 25s pings, dead
// after 60s of silence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 25 * time.Second,
		Timeout:  35 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and closes those that have gone
// stale (no successful reads within Interval + Timeout). It returns
// immediately; the goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

// stale reports whether a connection has gone silent past the eviction
// deadline. Liveness is the session's atomic activity marker, touched on
// every successful read, so the heartbeat goroutine never races the read
// workers.
func stale(c *Connection, now time.Time, deadline time.Duration) bool {
	return now.Sub(c.Session.LastActivityAt()) > deadline
}

// checkConnections iterates over all active connections. Connections without
// a successful read within Interval + Timeout are considered dead and are
// removed. All other connections receive a WebSocket-level ping frame
// (opcode 0x9), which browsers answer automatically with a pong, and have
// their Redis session mirror TTL refreshed.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if stale(c, now, deadline) {
			log.Printf("ws: heartbeat timeout session=%s last_activity=%s ago",
				c.ID, now.Sub(c.Session.LastActivityAt()).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			server.RemoveConnection(c)
			continue
		}

		if server.mirror != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := server.mirror.Touch(ctx, c.ID); err != nil {
				log.Printf("ws: mirror touch failed session=%s: %v", c.ID, err)
			}
			cancel()
		}
	}
}
