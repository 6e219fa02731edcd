// Package ws owns the WebSocket transport for the notification hub: it
// upgrades HTTP connections, authenticates them during the handshake, drives
// the per-session lifecycle against the hub, and dispatches inbound frames
// to the message handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/waboard/realtime/internal/auth"
	"github.com/waboard/realtime/internal/hub"
	"github.com/waboard/realtime/internal/metrics"
	"github.com/waboard/realtime/internal/protocol"
	"github.com/waboard/realtime/internal/ratelimit"
	"github.com/waboard/realtime/internal/session"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	AuthTimeout    time.Duration // budget for the handshake credential check
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		AuthTimeout:    5 * time.Second,
	}
}

// Server is the WebSocket front end built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections, authenticates them before any room membership
// is established, registers them with an epoll instance for I/O readiness
// notifications, and dispatches ready connections to a bounded worker pool
// for frame reading.
type Server struct {
	config        ServerConfig
	epoll         *Epoll
	conns         *ConnectionManager
	hub           *hub.Hub
	authenticator *auth.Authenticator
	mirror        *session.Store     // optional Redis session mirror
	limiter       *ratelimit.Limiter // optional per-IP connect limiter
	workerPool    chan struct{}      // semaphore limiting concurrent read workers
	onMessage     func(conn *Connection, data []byte)
	httpServer    *http.Server
	done          chan struct{}
	startedAt     time.Time
}

// NewServer creates a Server bound to the given hub and authenticator. The
// onMessage function is called from a worker goroutine whenever a complete
// WebSocket text frame is received from a client. The server registers
// itself as the hub's delivery-failure handler so sessions with broken
// transports are evicted proactively.
func NewServer(config ServerConfig, h *hub.Hub, authenticator *auth.Authenticator, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:        config,
		conns:         NewConnectionManager(),
		hub:           h,
		authenticator: authenticator,
		workerPool:    make(chan struct{}, config.WorkerPoolSize),
		onMessage:     onMessage,
		done:          make(chan struct{}),
	}

	h.SetOnDeliveryFailure(func(sessionID string, err error) {
		s.CloseSession(sessionID)
	})

	return s
}

// SetSessionMirror attaches the Redis session mirror. Optional; mirror
// failures are logged and never affect delivery.
func (s *Server) SetSessionMirror(mirror *session.Store) {
	s.mirror = mirror
}

// SetRateLimiter attaches the per-IP connect limiter. Optional.
func (s *Server) SetRateLimiter(limiter *ratelimit.Limiter) {
	s.limiter = limiter
}

// Start initializes the epoll instance, configures the HTTP server, and
// begins accepting WebSocket connections. It starts the epoll event loop in
// a background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the epoll event loop in the background.
	go s.startEventLoop()

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// bearerToken extracts the handshake credential: an explicit "token" query
// parameter or an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and runs
// the connection handshake: rate limit, upgrade, authenticate, activate.
// Authentication happens synchronously in this per-connection goroutine, so
// a slow user-store lookup never stalls other sessions. A connection that
// fails authentication is closed before it joins any room.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		allowed, _ := s.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		cancel()
		if !allowed {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	// The credential travels in the upgrade request; capture it before the
	// connection leaves the HTTP layer.
	token := bearerToken(r)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		Conn:         conn,
		Fd:           socketFD(conn),
		WriteTimeout: s.config.WriteTimeout,
	}
	sess := s.hub.StartSession(c)
	c.Session = sess
	c.ID = sess.ID

	identity, err := s.authenticate(token)
	if err != nil {
		s.rejectHandshake(c, err)
		return
	}

	role, err := hub.ParseRole(identity.Role)
	if err != nil {
		s.rejectHandshake(c, fmt.Errorf("%w: %v", auth.ErrAuthenticationFailed, err))
		return
	}

	if err := s.hub.Authenticate(sess, identity.UserID, role); err != nil {
		s.rejectHandshake(c, err)
		return
	}
	if err := s.hub.Activate(sess); err != nil {
		s.rejectHandshake(c, err)
		return
	}

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		log.Printf("ws: epoll add failed for session %s: %v", sess.ID, err)
		s.conns.Remove(sess.ID)
		s.hub.Close(sess)
		return
	}

	// Mirror the session into Redis for ops visibility.
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.mirror.Create(ctx, sess.ID, sess.UserID, string(sess.Role)); err != nil {
			log.Printf("ws: failed to mirror session %s: %v", sess.ID, err)
		}
		cancel()
	}

	s.sendEvent(c, protocol.ConnectedEvent{SessionID: sess.ID, UserID: sess.UserID})

	log.Printf("ws: new connection session=%s user=%s role=%s fd=%d (total=%d)",
		sess.ID, sess.UserID, sess.Role, c.Fd, s.conns.Count())
}

// authenticate runs the credential check with the handshake budget.
func (s *Server) authenticate(token string) (auth.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.AuthTimeout)
	defer cancel()
	return s.authenticator.Authenticate(ctx, token)
}

// rejectHandshake reports a failed handshake to the client and tears the
// connection down. The session has joined no rooms at this point, so closing
// it leaves no membership behind.
func (s *Server) rejectHandshake(c *Connection, err error) {
	code := "authentication_failed"
	reason := "invalid_token"
	switch {
	case errors.Is(err, auth.ErrStoreUnavailable):
		code = "store_unavailable"
		reason = "store_unavailable"
	case errors.Is(err, auth.ErrUserInactive):
		reason = "user_inactive"
	}
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()

	log.Printf("ws: handshake rejected session=%s: %v", c.ID, err)
	s.sendEvent(c, protocol.ErrorEvent{Code: code, Message: "connection rejected"})
	s.hub.Close(c.Session)
	c.Close()
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// epoll and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles genuinely dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Session.Touch()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from epoll and the connection
// manager, closes the hub session (which leaves every room exactly once),
// and deletes the Redis mirror. It is the single cleanup path for graceful
// closes, read errors, heartbeat evictions, and delivery failures; racing
// callers are deduplicated by the manager's Remove guard.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	// Only proceed if the connection was actually in the manager, so racing
	// removals (read error + heartbeat timeout) clean up once.
	if !s.conns.Remove(c.ID) {
		return
	}

	s.hub.Close(c.Session)

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.mirror.Delete(ctx, c.ID); err != nil {
			log.Printf("ws: failed to delete session mirror for %s: %v", c.ID, err)
		}
		cancel()
	}

	log.Printf("ws: connection closed session=%s (total=%d)", c.ID, s.conns.Count())
}

// CloseSession tears down the connection for a session ID, if it is still
// registered. Used by the hub's delivery-failure hook and the credential
// revalidation sweep.
func (s *Server) CloseSession(sessionID string) {
	if c := s.conns.Get(sessionID); c != nil {
		s.RemoveConnection(c)
	}
}

// sendEvent encodes and writes a server event to one connection. Errors are
// logged only; callers on the handshake path tear down separately.
func (s *Server) sendEvent(c *Connection, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		log.Printf("ws: failed to encode %q event for session %s: %v", ev.EventName(), c.ID, err)
		return
	}

	if err := c.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send %q event to session %s: %v", ev.EventName(), c.ID, err)
	}
}

// Connections returns the ConnectionManager for external access to
// connection state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Hub returns the hub this server feeds.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active sessions and
// their connections, and cleans up the epoll instance.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	// Signal the event loop and background monitors to stop.
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, c := range s.conns.All() {
		s.hub.Close(c.Session)
		if s.mirror != nil {
			delCtx, delCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.mirror.Delete(delCtx, c.ID)
			delCancel()
		}
		_ = s.epoll.Remove(c.Conn)
		c.Close()
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
