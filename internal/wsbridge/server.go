// Package wsbridge exposes agent sessions over WebSocket. Every connection
// owns one session: client commands drive it and its event envelopes are
// streamed back as JSON text frames.
package wsbridge

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bazelment/agentbridge/internal/logging"
	"github.com/bazelment/agentbridge/session"
)

// Factory creates the (not yet started) session for a new connection.
type Factory func(r *http.Request) (*session.Session, error)

// Config holds bridge settings.
type Config struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty allows
	// same-origin requests only; "*" allows any origin.
	AllowedOrigins []string

	// MaxMessageSize bounds a client frame. Default: 64KB
	MaxMessageSize int64

	// PongWait is how long a silent client is kept. Default: 60s
	PongWait time.Duration

	// PingPeriod must be shorter than PongWait. Default: 54s
	PingPeriod time.Duration

	// WriteWait bounds a single frame write. Default: 10s
	WriteWait time.Duration

	// SendBuffer is the per-connection outgoing frame queue. Default: 256
	SendBuffer int

	Logger *slog.Logger
}

// DefaultConfig returns the defaults applied to zero fields.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 64 * 1024,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		SendBuffer:     256,
	}
}

// Server is an http.Handler upgrading requests to session connections.
type Server struct {
	cfg      Config
	factory  Factory
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Server.
func New(cfg Config, factory Factory) *Server {
	d := DefaultConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = d.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = d.WriteWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = d.SendBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		conns:   make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins, logger),
	}
	return s
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	c := newClient(conn, s.cfg, logging.WithClient(s.logger, r.RemoteAddr))
	c.serve(r, s.factory)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close drops every connection, which destroys their sessions, and waits
// for the handlers to return. Later upgrades are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// originChecker allows requests without an Origin header (non-browser
// clients), origins in the allow-list, and otherwise same-origin requests.
func originChecker(allowed []string, logger *slog.Logger) func(*http.Request) bool {
	allowedSet := make(map[string]bool, len(allowed))
	allowAll := false
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		allowedSet[strings.ToLower(origin)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			logger.Warn("rejecting websocket origin", "origin", origin, "reason", "unparsable")
			return false
		}
		if len(allowedSet) > 0 {
			if allowedSet[strings.ToLower(origin)] || allowedSet[strings.ToLower(u.Host)] {
				return true
			}
			logger.Warn("rejecting websocket origin", "origin", origin, "reason", "not in allow-list")
			return false
		}
		if isSameOrigin(r, u) {
			return true
		}
		logger.Warn("rejecting websocket origin", "origin", origin, "host", r.Host, "reason", "cross-origin")
		return false
	}
}

// isSameOrigin compares hostnames and, when the request carries one, ports.
func isSameOrigin(r *http.Request, origin *url.URL) bool {
	reqHost, reqPort, err := net.SplitHostPort(r.Host)
	if err != nil {
		reqHost, reqPort = r.Host, ""
	}
	originHost, originPort, err := net.SplitHostPort(origin.Host)
	if err != nil {
		originHost, originPort = origin.Host, ""
	}
	if !strings.EqualFold(reqHost, originHost) {
		return false
	}
	if originPort == "" {
		switch origin.Scheme {
		case "https", "wss":
			originPort = "443"
		case "http", "ws":
			originPort = "80"
		}
	}
	return reqPort == "" || reqPort == originPort
}
