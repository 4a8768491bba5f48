package socks5

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casept/socks5go/internal/logging"
)

// ServerConfig holds the configuration for a Server.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:1080").
	Address string

	// HandshakeTimeout bounds method selection, sub-negotiation, and
	// request parsing for a single connection. Zero disables the
	// deadline. It does not apply once a PendingConnection has reported
	// success and become an ActiveConnection.
	HandshakeTimeout time.Duration

	// AuthMethods are the methods this server accepts, in preference
	// order. Method selection intersects this list with what the client
	// offers; see selectMethod. Must contain at least one of AuthNoAuth
	// or AuthUserPass.
	AuthMethods []AuthMethod

	// Username/Password register a single credential pair accepted
	// during RFC 1929 sub-negotiation. Ignored if Credentials is set.
	Username string
	Password string

	// Credentials, if set, overrides Username/Password as the source of
	// truth for sub-negotiation. Use HashedCredentials for anything
	// reachable from untrusted networks.
	Credentials CredentialStore

	// MaxAuthFailuresPerMinute throttles sub-negotiation attempts per
	// peer host as a brute-force mitigation. Zero disables throttling.
	MaxAuthFailuresPerMinute int

	// Logger receives one Warn-level line per failed negotiation and one
	// Debug-level line per successful one. Nil discards all output.
	Logger *slog.Logger
}

// DefaultServerConfig returns sensible defaults: no-auth only, a
// ten-second handshake deadline, no rate limiting.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          "127.0.0.1:1080",
		HandshakeTimeout: 10 * time.Second,
		AuthMethods:      []AuthMethod{AuthNoAuth},
	}
}

// Validate checks the configuration for internal consistency.
func (cfg ServerConfig) Validate() error {
	if cfg.Address == "" {
		return fmt.Errorf("socks5: Address must not be empty")
	}
	if len(cfg.AuthMethods) == 0 {
		return fmt.Errorf("socks5: AuthMethods must not be empty")
	}
	for _, m := range cfg.AuthMethods {
		if m != AuthNoAuth && m != AuthUserPass {
			return fmt.Errorf("socks5: unsupported AuthMethod %s in AuthMethods", m)
		}
	}
	wantsUserPass := false
	for _, m := range cfg.AuthMethods {
		if m == AuthUserPass {
			wantsUserPass = true
		}
	}
	if wantsUserPass && cfg.Credentials == nil {
		if cfg.Username == "" || cfg.Password == "" {
			return fmt.Errorf("socks5: AuthMethods accepts username/password but neither Credentials nor both Username and Password are set")
		}
	}
	return nil
}

// credentialStore resolves the configured source of truth for
// sub-negotiation: an explicit store takes precedence over the single
// Username/Password pair.
func (cfg ServerConfig) credentialStore() CredentialStore {
	if cfg.Credentials != nil {
		return cfg.Credentials
	}
	return StaticCredentials{cfg.Username: cfg.Password}
}

// Server accepts raw TCP connections and negotiates each one up to the
// point of a parsed relay request, handing back a PendingConnection. It
// never dials a destination, relays payload bytes, or spawns a goroutine
// per connection: the caller drives both concurrency and dispatch.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	tracker  *connTracker[net.Conn]
	limiter  *authLimiter

	closing  atomic.Bool
	stopOnce sync.Once
}

// NewServer validates cfg, binds the listening socket, and returns a
// Server ready to Accept. Binding happens synchronously so that a caller
// which successfully receives a *Server knows the address is already
// listening.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}

	lc := net.ListenConfig{Control: setListenerSocketOptions}
	listener, err := lc.Listen(context.Background(), "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("socks5: listen: %w", err)
	}

	return &Server{
		cfg:      cfg,
		listener: listener,
		tracker:  newConnTracker[net.Conn](),
		limiter:  newAuthLimiter(cfg.MaxAuthFailuresPerMinute),
	}, nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of connections currently tracked:
// accepted but not yet reported, or reported successful and still open
// under ActiveConnection.Close responsibility.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.count()
}

// Accept blocks for the next client connection, negotiates it, and
// returns the resulting PendingConnection. This is the "lazy, unbounded
// sequence" the acceptor is defined to produce: each call does exactly
// one accept-and-negotiate and returns, so the caller controls whether
// and how iterations overlap.
//
// A per-connection negotiation failure is returned as an *Error; the
// underlying stream has already been dealt with (reply sent where the
// protocol defines one, then shut down), so the caller only needs to
// account for the failure, not clean up the connection, and may call
// Accept again for the next one. Accept returns a non-*Error error only
// once the listener itself has failed or been closed.
func (s *Server) Accept() (*PendingConnection, error) {
	conn, err := s.listener.Accept()
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if rc, err := tcpConn.SyscallConn(); err == nil {
			setConnSocketOptions(rc)
		}
	}

	s.tracker.add(conn)
	if s.cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}

	pc, err := negotiate(conn, s.cfg, s.limiter, s.tracker)
	if err != nil {
		s.cfg.Logger.Warn("negotiation failed", logging.KeyError, err)
		return nil, err
	}
	s.cfg.Logger.Debug("negotiated request",
		logging.KeyPeer, pc.Peer(),
		logging.KeyCommand, pc.Command(),
		logging.KeyAddress, pc.Address())
	return pc, nil
}

// Close stops the listener and closes every connection still tracked,
// whether pending or active. Safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.closing.Store(true)
		err = s.listener.Close()
		s.tracker.closeAll()
	})
	return err
}
