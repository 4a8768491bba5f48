package socks5

import (
	"net"
	"sync/atomic"
	"time"
)

// PendingConnection is a client connection that has completed method
// selection, optional username/password sub-negotiation, and relay
// request parsing, but has not yet received its server reply. The raw
// byte stream is deliberately unreachable from this type: the embedder
// must call exactly one Report* method, which consumes the
// PendingConnection and either hands back an ActiveConnection (on
// success) or an error (on failure, after the matching reply has
// already been written and the stream shut down).
//
// A PendingConnection must not be used from more than one goroutine,
// and its single Report* call must not be made twice; a second call
// panics rather than silently sending a second reply frame.
type PendingConnection struct {
	conn    net.Conn
	peer    net.Addr
	local   net.Addr
	tracker *connTracker[net.Conn]

	command Command
	address Address
	port    uint16

	reported atomic.Bool
}

// Peer returns the client's remote address.
func (p *PendingConnection) Peer() net.Addr { return p.peer }

// Command returns the relay operation the client asked for: CONNECT,
// BIND, or UDP ASSOCIATE. This package does not interpret the command
// any further; dispatch is the caller's responsibility.
func (p *PendingConnection) Command() Command { return p.command }

// Address returns the requested destination's address, as decoded from
// the client's request (IPv4, IPv6, or a domain name).
func (p *PendingConnection) Address() Address { return p.address }

// Port returns the requested destination port.
func (p *PendingConnection) Port() uint16 { return p.port }

// HostPort renders the requested destination as a single host:port
// string, bracketing IPv6 literals and passing domain names through
// unchanged.
func (p *PendingConnection) HostPort() string {
	return p.address.HostPort(p.port)
}

// markReported enforces the single-use rule shared by every Report*
// method. Go has no move semantics, so the "consumed exactly once"
// invariant from the typestate design is enforced dynamically instead
// of statically: reuse is a programming error and panics rather than
// silently corrupting the reply stream.
func (p *PendingConnection) markReported() {
	if !p.reported.CompareAndSwap(false, true) {
		panic("socks5: PendingConnection reported more than once")
	}
}

// ReportSuccess sends a succeeded reply carrying bound as the
// server-side address of the now-established relay, and returns the
// ActiveConnection through which the caller may take over the raw
// stream. bound is typically the local address of whatever socket the
// caller dialed or listened on to service the request; if nil, the
// connection's own local address is used.
func (p *PendingConnection) ReportSuccess(bound net.Addr) (*ActiveConnection, error) {
	p.markReported()

	if bound == nil {
		bound = p.local
	}
	if err := writeReply(p.conn, ReplySucceeded, bound); err != nil {
		shutdownBoth(p.conn)
		if p.tracker != nil {
			p.tracker.remove(p.conn)
		}
		return nil, errStreamIO(p.peer, err)
	}

	// The handshake deadline no longer applies once relay begins; what
	// (if any) timeout governs the data phase is the caller's call.
	p.conn.SetDeadline(time.Time{})

	return &ActiveConnection{conn: p.conn, peer: p.peer, tracker: p.tracker}, nil
}

func (p *PendingConnection) reportFailure(code ReplyCode) error {
	p.markReported()
	err := writeReply(p.conn, code, p.local)
	shutdownBoth(p.conn)
	if p.tracker != nil {
		p.tracker.remove(p.conn)
	}
	if err != nil {
		return errStreamIO(p.peer, err)
	}
	return nil
}

// ReportGeneralFailure sends REP=0x01 (general SOCKS server failure).
func (p *PendingConnection) ReportGeneralFailure() error {
	return p.reportFailure(ReplyGeneralFailure)
}

// ReportNotAllowed sends REP=0x02 (connection not allowed by ruleset).
func (p *PendingConnection) ReportNotAllowed() error {
	return p.reportFailure(ReplyNotAllowed)
}

// ReportNetworkUnreachable sends REP=0x03 (network unreachable).
func (p *PendingConnection) ReportNetworkUnreachable() error {
	return p.reportFailure(ReplyNetworkUnreachable)
}

// ReportHostUnreachable sends REP=0x04 (host unreachable).
func (p *PendingConnection) ReportHostUnreachable() error {
	return p.reportFailure(ReplyHostUnreachable)
}

// ReportConnectionRefused sends REP=0x05 (connection refused).
func (p *PendingConnection) ReportConnectionRefused() error {
	return p.reportFailure(ReplyConnectionRefused)
}

// ReportTTLExpired sends REP=0x06 (TTL expired).
func (p *PendingConnection) ReportTTLExpired() error {
	return p.reportFailure(ReplyTTLExpired)
}

// ReportCommandNotSupported sends REP=0x07 (command not supported).
func (p *PendingConnection) ReportCommandNotSupported() error {
	return p.reportFailure(ReplyCommandNotSupported)
}

// ReportAddressTypeNotSupported sends REP=0x08 (address type not
// supported).
func (p *PendingConnection) ReportAddressTypeNotSupported() error {
	return p.reportFailure(ReplyAddressTypeNotSupported)
}

// ActiveConnection is the typestate reached after exactly one successful
// reply has been written. It exposes the raw, now-unmanaged stream;
// relaying payload bytes between it and whatever destination the caller
// connected is entirely the caller's responsibility.
type ActiveConnection struct {
	conn    net.Conn
	peer    net.Addr
	tracker *connTracker[net.Conn]
}

// Peer returns the client's remote address.
func (a *ActiveConnection) Peer() net.Addr { return a.peer }

// Conn returns the raw client stream for the caller to relay against.
func (a *ActiveConnection) Conn() net.Conn { return a.conn }

// Close closes the underlying connection and removes it from the
// acceptor's bookkeeping. Safe to call more than once.
func (a *ActiveConnection) Close() error {
	if a.tracker != nil {
		a.tracker.remove(a.conn)
	}
	return a.conn.Close()
}

// negotiate drives a freshly accepted connection through method
// selection, optional sub-negotiation, and request parsing, producing a
// PendingConnection ready for the caller's authorization decision. Any
// error returned has already resulted in the stream being shut down (and,
// where the protocol defines one, a reply frame sent); the caller only
// needs to account for the failure, not clean up the connection.
func negotiate(conn net.Conn, cfg ServerConfig, limiter *authLimiter, tracker *connTracker[net.Conn]) (*PendingConnection, error) {
	peer := conn.RemoteAddr()
	local := conn.LocalAddr()

	if err := negotiateAuth(conn, peer, local, cfg, limiter); err != nil {
		if tracker != nil {
			tracker.remove(conn)
		}
		conn.Close()
		return nil, err
	}

	cmd, addr, port, err := parseRequest(conn, peer, local)
	if err != nil {
		if tracker != nil {
			tracker.remove(conn)
		}
		conn.Close()
		return nil, err
	}

	return &PendingConnection{
		conn:    conn,
		peer:    peer,
		local:   local,
		tracker: tracker,
		command: cmd,
		address: addr,
		port:    port,
	}, nil
}
