// Package socks5 implements the server side of the SOCKS5 protocol
// (RFC 1928) and its username/password sub-negotiation (RFC 1929), up to
// and including the point where a relay request has been parsed and the
// embedder is ready to decide whether to authorize it.
package socks5

import (
	"crypto/subtle"
	"io"
	"net"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore validates a username/password pair supplied during
// RFC 1929 sub-negotiation.
type CredentialStore interface {
	Valid(username, password string) bool
}

// StaticCredentials is a credential store backed by plaintext passwords.
// Comparisons are constant-time, but the passwords themselves sit in
// memory unhashed; prefer HashedCredentials for anything beyond local
// testing.
type StaticCredentials map[string]string

// Valid reports whether username/password matches a stored entry. A
// missing username still performs a dummy comparison so that looking up
// an unknown user takes the same time as a wrong password for a known
// one.
func (s StaticCredentials) Valid(username, password string) bool {
	stored, ok := s[username]
	if !ok {
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// HashedCredentials is a credential store backed by bcrypt password
// hashes. This is the recommended store for anything reachable from
// untrusted networks.
type HashedCredentials map[string]string

// dummyHash lets Valid perform a real bcrypt comparison even for an
// unknown username, so that username enumeration can't be done by
// timing the response.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Valid reports whether username/password matches a stored bcrypt hash.
func (h HashedCredentials) Valid(username, password string) bool {
	stored, ok := h[username]
	if !ok {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// HashPassword bcrypt-hashes password for storage in a HashedCredentials
// map.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// MustHashPassword is HashPassword for callers (tests, config loaders)
// that would just panic on error anyway.
func MustHashPassword(password string) string {
	hash, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}

// selectMethod implements the method-selection policy: intersect the
// server's accepted methods with what the client offered, in the
// server's preference order, then prefer username/password over
// no-auth. The second return value is false only when the intersection
// is empty.
func selectMethod(serverMethods, clientMethods []AuthMethod) (AuthMethod, bool) {
	offered := func(m AuthMethod) bool {
		for _, c := range clientMethods {
			if c == m {
				return true
			}
		}
		return false
	}

	var intersection []AuthMethod
	for _, m := range serverMethods {
		if offered(m) {
			intersection = append(intersection, m)
		}
	}
	if len(intersection) == 0 {
		return 0, false
	}

	for _, m := range intersection {
		if m == AuthUserPass {
			return AuthUserPass, true
		}
	}
	for _, m := range intersection {
		if m == AuthNoAuth {
			return AuthNoAuth, true
		}
	}
	// Unreachable in practice: ServerConfig only ever accepts NoAuth and
	// UserPass, so a non-empty intersection always contains one of them.
	return 0, false
}

// negotiateAuth drives method selection and, if selected, the RFC 1929
// username/password sub-negotiation. It returns nil once the client is
// authenticated and ready for its relay request.
func negotiateAuth(conn net.Conn, peer net.Addr, local net.Addr, cfg ServerConfig, limiter *authLimiter) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errStreamIO(peer, err)
	}

	if header[0] != ProtocolVersion {
		writeReply(conn, ReplyGeneralFailure, local)
		shutdownBoth(conn)
		return errProtocolVersion(peer, header[0])
	}

	nmethods := int(header[1])
	if nmethods < 1 {
		writeReply(conn, ReplyGeneralFailure, local)
		shutdownBoth(conn)
		return errNoAuthMethods(peer)
	}

	raw := make([]byte, nmethods)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return errStreamIO(peer, err)
	}
	clientMethods := make([]AuthMethod, nmethods)
	for i, b := range raw {
		clientMethods[i] = AuthMethod(b)
	}

	chosen, ok := selectMethod(cfg.AuthMethods, clientMethods)
	if !ok {
		conn.Write([]byte{ProtocolVersion, byte(AuthNoAcceptable)})
		shutdownBoth(conn)
		return errNoOverlappingMethods(peer, cfg.AuthMethods, clientMethods)
	}

	if _, err := conn.Write([]byte{ProtocolVersion, byte(chosen)}); err != nil {
		return errStreamIO(peer, err)
	}

	if chosen == AuthUserPass {
		return negotiateUserPass(conn, peer, cfg, limiter)
	}
	return nil
}

// negotiateUserPass performs the single round trip described in RFC
// 1929:
//
//	client: VER(=1) | ULEN | UNAME | PLEN | PASSWD
//	server: VER(=1) | STATUS
func negotiateUserPass(conn net.Conn, peer net.Addr, cfg ServerConfig, limiter *authLimiter) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errStreamIO(peer, err)
	}
	if header[0] != AuthVersion {
		shutdownBoth(conn)
		return errUnknownSubnegotiationVersion(peer, header[0])
	}

	username, err := readCountedField(conn, int(header[1]))
	if err != nil {
		return errStreamIO(peer, err)
	}

	plenBuf := make([]byte, 1)
	if _, err := io.ReadFull(conn, plenBuf); err != nil {
		return errStreamIO(peer, err)
	}
	password, err := readCountedField(conn, int(plenBuf[0]))
	if err != nil {
		return errStreamIO(peer, err)
	}

	valid := limiter.allow(peer) && cfg.credentialStore().Valid(username, password)

	if !valid {
		conn.Write([]byte{AuthVersion, AuthStatusFailure})
		shutdownBoth(conn)
		return errWrongCredentials(peer)
	}

	if _, err := conn.Write([]byte{AuthVersion, AuthStatusSuccess}); err != nil {
		return errStreamIO(peer, err)
	}
	return nil
}

func readCountedField(conn net.Conn, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Sub-negotiation status codes, RFC 1929 section 2.
const (
	AuthStatusSuccess = 0x00
	AuthStatusFailure = 0x01
)
