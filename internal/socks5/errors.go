package socks5

import (
	"fmt"
	"net"
)

// ErrorKind discriminates the failure reasons a negotiation can surface.
// Every Error carries the peer address where one was known at the time of
// failure; WrongCredentials deliberately carries nothing else, so the
// attempted username and password never reach the error surface.
type ErrorKind int

const (
	// ErrNoOverlappingMethods means the client's offered auth methods and
	// the server's accepted methods had no byte in common.
	ErrNoOverlappingMethods ErrorKind = iota
	// ErrUnknownSubnegotiationVersion means the username/password
	// sub-negotiation header carried a version other than 0x01.
	ErrUnknownSubnegotiationVersion
	// ErrWrongCredentials means the username/password sub-negotiation
	// completed but the credentials didn't match.
	ErrWrongCredentials
	// ErrProtocolVersion means a message header carried a SOCKS version
	// other than 0x05.
	ErrProtocolVersion
	// ErrUnknownCommand means the relay request's CMD byte wasn't one of
	// CONNECT, BIND, or UDP ASSOCIATE.
	ErrUnknownCommand
	// ErrUnknownAddressType means the relay request's ATYP byte wasn't
	// one of IPv4, domain name, or IPv6.
	ErrUnknownAddressType
	// ErrReservedByte means the relay request's RSV byte wasn't zero.
	ErrReservedByte
	// ErrProtocolViolation covers framing errors that don't have a
	// dedicated kind, such as a domain name that isn't valid UTF-8.
	ErrProtocolViolation
	// ErrNoAuthMethods means the client's method-selection message
	// claimed zero offered methods.
	ErrNoAuthMethods
	// ErrTimeout means a read or write exceeded the configured deadline.
	// The core does not distinguish this from other I/O failures beyond
	// this classification; the underlying error is still available via
	// Unwrap.
	ErrTimeout
	// ErrStreamIO covers any other I/O failure while reading from or
	// writing to the client stream.
	ErrStreamIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoOverlappingMethods:
		return "no overlapping auth methods"
	case ErrUnknownSubnegotiationVersion:
		return "unknown sub-negotiation version"
	case ErrWrongCredentials:
		return "wrong credentials"
	case ErrProtocolVersion:
		return "unsupported protocol version"
	case ErrUnknownCommand:
		return "unknown command"
	case ErrUnknownAddressType:
		return "unknown address type"
	case ErrReservedByte:
		return "non-zero reserved byte"
	case ErrProtocolViolation:
		return "protocol violation"
	case ErrNoAuthMethods:
		return "no auth methods offered"
	case ErrTimeout:
		return "timed out"
	case ErrStreamIO:
		return "stream I/O error"
	default:
		return "unknown error"
	}
}

// Error is the structured failure value threaded through negotiation. Its
// Kind selects which fields are meaningful; see the ErrXxx constructors
// below rather than constructing one by hand.
type Error struct {
	Kind ErrorKind
	Peer net.Addr

	// Got/Want hold the offending byte and, where applicable, the byte
	// that was expected. Meaningful for ErrProtocolVersion,
	// ErrUnknownCommand, ErrUnknownAddressType, ErrReservedByte, and
	// ErrUnknownSubnegotiationVersion.
	Got  byte
	Want byte

	// ServerMethods/ClientMethods are populated for
	// ErrNoOverlappingMethods.
	ServerMethods []AuthMethod
	ClientMethods []AuthMethod

	// Detail carries a free-text description for ErrProtocolViolation.
	Detail string

	// Err is the underlying I/O error for ErrStreamIO and ErrTimeout.
	Err error
}

func (e *Error) Error() string {
	peer := "unknown peer"
	if e.Peer != nil {
		peer = e.Peer.String()
	}

	switch e.Kind {
	case ErrNoOverlappingMethods:
		return fmt.Sprintf("%s: no overlap between client methods %v and server methods %v", peer, e.ClientMethods, e.ServerMethods)
	case ErrUnknownSubnegotiationVersion:
		return fmt.Sprintf("%s: sub-negotiation version 0x%02x, want 0x%02x", peer, e.Got, e.Want)
	case ErrWrongCredentials:
		return fmt.Sprintf("%s: wrong credentials", peer)
	case ErrProtocolVersion:
		return fmt.Sprintf("%s: protocol version 0x%02x, want 0x%02x", peer, e.Got, e.Want)
	case ErrUnknownCommand:
		return fmt.Sprintf("%s: unknown command byte 0x%02x", peer, e.Got)
	case ErrUnknownAddressType:
		return fmt.Sprintf("%s: unknown address type byte 0x%02x", peer, e.Got)
	case ErrReservedByte:
		return fmt.Sprintf("%s: non-zero reserved byte 0x%02x", peer, e.Got)
	case ErrProtocolViolation:
		return fmt.Sprintf("%s: protocol violation: %s", peer, e.Detail)
	case ErrNoAuthMethods:
		return fmt.Sprintf("%s: no auth methods offered", peer)
	case ErrTimeout:
		return fmt.Sprintf("%s: timed out: %v", peer, e.Err)
	case ErrStreamIO:
		return fmt.Sprintf("%s: stream I/O error: %v", peer, e.Err)
	default:
		return fmt.Sprintf("%s: %s", peer, e.Kind)
	}
}

// Unwrap exposes the underlying I/O error, if any, so callers can use
// errors.Is/errors.As against it (for example against io.EOF or
// net.Error).
func (e *Error) Unwrap() error {
	return e.Err
}

func errNoOverlappingMethods(peer net.Addr, server, client []AuthMethod) *Error {
	return &Error{Kind: ErrNoOverlappingMethods, Peer: peer, ServerMethods: server, ClientMethods: client}
}

func errUnknownSubnegotiationVersion(peer net.Addr, got byte) *Error {
	return &Error{Kind: ErrUnknownSubnegotiationVersion, Peer: peer, Got: got, Want: AuthVersion}
}

func errWrongCredentials(peer net.Addr) *Error {
	return &Error{Kind: ErrWrongCredentials, Peer: peer}
}

func errProtocolVersion(peer net.Addr, got byte) *Error {
	return &Error{Kind: ErrProtocolVersion, Peer: peer, Got: got, Want: ProtocolVersion}
}

func errUnknownCommand(peer net.Addr, got byte) *Error {
	return &Error{Kind: ErrUnknownCommand, Peer: peer, Got: got}
}

func errUnknownAddressType(peer net.Addr, got byte) *Error {
	return &Error{Kind: ErrUnknownAddressType, Peer: peer, Got: got}
}

func errReservedByte(peer net.Addr, got byte) *Error {
	return &Error{Kind: ErrReservedByte, Peer: peer, Got: got}
}

func errProtocolViolation(peer net.Addr, detail string) *Error {
	return &Error{Kind: ErrProtocolViolation, Peer: peer, Detail: detail}
}

func errNoAuthMethods(peer net.Addr) *Error {
	return &Error{Kind: ErrNoAuthMethods, Peer: peer}
}

func errStreamIO(peer net.Addr, err error) *Error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return &Error{Kind: ErrTimeout, Peer: peer, Err: err}
	}
	return &Error{Kind: ErrStreamIO, Peer: peer, Err: err}
}
