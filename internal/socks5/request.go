package socks5

import (
	"io"
	"net"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// maxDomainNameLength is the largest value a single length-prefix byte can
// carry: RFC 1928 bounds the domain name to 1..255 bytes.
const maxDomainNameLength = 255

// parseRequest reads and validates the client's relay request:
//
//	VER | CMD | RSV | ATYP | DST.ADDR | DST.PORT
//
// Pre-condition: method selection (and sub-negotiation, if any) has
// already succeeded. On any framing error, parseRequest sends the
// matching failure reply (per the table in the request parser's
// component design) and shuts the stream down before returning a typed
// Error; the caller does not need to emit a reply of its own.
func parseRequest(conn net.Conn, peer net.Addr, local net.Addr) (Command, Address, uint16, error) {
	fail := func(code ReplyCode, err *Error) (Command, Address, uint16, error) {
		writeReply(conn, code, local)
		shutdownBoth(conn)
		return CmdUnknown, Address{}, 0, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return CmdUnknown, Address{}, 0, errStreamIO(peer, err)
	}

	if header[0] != ProtocolVersion {
		return fail(ReplyGeneralFailure, errProtocolVersion(peer, header[0]))
	}

	cmd := commandFromByte(header[1])
	if cmd == CmdUnknown {
		return fail(ReplyCommandNotSupported, errUnknownCommand(peer, header[1]))
	}

	if header[2] != 0x00 {
		return fail(ReplyGeneralFailure, errReservedByte(peer, header[2]))
	}

	atyp := addressTypeFromByte(header[3])
	if atyp == AddrUnknown {
		return fail(ReplyAddressTypeNotSupported, errUnknownAddressType(peer, header[3]))
	}

	addr, err := readAddress(conn, atyp)
	if err != nil {
		if pe, ok := err.(*protocolViolation); ok {
			return fail(ReplyGeneralFailure, errProtocolViolation(peer, pe.detail))
		}
		return CmdUnknown, Address{}, 0, errStreamIO(peer, err)
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBuf); err != nil {
		return CmdUnknown, Address{}, 0, errStreamIO(peer, err)
	}
	port := uint16(portBuf[0])<<8 | uint16(portBuf[1])

	return cmd, addr, port, nil
}

// protocolViolation marks a framing error internal to readAddress that
// should map to ReplyGeneralFailure / ErrProtocolViolation rather than
// being treated as a bare I/O failure.
type protocolViolation struct {
	detail string
}

func (p *protocolViolation) Error() string { return p.detail }

// readAddress reads the address payload for the given address type. It
// performs exact-length reads only; it never peeks. DomainName decoding
// is lossless: bytes that don't form valid UTF-8 are a protocol error,
// not silently replaced with U+FFFD.
func readAddress(conn net.Conn, atyp AddressType) (Address, error) {
	switch atyp {
	case AddrIPv4:
		buf := make([]byte, net.IPv4len)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return Address{}, err
		}
		return Address{Type: AddrIPv4, IP: net.IP(buf)}, nil

	case AddrIPv6:
		buf := make([]byte, net.IPv6len)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return Address{}, err
		}
		return Address{Type: AddrIPv6, IP: net.IP(buf)}, nil

	case AddrDomainName:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return Address{}, err
		}
		n := int(lenBuf[0])
		name := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(conn, name); err != nil {
				return Address{}, err
			}
		}
		if !utf8.Valid(name) {
			return Address{}, &protocolViolation{detail: "domain name is not valid UTF-8"}
		}
		return Address{Type: AddrDomainName, Name: normalizeDomainName(string(name))}, nil

	default:
		return Address{}, &protocolViolation{detail: "unsupported address type"}
	}
}

// normalizeDomainName canonicalizes a domain name the way a resolver
// would want to see it: Unicode-normalized (NFC) so visually identical
// names compare equal, with a best-effort ASCII/punycode form attempted
// via idna. Domain names that don't round-trip through idna (e.g. ones
// using characters outside its lookup profile) are kept as received
// rather than rejected — idna.ToASCII failing is not itself a protocol
// violation, since RFC 1928 doesn't constrain domain name contents
// beyond "1 to 255 octets".
func normalizeDomainName(name string) string {
	normalized := norm.NFC.String(name)
	if ascii, err := idna.Lookup.ToASCII(normalized); err == nil {
		return ascii
	}
	return normalized
}
