package socks5

import (
	"encoding/binary"
	"net"
	"strconv"
)

// halfCloser is implemented by connections that support shutting down a
// single direction, such as *net.TCPConn. Plain Close() is the fallback.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// writeReply serializes and sends the 10- or 22-byte server reply frame
// described in RFC 1928 section 6:
//
//	VER | REP | RSV | ATYP | BND.ADDR | BND.PORT
//
// bound supplies BND.ADDR/BND.PORT: the server's local socket address on
// which the client connected, or whatever address a ReportSuccess caller
// passed instead. It is never a domain name, so the reply ATYP is always
// IPv4 or IPv6.
func writeReply(conn net.Conn, code ReplyCode, bound net.Addr) error {
	var ip net.IP
	var port int
	if tcpAddr, ok := bound.(*net.TCPAddr); ok {
		ip, port = tcpAddr.IP, tcpAddr.Port
	} else if host, portStr, err := net.SplitHostPort(bound.String()); err == nil {
		ip = net.ParseIP(host)
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	var addr Address
	if ip == nil {
		// Local address couldn't be determined; fall back to the
		// unspecified IPv4 address rather than fail the reply.
		addr = Address{Type: AddrIPv4, IP: net.IPv4zero.To4()}
	} else {
		addr = addressFromIP(ip)
	}

	buf := make([]byte, 4+len(addr.IP)+2)
	buf[0] = ProtocolVersion
	buf[1] = byte(code)
	buf[2] = 0x00
	buf[3] = byte(addr.Type)
	copy(buf[4:], addr.IP)
	binary.BigEndian.PutUint16(buf[4+len(addr.IP):], uint16(port))

	_, err := conn.Write(buf)
	return err
}

// shutdownBoth performs a full-duplex shutdown of conn, closing both the
// read and write directions where the connection type supports it, and
// falling back to a plain Close otherwise.
func shutdownBoth(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		hc.CloseRead()
		hc.CloseWrite()
		return
	}
	conn.Close()
}
