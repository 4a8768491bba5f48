package socks5

import (
	"net"
	"testing"
)

func newTestPendingConnection(t *testing.T) (*PendingConnection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	return &PendingConnection{
		conn:    server,
		peer:    pipeAddr("client"),
		local:   pipeAddr("server"),
		command: CmdConnect,
		address: Address{Type: AddrIPv4, IP: net.IPv4(93, 184, 216, 34)},
		port:    80,
	}, client
}

func TestPendingConnection_ReportSuccess(t *testing.T) {
	pc, client := newTestPendingConnection(t)

	doneCh := make(chan struct {
		ac  *ActiveConnection
		err error
	}, 1)
	go func() {
		ac, err := pc.ReportSuccess(nil)
		doneCh <- struct {
			ac  *ActiveConnection
			err error
		}{ac, err}
	}()

	resp := make([]byte, 10)
	n, err := readFull(client, resp)
	if err != nil || n < len(resp) {
		t.Fatalf("reading reply: n=%d err=%v", n, err)
	}
	if resp[1] != byte(ReplySucceeded) {
		t.Fatalf("reply code = %v, want succeeded", resp[1])
	}

	res := <-doneCh
	if res.err != nil {
		t.Fatalf("ReportSuccess() error = %v", res.err)
	}
	if res.ac == nil {
		t.Fatal("ReportSuccess() returned nil ActiveConnection")
	}
	if res.ac.Peer() != pc.peer {
		t.Fatalf("ActiveConnection.Peer() = %v, want %v", res.ac.Peer(), pc.peer)
	}
}

func TestPendingConnection_ReportGeneralFailure(t *testing.T) {
	pc, client := newTestPendingConnection(t)

	errCh := make(chan error, 1)
	go func() { errCh <- pc.ReportGeneralFailure() }()

	resp := make([]byte, 10)
	n, err := readFull(client, resp)
	if err != nil || n < len(resp) {
		t.Fatalf("reading reply: n=%d err=%v", n, err)
	}
	if resp[1] != byte(ReplyGeneralFailure) {
		t.Fatalf("reply code = %v, want general failure", resp[1])
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ReportGeneralFailure() error = %v", err)
	}
}

func TestPendingConnection_DoubleReportPanics(t *testing.T) {
	pc, client := newTestPendingConnection(t)
	defer client.Close()

	go drain(client)

	if _, err := pc.ReportSuccess(nil); err != nil {
		t.Fatalf("first ReportSuccess() error = %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected second Report* call to panic")
		}
	}()
	pc.ReportNotAllowed()
}

// drain reads conn until it's closed, standing in for a client that
// isn't asserting on the reply bytes in this particular test.
func drain(conn net.Conn) {
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
