package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// startTestServer starts a server on a loopback port and returns it
// with a channel of received bodies.
func startTestServer(t *testing.T) (*Server, chan []byte) {
	t.Helper()

	received := make(chan []byte, 16)
	server := NewServer(ServerConfig{
		Address: "127.0.0.1:0",
		OnMessage: func(conn *ServerConn, body []byte) {
			received <- body
		},
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, received
}

func dialTestServer(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitBody(t *testing.T, received chan []byte) []byte {
	t.Helper()
	select {
	case body := <-received:
		return body
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for body")
		return nil
	}
}

func TestServerDispatchesFrames(t *testing.T) {
	server, received := startTestServer(t)
	conn := dialTestServer(t, server)

	body := []byte("1|4|proj_101")
	if _, err := conn.Write(frame(body)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if got := waitBody(t, received); !bytes.Equal(got, body) {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestServerBackToBackFramesInOrder(t *testing.T) {
	server, received := startTestServer(t)
	conn := dialTestServer(t, server)

	chunk := append(frame([]byte("first")), frame([]byte("second"))...)
	if _, err := conn.Write(chunk); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if got := waitBody(t, received); string(got) != "first" {
		t.Errorf("first body = %q", got)
	}
	if got := waitBody(t, received); string(got) != "second" {
		t.Errorf("second body = %q", got)
	}
}

func TestServerFrameSplitAcrossWrites(t *testing.T) {
	server, received := startTestServer(t)
	conn := dialTestServer(t, server)

	data := frame([]byte("1|2|aircon_3|online|on"))
	for _, b := range data {
		if _, err := conn.Write([]byte{b}); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if got := waitBody(t, received); string(got) != "1|2|aircon_3|online|on" {
		t.Errorf("body = %q", got)
	}
	select {
	case extra := <-received:
		t.Errorf("unexpected extra body %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerClosesOnOversizedFrame(t *testing.T) {
	disconnected := make(chan struct{})
	server := NewServer(ServerConfig{
		Address:      "127.0.0.1:0",
		OnDisconnect: func(conn *ServerConn) { close(disconnected) },
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	conn := dialTestServer(t, server)

	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
	if _, err := conn.Write(prefix[:]); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close connection on oversized frame")
	}
}

func TestServerSendToClient(t *testing.T) {
	connected := make(chan *ServerConn, 1)
	server := NewServer(ServerConfig{
		Address:   "127.0.0.1:0",
		OnConnect: func(conn *ServerConn) { connected <- conn },
	})
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer server.Stop()

	conn := dialTestServer(t, server)

	var sconn *ServerConn
	select {
	case sconn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no OnConnect callback")
	}

	if err := sconn.Send([]byte("4|pong")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reader := NewFrameReader(conn)
	got, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if string(got) != "4|pong" {
		t.Errorf("body = %q, want 4|pong", got)
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	server, _ := startTestServer(t)
	conn := dialTestServer(t, server)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected read to fail after server stop")
	}
	if server.ConnectionCount() != 0 {
		t.Errorf("connection count = %d after stop, want 0", server.ConnectionCount())
	}
}

func TestClientConnRoundTrip(t *testing.T) {
	server, received := startTestServer(t)

	client := NewClient(ClientConfig{})
	cc, err := client.Connect(context.Background(), server.Addr().String())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer cc.Close()

	if err := cc.Send([]byte("2|17|op_7")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := waitBody(t, received); string(got) != "2|17|op_7" {
		t.Errorf("body = %q", got)
	}

	if err := cc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := cc.Send([]byte("x")); err != ErrConnectionClosed {
		t.Errorf("Send after close = %v, want ErrConnectionClosed", err)
	}
}
