package gameserver

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/xqdev/xqgo/internal/protocol"
)

func infoFrame(n string) []byte {
	return protocol.EncodeFrame(protocol.MustEncode(protocol.KindInfo, map[string]string{"n": n}))
}

func TestWritePump_SingleFrame(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()
	c := newTestClient(t, conn, 16)
	go c.writePump()
	defer c.Close()

	frame := infoFrame("1")
	if err := c.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(body, frame[4:]) {
		t.Errorf("pumped body = %q, want %q", body, frame[4:])
	}
}

func TestWritePump_BatchesQueued(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()
	c := newTestClient(t, conn, 16)

	// Queue three frames before the pump starts so the first wake sees a
	// backlog and coalesces it into one writev.
	var want []byte
	for _, n := range []string{"1", "2", "3"} {
		frame := infoFrame(n)
		want = append(want, frame...)
		if err := c.Send(frame); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	go c.writePump()
	defer c.Close()

	got := make([]byte, len(want))
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("reading batched frames: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("batched bytes = %q, want %q", got, want)
	}
}

func TestSend_QueueFullDisconnects(t *testing.T) {
	c := newTestClient(t, nil, 1)

	if err := c.Send(infoFrame("1")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send(infoFrame("2")); err == nil {
		t.Fatal("Send on a full queue returned nil, want error")
	}

	if c.State() != StateDisconnected {
		t.Errorf("State() = %v after overflow, want DISCONNECTED", c.State())
	}
	select {
	case <-c.closeCh:
	default:
		t.Error("overflow did not signal the pump to stop")
	}
}

func TestSendSync_Timeout(t *testing.T) {
	c := newTestClient(t, nil, 1)
	if err := c.Send(infoFrame("1")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	start := time.Now()
	err := c.SendSync(infoFrame("2"), 50*time.Millisecond)
	if err == nil {
		t.Fatal("SendSync on a full queue returned nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SendSync took %v, want ~50ms", elapsed)
	}
}

func TestSendSync_ClosedClient(t *testing.T) {
	c := newTestClient(t, nil, 1)
	if err := c.Send(infoFrame("1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	c.CloseAsync()

	if err := c.SendSync(infoFrame("2"), time.Minute); err == nil {
		t.Fatal("SendSync on a closed client returned nil, want error")
	}
}

func TestMarkForDisconnection_DrainsThenCloses(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()
	c := newTestClient(t, conn, 16)

	// LOGOUT order: mark first, then queue the farewell so the pump still
	// delivers it before closing the socket.
	c.MarkForDisconnection()
	farewell := infoFrame("bye")
	if err := c.Send(farewell); err != nil {
		t.Fatalf("Send: %v", err)
	}

	go c.writePump()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	body, err := protocol.ReadFrame(server)
	if err != nil {
		t.Fatalf("reading farewell: %v", err)
	}
	if !bytes.Equal(body, farewell[4:]) {
		t.Errorf("farewell body = %q, want %q", body, farewell[4:])
	}

	// The pump closes its side after the drain; our side sees EOF.
	if _, err := protocol.ReadFrame(server); err != io.EOF {
		t.Errorf("read after drain err = %v, want io.EOF", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}

func TestClient_IdentityLifecycle(t *testing.T) {
	c := newPipeClient(t)

	if c.State() != StateConnected {
		t.Fatalf("initial State() = %v, want CONNECTED", c.State())
	}
	if c.Username() != "" {
		t.Fatalf("initial Username() = %q, want empty", c.Username())
	}

	c.BindIdentity("alice", 3, "token-1")
	if c.State() != StateAuthenticated {
		t.Errorf("State() = %v after bind, want AUTHENTICATED", c.State())
	}
	if c.Username() != "alice" || c.AvatarID() != 3 || c.SessionToken() != "token-1" {
		t.Errorf("identity = (%q, %d, %q), want (alice, 3, token-1)",
			c.Username(), c.AvatarID(), c.SessionToken())
	}

	c.SetLastGame(rematchContext{opponent: "bob", wasRed: true})
	if lg, ok := c.LastGame(); !ok || lg.opponent != "bob" || !lg.wasRed {
		t.Errorf("LastGame() = (%+v, %v), want bob/red", lg, ok)
	}

	c.ClearIdentity()
	if c.State() != StateConnected {
		t.Errorf("State() = %v after clear, want CONNECTED", c.State())
	}
	if c.Username() != "" || c.SessionToken() != "" {
		t.Error("ClearIdentity left identity fields set")
	}
	if _, ok := c.LastGame(); ok {
		t.Error("ClearIdentity kept the rematch context")
	}
}

func TestClient_Allow(t *testing.T) {
	c := newPipeClient(t)
	for range 100 {
		if !c.Allow() {
			t.Fatal("Allow() = false with no limiter")
		}
	}

	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 2)
	if !c.Allow() || !c.Allow() {
		t.Fatal("burst of 2 not allowed")
	}
	if c.Allow() {
		t.Error("third frame within the hour allowed, want rate limited")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	c := newPipeClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Close() // repeat must not panic
	c.CloseAsync()
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}
