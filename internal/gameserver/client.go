package gameserver

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xqdev/xqgo/internal/model"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Default write queue / timeout constants.
// Overridden by config values when available.
const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

// ClientState is the connection lifecycle of one TCP peer.
type ClientState int32

const (
	StateConnected     ClientState = iota // TCP connected, no identity yet
	StateAuthenticated                    // LOGIN/REGISTER bound a username
	StateDisconnected                     // connection closed
)

func (s ClientState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// rematchContext keeps the parameters of the last finished game so a
// REMATCH_REQUEST after GAME_END can rebuild the pairing with colors swapped.
type rematchContext struct {
	opponent  string
	wasRed    bool
	control   model.TimeControl
	rated     bool
	archiveID string
}

// Client represents a single game client connection.
//
// All socket writes go through the write pump goroutine: handlers and
// background producers queue encoded frames on sendCh and the pump is the
// only writer on the socket.
type Client struct {
	conn net.Conn
	ip   string

	// state uses an atomic for lock-free reads in the read loop
	state atomic.Int32

	// markedForDisconnection asks the write pump to close the socket once
	// the queue drains. Set by LOGOUT so the final reply still goes out.
	markedForDisconnection atomic.Bool

	// limiter throttles inbound frames (flood protection)
	limiter *rate.Limiter

	// mu guards the identity fields (rare operations)
	mu           sync.Mutex
	username     string
	avatarID     int
	sessionToken string
	lastGame     *rematchContext

	sendCh    chan []byte // encoded frames, owned by the write pump
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
}

// NewClient creates client state for the given connection.
func NewClient(conn net.Conn, limiter *rate.Limiter, sendQueueSize int, writeTimeout time.Duration) (*Client, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("splitting host port: %w", err)
	}

	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	client := &Client{
		conn:         conn,
		ip:           host,
		limiter:      limiter,
		sendCh:       make(chan []byte, sendQueueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	client.state.Store(int32(StateConnected))
	return client, nil
}

// Conn returns the underlying network connection.
func (c *Client) Conn() net.Conn {
	return c.conn
}

// IP returns the client's remote IP address.
func (c *Client) IP() string {
	return c.ip
}

// State returns the current connection state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// SetState sets the connection state.
func (c *Client) SetState(s ClientState) {
	c.state.Store(int32(s))
}

// Allow reports whether one more inbound frame fits the flood budget.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Username returns the bound username, empty before login.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// BindIdentity records the authenticated identity on the connection.
func (c *Client) BindIdentity(username string, avatarID int, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.avatarID = avatarID
	c.sessionToken = token
	c.state.Store(int32(StateAuthenticated))
}

// ClearIdentity drops the bound identity, used on logout.
func (c *Client) ClearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = ""
	c.avatarID = 0
	c.sessionToken = ""
	c.lastGame = nil
	c.state.Store(int32(StateConnected))
}

// AvatarID returns the avatar chosen at registration.
func (c *Client) AvatarID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avatarID
}

// SessionToken returns the cache session token issued at login.
func (c *Client) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// SetLastGame records the finished pairing for a later rematch.
func (c *Client) SetLastGame(lg rematchContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGame = &lg
}

// LastGame returns the rematch context; ok is false when no game has
// finished on this connection yet.
func (c *Client) LastGame() (rematchContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastGame == nil {
		return rematchContext{}, false
	}
	return *c.lastGame, true
}

// ClearLastGame drops the rematch context once a new game starts.
func (c *Client) ClearLastGame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGame = nil
}

// writePump is the dedicated writer goroutine for this client. It reads
// encoded frames from sendCh and writes them to conn, batching whatever has
// queued up behind the first frame into one writev call.
func (c *Client) writePump() {
	bufs := make(net.Buffers, 0, 64)

	for {
		select {
		case frame, ok := <-c.sendCh:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", c.ip, "error", err)
				return
			}

			queued := len(c.sendCh)
			if queued == 0 {
				// Single frame, direct write (hot path)
				if _, err := c.conn.Write(frame); err != nil {
					slog.Warn("write failed", "client", c.ip, "error", err)
					return
				}
				if c.drainedForDisconnect() {
					return
				}
				continue
			}

			bufs = bufs[:0]
			bufs = append(bufs, frame)
			for range queued {
				bufs = append(bufs, <-c.sendCh)
			}
			if _, err := bufs.WriteTo(c.conn); err != nil {
				slog.Warn("batch write failed", "client", c.ip, "error", err)
				return
			}
			if c.drainedForDisconnect() {
				return
			}

		case <-c.closeCh:
			return
		}
	}
}

// drainedForDisconnect closes the connection when the client is marked for
// disconnection and no more frames are queued.
func (c *Client) drainedForDisconnect() bool {
	if !c.markedForDisconnection.Load() || len(c.sendCh) > 0 {
		return false
	}
	c.CloseAsync()
	c.conn.Close()
	return true
}

// Send queues an encoded frame for async delivery. Non-blocking: a full
// queue means the peer is not keeping up, and the client is disconnected.
func (c *Client) Send(frame []byte) error {
	select {
	case c.sendCh <- frame:
		return nil
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", c.ip)
		c.CloseAsync()
		return fmt.Errorf("send queue full")
	}
}

// SendMessage encodes kind+payload into a frame and queues it.
func (c *Client) SendMessage(kind protocol.Kind, payload any) error {
	body, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}
	return c.Send(protocol.EncodeFrame(body))
}

// SendSync queues a frame and blocks until accepted or timeout. Used for
// replies that must not be dropped under bursty fan-out.
func (c *Client) SendSync(frame []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.sendCh <- frame:
		return nil
	case <-timer.C:
		return fmt.Errorf("send timeout after %v", timeout)
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// MarkForDisconnection marks the client for graceful disconnection: the
// write pump closes the socket after the queued frames are delivered.
// Callers set the mark before queueing the farewell frame.
func (c *Client) MarkForDisconnection() {
	c.markedForDisconnection.Store(true)
}

// IsMarkedForDisconnection reports whether a graceful close is pending.
func (c *Client) IsMarkedForDisconnection() bool {
	return c.markedForDisconnection.Load()
}

// CloseAsync signals the write pump to stop without blocking.
// Safe to call multiple times.
func (c *Client) CloseAsync() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.closeCh)
	})
}

// Close closes the connection and stops the write pump.
func (c *Client) Close() error {
	c.CloseAsync()
	return c.conn.Close()
}
