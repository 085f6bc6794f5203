// Package wireclient implements C2: a single outbound, persistent,
// framed message stream to an upstream (cloud or LAN server),
// carrying wire.SyncMessage (spec.md §4.2). It is the Go counterpart
// of the original Rust prototype's client.rs WebSocketClient, backed
// by github.com/gorilla/websocket instead of tokio-tungstenite.
package wireclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"envmesh/internal/check"
	"envmesh/internal/meshcore"
	"envmesh/internal/wire"

	"github.com/gorilla/websocket"
)

// DefaultConnectTimeout is the default handshake deadline (spec.md §4.2).
const DefaultConnectTimeout = 3 * time.Second

// State is the connection lifecycle named in spec.md §4.2:
// Connecting -> Connected -> Closed (orderly) | Failed.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client is a single duplex framed stream to one upstream URL. The
// client does not reconnect itself — reconnection is the node
// supervisor's responsibility (spec.md §4.2): a failed client is
// dropped and a new one constructed.
type Client struct {
	url  string
	conn *websocket.Conn

	sendMu sync.Mutex // serializes writes so fan-out to this peer stays FIFO (spec.md §5)
	stateMu sync.Mutex
	state  State
}

// Connect dials url and blocks until the WebSocket handshake
// completes or timeout elapses. A zero timeout uses
// DefaultConnectTimeout.
func Connect(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, fmt.Errorf("%w: connect %s", meshcore.ErrTimeout, url)
		}
		return nil, &meshcore.ConnectError{Addr: url, Reason: err}
	}

	c := &Client{url: url, conn: conn, state: StateConnected}
	slog.Debug("wire client connected", "url", url)
	return c, nil
}

func (c *Client) URL() string { return c.url }

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Send serializes msg and writes it as a single text frame.
func (c *Client) Send(msg wire.SyncMessage) error {
	check.Assert(c.conn != nil, "wireclient.Client.Send: conn must not be nil")

	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.setState(StateFailed)
		return &meshcore.TransportError{Reason: err}
	}
	return nil
}

// Recv blocks for the next inbound message. It returns (msg, false,
// nil) on an orderly close and a non-nil error on any other failure.
// A malformed frame is dropped and the read resumes on the next frame
// rather than being surfaced to the caller (spec.md §7: Serialization
// from the wire drops the message and continues) — so every (msg,
// true, nil) return carries a real message, never a zero value.
func (c *Client) Recv() (msg wire.SyncMessage, ok bool, err error) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setState(StateClosed)
				return wire.SyncMessage{}, false, nil
			}
			c.setState(StateFailed)
			return wire.SyncMessage{}, false, &meshcore.TransportError{Reason: err}
		}

		msg, err = wire.Unmarshal(payload)
		if err != nil {
			slog.Warn("wire client dropped malformed message", "url", c.url, "err", err)
			continue
		}
		return msg, true, nil
	}
}

// Ping sends a liveness probe sharing the connection's own
// keep-alive machinery (spec.md §4.2), matching the original
// prototype's WebSocketClient::ping.
func (c *Client) Ping() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		c.setState(StateFailed)
		return &meshcore.TransportError{Reason: err}
	}
	return nil
}

// Close closes the underlying connection and marks the client Closed.
// No WebSocket close frame is sent to the peer.
func (c *Client) Close() error {
	c.setState(StateClosed)
	return c.conn.Close()
}
