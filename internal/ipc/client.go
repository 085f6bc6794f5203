package ipc

import (
	"bufio"
	"fmt"
	"net"

	"envmesh/internal/meshcore"
)

// Client is a single connection to the IPC server, used by
// cmd/envmeshctl. One request per call; the connection is reused
// across calls (spec.md §6: "connections are long-lived").
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon's IPC surface at network/address.
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, &meshcore.ConnectError{Addr: address, Reason: err}
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *Client) roundTrip(req Request) (Response, error) {
	payload, err := encode(req)
	if err != nil {
		return Response{}, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return Response{}, &meshcore.TransportError{Reason: err}
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, &meshcore.TransportError{Reason: err}
	}
	return decodeResponse(line)
}

// Get returns the current value for key.
func (c *Client) Get(key string) (value string, found bool, err error) {
	resp, err := c.roundTrip(Request{Type: ReqGet, Key: key})
	if err != nil {
		return "", false, err
	}
	if resp.Type == RespError {
		return "", false, fmt.Errorf("%s", resp.Message)
	}
	return resp.Value, resp.Found, nil
}

// Set stores key=value.
func (c *Client) Set(key, value string) error {
	return c.expectOK(Request{Type: ReqSet, Key: key, Value: value})
}

// Delete tombstones key.
func (c *Client) Delete(key string) error {
	return c.expectOK(Request{Type: ReqDelete, Key: key})
}

// List returns every non-tombstoned key/value pair.
func (c *Client) List() ([]KV, error) {
	resp, err := c.roundTrip(Request{Type: ReqList})
	if err != nil {
		return nil, err
	}
	if resp.Type == RespError {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Items, nil
}

// Peers returns (id, address) tuples for the node's current peers.
func (c *Client) Peers() ([]Peer, error) {
	resp, err := c.roundTrip(Request{Type: ReqPeers})
	if err != nil {
		return nil, err
	}
	if resp.Type == RespError {
		return nil, fmt.Errorf("%s", resp.Message)
	}
	return resp.Peers, nil
}

// Sync requests an explicit resync of all locally-held state.
func (c *Client) Sync() error {
	return c.expectOK(Request{Type: ReqSync})
}

// Shutdown asks the daemon to terminate.
func (c *Client) Shutdown() error {
	return c.expectOK(Request{Type: ReqShutdown})
}

func (c *Client) expectOK(req Request) error {
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if resp.Type == RespError {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }
