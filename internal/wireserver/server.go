// Package wireserver implements C3: the embedded server that accepts
// many inbound wire connections when this node holds the LAN-server
// role, and fans broadcasts out to them (spec.md §4.3). The Go
// counterpart of the original prototype's server.rs EmbeddedServer,
// built on github.com/gorilla/websocket the way server.rs is built on
// tokio-tungstenite.
package wireserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"envmesh/internal/check"
	"envmesh/internal/meshcore"
	"envmesh/internal/wire"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type conn struct {
	id     uint64
	ws     *websocket.Conn
	sendMu sync.Mutex
}

func (c *conn) send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Server is a listener on lan_port (spec.md §4.3). Close
// deterministically closes the listener and all active connections.
type Server struct {
	listener net.Listener
	http     *http.Server
	port     uint16

	applier Applier
	source  ChangeSource

	mu     sync.Mutex
	conns  map[uint64]*conn
	nextID uint64
	closed bool
}

// Start binds addr:port (port 0 picks any free port) and spawns the
// acceptor. applier receives inbound messages to fold into the local
// Store (spec.md §9 resolution 1); source supplies the one-time
// catch-up sync for each newly connected client (spec.md §9
// resolution 3).
func Start(listenAddr string, port int, applier Applier, source ChangeSource) (*Server, error) {
	check.Assert(applier != nil, "wireserver.Start: applier must not be nil")
	check.Assert(source != nil, "wireserver.Start: source must not be nil")

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", listenAddr, port))
	if err != nil {
		return nil, &meshcore.ConnectError{Addr: listenAddr, Reason: err}
	}
	actualPort := uint16(ln.Addr().(*net.TCPAddr).Port)

	s := &Server{
		listener: ln,
		port:     actualPort,
		applier:  applier,
		source:   source,
		conns:    make(map[uint64]*conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("wire server accept loop ended", "err", err)
		}
	}()

	slog.Info("lan server listening", "addr", listenAddr, "port", actualPort)
	return s, nil
}

// Port returns the actual bound port.
func (s *Server) Port() uint16 { return s.port }

// Active returns the count of live connections.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("wire server handshake failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	// IDs start at 1: Broadcast passes 0 to broadcastExcept to exclude
	// no connection.
	s.nextID++
	id := s.nextID
	c := &conn{id: id, ws: ws}
	s.conns[id] = c
	s.mu.Unlock()

	slog.Info("wire server client connected", "remote", r.RemoteAddr, "conn_id", id)
	s.catchUp(c)
	go s.readLoop(c)
}

// catchUp pushes everything recorded so far to a newly registered
// connection, once, per spec.md §9 resolution 3.
func (s *Server) catchUp(c *conn) {
	changes, err := s.source.ChangesSince(0)
	if err != nil {
		slog.Warn("wire server catch-up failed", "conn_id", c.id, "err", err)
		return
	}
	for _, msg := range changes {
		payload, err := wire.Marshal(msg)
		if err != nil {
			continue
		}
		if err := c.send(payload); err != nil {
			s.evict(c.id)
			return
		}
	}
}

// readLoop applies each inbound message and re-broadcasts it to every
// other connected client (spec.md §9 resolution 1).
func (s *Server) readLoop(c *conn) {
	defer s.evict(c.id)
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Unmarshal(payload)
		if err != nil {
			slog.Warn("wire server dropped malformed message", "conn_id", c.id, "err", err)
			continue
		}
		if _, err := s.applier.ApplyRemote(msg); err != nil {
			slog.Warn("wire server failed to apply inbound message", "conn_id", c.id, "err", err)
			continue
		}
		s.broadcastExcept(msg, c.id)
	}
}

// Broadcast sends msg once to every currently connected client. A
// send failure removes that client; there is no retry and no
// ordering guarantee between different clients, though delivery to a
// single client is FIFO (spec.md §4.3).
func (s *Server) Broadcast(msg wire.SyncMessage) error {
	return s.broadcastExcept(msg, 0)
}

func (s *Server) broadcastExcept(msg wire.SyncMessage, exceptID uint64) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	targets := make([]*conn, 0, len(s.conns))
	for id, c := range s.conns {
		if id == exceptID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	var failed []uint64
	for _, c := range targets {
		if err := c.send(payload); err != nil {
			failed = append(failed, c.id)
		}
	}
	for _, id := range failed {
		s.evict(id)
	}
	return nil
}

func (s *Server) evict(id uint64) {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if ok {
		_ = c.ws.Close()
		slog.Debug("wire server client evicted", "conn_id", id)
	}
}

// Close deterministically closes the listener and all active
// connections.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.http.Shutdown(ctx)
	slog.Info("embedded server shutting down", "port", s.port)
	return nil
}
