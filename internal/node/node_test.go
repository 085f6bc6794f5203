package node

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"envmesh/internal/config"
	"envmesh/internal/election"
	"envmesh/internal/store"
	"envmesh/internal/wire"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "node-test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClient is a WireClient test double whose Send/Close are
// observable without a real socket. recvCh, when set, feeds Recv:
// each value read is delivered as (msg, true, nil); the channel being
// closed delivers (zero, false, nil), the orderly-close shape a real
// wireclient.Client.Recv returns. Left nil, Recv behaves as if the
// peer never sends anything.
type fakeClient struct {
	url    string
	sent   []wire.SyncMessage
	closed bool
	recvCh chan wire.SyncMessage
}

func (f *fakeClient) Send(msg wire.SyncMessage) error { f.sent = append(f.sent, msg); return nil }

func (f *fakeClient) Recv() (wire.SyncMessage, bool, error) {
	if f.recvCh == nil {
		return wire.SyncMessage{}, false, nil
	}
	msg, ok := <-f.recvCh
	return msg, ok, nil
}

func (f *fakeClient) Ping() error  { return nil }
func (f *fakeClient) Close() error { f.closed = true; return nil }
func (f *fakeClient) URL() string  { return f.url }

// fakeServer is a WireServer test double.
type fakeServer struct {
	port     uint16
	closed   bool
	active   int
	messages []wire.SyncMessage
}

func (f *fakeServer) Broadcast(msg wire.SyncMessage) error { f.messages = append(f.messages, msg); return nil }
func (f *fakeServer) Active() int                          { return f.active }
func (f *fakeServer) Port() uint16                          { return f.port }
func (f *fakeServer) Close() error                          { f.closed = true; return nil }

type fakeAnnouncement struct{ shutdown bool }

func (a *fakeAnnouncement) Shutdown() error { a.shutdown = true; return nil }

// fakeElection drives the election outcomes a test wants without
// touching mDNS.
type fakeElection struct {
	discoverInfo  election.ServerInfo
	discoverFound bool
	discoverErr   error
	shouldServe   bool
	shouldErr     error
	announcement  *fakeAnnouncement
	announceErr   error
}

func (f *fakeElection) DiscoverLANServer(ctx context.Context) (election.ServerInfo, bool, error) {
	return f.discoverInfo, f.discoverFound, f.discoverErr
}

func (f *fakeElection) ShouldBecomeServer(ctx context.Context) (bool, error) {
	return f.shouldServe, f.shouldErr
}

func (f *fakeElection) AnnounceAsServer(port uint16) (Announcement, error) {
	if f.announceErr != nil {
		return nil, f.announceErr
	}
	if f.announcement == nil {
		f.announcement = &fakeAnnouncement{}
	}
	return f.announcement, nil
}

var errUnreachable = errors.New("connection refused")

func alwaysFailDial(ctx context.Context, url string, timeout time.Duration) (WireClient, error) {
	return nil, errUnreachable
}

func newTestSupervisor(t *testing.T, cfg config.NodeConfig) *Supervisor {
	t.Helper()
	n, _ := newTestSupervisorWithStore(t, cfg)
	return n
}

func newTestSupervisorWithStore(t *testing.T, cfg config.NodeConfig) (*Supervisor, *store.Store) {
	t.Helper()
	st := testStore(t)
	n := New(cfg, st)
	n.checkInterval = 10 * time.Millisecond
	return n, st
}

// Scenario 1: solo node, Auto, cloud unreachable, no LAN peers -> LanServer.
func TestSelectRoleSoloNodeBecomesLanServer(t *testing.T) {
	n := newTestSupervisor(t, config.NodeConfig{
		CloudURL: "ws://cloud.invalid", EnableCloud: true, EnableLAN: true,
		ServerMode: config.ServerModeAuto, LANPort: 8765, ListenAddr: "127.0.0.1",
	})
	n.dial = alwaysFailDial
	srv := &fakeServer{port: 8765}
	n.startServer = func(addr string, port int, a Applier, c ChangeSource) (WireServer, error) { return srv, nil }
	n.election = &fakeElection{shouldServe: true}

	if err := n.SelectRole(context.Background()); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}

	mode := n.CurrentMode()
	if mode.Kind != KindLanServer || mode.Port != 8765 {
		t.Fatalf("expected LanServer{8765}, got %+v", mode)
	}
	if got := n.Peers(); len(got) != 1 || got[0] != [2]string{"self", "LAN Server on port 8765"} {
		t.Errorf("Peers() = %+v", got)
	}
}

// Scenario 3: cloud up at startup -> CloudClient, no server started.
func TestSelectRoleCloudReachableBecomesCloudClient(t *testing.T) {
	n := newTestSupervisor(t, config.NodeConfig{
		CloudURL: "ws://cloud.example", EnableCloud: true, EnableLAN: true,
		ServerMode: config.ServerModeAuto, LANPort: 8765, ListenAddr: "127.0.0.1",
	})
	n.dial = func(ctx context.Context, url string, timeout time.Duration) (WireClient, error) {
		return &fakeClient{url: url}, nil
	}
	n.startServer = func(addr string, port int, a Applier, c ChangeSource) (WireServer, error) {
		t.Fatal("server should not start when cloud is reachable")
		return nil, nil
	}

	if err := n.SelectRole(context.Background()); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}

	if mode := n.CurrentMode(); mode.Kind != KindCloudClient {
		t.Fatalf("expected CloudClient, got %+v", mode)
	}
	if got := n.Peers(); len(got) != 1 || got[0] != [2]string{"cloud", "ws://cloud.example"} {
		t.Errorf("Peers() = %+v", got)
	}
}

// Scenario 4: failover after failure_threshold consecutive cloud
// probe failures.
func TestHealthTickFailsOverAfterThreshold(t *testing.T) {
	n := newTestSupervisor(t, config.NodeConfig{
		CloudURL: "ws://cloud.invalid", EnableCloud: true, EnableLAN: true,
		ServerMode: config.ServerModeServerPreferred, LANPort: 8765, ListenAddr: "127.0.0.1",
	})
	n.dial = alwaysFailDial
	srv := &fakeServer{port: 8765}
	started := 0
	n.startServer = func(addr string, port int, a Applier, c ChangeSource) (WireServer, error) {
		started++
		return srv, nil
	}
	n.election = &fakeElection{}
	n.mode = Mode{Kind: KindCloudClient}
	n.client = &fakeClient{url: n.cfg.CloudURL}
	n.failureThreshold = 3

	ctx := context.Background()
	n.checkCloudClient(ctx) // 1
	n.checkCloudClient(ctx) // 2
	if mode := n.CurrentMode(); mode.Kind != KindCloudClient {
		t.Fatalf("should not fail over before threshold, got %+v", mode)
	}
	n.checkCloudClient(ctx) // 3: trips failover

	if mode := n.CurrentMode(); mode.Kind != KindLanServer {
		t.Fatalf("expected failover to LanServer, got %+v", mode)
	}
	if started != 1 {
		t.Errorf("expected exactly one embedded server start, got %d", started)
	}
}

// Scenario 5: failback from LanServer once the cloud is reachable
// again, pushing pending changes first.
func TestFailbackPushesPendingChangesThenSwitches(t *testing.T) {
	n, st := newTestSupervisorWithStore(t, config.NodeConfig{
		CloudURL: "ws://cloud.example", EnableCloud: true, EnableLAN: true,
		ServerMode: config.ServerModeAuto, LANPort: 8765, ListenAddr: "127.0.0.1",
	})
	if _, err := st.Set("FOO", "bar", string(n.peerID)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var dialed []*fakeClient
	n.dial = func(ctx context.Context, url string, timeout time.Duration) (WireClient, error) {
		c := &fakeClient{url: url}
		dialed = append(dialed, c)
		return c, nil
	}
	srv := &fakeServer{port: 8765}
	n.mode = Mode{Kind: KindLanServer, Port: 8765}
	n.server = srv
	n.announcement = &fakeAnnouncement{}

	if err := n.failback(context.Background()); err != nil {
		t.Fatalf("failback: %v", err)
	}

	if mode := n.CurrentMode(); mode.Kind != KindCloudClient {
		t.Fatalf("expected CloudClient after failback, got %+v", mode)
	}
	if !srv.closed {
		t.Error("expected embedded server to be closed on failback")
	}
	if len(dialed) == 0 || len(dialed[0].sent) != 1 || dialed[0].sent[0].Key != "FOO" {
		t.Errorf("expected pending change FOO to be pushed on the first dial, dialed=%+v", dialed)
	}
}

// The client-side counterpart of wireserver's inbound-apply path
// (spec.md §2): once SelectRole lands in a client role, a message
// arriving over that connection must reach the Store.
func TestClientReceiveLoopAppliesInboundMessages(t *testing.T) {
	n, st := newTestSupervisorWithStore(t, config.NodeConfig{
		CloudURL: "ws://cloud.example", EnableCloud: true, EnableLAN: true,
		ServerMode: config.ServerModeAuto, LANPort: 8765, ListenAddr: "127.0.0.1",
	})

	recvCh := make(chan wire.SyncMessage, 1)
	recvCh <- wire.SyncMessage{Key: "REMOTE", Value: "v1", Timestamp: 99, Origin: "peer-x"}
	close(recvCh)

	n.dial = func(ctx context.Context, url string, timeout time.Duration) (WireClient, error) {
		return &fakeClient{url: url, recvCh: recvCh}, nil
	}

	if err := n.SelectRole(context.Background()); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, found, err := st.Get("REMOTE"); err != nil {
			t.Fatalf("Get: %v", err)
		} else if found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected inbound message to be applied to the store via the receive loop")
}
