// Package node implements C5: the node supervisor and its role state
// machine (spec.md §4.5). It is the Go counterpart of the original
// prototype's node.rs EnvMeshNode, generalized from its unbounded
// recursive retry into the bounded loop spec.md §9's REDESIGN FLAGS
// call for, and closing the §9 open questions on server-side inbound
// consumption and failback-before-switch sync.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"envmesh/internal/check"
	"envmesh/internal/config"
	"envmesh/internal/election"
	"envmesh/internal/meshcore"
	"envmesh/internal/peerid"
	"envmesh/internal/store"
	"envmesh/internal/wire"
	"envmesh/internal/wireclient"
	"envmesh/internal/wireserver"
)

const (
	cloudConnectTimeout = 3 * time.Second
	lanDiscoveryTimeout = 2 * time.Second
	cloudProbeTimeout   = 5 * time.Second

	// maxRoleSelectionAttempts bounds the "lost election, retry" loop
	// that node.rs ran as unbounded recursion (spec.md §9 REDESIGN
	// FLAGS: "never with unbounded recursion").
	maxRoleSelectionAttempts = 10
	roleSelectionRetryDelay  = 1 * time.Second

	// DefaultCheckInterval and DefaultFailureThreshold are the health
	// loop's defaults (spec.md §4.5).
	DefaultCheckInterval    = 30 * time.Second
	DefaultFailureThreshold = 3
)

// Supervisor is the role state machine. All mutable state is guarded
// by mu; methods hold it only for the duration of a single transition
// or send (spec.md §5).
type Supervisor struct {
	cfg    config.NodeConfig
	peerID peerid.PeerId
	st     Store

	dial        Dial
	startServer StartServer
	election    Electioneer

	checkInterval    time.Duration
	failureThreshold int

	mu                 sync.Mutex
	mode               Mode
	client             WireClient
	server             WireServer
	announcement       Announcement
	lastSyncedTs       int64 // watermark for failback sync-before-switch (spec.md §9 decision 2)
	consecutiveFailure int
}

// New constructs a Supervisor over st, ready to run role selection.
// The returned node is in KindSelectingRole until SelectRole succeeds.
func New(cfg config.NodeConfig, st *store.Store) *Supervisor {
	check.Assert(st != nil, "node.New: store must not be nil")
	id := peerid.New()
	slog.Info("initializing envmesh node", "peer_id", id)

	return &Supervisor{
		cfg:              cfg,
		peerID:           id,
		st:               st,
		dial:             dialAdapter,
		startServer:      startServerAdapter,
		election:         electionAdapter{election.New(id)},
		checkInterval:    DefaultCheckInterval,
		failureThreshold: DefaultFailureThreshold,
		mode:             Mode{Kind: KindSelectingRole},
	}
}

func dialAdapter(ctx context.Context, url string, timeout time.Duration) (WireClient, error) {
	return wireclient.Connect(ctx, url, timeout)
}

func startServerAdapter(listenAddr string, port int, applier Applier, source ChangeSource) (WireServer, error) {
	wrappedApplier := wireserverApplier{applier}
	wrappedSource := wireserverChangeSource{source}
	return wireserver.Start(listenAddr, port, wrappedApplier, wrappedSource)
}

// wireserverApplier/wireserverChangeSource adapt node's Applier/
// ChangeSource ports to wireserver's own identically-shaped
// interfaces, so startServerAdapter can hand wireserver.Start
// something it structurally accepts regardless of which package
// declared the interface.
type wireserverApplier struct{ a Applier }

func (w wireserverApplier) ApplyRemote(msg wire.SyncMessage) (bool, error) { return w.a.ApplyRemote(msg) }

type wireserverChangeSource struct{ c ChangeSource }

func (w wireserverChangeSource) ChangesSince(t int64) ([]wire.SyncMessage, error) {
	return w.c.ChangesSince(t)
}

// storeChangeSource adapts Store's ChangesSince (which returns
// []store.Record) to the []wire.SyncMessage shape wireserver expects.
type storeChangeSource struct{ st Store }

func (c storeChangeSource) ChangesSince(t int64) ([]wire.SyncMessage, error) {
	recs, err := c.st.ChangesSince(t)
	if err != nil {
		return nil, err
	}
	out := make([]wire.SyncMessage, len(recs))
	for i, r := range recs {
		out[i] = r.Message()
	}
	return out, nil
}

// PeerID returns this node's stable identifier, used as the Store
// origin for locally-authored writes.
func (n *Supervisor) PeerID() peerid.PeerId { return n.peerID }

// CurrentMode returns the node's present role.
func (n *Supervisor) CurrentMode() Mode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

// ConnectionInfo renders a one-line human-readable summary (spec.md
// §8 scenarios 1/3), matching node.rs's connection_info().
func (n *Supervisor) ConnectionInfo() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.mode.Kind {
	case KindCloudClient:
		return fmt.Sprintf("Connected to cloud: %s", n.cfg.CloudURL)
	case KindLanClient:
		return fmt.Sprintf("Connected to LAN server: %s", n.mode.ServerAddr)
	case KindLanServer:
		active := 0
		if n.server != nil {
			active = n.server.Active()
		}
		return fmt.Sprintf("Running as LAN server on port %d (%d clients)", n.mode.Port, active)
	default:
		return n.mode.Kind.String()
	}
}

// Peers returns (label, address) tuples matching node.rs's
// get_peers() shape (spec.md §12).
func (n *Supervisor) Peers() [][2]string {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.mode.Kind {
	case KindCloudClient:
		return [][2]string{{"cloud", n.cfg.CloudURL}}
	case KindLanClient:
		return [][2]string{{"lan-server", n.mode.ServerAddr}}
	case KindLanServer:
		return [][2]string{{"self", fmt.Sprintf("LAN Server on port %d", n.mode.Port)}}
	default:
		return nil
	}
}

// SendUpdate dispatches msg through whichever transport is currently
// held (spec.md §4.5 send_update).
func (n *Supervisor) SendUpdate(msg wire.SyncMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.client != nil {
		return n.client.Send(msg)
	}
	if n.server != nil {
		return n.server.Broadcast(msg)
	}
	return fmt.Errorf("%w: not connected to any server", meshcore.ErrNoServerAvailable)
}

// ReceiveUpdate returns the next inbound message in a client mode, or
// ok=false in server mode (spec.md §4.5 receive_update: "the server
// does not consume its own fan-in").
func (n *Supervisor) ReceiveUpdate() (msg wire.SyncMessage, ok bool, err error) {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()

	if client == nil {
		return wire.SyncMessage{}, false, nil
	}
	return client.Recv()
}

// Shutdown releases whatever transport and announcement this node
// currently holds.
func (n *Supervisor) Shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.releaseLocked()
}

func (n *Supervisor) releaseLocked() {
	if n.client != nil {
		_ = n.client.Close()
		n.client = nil
	}
	if n.server != nil {
		_ = n.server.Close()
		n.server = nil
	}
	if n.announcement != nil {
		_ = n.announcement.Shutdown()
		n.announcement = nil
	}
}
