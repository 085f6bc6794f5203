package node

import (
	"context"
	"time"

	"envmesh/internal/election"
	"envmesh/internal/store"
	"envmesh/internal/wire"
)

// WireClient is the subset of *wireclient.Client the supervisor
// drives. A narrow interface here (rather than depending on the
// concrete type) is what lets the package's tests swap in a fake
// without dialing a real socket.
type WireClient interface {
	Send(msg wire.SyncMessage) error
	Recv() (wire.SyncMessage, bool, error)
	Ping() error
	Close() error
	URL() string
}

// WireServer is the subset of *wireserver.Server the supervisor
// drives.
type WireServer interface {
	Broadcast(msg wire.SyncMessage) error
	Active() int
	Port() uint16
	Close() error
}

// Announcement is a live mDNS advertisement (*mdns.Server satisfies
// this); it is torn down when the node steps down from a role.
type Announcement interface {
	Shutdown() error
}

// Electioneer is the subset of *election.Election the supervisor
// drives.
type Electioneer interface {
	DiscoverLANServer(ctx context.Context) (election.ServerInfo, bool, error)
	ShouldBecomeServer(ctx context.Context) (bool, error)
	AnnounceAsServer(port uint16) (Announcement, error)
}

type electionAdapter struct{ e *election.Election }

func (a electionAdapter) DiscoverLANServer(ctx context.Context) (election.ServerInfo, bool, error) {
	return a.e.DiscoverLANServer(ctx)
}

func (a electionAdapter) ShouldBecomeServer(ctx context.Context) (bool, error) {
	return a.e.ShouldBecomeServer(ctx)
}

func (a electionAdapter) AnnounceAsServer(port uint16) (Announcement, error) {
	return a.e.AnnounceAsServer(port)
}

// Store is the subset of *store.Store the supervisor drives directly:
// ChangesSince for failback's pending-change push, ApplyRemote for
// the client-side receive loop (in addition to wiring the same value
// as the embedded server's Applier).
type Store interface {
	ApplyRemote(msg wire.SyncMessage) (applied bool, err error)
	ChangesSince(t int64) ([]store.Record, error)
}

// Dial opens a WireClient to url. Its production value is
// dialAdapter, which calls wireclient.Connect; tests substitute a fake.
type Dial func(ctx context.Context, url string, timeout time.Duration) (WireClient, error)

// StartServer binds an embedded WireServer. Its production value is
// wireserver.Start; tests substitute a fake.
type StartServer func(listenAddr string, port int, applier Applier, source ChangeSource) (WireServer, error)

// Applier and ChangeSource mirror wireserver's own port interfaces so
// this package does not need to import wireserver just to name them.
type Applier interface {
	ApplyRemote(msg wire.SyncMessage) (applied bool, err error)
}

type ChangeSource interface {
	ChangesSince(t int64) ([]wire.SyncMessage, error)
}
