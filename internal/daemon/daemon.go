// Package daemon wires the Store, node supervisor, and IPC surface
// into the one long-running process spec.md §2 describes, the way
// the teacher's controlplane/manager layer wires its own store and
// network manager behind the api package.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"envmesh/internal/config"
	"envmesh/internal/ipc"
	"envmesh/internal/node"
	"envmesh/internal/store"
	"envmesh/internal/wire"
)

// Daemon owns the Store, the node Supervisor, and the IPC server, and
// implements ipc.Handler directly against them.
type Daemon struct {
	cfg config.NodeConfig
	st  *store.Store
	sup *node.Supervisor

	ipcSrv *ipc.Server

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New opens the Store at dataDir/envmesh.db and constructs a
// Supervisor over it, per spec.md §6's persisted-state layout.
func New(cfg config.NodeConfig, dataDir string) (*Daemon, error) {
	st, err := store.Open(filepath.Join(dataDir, "envmesh.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		st:         st,
		sup:        node.New(cfg, st),
		shutdownCh: make(chan struct{}),
	}
	return d, nil
}

// Run selects a role, starts the health loop, and serves the IPC
// surface until ctx is cancelled or Shutdown is invoked.
func (d *Daemon) Run(ctx context.Context, network, address string) error {
	if err := d.sup.SelectRole(ctx); err != nil {
		return fmt.Errorf("select role: %w", err)
	}
	slog.Info("envmesh node ready", "mode", d.sup.CurrentMode())

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	go d.sup.Run(healthCtx)

	srv, err := ipc.Listen(network, address, d)
	if err != nil {
		return fmt.Errorf("listen ipc: %w", err)
	}
	d.ipcSrv = srv

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		d.sup.Shutdown()
		_ = d.st.Close()
		return nil
	case <-d.shutdownCh:
		_ = srv.Close()
		d.sup.Shutdown()
		_ = d.st.Close()
		return nil
	case err := <-serveErr:
		d.sup.Shutdown()
		_ = d.st.Close()
		return err
	}
}

// Get implements ipc.Handler.
func (d *Daemon) Get(key string) (string, bool, error) {
	rec, found, err := d.st.Get(key)
	if err != nil {
		return "", false, err
	}
	return rec.Value, found, nil
}

// Set implements ipc.Handler. A local write is also published to
// whichever transport the node currently holds, so peers converge on
// it without waiting for the next poll.
func (d *Daemon) Set(key, value string) error {
	rec, err := d.st.Set(key, value, d.peerOrigin())
	if err != nil {
		return err
	}
	return d.publish(rec.Message())
}

// Delete implements ipc.Handler.
func (d *Daemon) Delete(key string) error {
	rec, err := d.st.Delete(key, d.peerOrigin())
	if err != nil {
		return err
	}
	return d.publish(rec.Message())
}

// List implements ipc.Handler.
func (d *Daemon) List() ([]ipc.KV, error) {
	recs, err := d.st.List()
	if err != nil {
		return nil, err
	}
	out := make([]ipc.KV, len(recs))
	for i, r := range recs {
		out[i] = ipc.KV{Key: r.Key, Value: r.Value}
	}
	return out, nil
}

// Peers implements ipc.Handler.
func (d *Daemon) Peers() ([]ipc.Peer, error) {
	raw := d.sup.Peers()
	out := make([]ipc.Peer, len(raw))
	for i, p := range raw {
		out[i] = ipc.Peer{ID: p[0], Address: p[1]}
	}
	return out, nil
}

// Sync implements ipc.Handler: pushes every record in the Store
// (including tombstones) through the current transport.
// Idempotent under last-writer-wins, so it is safe to call repeatedly
// (spec.md §9's trigger_sync, bounded to an explicit operator-invoked
// action rather than an automatic repeated resync).
func (d *Daemon) Sync() error {
	changes, err := d.st.ChangesSince(0)
	if err != nil {
		return err
	}
	for _, rec := range changes {
		if err := d.publish(rec.Message()); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown implements ipc.Handler: asks Run to return.
func (d *Daemon) Shutdown() error {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
	return nil
}

func (d *Daemon) publish(msg wire.SyncMessage) error {
	if err := d.sup.SendUpdate(msg); err != nil {
		slog.Warn("failed to publish local write", "key", msg.Key, "err", err)
		return nil
	}
	return nil
}

func (d *Daemon) peerOrigin() string {
	return d.sup.PeerID().String()
}
