package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"envmesh/internal/config"
	"envmesh/internal/meshcore"
)

// SelectRole runs the role-selection algorithm of spec.md §4.5: try
// the cloud, else discover or elect a LAN server, else become one.
// It is called on startup and again on every failover/failback
// trigger. Any previously held client/server/announcement is released
// first, so at most one of {client, server} is ever non-nil.
func (n *Supervisor) SelectRole(ctx context.Context) error {
	for attempt := 1; attempt <= maxRoleSelectionAttempts; attempt++ {
		done, err := n.selectRoleOnce(ctx)
		if done {
			return err
		}
		if err != nil {
			return err
		}
		slog.Info("lost election, retrying role selection", "attempt", attempt)
		select {
		case <-time.After(roleSelectionRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: exhausted %d role selection attempts", meshcore.ErrNoServerAvailable, maxRoleSelectionAttempts)
}

// selectRoleOnce runs one pass. done=true means a terminal outcome
// was reached (success or a non-retryable failure, carried in err);
// done=false means "lost the election, caller should retry."
func (n *Supervisor) selectRoleOnce(ctx context.Context) (done bool, err error) {
	n.mu.Lock()
	n.mode = Mode{Kind: KindSelectingRole}
	n.releaseLocked()
	n.mu.Unlock()

	if n.cfg.EnableCloud {
		slog.Info("attempting to connect to cloud server")
		dialCtx, cancel := context.WithTimeout(ctx, cloudConnectTimeout)
		client, dialErr := n.dial(dialCtx, n.cfg.CloudURL, cloudConnectTimeout)
		cancel()
		if dialErr == nil {
			slog.Info("connected to cloud server")
			n.mu.Lock()
			n.mode = Mode{Kind: KindCloudClient}
			n.client = client
			n.mu.Unlock()
			go n.runReceiveLoop()
			return true, nil
		}
		slog.Warn("cloud server connection failed", "err", dialErr)
	}

	if !n.cfg.EnableLAN {
		n.enterFailing()
		return true, fmt.Errorf("%w and LAN mode is disabled", meshcore.ErrNoServerAvailable)
	}

	slog.Info("searching for LAN server")
	discoverCtx, cancel := context.WithTimeout(ctx, lanDiscoveryTimeout)
	info, found, discErr := n.election.DiscoverLANServer(discoverCtx)
	cancel()
	if discErr != nil {
		slog.Warn("LAN server discovery error", "err", discErr)
	}
	if found {
		lanURL := fmt.Sprintf("ws://%s:%d", info.Addr, info.Port)
		slog.Info("found LAN server", "url", lanURL)
		client, dialErr := n.dial(ctx, lanURL, cloudConnectTimeout)
		if dialErr == nil {
			slog.Info("connected to LAN server")
			n.mu.Lock()
			n.mode = Mode{Kind: KindLanClient, ServerAddr: lanURL}
			n.client = client
			n.mu.Unlock()
			go n.runReceiveLoop()
			return true, nil
		}
		slog.Warn("failed to connect to LAN server", "err", dialErr)
	} else {
		slog.Info("no LAN server found")
	}

	if n.cfg.ServerMode == config.ServerModeClientOnly {
		n.enterFailing()
		return true, fmt.Errorf("%w and server_mode is client-only", meshcore.ErrNoServerAvailable)
	}

	slog.Info("no server available, running election")

	shouldServe := n.cfg.ServerMode == config.ServerModeServerPreferred
	if shouldServe {
		slog.Info("server-preferred mode: becoming server immediately")
	} else {
		shouldServe, err = n.election.ShouldBecomeServer(ctx)
		if err != nil {
			n.enterFailing()
			return true, &meshcore.ElectionError{Reason: err}
		}
	}

	if !shouldServe {
		slog.Info("lost election, another node is the server")
		return false, nil
	}

	slog.Info("elected as LAN server")
	srv, startErr := n.startServer(n.cfg.ListenAddr, int(n.cfg.LANPort), n.st, storeChangeSource{n.st})
	if startErr != nil {
		n.enterFailing()
		return true, &meshcore.ElectionError{Reason: startErr}
	}
	port := srv.Port()

	announcement, announceErr := n.election.AnnounceAsServer(port)
	if announceErr != nil {
		_ = srv.Close()
		n.enterFailing()
		return true, &meshcore.ElectionError{Reason: announceErr}
	}

	n.mu.Lock()
	n.mode = Mode{Kind: KindLanServer, Port: port}
	n.server = srv
	n.announcement = announcement
	n.mu.Unlock()

	slog.Info("now running as LAN server", "listen_addr", n.cfg.ListenAddr, "port", port)
	return true, nil
}

func (n *Supervisor) enterFailing() {
	n.mu.Lock()
	n.mode = Mode{Kind: KindFailing}
	n.mu.Unlock()
}
