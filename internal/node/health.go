package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Run is the long-running health/failover/failback loop (spec.md
// §4.5). It ticks at n.checkInterval until ctx is cancelled — the
// "observe a shutdown channel and exit" requirement of §5, rendered
// as ctx.Done() the way the teacher's convergence loops do.
func (n *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(n.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.healthTick(ctx)
		}
	}
}

func (n *Supervisor) healthTick(ctx context.Context) {
	switch n.CurrentMode().Kind {
	case KindCloudClient:
		n.checkCloudClient(ctx)
	case KindLanClient, KindLanServer:
		n.checkLanMode(ctx)
	}
}

func (n *Supervisor) checkCloudClient(ctx context.Context) {
	if n.probeCloud(ctx) {
		n.mu.Lock()
		n.consecutiveFailure = 0
		n.mu.Unlock()
		return
	}

	n.mu.Lock()
	n.consecutiveFailure++
	count := n.consecutiveFailure
	n.mu.Unlock()
	slog.Warn("cloud server health check failed", "count", count, "threshold", n.failureThreshold)

	if count >= n.failureThreshold {
		slog.Error("cloud server down, initiating failover")
		if err := n.SelectRole(ctx); err != nil {
			slog.Error("failover failed", "err", err)
		}
		n.mu.Lock()
		n.consecutiveFailure = 0
		n.mu.Unlock()
	}
}

func (n *Supervisor) checkLanMode(ctx context.Context) {
	if !n.cfg.EnableCloud || !n.probeCloud(ctx) {
		return
	}
	slog.Info("cloud server restored, initiating failback")
	if err := n.failback(ctx); err != nil {
		slog.Error("failback failed", "err", err)
	}
}

// probeCloud attempts a bounded connect-then-close-immediately probe
// of the cloud URL (spec.md §4.5).
func (n *Supervisor) probeCloud(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, cloudProbeTimeout)
	defer cancel()

	client, err := n.dial(probeCtx, n.cfg.CloudURL, cloudProbeTimeout)
	if err != nil {
		slog.Debug("cloud server unreachable", "err", err)
		return false
	}
	_ = client.Close()
	slog.Debug("cloud server is healthy")
	return true
}

// failback pushes any locally-originated changes upstream before
// completing the transition back to CloudClient (spec.md §9 decision
// 2): lastSyncedTs starts at 0 and advances to the latest pushed
// record's timestamp, so repeated failbacks only push what changed
// since the last one.
func (n *Supervisor) failback(ctx context.Context) error {
	n.mu.Lock()
	mode := n.mode
	watermark := n.lastSyncedTs
	n.mu.Unlock()

	if mode.Kind == KindLanServer {
		slog.Info("syncing local state to cloud before failback")
		if err := n.pushPendingChanges(ctx, watermark); err != nil {
			return err
		}
	}

	if err := n.SelectRole(ctx); err != nil {
		return err
	}
	slog.Info("failback to cloud completed")
	return nil
}

func (n *Supervisor) pushPendingChanges(ctx context.Context, watermark int64) error {
	changes, err := n.st.ChangesSince(watermark)
	if err != nil {
		return fmt.Errorf("load pending changes: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}

	pushClient, err := n.dial(ctx, n.cfg.CloudURL, cloudConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect to push pending changes: %w", err)
	}
	defer pushClient.Close()

	newWatermark := watermark
	for _, rec := range changes {
		if err := pushClient.Send(rec.Message()); err != nil {
			return fmt.Errorf("push pending change %q: %w", rec.Key, err)
		}
		if rec.Timestamp > newWatermark {
			newWatermark = rec.Timestamp
		}
	}

	n.mu.Lock()
	n.lastSyncedTs = newWatermark
	n.mu.Unlock()
	return nil
}
