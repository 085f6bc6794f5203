package node

import "log/slog"

// runReceiveLoop drains inbound SyncMessages in a client role and
// applies each to the Store under the conflict rule (spec.md §2: "a
// received SyncMessage enters C5 from C2 ... is applied to C1"). It is
// started once per successful transition into KindCloudClient or
// KindLanClient (selection.go) and needs no explicit teardown signal:
// it snapshots the current client under lock once, on entry, and reads
// only from that client, so when that specific client is closed by the
// next releaseLocked (on failover, failback, or Shutdown), the
// in-flight Recv unblocks with an error or an orderly ok=false and
// this loop returns — it never reads from a client that replaced the
// one it was bound to.
func (n *Supervisor) runReceiveLoop() {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return
	}
	for {
		msg, ok, err := client.Recv()
		if err != nil {
			slog.Warn("client receive loop ended", "err", err)
			return
		}
		if !ok {
			return
		}
		if _, err := n.st.ApplyRemote(msg); err != nil {
			slog.Warn("failed to apply remote update", "key", msg.Key, "err", err)
		}
	}
}
