package wireserver

import "envmesh/internal/wire"

// Applier lets the embedded server apply inbound messages to the
// local Store, closing the gap spec.md §9 flags (the server
// previously only broadcast, never learned from its clients).
// Narrow single-method interfaces like this follow the teacher's
// ports.go convention (e.g. internal/daemon/membership/ports.go).
type Applier interface {
	ApplyRemote(msg wire.SyncMessage) (applied bool, err error)
}

// ChangeSource lets a freshly-connected client be caught up with
// everything recorded so far (spec.md §9's "trigger_sync" resolution:
// a one-time ChangesSince(0) at connect, not a repeated full resync).
type ChangeSource interface {
	ChangesSince(t int64) ([]wire.SyncMessage, error)
}
