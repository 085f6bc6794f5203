package store

import "envmesh/internal/wire"

// Record is a single key's last-writer-wins row (spec.md §3): after
// initialization exactly one Record exists per key, and a tombstone
// (Deleted == true) still occupies that row rather than removing it.
type Record struct {
	Key       string
	Value     string
	Timestamp int64
	Origin    string
	Deleted   bool
}

// Message converts a Record to the wire SyncMessage it would be
// broadcast as.
func (r Record) Message() wire.SyncMessage {
	return wire.SyncMessage{
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
		Origin:    r.Origin,
		Deleted:   r.Deleted,
	}
}

// fromMessage converts an inbound SyncMessage to a Record.
func fromMessage(msg wire.SyncMessage) Record {
	return Record{
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
		Origin:    msg.Origin,
		Deleted:   msg.Deleted,
	}
}

// wins reports whether candidate strictly beats existing under the
// conflict rule in spec.md §3: (timestamp desc, origin desc).
func wins(candidate, existing Record) bool {
	if candidate.Timestamp != existing.Timestamp {
		return candidate.Timestamp > existing.Timestamp
	}
	return candidate.Origin > existing.Origin
}
