// Package peerid generates the opaque, stable-for-process-lifetime
// identifier used both as a Record's origin and as an election
// ballot (spec.md §3, §4.4). The original Rust prototype generates
// this with the uuid crate's v4 generator (see
// original_source/src-tauri/src/election.rs, generate_peer_id);
// github.com/google/uuid is the direct Go counterpart and is already
// part of the teacher's dependency graph.
package peerid

import "github.com/google/uuid"

// PeerId is a 128-bit identifier rendered as its canonical
// hyphenated hex string. Comparison for election (spec.md §4.4) is
// plain lexicographic string ordering, which is stable because the
// canonical uuid string encoding preserves a total order consistent
// with byte order.
type PeerId string

// New generates a fresh, effectively-unique PeerId.
func New() PeerId {
	return PeerId(uuid.NewString())
}

// String implements fmt.Stringer.
func (p PeerId) String() string { return string(p) }

// Less reports whether p sorts before other under the lexicographic
// order spec.md §4.4 uses to break election ties.
func (p PeerId) Less(other PeerId) bool { return p < other }
