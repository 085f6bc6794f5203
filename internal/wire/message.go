// Package wire defines the on-the-wire SyncMessage (spec.md §3, §6):
// the entire alphabet exchanged between nodes, serialized as one
// self-delimited JSON text record per message — one WebSocket text
// frame carries exactly one SyncMessage, mirroring the original Rust
// prototype's client.rs/server.rs use of serde_json over
// tokio-tungstenite text frames.
package wire

import (
	"encoding/json"
	"fmt"

	"envmesh/internal/meshcore"
)

// SyncMessage is the entire on-wire alphabet (spec.md §3).
type SyncMessage struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"origin"`
	Deleted   bool   `json:"deleted"`
}

// Marshal serializes a SyncMessage to its single self-delimited JSON
// text record.
func Marshal(msg SyncMessage) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal sync message: %v", meshcore.ErrSerialization, err)
	}
	return b, nil
}

// Unmarshal parses a single self-delimited JSON text record into a
// SyncMessage.
func Unmarshal(data []byte) (SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SyncMessage{}, fmt.Errorf("%w: unmarshal sync message: %v", meshcore.ErrSerialization, err)
	}
	return msg, nil
}

// Less implements the conflict order from spec.md §3: strictly
// greater (timestamp desc, origin desc) wins. Less reports whether m
// is strictly less recent than other — i.e. whether other should
// replace m under last-writer-wins.
func (m SyncMessage) Less(other SyncMessage) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}
	return m.Origin < other.Origin
}
