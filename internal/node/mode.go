package node

import "fmt"

// Kind names a NodeMode variant (spec.md §4.5): the three durable
// roles plus the two transient states the supervisor passes through
// while switching between them.
type Kind int

const (
	KindSelectingRole Kind = iota
	KindCloudClient
	KindLanClient
	KindLanServer
	KindFailing
)

func (k Kind) String() string {
	switch k {
	case KindSelectingRole:
		return "selecting-role"
	case KindCloudClient:
		return "cloud-client"
	case KindLanClient:
		return "lan-client"
	case KindLanServer:
		return "lan-server"
	case KindFailing:
		return "failing"
	default:
		return "unknown"
	}
}

// Mode is the tagged-union NodeMode of spec.md §3: exactly one of
// ServerAddr (LanClient) or Port (LanServer) is meaningful, selected
// by Kind. A plain struct with a Kind discriminant is the idiomatic
// Go rendering of the original's enum.
type Mode struct {
	Kind       Kind
	ServerAddr string // meaningful iff Kind == KindLanClient
	Port       uint16 // meaningful iff Kind == KindLanServer
}

func (m Mode) String() string {
	switch m.Kind {
	case KindCloudClient:
		return "cloud-client"
	case KindLanClient:
		return fmt.Sprintf("lan-client(%s)", m.ServerAddr)
	case KindLanServer:
		return fmt.Sprintf("lan-server(port=%d)", m.Port)
	default:
		return m.Kind.String()
	}
}
