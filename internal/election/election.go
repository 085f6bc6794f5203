// Package election implements C4: LAN-server discovery and leader
// election over mDNS (spec.md §4.4). It replaces the original
// prototype's election.rs, whose discover_lan_server,
// should_become_server, announce_candidate, discover_candidates and
// announce_as_server were all TODO stubs returning placeholder
// values — this is the completed implementation, backed by
// github.com/hashicorp/mdns rather than a hand-rolled multicast
// socket.
package election

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"envmesh/internal/peerid"

	"github.com/hashicorp/mdns"
)

// serviceServer is the mDNS service type a running LAN server
// announces itself under; serviceElection is the distinct namespace
// used only during the candidacy window, so a live server and a
// mid-election candidate never shadow one another (spec.md §4.4).
const (
	serviceServer    = "_envmesh._tcp"
	serviceElection  = "_envmesh-election._tcp"
	defaultTimeout   = 3 * time.Second
	defaultLookupWin = 2 * time.Second
)

// ServerInfo describes a discovered LAN server.
type ServerInfo struct {
	PeerID peerid.PeerId
	Addr   string
	Port   uint16
}

// Election runs the discovery and leader-election protocol for a
// single node.
type Election struct {
	myPeerID       peerid.PeerId
	electionWindow time.Duration
	lookupWindow   time.Duration
}

// New returns an Election for id using spec.md §4.4's default
// timings.
func New(id peerid.PeerId) *Election {
	return &Election{myPeerID: id, electionWindow: defaultTimeout, lookupWindow: defaultLookupWin}
}

// DiscoverLANServer queries for an already-announced LAN server and
// returns the first one found, or found=false if none answers within
// the lookup window.
func (e *Election) DiscoverLANServer(ctx context.Context) (info ServerInfo, found bool, err error) {
	slog.Debug("discovering LAN servers via mDNS")

	entries := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(serviceServer)
	params.Timeout = e.lookupWindow
	params.Entries = entries

	done := make(chan error, 1)
	go func() { done <- mdns.Query(params) }()

	select {
	case entry, ok := <-entries:
		if !ok {
			return ServerInfo{}, false, nil
		}
		return serverInfoFromEntry(entry), true, nil
	case err := <-done:
		if err != nil {
			return ServerInfo{}, false, fmt.Errorf("mdns query %s: %w", serviceServer, err)
		}
		return ServerInfo{}, false, nil
	case <-ctx.Done():
		return ServerInfo{}, false, ctx.Err()
	}
}

func serverInfoFromEntry(entry *mdns.ServiceEntry) ServerInfo {
	info := ServerInfo{Addr: entry.AddrV4.String(), Port: uint16(entry.Port)}
	if info.Addr == "" || entry.AddrV4 == nil {
		info.Addr = entry.Addr.String()
	}
	for _, field := range entry.InfoFields {
		if id, ok := strings.CutPrefix(field, "peer_id="); ok {
			info.PeerID = peerid.PeerId(id)
		}
	}
	return info
}

// ShouldBecomeServer runs the full candidacy protocol: announce,
// wait out the election window, collect competing candidates, and
// apply the deterministic highest-PeerId-wins rule (spec.md §4.4). An
// empty candidate set always wins.
func (e *Election) ShouldBecomeServer(ctx context.Context) (bool, error) {
	slog.Info("starting leader election", "peer_id", e.myPeerID)

	candidacy, err := e.announceCandidate()
	if err != nil {
		return false, fmt.Errorf("announce candidacy: %w", err)
	}
	defer candidacy.Shutdown()

	select {
	case <-time.After(e.electionWindow):
	case <-ctx.Done():
		return false, ctx.Err()
	}

	candidates, err := e.discoverCandidates(ctx)
	if err != nil {
		return false, fmt.Errorf("discover candidates: %w", err)
	}

	if len(candidates) == 0 {
		slog.Info("no other candidates, becoming leader")
		return true, nil
	}

	var maxCandidate peerid.PeerId
	for _, c := range candidates {
		if c > maxCandidate {
			maxCandidate = c
		}
	}

	if maxCandidate.Less(e.myPeerID) {
		slog.Info("won election", "my_peer_id", e.myPeerID, "max_competitor", maxCandidate)
		return true, nil
	}
	slog.Info("lost election", "my_peer_id", e.myPeerID, "winner", maxCandidate)
	return false, nil
}

func (e *Election) announceCandidate() (*mdns.Server, error) {
	slog.Debug("announcing candidacy", "peer_id", e.myPeerID)
	return newAnnouncement(serviceElection, string(e.myPeerID), 0, []string{"peer_id=" + string(e.myPeerID)})
}

func (e *Election) discoverCandidates(ctx context.Context) ([]peerid.PeerId, error) {
	slog.Debug("discovering election candidates")

	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(serviceElection)
	params.Timeout = e.lookupWindow
	params.Entries = entries

	var candidates []peerid.PeerId
	queryErr := make(chan error, 1)
	go func() { queryErr <- mdns.Query(params) }()

drain:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break drain
			}
			for _, field := range entry.InfoFields {
				if id, ok := strings.CutPrefix(field, "peer_id="); ok && peerid.PeerId(id) != e.myPeerID {
					candidates = append(candidates, peerid.PeerId(id))
				}
			}
		case err := <-queryErr:
			if err != nil {
				return nil, err
			}
			break drain
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return candidates, nil
}

// AnnounceAsServer advertises this node as the LAN server on port.
// The returned *mdns.Server must be shut down when this node steps
// down from the server role.
func (e *Election) AnnounceAsServer(port uint16) (*mdns.Server, error) {
	slog.Info("announcing as LAN server", "port", port)
	return newAnnouncement(serviceServer, string(e.myPeerID), int(port), []string{"peer_id=" + string(e.myPeerID)})
}

func newAnnouncement(service, instance string, port int, txt []string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "envmesh-node"
	}
	if !strings.HasSuffix(host, ".") {
		host += "."
	}

	svc, err := mdns.NewMDNSService(instance, service, "", host, port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("build mdns service %s: %w", service, err)
	}
	return mdns.NewServer(&mdns.Config{Zone: svc})
}
