package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// NodeInfo is one directory entry built from received advertisements
type NodeInfo struct {
	Identity        PeerIdentity `json:"identity"`
	AdvertTimestamp uint32       `json:"advert_timestamp"`
	LastSeen        time.Time    `json:"last_seen"`
	LastRSSI        float32      `json:"last_rssi"`
	LastSNR         float32      `json:"last_snr"`
}

// Directory tracks the nodes heard on the mesh, keyed by public key.
// Hop IDs are a single byte and may collide; lookups by hop prefer the
// most recently heard match.
type Directory struct {
	mu    sync.RWMutex
	nodes map[protocol.PublicKey]*NodeInfo
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		nodes: make(map[protocol.PublicKey]*NodeInfo),
	}
}

// Update records an advertisement. Stale adverts (timestamp at or below
// the stored one) only refresh signal data. Returns true when the node
// was not known before.
func (d *Directory) Update(identity PeerIdentity, advertTimestamp uint32, rssi, snr float32, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, ok := d.nodes[identity.PublicKey]
	if !ok {
		d.nodes[identity.PublicKey] = &NodeInfo{
			Identity:        identity,
			AdvertTimestamp: advertTimestamp,
			LastSeen:        now,
			LastRSSI:        rssi,
			LastSNR:         snr,
		}
		return true
	}

	info.LastSeen = now
	info.LastRSSI = rssi
	info.LastSNR = snr
	if advertTimestamp > info.AdvertTimestamp {
		info.AdvertTimestamp = advertTimestamp
		info.Identity.Name = identity.Name
	}

	return false
}

// ResolveHop maps a hop ID to a peer identity. With colliding hop IDs
// the most recently heard node wins.
func (d *Directory) ResolveHop(hop byte) (PeerIdentity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *NodeInfo
	for _, info := range d.nodes {
		if info.Identity.HopID() != hop {
			continue
		}
		if best == nil || info.LastSeen.After(best.LastSeen) {
			best = info
		}
	}

	if best == nil {
		return PeerIdentity{}, false
	}
	return best.Identity, true
}

// Lookup returns the entry for a public key
func (d *Directory) Lookup(key protocol.PublicKey) (NodeInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info, ok := d.nodes[key]
	if !ok {
		return NodeInfo{}, false
	}
	return *info, true
}

// Nodes returns a snapshot sorted by most recently seen
func (d *Directory) Nodes() []NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]NodeInfo, 0, len(d.nodes))
	for _, info := range d.nodes {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Len returns the number of known nodes
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}
