package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// NodeInfoResponse describes the local node
type NodeInfoResponse struct {
	Success   bool               `json:"success"`
	Name      string             `json:"name"`
	PublicKey protocol.PublicKey `json:"publicKey"`
	HopID     uint8              `json:"hopId"`
	Peers     int                `json:"peers"`
	StartedAt time.Time          `json:"startedAt"`
}

// PeerInfo describes one node heard on the mesh
type PeerInfo struct {
	PublicKey       protocol.PublicKey `json:"publicKey"`
	Name            string             `json:"name"`
	HopID           uint8              `json:"hopId"`
	LastSeen        time.Time          `json:"lastSeen"`
	AdvertTimestamp uint32             `json:"advertTimestamp"`
	LastRSSI        float32            `json:"lastRssi"`
	LastSNR         float32            `json:"lastSnr"`
}

// PeersResponse lists the directory contents
type PeersResponse struct {
	Success bool       `json:"success"`
	Count   int        `json:"count"`
	Peers   []PeerInfo `json:"peers"`
}

// HealthResponse reports liveness
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	ident := s.transport.LocalIdentity()

	c.JSON(http.StatusOK, NodeInfoResponse{
		Success:   true,
		Name:      ident.Name,
		PublicKey: ident.PublicKey,
		HopID:     ident.HopID(),
		Peers:     s.dir.Len(),
		StartedAt: s.started,
	})
}

// handlePeers handles GET /api/v1/node/peers
func (s *Server) handlePeers(c *gin.Context) {
	nodes := s.dir.Nodes()

	peers := make([]PeerInfo, len(nodes))
	for i, n := range nodes {
		peers[i] = PeerInfo{
			PublicKey:       n.Identity.PublicKey,
			Name:            n.Identity.Name,
			HopID:           n.Identity.HopID(),
			LastSeen:        n.LastSeen,
			AdvertTimestamp: n.AdvertTimestamp,
			LastRSSI:        n.LastRSSI,
			LastSNR:         n.LastSNR,
		}
	}

	c.JSON(http.StatusOK, PeersResponse{
		Success: true,
		Count:   len(peers),
		Peers:   peers,
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Success: true,
		Status:  "healthy",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	})
}
