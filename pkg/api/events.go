package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/dm"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

// Event types carried on the /events stream
const (
	EventMessage = "message"
	EventStatus  = "status"
)

// Event is one entry on the websocket stream: a newly stored message
// or a delivery state change.
type Event struct {
	Type    string             `json:"type"`
	Peer    protocol.PublicKey `json:"peer"`
	Message dm.Message         `json:"message"`
}

// eventClientBuffer is how many events a slow stream client may lag
// before events are dropped for it.
const eventClientBuffer = 32

type eventHub struct {
	log     *zap.Logger
	mu      sync.Mutex
	clients map[*eventClient]bool
}

type eventClient struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() {
		close(c.out)
		c.conn.Close()
	})
}

func newEventHub(log *zap.Logger) *eventHub {
	return &eventHub{
		log:     log,
		clients: make(map[*eventClient]bool),
	}
}

// publish fans an event out to every stream client. Engine callbacks
// land here while the engine lock is held, so sends never block.
func (h *eventHub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.out <- data:
		default:
		}
	}
}

func (h *eventHub) add(conn *websocket.Conn) *eventClient {
	c := &eventClient{
		conn: conn,
		out:  make(chan []byte, eventClientBuffer),
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writeLoop()
	return c
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*eventClient]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *eventClient) writeLoop() {
	for data := range c.out {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			return
		}
	}
}

var eventUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEvents handles GET /api/v1/events, upgrading to a websocket
// that streams Event JSON until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := eventUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := s.events.add(conn)
	s.log.Debug("event stream opened",
		zap.String("remote", conn.RemoteAddr().String()))

	// Clients only listen; reads exist to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.events.remove(client)
	s.log.Debug("event stream closed",
		zap.String("remote", conn.RemoteAddr().String()))
}
