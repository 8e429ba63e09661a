package bridge

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// hubClientBuffer is how many frames a slow client may fall behind
// before the hub starts dropping frames for it, the way real air drops
// packets a busy radio misses.
const hubClientBuffer = 64

// Hub emulates a shared radio channel over TCP. Every frame received
// from one client is rebroadcast verbatim to every other client; the
// hub never parses, filters or queues beyond the per-client buffer.
type Hub struct {
	addr string
	log  *zap.Logger

	mu       sync.RWMutex
	listener net.Listener
	clients  map[int]*hubClient
	nextID   int

	frames  atomic.Uint64
	started time.Time
}

type hubClient struct {
	id   int
	conn net.Conn
	out  chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.out)
		c.conn.Close()
	})
}

// NewHub creates a hub that will listen on addr
func NewHub(addr string, log *zap.Logger) *Hub {
	return &Hub{
		addr:    addr,
		log:     log,
		clients: make(map[int]*hubClient),
	}
}

// Start begins listening and accepting clients
func (h *Hub) Start() error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.listener = listener
	h.started = time.Now()
	h.mu.Unlock()

	h.log.Info("hub listening", zap.String("addr", listener.Addr().String()))
	go h.acceptLoop()
	return nil
}

// Addr returns the bound listen address
func (h *Hub) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop closes the listener and every client connection
func (h *Hub) Stop() error {
	h.mu.Lock()
	listener := h.listener
	h.listener = nil
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[int]*hubClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

// Stats reports hub counters
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connected_clients": len(h.clients),
		"frames_relayed":    h.frames.Load(),
		"uptime_seconds":    uint64(time.Since(h.started).Seconds()),
	}
}

func (h *Hub) acceptLoop() {
	for {
		h.mu.RLock()
		listener := h.listener
		h.mu.RUnlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go h.handleClient(conn)
	}
}

func (h *Hub) handleClient(conn net.Conn) {
	client := &hubClient{
		conn: conn,
		out:  make(chan []byte, hubClientBuffer),
	}

	h.mu.Lock()
	h.nextID++
	client.id = h.nextID
	h.clients[client.id] = client
	h.mu.Unlock()

	h.log.Debug("client connected",
		zap.Int("id", client.id),
		zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(client)
	defer h.removeClient(client.id)

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			h.log.Debug("client read ended",
				zap.Int("id", client.id), zap.Error(err))
			return
		}
		h.broadcast(client.id, frame)
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	for frame := range client.out {
		if err := WriteFrame(client.conn, frame); err != nil {
			client.conn.Close()
			return
		}
	}
}

// broadcast hands one frame to every client except its origin. Senders
// hold the read lock, removal holds the write lock, so a client's out
// channel is never written after removal closes it.
func (h *Hub) broadcast(from int, frame []byte) {
	h.frames.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == from {
			continue
		}
		select {
		case c.out <- frame:
		default:
			// Slow client: the frame is lost, like air.
		}
	}
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	client, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		client.close()
		h.log.Debug("client removed", zap.Int("id", id))
	}
}
