// Package api exposes the messenger over HTTP for companion apps: REST
// endpoints for conversations and sending, node and peer inspection,
// and a websocket stream of message events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/dm"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/protocol"
)

// Server is the companion HTTP API over one messaging engine
type Server struct {
	engine    *dm.Engine
	transport mesh.Transport
	dir       *mesh.Directory
	router    *gin.Engine
	port      int
	http      *http.Server
	log       *zap.Logger
	events    *eventHub
	started   time.Time

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute per client IP
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// NewServer creates the API server around an engine and its transport.
// dir is the node directory the transport resolves peers from.
func NewServer(engine *dm.Engine, transport mesh.Transport, dir *mesh.Directory, config *Config, log *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		engine:    engine,
		transport: transport,
		dir:       dir,
		router:    router,
		port:      config.Port,
		log:       log,
		events:    newEventHub(log),
		started:   time.Now(),

		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
	}

	s.setupMiddleware(config)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(config.RateLimit))
	}
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		conv := v1.Group("/conversations")
		{
			conv.GET("", s.handleConversations)
			conv.GET("/:peer/messages", s.handleMessages)
			conv.POST("/:peer/messages", s.handleSend)
			conv.POST("/:peer/read", s.handleMarkRead)
		}

		node := v1.Group("/node")
		{
			node.GET("/info", s.handleNodeInfo)
			node.GET("/peers", s.handlePeers)
		}

		v1.GET("/events", s.handleEvents)
	}

	s.router.GET("/health", s.handleHealth)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.Int("port", s.port))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("api shutting down")
	return s.Stop()
}

// Stop shuts the server down, closing any event streams
func (s *Server) Stop() error {
	s.events.closeAll()
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// NotifyMessage publishes a stored message to event stream clients.
// Safe to assign directly as the engine's OnMessage callback.
func (s *Server) NotifyMessage(peer protocol.PublicKey, msg dm.Message) {
	s.events.publish(Event{Type: EventMessage, Peer: peer, Message: msg})
}

// NotifyStatus publishes a delivery state change to event stream clients
func (s *Server) NotifyStatus(peer protocol.PublicKey, msg dm.Message) {
	s.events.publish(Event{Type: EventStatus, Peer: peer, Message: msg})
}
