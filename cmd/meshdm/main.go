// Package main runs a meshdm node: identity, conversation store,
// radio link to a hub, the messaging engine and the companion API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/api"
	"github.com/ezmesh/meshdm/pkg/bridge"
	"github.com/ezmesh/meshdm/pkg/crypto"
	"github.com/ezmesh/meshdm/pkg/dm"
	"github.com/ezmesh/meshdm/pkg/mesh"
	"github.com/ezmesh/meshdm/pkg/storage"
)

var (
	hubAddr   = flag.String("hub", "127.0.0.1:8530", "Hub address to connect to")
	nodeName  = flag.String("name", "", "Node display name (default: hostname)")
	dataDir   = flag.String("data", "./data", "Data directory")
	apiPort   = flag.Int("api-port", 8080, "HTTP API port")
	enableAPI = flag.Bool("api", true, "Enable the companion HTTP API")
	cors      = flag.Bool("cors", true, "Enable CORS headers on the API")
	rateLimit = flag.Int("rate-limit", 120, "API rate limit (requests per minute)")
	verbose   = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	printBanner()

	logger, err := newLogger(*verbose)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	name := *nodeName
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			name = "meshdm-node"
		}
	}

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	ident, err := crypto.LoadOrCreateIdentity(filepath.Join(*dataDir, "identity.key"))
	if err != nil {
		log.Fatalf("Failed to load identity: %v", err)
	}

	store, err := storage.NewSQLiteStore(filepath.Join(*dataDir, "meshdm.db"))
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}

	clock := mesh.SystemClock{}
	radio := bridge.NewRadio(*hubAddr, name, ident, clock, logger)
	engine := dm.NewEngine(radio, store, clock, logger)

	radio.OnPacket = engine.HandleInbound
	radio.OnNodeDiscovered = engine.HandleNodeDiscovered

	if err := engine.Load(); err != nil {
		log.Fatalf("Failed to load conversations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if *enableAPI {
		apiServer = api.NewServer(engine, radio, radio.Directory(), &api.Config{
			Port:         *apiPort,
			EnableCORS:   *cors,
			RateLimit:    *rateLimit,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}, logger)

		engine.OnMessage = apiServer.NotifyMessage
		engine.OnStatus = apiServer.NotifyStatus

		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("api server", zap.Error(err))
			}
		}()
	}

	if err := radio.Connect(); err != nil {
		log.Fatalf("Failed to connect to hub at %s: %v", *hubAddr, err)
	}

	go engineTicks(ctx, engine)

	printStatus(name, ident, *hubAddr, *apiPort, *enableAPI)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	logger.Info("shutting down")

	cancel()
	radio.Close()
	if err := store.Close(); err != nil {
		logger.Warn("store close", zap.Error(err))
	}
}

// engineTicks drives the engine's retry and send-queue clocks. The
// engine runs no goroutines of its own.
func engineTicks(ctx context.Context, engine *dm.Engine) {
	retry := time.NewTicker(dm.RetryTickPeriod)
	defer retry.Stop()
	queue := time.NewTicker(dm.SendQueueTickPeriod)
	defer queue.Stop()

	for {
		select {
		case <-retry.C:
			engine.RetryTick()
		case <-queue.C:
			engine.SendQueueTick()
		case <-ctx.Done():
			return
		}
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║            meshdm node                ║")
	fmt.Println("║   encrypted DMs over a mesh of hops   ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func printStatus(name string, ident *crypto.Identity, hub string, apiPort int, apiOn bool) {
	fmt.Println("  Node ready")
	fmt.Printf("    Name:   %s\n", name)
	fmt.Printf("    Key:    %s\n", ident.PublicKey())
	fmt.Printf("    Hop:    0x%02X\n", ident.HopID())
	fmt.Printf("    Hub:    %s\n", hub)
	if apiOn {
		fmt.Println()
		fmt.Println("  API endpoints:")
		fmt.Printf("    GET  http://localhost:%d/api/v1/conversations\n", apiPort)
		fmt.Printf("    GET  http://localhost:%d/api/v1/conversations/:peer/messages\n", apiPort)
		fmt.Printf("    POST http://localhost:%d/api/v1/conversations/:peer/messages\n", apiPort)
		fmt.Printf("    POST http://localhost:%d/api/v1/conversations/:peer/read\n", apiPort)
		fmt.Printf("    GET  http://localhost:%d/api/v1/node/info\n", apiPort)
		fmt.Printf("    GET  http://localhost:%d/api/v1/node/peers\n", apiPort)
		fmt.Printf("    GET  ws://localhost:%d/api/v1/events\n", apiPort)
		fmt.Printf("    GET  http://localhost:%d/health\n", apiPort)
	}
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
}
