// Package main runs a mesh hub: a TCP relay that mirrors every frame
// to every connected radio, standing in for a shared RF channel.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/bridge"
)

const heartbeatInterval = 5 * time.Minute

var (
	listenAddr = flag.String("listen", ":8530", "Address to listen on")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	printBanner()

	logger, err := newLogger(*verbose)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	hub := bridge.NewHub(*listenAddr, logger)
	if err := hub.Start(); err != nil {
		log.Fatalf("Failed to start hub: %v", err)
	}

	fmt.Printf("  Listening on %s\n", hub.Addr())
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	go heartbeatLoop(hub, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	logger.Info("shutting down")
	if err := hub.Stop(); err != nil {
		logger.Warn("hub stop", zap.Error(err))
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║            meshdm hub                 ║")
	fmt.Println("║    one TCP port, one shared channel   ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func heartbeatLoop(hub *bridge.Hub, logger *zap.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		stats := hub.Stats()
		logger.Info("heartbeat",
			zap.Any("clients", stats["connected_clients"]),
			zap.Any("frames", stats["frames_relayed"]))
	}
}
