// Command channelizer runs the digital channelizer core: it ingests a beam
// multicast stream, splits it into sub-channels via a WOLA polyphase filter
// bank and FFT, and re-emits per-channel multicast packets.
//
// Follows the conventional main.go top-level structure: flag parsing,
// config load, component construction, signal-triggered graceful shutdown.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sigblips/sonata-channelizer/internal/app"
	"github.com/sigblips/sonata-channelizer/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to construct channelizer: %v", err)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("Failed to start channelizer: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down channelizer...")
	a.Shutdown()
}
