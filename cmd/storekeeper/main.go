package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kinode-dao/storekeeper/internal/agent"
	"github.com/kinode-dao/storekeeper/internal/infrastructure/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ag, err := agent.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- ag.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received %s, shutting down", sig)
		cancel()
		if err := <-errChan; err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Agent error: %v", err)
		}
	}
}
