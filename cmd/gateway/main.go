package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lei/streams-build/pkg/gateway"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	configFile := flag.String("config", os.Getenv("STREAMS_CONFIG"), "path to a YAML or TOML config file")
	flag.Parse()

	// Create gateway from the config file, .env and STREAMS_* variables
	gw, err := gateway.NewFromEnv(*configFile)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the gateway (blocks until shutdown)
	return gw.Start(ctx)
}
