package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardjypark/maskmytext.com/internal/infrastructure/config"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Flags override environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	origin := flag.String("origin", cfg.Agent.Origin, "Application origin to front")
	build := flag.String("build", cfg.Agent.BuildID, "Build id of the first version")
	storage := flag.String("storage", cfg.Storage.Driver, "Cache storage driver (memory|sqlite)")
	shellFile := flag.String("shell", cfg.Agent.ShellFile, "App shell file (.yaml or .toml)")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Agent.Origin = *origin
	cfg.Agent.BuildID = *build
	cfg.Storage.Driver = *storage
	cfg.Agent.ShellFile = *shellFile
	cfg.Logging.Development = *dev
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	installCtx, cancelInstall := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := srv.Install(installCtx); err != nil {
		log.Printf("Starting without an active version: %v", err)
	}
	cancelInstall()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down gracefully...")
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		log.Fatalf("Server error: %v", err)
	}
}
