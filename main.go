package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bfunding123/openai-web/config"
	"github.com/bfunding123/openai-web/functions"
	"github.com/bfunding123/openai-web/metrics"
	"github.com/bfunding123/openai-web/server"
	"github.com/bfunding123/openai-web/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var toolRegistry *functions.Registry
	if cfg.ToolsEnabled {
		toolRegistry = functions.DefaultRegistry()
		toolRegistry.SetFailureCounter(m.ToolFailures)
	}

	// Create session manager
	sessionManager := session.NewManager(cfg, toolRegistry, m)

	// Start cleanup routine
	ctx, cancel := context.WithCancel(context.Background())
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager, registry)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("\nReceived shutdown signal...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}

	log.Println("Server stopped")
}
