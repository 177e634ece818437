package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/history"
	"roomsync/internal/relay"
)

// Application wires the relay daemon's components: archive, registry,
// router, hub, and the HTTP listener.
type Application struct {
	config     *config.Config
	archive    *history.Archive
	registry   *relay.Registry
	hub        *relay.Hub
	httpServer *http.Server
}

// NewApplication builds the daemon in dependency order: archive first,
// then routing, then the HTTP surface.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	archive, err := history.Open(cfg.Archive.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	registry := relay.NewRegistry()
	router := relay.NewRouter(registry, archive)
	hub := relay.NewHub(registry, router)
	handler := relay.NewHandler(hub, registry, archive)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		archive:    archive,
		registry:   registry,
		hub:        hub,
		httpServer: httpServer,
	}, nil
}

// Start brings the hub up before the listener so no accepted connection
// ever sees a stopped hub.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting roomsyncd on %s", app.httpServer.Addr)

	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("roomsyncd started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: listener, hub, archive.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down roomsyncd")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.hub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
	if err := app.archive.Close(); err != nil {
		log.Printf("Archive shutdown error: %v", err)
	}

	log.Printf("roomsyncd shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("ROOMSYNC_CONFIG_FILE"), "path to JSON config file")
	flag.Parse()

	cfg := config.LoadWithPrecedence(*configPath)

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return app.Stop(shutdownCtx)
	}
}
