package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"roomsync/internal/config"
)

// freePort asks the kernel for an unused port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = freePort(t)
	cfg.Archive.Path = filepath.Join(t.TempDir(), "roomsync.db")
	return cfg
}

func TestNewApplication_WiresComponents(t *testing.T) {
	app, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer func() { _ = app.archive.Close() }()

	if app.hub == nil || app.registry == nil || app.httpServer == nil {
		t.Error("application components not wired")
	}
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.Port = -1
	if _, err := NewApplication(cfg); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestApplication_StartStop(t *testing.T) {
	app, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
