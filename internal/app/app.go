// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the gateway together: config, session store, RPC
// manager, review bus, watchers, and the API server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/rho/internal/api"
	"github.com/wingedpig/rho/internal/config"
	"github.com/wingedpig/rho/internal/crashes"
	"github.com/wingedpig/rho/internal/events"
	"github.com/wingedpig/rho/internal/review"
	"github.com/wingedpig/rho/internal/rpc"
	"github.com/wingedpig/rho/internal/session"
	"github.com/wingedpig/rho/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	config     *config.Config

	eventBus     *events.Bus
	sessionStore *session.Store
	crashJournal *crashes.Journal
	rpcManager   *rpc.Manager
	reviewStore  review.Store
	reviewBus    *review.Bus
	watcher      *watcher.Watcher
	apiServer    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string
}

// New creates a new App instance. A missing config file is not an error;
// the gateway runs on defaults.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	path := opts.ConfigPath
	if path == "" {
		if found, err := loader.FindConfig(); err == nil {
			path = found
		}
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := loader.LoadWithDefaults(context.Background(), path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Loaded config from %s", path)
		cfg = loaded
		app.configPath = path
	} else {
		log.Printf("No config file found, using defaults")
		cfg = config.Default()
	}
	app.config = cfg

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.Debug {
		cfg.Server.DebugTiming = true
	}

	app.eventBus = events.NewBus()

	return app, nil
}

// Config returns the effective configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// baseURL is the externally visible prefix for minted review URLs.
func (app *App) baseURL() string {
	scheme := "http"
	if app.config.Server.TLSMode != "" || (app.config.Server.TLSCert != "" && app.config.Server.TLSKey != "") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, app.config.Server.Host, app.config.Server.Port)
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	// The session tree is the backbone; nothing works without it.
	if err := os.MkdirAll(cfg.SessionsDir(), 0755); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}
	app.sessionStore = session.NewStore(cfg.SessionsDir())
	log.Printf("Session store at %s", cfg.SessionsDir())

	journal, err := crashes.NewJournal(crashes.Config{ReportsDir: cfg.CrashesDir()})
	if err != nil {
		log.Printf("Warning: crash journal disabled: %v", err)
	} else {
		app.crashJournal = journal
	}

	store := app.sessionStore
	app.rpcManager = rpc.NewManager(rpc.Options{
		Command: cfg.Agent.Command,
		WorkDirFor: func(sessionFile string) string {
			info, err := store.Info(sessionFile)
			if err != nil {
				return ""
			}
			return info.CWD
		},
		OnCrash: func(info rpc.CrashInfo) {
			if app.crashJournal != nil {
				app.crashJournal.Record(info)
			}
		},
		RingSize:         cfg.Gateway.EventBufferSize,
		CommandRetention: cfg.Gateway.CommandRetention(),
		OrphanGrace:      cfg.Gateway.OrphanGrace(),
		OrphanAbortDelay: cfg.Gateway.OrphanAbortDelay(),
	})

	// Leftover children from a previous gateway hold session file locks and
	// burn tokens. Find them before taking new traffic.
	app.rpcManager.SweepStale(cfg.Agent.KillStale)

	reviewStore, err := review.Open(cfg.ReviewDBPath())
	if err != nil {
		return fmt.Errorf("open review store: %w", err)
	}
	app.reviewStore = reviewStore
	log.Printf("Review store at %s", cfg.ReviewDBPath())

	app.reviewBus = review.NewBus(reviewStore, app.eventBus, review.Options{
		OpenTTL: cfg.Review.OpenTTL(),
		BaseURL: app.baseURL(),
	})

	w, err := watcher.New(app.eventBus, cfg.Watch.DebounceDuration())
	if err != nil {
		log.Printf("Warning: file watcher disabled: %v", err)
	} else {
		app.watcher = w
		if err := w.WatchGitContext(cfg.GitContextPath()); err != nil {
			log.Printf("Warning: failed to watch git context: %v", err)
		}
		if err := w.WatchSessions(cfg.SessionsDir()); err != nil {
			log.Printf("Warning: failed to watch sessions: %v", err)
		}
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		TLSCert:     cfg.Server.TLSCert,
		TLSKey:      cfg.Server.TLSKey,
		TLSMode:     cfg.Server.TLSMode,
		MaxConns:    cfg.Server.MaxConns,
		DebugTiming: cfg.Server.DebugTiming,
	}, api.Dependencies{
		SessionStore: app.sessionStore,
		RPCManager:   app.rpcManager,
		ReviewBus:    app.reviewBus,
		ReviewStore:  app.reviewStore,
		EventBus:     app.eventBus,
		CrashJournal: app.crashJournal,
		Config:       cfg,
		WorkDir:      workDir,
		Version:      app.version,
	})

	return nil
}

// Start launches the API server in the background.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
			app.Stop()
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			log.Printf("Error closing watcher: %v", err)
		}
	}

	// Closing the review bus drops live sockets; terminal results are
	// already persisted.
	if app.reviewBus != nil {
		app.reviewBus.Close()
	}

	// Stop child agents last among the event producers so in-flight
	// terminal events still reach subscribers.
	if app.rpcManager != nil {
		app.rpcManager.Dispose()
	}

	if app.reviewStore != nil {
		if err := app.reviewStore.Close(); err != nil {
			log.Printf("Error closing review store: %v", err)
		}
	}

	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
