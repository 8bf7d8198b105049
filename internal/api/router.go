// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api wires the gateway's HTTP surface: the REST endpoints, the
// browser gateway WebSocket, and the review WebSocket.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tailscale/tscert"
	"golang.org/x/net/netutil"

	"github.com/wingedpig/rho/internal/api/handlers"
	"github.com/wingedpig/rho/internal/api/middleware"
	"github.com/wingedpig/rho/internal/api/version"
	"github.com/wingedpig/rho/internal/config"
	"github.com/wingedpig/rho/internal/crashes"
	"github.com/wingedpig/rho/internal/events"
	"github.com/wingedpig/rho/internal/review"
	"github.com/wingedpig/rho/internal/rpc"
	"github.com/wingedpig/rho/internal/session"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host        string
	Port        int
	TLSCert     string // Path to TLS certificate file
	TLSKey      string // Path to TLS private key file
	TLSMode     string // "", "files", or "tailscale"
	MaxConns    int    // Listener connection cap, 0 for unlimited
	DebugTiming bool   // Log per-request timings
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	SessionStore *session.Store
	RPCManager   *rpc.Manager
	ReviewBus    *review.Bus
	ReviewStore  review.Store
	EventBus     *events.Bus
	CrashJournal *crashes.Journal
	Config       *config.Config
	WorkDir      string // fallback repo dir when the git context names none
	Version      string // Application version string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(deps.Config.Server.DebugTiming))
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	maxBytes := deps.Config.Review.MaxFileBytes

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Session file handlers
	sessionsHandler := handlers.NewSessionsHandler(deps.SessionStore, deps.EventBus)
	api.HandleFunc("/sessions", sessionsHandler.List).Methods("GET")
	api.HandleFunc("/sessions/new", sessionsHandler.New).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionsHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}/fork", sessionsHandler.Fork).Methods("POST")

	// Git handlers, resolved against the agent's git context per request
	gitHandler := handlers.NewGitHandler(deps.Config.GitContextPath(), deps.WorkDir, deps.ReviewBus, maxBytes)
	api.HandleFunc("/git/status", gitHandler.Status).Methods("GET")
	api.HandleFunc("/git/diff", gitHandler.Diff).Methods("GET")

	// Review handlers
	reviewHandler := handlers.NewReviewHandler(deps.ReviewBus, deps.ReviewStore, maxBytes)
	api.HandleFunc("/review", reviewHandler.Create).Methods("POST")
	api.HandleFunc("/review/from-git", gitHandler.FromGit).Methods("POST")
	api.HandleFunc("/review/sessions", reviewHandler.Sessions).Methods("GET")
	api.HandleFunc("/review/submissions", reviewHandler.ListSubmissions).Methods("GET")
	api.HandleFunc("/review/submissions/{id}", reviewHandler.GetSubmission).Methods("GET")
	api.HandleFunc("/review/submissions/{id}/claim", reviewHandler.ClaimSubmission).Methods("POST")
	api.HandleFunc("/review/submissions/{id}/resolve", reviewHandler.ResolveSubmission).Methods("POST")

	// Brain handlers (read-only)
	brainHandler := handlers.NewBrainHandler(deps.Config.BrainPath())
	api.HandleFunc("/brain", brainHandler.Entries).Methods("GET")
	api.HandleFunc("/tasks", brainHandler.Tasks).Methods("GET")

	// Crash handlers
	crashesHandler := handlers.NewCrashesHandler(deps.CrashJournal)
	api.HandleFunc("/crashes", crashesHandler.List).Methods("GET")
	api.HandleFunc("/crashes", crashesHandler.Clear).Methods("DELETE")
	api.HandleFunc("/crashes/newest", crashesHandler.Newest).Methods("GET")
	api.HandleFunc("/crashes/{id}", crashesHandler.Get).Methods("GET")
	api.HandleFunc("/crashes/{id}", crashesHandler.Delete).Methods("DELETE")

	// Operational handlers
	statusHandler := handlers.NewStatusHandler(deps.RPCManager, deps.ReviewBus, deps.Config, deps.Version)
	api.HandleFunc("/status", statusHandler.Status).Methods("GET")
	api.HandleFunc("/version", statusHandler.Version).Methods("GET")
	api.HandleFunc("/config", statusHandler.Config).Methods("GET")

	// WebSockets
	gatewayHandler := handlers.NewGatewayHandler(deps.RPCManager, deps.EventBus)
	r.HandleFunc("/ws", gatewayHandler.WebSocket).Methods("GET")
	r.HandleFunc("/review/{id}/ws", reviewHandler.WebSocket).Methods("GET")

	// Debug/profiling endpoints
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. TLS comes either from certificate files
// or from the local tailscaled when tls_mode is "tailscale". The listener is
// capped at MaxConns concurrent connections when set.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}

	if s.cfg.TLSMode == "tailscale" {
		// Certificates come from the local tailscaled.
		s.server.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		log.Printf("API server listening on https://%s (tailscale TLS)", addr)
		return s.server.ServeTLS(ln, "", "")
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSMode, s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		ln.Close()
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ServeTLS(ln, certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
