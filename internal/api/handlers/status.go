// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/wingedpig/rho/internal/config"
	"github.com/wingedpig/rho/internal/review"
	"github.com/wingedpig/rho/internal/rpc"
)

// StatusHandler serves the gateway's operational endpoints.
type StatusHandler struct {
	manager   *rpc.Manager
	reviews   *review.Bus
	cfg       *config.Config
	version   string
	startedAt time.Time
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(manager *rpc.Manager, reviews *review.Bus, cfg *config.Config, version string) *StatusHandler {
	return &StatusHandler{
		manager:   manager,
		reviews:   reviews,
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Status returns uptime and the live RPC and review sessions.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":        h.version,
		"startedAt":      h.startedAt,
		"uptime":         time.Since(h.startedAt).String(),
		"rpcSessions":    h.manager.Sessions(),
		"reviewSessions": h.reviews.Snapshot(),
	})
}

// Version returns the build version.
func (h *StatusHandler) Version(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// Config returns the active configuration with key material paths removed.
func (h *StatusHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg := *h.cfg
	cfg.Server.TLSCert = ""
	cfg.Server.TLSKey = ""
	WriteJSON(w, http.StatusOK, cfg)
}
