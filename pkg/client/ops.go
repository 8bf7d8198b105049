// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OpsClient covers the gateway's operational endpoints.
type OpsClient struct {
	c *Client
}

// RPCSession is a live agent session held by the gateway.
type RPCSession struct {
	SessionID   string    `json:"sessionId"`
	SessionFile string    `json:"sessionFile"`
	PID         int       `json:"pid"`
	Subscribers int       `json:"subscribers"`
	StartedAt   time.Time `json:"startedAt"`
}

// GatewayStatus is the gateway's operational snapshot.
type GatewayStatus struct {
	Version        string         `json:"version"`
	StartedAt      time.Time      `json:"startedAt"`
	Uptime         string         `json:"uptime"`
	RPCSessions    []RPCSession   `json:"rpcSessions"`
	ReviewSessions []ReviewStatus `json:"reviewSessions"`
}

// Status returns uptime and the live RPC and review sessions.
func (o *OpsClient) Status(ctx context.Context) (*GatewayStatus, error) {
	data, err := o.c.get(ctx, "/api/status")
	if err != nil {
		return nil, err
	}

	var status GatewayStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}

	return &status, nil
}

// Version returns the gateway's build version.
func (o *OpsClient) Version(ctx context.Context) (string, error) {
	data, err := o.c.get(ctx, "/api/version")
	if err != nil {
		return "", err
	}

	var resp struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to parse version: %w", err)
	}

	return resp.Version, nil
}

// Config returns the gateway's active configuration. Key material paths are
// redacted server-side.
func (o *OpsClient) Config(ctx context.Context) (json.RawMessage, error) {
	data, err := o.c.get(ctx, "/api/config")
	if err != nil {
		return nil, err
	}
	return data, nil
}
