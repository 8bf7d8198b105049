// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version implements date-based API versioning for the rho API.
//
// Clients pin a version by sending it in the Rho-Version header; requests
// without the header run on the latest version. A breaking change means a
// new version constant dated the day it ships, a bumped LatestVersion, and
// a transformer that rewrites new responses into the old shape for pinned
// clients.
package version

import "context"

// Version constants, newest last.
const (
	// Version20260602 is the initial API version.
	Version20260602 = "2026-06-02"
)

// LatestVersion is the default version for requests that do not pin one.
var LatestVersion = Version20260602

// Header is the HTTP header carrying the requested API version.
const Header = "Rho-Version"

type contextKey string

const versionKey contextKey = "api-version"

// FromContext returns the API version resolved for this request, or
// LatestVersion when none was stored.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext stores the API version on the context.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}
