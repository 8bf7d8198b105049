// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import "net/http"

// Middleware resolves the API version for a request. The Rho-Version
// header pins a version; requests without it run on the latest. The
// resolved version lands in the request context and is echoed back in
// the response header so callers can see what they got.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := r.Header.Get(Header)
		if requested == "" {
			requested = LatestVersion
		}

		w.Header().Set(Header, requested)

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), requested)))
	})
}
