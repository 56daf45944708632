/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/strseb/fogproxy/pkg/common/auth"
	"github.com/strseb/fogproxy/pkg/stats"
)

// StatsSource provides the counters served by the admin API.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

type revokeRequest struct {
	JTI string `json:"jti"`
	// ExpiresAt is the token's exp claim; when known, the revocation is
	// dropped once the token would have expired anyway.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// createAdminRouter builds the admin API. validator may be nil, in which
// case stats are served without authentication and revocation is not
// offered.
func createAdminRouter(statusMessage string, source StatsSource, validator *auth.JWTValidator, logger *log.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(statusMessage))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		r.Group(func(r chi.Router) {
			if validator != nil {
				r.Use(validator.Require(auth.PERMISSION_STATS_READ).Middleware)
			}
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, source.Snapshot())
			})
		})

		if validator == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(validator.Require(auth.PERMISSION_TOKENS_REVOKE).Middleware)

			r.Get("/revoked", func(w http.ResponseWriter, r *http.Request) {
				revoked, err := validator.Revocations.Revoked()
				if err != nil {
					http.Error(w, "Failed to list revoked tokens", http.StatusServiceUnavailable)
					logger.Printf("[Admin] Error listing revoked tokens: %v", err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"revoked": revoked,
				})
			})

			r.Post("/revoke", func(w http.ResponseWriter, r *http.Request) {
				var req revokeRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					http.Error(w, "Invalid request body", http.StatusBadRequest)
					return
				}
				if req.JTI == "" {
					http.Error(w, "Missing jti", http.StatusBadRequest)
					return
				}
				var err error
				if req.ExpiresAt > 0 {
					err = validator.Revocations.RevokeUntil(req.JTI, time.Unix(req.ExpiresAt, 0))
				} else {
					err = validator.Revocations.Revoke(req.JTI)
				}
				if err != nil {
					// Still revoked in this process, but not yet for the fleet.
					http.Error(w, "Failed to share revocation", http.StatusServiceUnavailable)
					logger.Printf("[Admin] Error revoking token %s: %v", req.JTI, err)
					return
				}
				logger.Printf("[Admin] Revoked token %s", req.JTI)
				writeJSON(w, http.StatusOK, map[string]string{"revoked": req.JTI})
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Admin] Failed to encode response: %v", err)
	}
}
