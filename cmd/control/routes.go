/* This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/. */

package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/strseb/fogproxy/pkg/common/auth"
	"github.com/strseb/fogproxy/pkg/stats"
)

type instanceStats struct {
	Instance string          `json:"instance"`
	Stats    *stats.Snapshot `json:"stats"`
}

// createRouter serves the fleet view. With a validator, reads need the
// stats-read permission and deletes need tokens-revoke.
func createRouter(db Database, validator *auth.JWTValidator) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Project Fog control server"))
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

			r.Get("/instances", func(w http.ResponseWriter, r *http.Request) {
				list, err := collect(db)
				if err != nil {
					http.Error(w, "Failed to retrieve instances", http.StatusInternalServerError)
					log.Printf("Error retrieving instances: %v", err)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"instances": list,
				})
			})

			r.Get("/instances/{instance}", func(w http.ResponseWriter, r *http.Request) {
				instance := chi.URLParam(r, "instance")
				snap, err := db.GetSnapshot(instance)
				if errors.Is(err, ErrUnknownInstance) {
					http.Error(w, "Instance not found", http.StatusNotFound)
					return
				}
				if err != nil {
					http.Error(w, "Failed to retrieve instance", http.StatusInternalServerError)
					log.Printf("Error retrieving instance %s: %v", instance, err)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(instanceStats{Instance: instance, Stats: snap})
			})

			r.Get("/totals", func(w http.ResponseWriter, r *http.Request) {
				list, err := collect(db)
				if err != nil {
					http.Error(w, "Failed to retrieve instances", http.StatusInternalServerError)
					log.Printf("Error retrieving instances: %v", err)
					return
				}
				var total stats.Snapshot
				for _, item := range list {
					total = total.Add(*item.Stats)
				}
				total.Uptime = ""
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]interface{}{
					"instances": len(list),
					"totals":    total,
				})
			})
		})

		r.Group(func(r chi.Router) {
			if validator != nil {
				r.Use(validator.Require(auth.PERMISSION_TOKENS_REVOKE).Middleware)
			}

			r.Delete("/instances/{instance}", func(w http.ResponseWriter, r *http.Request) {
				instance := chi.URLParam(r, "instance")
				if err := db.RemoveInstance(instance); err != nil {
					http.Error(w, "Failed to remove instance", http.StatusInternalServerError)
					log.Printf("Error removing instance %s: %v", instance, err)
					return
				}
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("Instance removed successfully"))
			})
		})
	})

	return r
}

// collect loads every registered instance's snapshot. Instances whose hash
// already expired are skipped.
func collect(db Database) ([]instanceStats, error) {
	instances, err := db.GetAllInstances()
	if err != nil {
		return nil, err
	}
	sort.Strings(instances)

	list := make([]instanceStats, 0, len(instances))
	for _, instance := range instances {
		snap, err := db.GetSnapshot(instance)
		if errors.Is(err, ErrUnknownInstance) {
			continue
		}
		if err != nil {
			return nil, err
		}
		list = append(list, instanceStats{Instance: instance, Stats: snap})
	}
	return list, nil
}
