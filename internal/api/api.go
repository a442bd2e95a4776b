/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/audit"
	"github.com/friendsincode/skuld/internal/cache"
	"github.com/friendsincode/skuld/internal/engine"
	"github.com/friendsincode/skuld/internal/events"
	"github.com/friendsincode/skuld/internal/interval"
	"github.com/friendsincode/skuld/internal/ledger"
	"github.com/friendsincode/skuld/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db       *gorm.DB
	engine   *engine.Engine
	auditSvc *audit.Service
	cache    *cache.Cache
	bus      *events.Bus
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, eng *engine.Engine, auditSvc *audit.Service, c *cache.Cache, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:       db,
		engine:   eng,
		auditSvc: auditSvc,
		cache:    c,
		bus:      bus,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all API endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/version", a.handleVersion)

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", a.handleResourcesList)
			r.Post("/", a.handleResourcesCreate)
			r.Route("/{resourceID}", func(r chi.Router) {
				r.Get("/", a.handleResourcesGet)
				r.Patch("/", a.handleResourcesUpdate)
				r.Delete("/", a.handleResourcesDelete)

				r.Get("/availability", a.handleAvailability)
				r.Route("/bookings", func(r chi.Router) {
					r.Get("/", a.handleBookingsList)
					r.Post("/", a.handleBookingsCreate)
				})
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/{bookingID}", a.handleBookingsGet)
			r.Delete("/{bookingID}", a.handleBookingsCancel)
		})

		r.Route("/system", func(r chi.Router) {
			r.Post("/sweep", a.handleSweep)
			r.Get("/audit", a.handleAuditList)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeEngineError translates engine and ledger errors to HTTP status
// codes. Anything unrecognized is reported as a storage failure.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrResourceNotFound):
		writeError(w, http.StatusNotFound, "resource_not_found")
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found")
	case errors.Is(err, ledger.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal")
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, engine.ErrLockWait):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "lock_timeout")
	case errors.Is(err, interval.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window")
	default:
		writeError(w, http.StatusInternalServerError, "storage_error")
	}
}
