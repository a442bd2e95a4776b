/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/skuld/internal/engine"
	"github.com/friendsincode/skuld/internal/models"
)

// actorFromRequest reads the caller identity set by the upstream
// gateway. Authentication itself happens before requests reach skuld.
func actorFromRequest(r *http.Request) models.Actor {
	return models.Actor{
		ID:    r.Header.Get("X-Actor-ID"),
		Admin: strings.EqualFold(r.Header.Get("X-Actor-Admin"), "true"),
	}
}

type bookingRequest struct {
	RequesterID string    `json:"requester_id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

func (a *API) handleBookingsCreate(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.RequesterID == "" {
		req.RequesterID = actorFromRequest(r).ID
	}
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id_required")
		return
	}

	decision, err := a.engine.RequestBooking(r.Context(), resourceID, req.RequesterID, req.StartsAt, req.EndsAt)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if decision.Approved {
		writeJSON(w, http.StatusCreated, decision)
		return
	}
	writeJSON(w, rejectionStatus(decision.Rejection.Code), decision)
}

// rejectionStatus maps a rejection to the HTTP status it travels as.
// Rejections are part of the response body either way; the status just
// lets dumb clients branch without parsing.
func rejectionStatus(code engine.RejectionCode) int {
	switch code {
	case engine.RejectConflict:
		return http.StatusConflict
	case engine.RejectInvalidWindow:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func (a *API) handleBookingsList(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	var statuses []models.BookingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.BookingStatus(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status")
				return
			}
			statuses = append(statuses, status)
		}
	}

	bookings, err := a.engine.GetBookings(r.Context(), resourceID, statuses...)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (a *API) handleBookingsGet(w http.ResponseWriter, r *http.Request) {
	booking, err := a.engine.GetBooking(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleBookingsCancel(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor.ID == "" {
		writeError(w, http.StatusBadRequest, "actor_required")
		return
	}

	var req cancelRequest
	if r.Body != nil {
		// Reason is optional; a missing or empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	booking, err := a.engine.CancelBooking(r.Context(), chi.URLParam(r, "bookingID"), actor, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end")
		return
	}

	available, overlaps, err := a.engine.CheckAvailability(r.Context(), resourceID, start, end)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	conflicting := make([]string, len(overlaps))
	for i, entry := range overlaps {
		conflicting[i] = entry.BookingID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":       available,
		"conflicting_ids": conflicting,
	})
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	completed, err := a.engine.RunCompletionSweep(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"completed": completed})
}
