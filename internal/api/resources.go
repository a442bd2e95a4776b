/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/audit"
	"github.com/friendsincode/skuld/internal/events"
	"github.com/friendsincode/skuld/internal/models"
)

type resourceRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	Timezone           *string `json:"timezone"`
	OpenHour           *int    `json:"open_hour"`
	CloseHour          *int    `json:"close_hour"`
	Open24Hours        *bool   `json:"open_24_hours"`
	MinDurationMinutes *int    `json:"min_duration_minutes"`
	MaxDurationHours   *int    `json:"max_duration_hours"`
	MinAdvanceHours    *int    `json:"min_advance_hours"`
}

// apply copies the set fields onto res and validates the result.
func (req *resourceRequest) apply(res *models.Resource) string {
	if req.Name != nil {
		res.Name = *req.Name
	}
	if req.Description != nil {
		res.Description = *req.Description
	}
	if req.Timezone != nil {
		res.Timezone = *req.Timezone
	}
	if req.OpenHour != nil {
		res.OpenHour = *req.OpenHour
	}
	if req.CloseHour != nil {
		res.CloseHour = *req.CloseHour
	}
	if req.Open24Hours != nil {
		res.Open24Hours = *req.Open24Hours
	}
	if req.MinDurationMinutes != nil {
		res.MinDurationMinutes = *req.MinDurationMinutes
	}
	if req.MaxDurationHours != nil {
		res.MaxDurationHours = *req.MaxDurationHours
	}
	if req.MinAdvanceHours != nil {
		res.MinAdvanceHours = *req.MinAdvanceHours
	}

	if res.Name == "" {
		return "name_required"
	}
	if res.Timezone != "" {
		if _, err := time.LoadLocation(res.Timezone); err != nil {
			return "invalid_timezone"
		}
	}
	if res.OpenHour < 0 || res.OpenHour > 23 || res.CloseHour < 1 || res.CloseHour > 24 {
		return "invalid_hours"
	}
	if !res.Open24Hours && res.CloseHour <= res.OpenHour {
		return "invalid_hours"
	}
	if res.MinDurationMinutes < 0 || res.MaxDurationHours < 0 || res.MinAdvanceHours < 0 {
		return "invalid_policy"
	}
	if res.MaxDurationHours > 0 && res.MinDurationMinutes > res.MaxDurationHours*60 {
		return "invalid_policy"
	}
	return ""
}

func (a *API) handleResourcesList(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if resources, ok := a.cache.GetResourceList(r.Context()); ok {
			writeJSON(w, http.StatusOK, resources)
			return
		}
	}

	var resources []models.Resource
	if err := a.db.WithContext(r.Context()).Order("name").Find(&resources).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		_ = a.cache.SetResourceList(r.Context(), resources)
	}
	writeJSON(w, http.StatusOK, resources)
}

func (a *API) handleResourcesCreate(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res := models.Resource{
		ID:                 uuid.NewString(),
		Timezone:           "UTC",
		CloseHour:          23,
		MinDurationMinutes: 30,
		MaxDurationHours:   8,
	}
	if code := req.apply(&res); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	if err := a.db.WithContext(r.Context()).Create(&res).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.invalidateResource(r, res.ID)
	a.publishResourceEvent(events.EventResourceCreated, &res, actorFromRequest(r))
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) handleResourcesGet(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	if a.cache != nil {
		if res, ok := a.cache.GetResource(r.Context(), resourceID); ok {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	var res models.Resource
	err := a.db.WithContext(r.Context()).First(&res, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "resource_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		_ = a.cache.SetResource(r.Context(), &res)
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResourcesUpdate(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var res models.Resource
	err := a.db.WithContext(r.Context()).First(&res, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "resource_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if code := req.apply(&res); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	if err := a.db.WithContext(r.Context()).Save(&res).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.invalidateResource(r, res.ID)
	a.publishResourceEvent(events.EventResourceUpdated, &res, actorFromRequest(r))
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResourcesDelete(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	var res models.Resource
	err := a.db.WithContext(r.Context()).First(&res, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "resource_not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// A resource with live bookings cannot disappear under them.
	var active int64
	err = a.db.WithContext(r.Context()).
		Model(&models.Booking{}).
		Where("resource_id = ? AND status = ?", resourceID, models.BookingApproved).
		Count(&active).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if active > 0 {
		writeError(w, http.StatusConflict, "resource_in_use")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&res).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.invalidateResource(r, resourceID)
	a.publishResourceEvent(events.EventResourceDeleted, &res, actorFromRequest(r))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) invalidateResource(r *http.Request, resourceID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateResource(r.Context(), resourceID); err != nil {
		a.logger.Warn().Err(err).Str("resource_id", resourceID).Msg("cache invalidation failed")
	}
}

func (a *API) publishResourceEvent(eventType events.EventType, res *models.Resource, actor models.Actor) {
	if a.bus == nil {
		return
	}
	payload := events.Payload{
		"event":       string(eventType),
		"resource_id": res.ID,
		"name":        res.Name,
	}
	if actor.ID != "" {
		payload["actor_id"] = actor.ID
	}
	a.bus.Publish(eventType, payload)
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters := audit.QueryFilters{Limit: 100}

	q := r.URL.Query()
	if v := q.Get("actor_id"); v != "" {
		filters.ActorID = &v
	}
	if v := q.Get("resource_id"); v != "" {
		filters.ResourceID = &v
	}
	if v := q.Get("booking_id"); v != "" {
		filters.BookingID = &v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		filters.Action = &action
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		filters.StartTime = &t
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": logs,
	})
}
