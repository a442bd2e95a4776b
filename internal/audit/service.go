/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/events"
	"github.com/friendsincode/skuld/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// actionForEvent maps bus events to their audit action.
var actionForEvent = map[events.EventType]models.AuditAction{
	events.EventBookingApproved:  models.AuditActionBookingApprove,
	events.EventBookingRejected:  models.AuditActionBookingReject,
	events.EventBookingCancelled: models.AuditActionBookingCancel,
	events.EventBookingCompleted: models.AuditActionBookingComplete,
	events.EventSweepCompleted:   models.AuditActionSweepRun,
	events.EventResourceCreated:  models.AuditActionResourceCreate,
	events.EventResourceUpdated:  models.AuditActionResourceUpdate,
	events.EventResourceDeleted:  models.AuditActionResourceDelete,
}

// Start subscribes to booking and resource events and records them as
// audit entries until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	types := make([]events.EventType, 0, len(actionForEvent))
	for et := range actionForEvent {
		types = append(types, et)
	}
	sub := s.bus.SubscribeAll(types...)
	defer s.bus.Unsubscribe(sub)

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-sub:
			name, _ := payload["event"].(string)
			action, ok := actionForEvent[events.EventType(name)]
			if !ok {
				continue
			}
			s.logAuditEntry(ctx, action, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Details:   make(map[string]any),
	}

	if actorID, ok := payload["cancelled_by"].(string); ok && actorID != "" {
		entry.ActorID = &actorID
	}
	if actorID, ok := payload["actor_id"].(string); ok && actorID != "" {
		entry.ActorID = &actorID
	}
	if requesterID, ok := payload["requester_id"].(string); ok && requesterID != "" && entry.ActorID == nil {
		entry.ActorID = &requesterID
	}
	if resourceID, ok := payload["resource_id"].(string); ok && resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if bookingID, ok := payload["booking_id"].(string); ok {
		entry.BookingID = bookingID
	}

	for k, v := range payload {
		switch k {
		case "event", "actor_id", "requester_id", "resource_id", "booking_id", "node_id":
			// Already extracted or transport noise
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	ActorID    *string
	ResourceID *string
	BookingID  *string
	Action     *models.AuditAction
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit logs with filters, most recent first.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.ActorID != nil {
		query = query.Where("actor_id = ?", *filters.ActorID)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.BookingID != nil {
		query = query.Where("booking_id = ?", *filters.BookingID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
