/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger is the authoritative store of booking records and
// their status transitions. It owns commit, cancel, and the completion
// sweep; conflict checking and serialization are the engine's job and
// every mutating call here assumes the caller holds the resource's
// serialization.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/conflict"
	"github.com/friendsincode/skuld/internal/interval"
	"github.com/friendsincode/skuld/internal/models"
)

// Business errors returned from Cancel. These are expected outcomes,
// distinct from storage failures.
var (
	ErrNotFound        = errors.New("booking not found")
	ErrAlreadyTerminal = errors.New("booking is already cancelled or completed")
	ErrForbidden       = errors.New("actor may not cancel this booking")
)

// StorageError wraps an unexpected database failure. Callers should
// treat it as retryable infrastructure trouble, never as a business
// rejection.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Service persists bookings through gorm.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates the booking ledger.
func New(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Commit persists a new approved booking. It must only be called after
// a successful conflict check under the same per-resource critical
// section; the ledger itself does not re-check overlaps.
func (s *Service) Commit(ctx context.Context, resourceID, requesterID string, w interval.Window, now time.Time) (*models.Booking, error) {
	booking := &models.Booking{
		ID:          uuid.NewString(),
		ResourceID:  resourceID,
		RequesterID: requesterID,
		StartsAt:    w.Start,
		EndsAt:      w.End,
		Status:      models.BookingApproved,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(booking).Error; err != nil {
		return nil, storageErr("commit", err)
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("resource_id", resourceID).
		Str("requester_id", requesterID).
		Str("window", w.String()).
		Msg("booking committed")
	return booking, nil
}

// Cancel transitions an approved booking to cancelled. The actor must
// be the requester or an admin. Returns the updated booking so the
// caller can drop the interval from the conflict index.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor models.Actor, reason string, now time.Time) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).First(&booking, "id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("cancel lookup", err)
	}

	if booking.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if !actor.MayCancel(booking.RequesterID) {
		return nil, ErrForbidden
	}
	if !booking.Status.CanTransitionTo(models.BookingCancelled) {
		return nil, ErrAlreadyTerminal
	}

	booking.Status = models.BookingCancelled
	booking.CancelledBy = &actor.ID
	booking.CancelReason = reason
	booking.UpdatedAt = now.UTC()

	if err := s.db.WithContext(ctx).Save(&booking).Error; err != nil {
		return nil, storageErr("cancel", err)
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("resource_id", booking.ResourceID).
		Str("actor_id", actor.ID).
		Bool("admin", actor.Admin).
		Msg("booking cancelled")
	return &booking, nil
}

// DueCompletionResources returns the distinct resource IDs holding at
// least one approved booking whose window has fully elapsed
// (ends_at <= now). Read-only; the engine then sweeps each resource
// under that resource's serialization.
func (s *Service) DueCompletionResources(ctx context.Context, now time.Time) ([]string, error) {
	var resourceIDs []string
	err := s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Distinct("resource_id").
		Where("status = ? AND ends_at <= ?", models.BookingApproved, now.UTC()).
		Pluck("resource_id", &resourceIDs).Error
	if err != nil {
		return nil, storageErr("sweep scan", err)
	}
	return resourceIDs, nil
}

// SweepResourceCompletions transitions one resource's elapsed approved
// bookings to completed and returns the affected rows. Must be called
// under the resource's serialization. Idempotent: completed rows no
// longer match the query, so running it twice is harmless.
func (s *Service) SweepResourceCompletions(ctx context.Context, resourceID string, now time.Time) ([]models.Booking, error) {
	var due []models.Booking
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND status = ? AND ends_at <= ?", resourceID, models.BookingApproved, now.UTC()).
		Find(&due).Error
	if err != nil {
		return nil, storageErr("sweep query", err)
	}
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]string, len(due))
	for i, b := range due {
		ids[i] = b.ID
	}

	err = s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id IN ? AND status = ?", ids, models.BookingApproved).
		Updates(map[string]any{
			"status":     models.BookingCompleted,
			"updated_at": now.UTC(),
		}).Error
	if err != nil {
		return nil, storageErr("sweep update", err)
	}

	for i := range due {
		due[i].Status = models.BookingCompleted
		due[i].UpdatedAt = now.UTC()
	}

	s.logger.Debug().
		Str("resource_id", resourceID).
		Int("completed", len(due)).
		Msg("resource completion sweep finished")
	return due, nil
}

// Get retrieves one booking by ID.
func (s *Service) Get(ctx context.Context, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).First(&booking, "id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &booking, nil
}

// ListForResource returns a resource's bookings in start order,
// optionally filtered to the given statuses.
func (s *Service) ListForResource(ctx context.Context, resourceID string, statuses ...models.BookingStatus) ([]models.Booking, error) {
	query := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("starts_at ASC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var bookings []models.Booking
	if err := query.Find(&bookings).Error; err != nil {
		return nil, storageErr("list", err)
	}
	return bookings, nil
}

// ApprovedEntries loads every approved booking grouped by resource,
// shaped for a conflict index rebuild.
func (s *Service) ApprovedEntries(ctx context.Context) (map[string][]conflict.Entry, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Where("status = ?", models.BookingApproved).
		Order("starts_at ASC").
		Find(&bookings).Error
	if err != nil {
		return nil, storageErr("rebuild query", err)
	}

	entries := make(map[string][]conflict.Entry)
	for _, b := range bookings {
		entries[b.ResourceID] = append(entries[b.ResourceID], conflict.Entry{
			BookingID: b.ID,
			Window:    b.Window(),
		})
	}
	return entries, nil
}
