/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine coordinates booking admission: policy checks, the
// per-resource conflict check, and the ledger write happen here, with
// all mutations for one resource serialized behind that resource's
// lock.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/cache"
	"github.com/friendsincode/skuld/internal/clock"
	"github.com/friendsincode/skuld/internal/conflict"
	"github.com/friendsincode/skuld/internal/events"
	"github.com/friendsincode/skuld/internal/interval"
	"github.com/friendsincode/skuld/internal/ledger"
	"github.com/friendsincode/skuld/internal/models"
	"github.com/friendsincode/skuld/internal/policy"
	"github.com/friendsincode/skuld/internal/telemetry"
)

// DefaultLockWait bounds how long a request waits for a busy
// resource's lock before giving up with ErrLockWait.
const DefaultLockWait = 5 * time.Second

var (
	// ErrResourceNotFound is returned when the target resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrLockWait is returned when a resource's lock could not be
	// acquired within the configured wait. The booking was neither
	// approved nor rejected; callers may retry.
	ErrLockWait = errors.New("timed out waiting for resource lock")
)

// RejectionCode classifies why a booking request was declined.
type RejectionCode string

const (
	RejectInvalidWindow  RejectionCode = "invalid_window"
	RejectAdvanceNotice  RejectionCode = "advance_notice"
	RejectDuration       RejectionCode = "duration"
	RejectOperatingHours RejectionCode = "operating_hours"
	RejectConflict       RejectionCode = "conflict"
)

// Rejection explains a declined request.
type Rejection struct {
	Code           RejectionCode `json:"code"`
	Message        string        `json:"message"`
	ConflictingIDs []string      `json:"conflicting_ids,omitempty"`
}

// Decision is the outcome of a booking request. A rejection is a
// normal outcome, not an error: errors are reserved for storage and
// lock failures where the request's fate is unknown or retryable.
type Decision struct {
	Approved  bool            `json:"approved"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Rejection *Rejection      `json:"rejection,omitempty"`
}

// Config wires the engine's collaborators.
type Config struct {
	DB       *gorm.DB
	Ledger   *ledger.Service
	Index    *conflict.Index
	Cache    *cache.Cache
	Bus      *events.Bus
	Clock    clock.Clock
	LockWait time.Duration
}

// Engine serializes booking mutations per resource and decides
// admission. Safe for concurrent use.
type Engine struct {
	db       *gorm.DB
	ledger   *ledger.Service
	index    *conflict.Index
	cache    *cache.Cache
	bus      *events.Bus
	clock    clock.Clock
	locks    *resourceLocks
	lockWait time.Duration
	logger   zerolog.Logger
}

// New creates the scheduling engine.
func New(cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	return &Engine{
		db:       cfg.DB,
		ledger:   cfg.Ledger,
		index:    cfg.Index,
		cache:    cfg.Cache,
		bus:      cfg.Bus,
		clock:    cfg.Clock,
		locks:    newResourceLocks(),
		lockWait: cfg.LockWait,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Rebuild reloads the conflict index from the ledger's approved
// bookings. Called once at startup before the engine serves requests.
func (e *Engine) Rebuild(ctx context.Context) error {
	entries, err := e.ledger.ApprovedEntries(ctx)
	if err != nil {
		return err
	}
	e.index.Load(entries)

	total := 0
	for _, list := range entries {
		total += len(list)
	}
	e.logger.Info().
		Int("resources", len(entries)).
		Int("bookings", total).
		Msg("conflict index rebuilt")
	return nil
}

// RequestBooking runs the full admission pipeline for one request:
// window validation, policy checks, then the conflict check and ledger
// write under the resource's lock. Policy checks run before the lock
// is taken so obviously bad requests never contend.
func (e *Engine) RequestBooking(ctx context.Context, resourceID, requesterID string, start, end time.Time) (Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "skuld.engine", "RequestBooking")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"resource_id":  resourceID,
		"requester_id": requesterID,
	})

	w, err := interval.New(start, end)
	if err != nil {
		return e.reject(resourceID, requesterID, RejectInvalidWindow, err.Error(), nil), nil
	}

	res, err := e.loadResource(ctx, resourceID)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.BookingRequestsTotal.WithLabelValues("error").Inc()
		return Decision{}, err
	}

	if v := res.Policy().Validate(w, e.clock.Now(), res.Location()); v != nil {
		return e.reject(resourceID, requesterID, violationCode(v.Kind), v.Message, nil), nil
	}

	if err := e.locks.acquire(ctx, resourceID, e.lockWait); err != nil {
		telemetry.RecordError(span, err)
		telemetry.BookingRequestsTotal.WithLabelValues("error").Inc()
		return Decision{}, err
	}
	defer e.locks.release(resourceID)

	if overlaps := e.index.FindOverlaps(resourceID, w); len(overlaps) > 0 {
		ids := make([]string, len(overlaps))
		for i, entry := range overlaps {
			ids[i] = entry.BookingID
		}
		return e.reject(resourceID, requesterID, RejectConflict, "window overlaps an existing booking", ids), nil
	}

	booking, err := e.ledger.Commit(ctx, resourceID, requesterID, w, e.clock.Now())
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.BookingRequestsTotal.WithLabelValues("error").Inc()
		return Decision{}, err
	}
	e.index.Insert(resourceID, booking.ID, w)

	telemetry.BookingRequestsTotal.WithLabelValues("approved").Inc()
	e.publish(events.EventBookingApproved, events.Payload{
		"booking_id":   booking.ID,
		"resource_id":  resourceID,
		"requester_id": requesterID,
		"starts_at":    booking.StartsAt,
		"ends_at":      booking.EndsAt,
	})

	e.logger.Info().
		Str("booking_id", booking.ID).
		Str("resource_id", resourceID).
		Str("requester_id", requesterID).
		Time("starts_at", booking.StartsAt).
		Time("ends_at", booking.EndsAt).
		Msg("booking approved")

	return Decision{Approved: true, Booking: booking}, nil
}

// CancelBooking cancels an approved booking on behalf of actor. The
// requester may cancel their own booking; admins may cancel any. The
// booking's slot frees immediately.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string, actor models.Actor, reason string) (*models.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "skuld.engine", "CancelBooking")
	defer span.End()

	// Resolve the resource first so the mutation happens under that
	// resource's lock. Cancel re-reads the row inside the critical
	// section, so a stale read here is harmless.
	existing, err := e.ledger.Get(ctx, bookingID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if err := e.locks.acquire(ctx, existing.ResourceID, e.lockWait); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer e.locks.release(existing.ResourceID)

	booking, err := e.ledger.Cancel(ctx, bookingID, actor, reason, e.clock.Now())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	e.index.Remove(booking.ResourceID, booking.ID)

	e.publish(events.EventBookingCancelled, events.Payload{
		"booking_id":   booking.ID,
		"resource_id":  booking.ResourceID,
		"cancelled_by": actor.ID,
		"reason":       reason,
	})

	e.logger.Info().
		Str("booking_id", booking.ID).
		Str("resource_id", booking.ResourceID).
		Str("cancelled_by", actor.ID).
		Msg("booking cancelled")

	return booking, nil
}

// CheckAvailability reports whether the window is free on the
// resource. Read-only: no lock is taken and no state changes, so a
// positive answer can be stale by the time a booking is attempted.
func (e *Engine) CheckAvailability(ctx context.Context, resourceID string, start, end time.Time) (bool, []conflict.Entry, error) {
	w, err := interval.New(start, end)
	if err != nil {
		return false, nil, err
	}
	if _, err := e.loadResource(ctx, resourceID); err != nil {
		return false, nil, err
	}
	overlaps := e.index.FindOverlaps(resourceID, w)
	return len(overlaps) == 0, overlaps, nil
}

// GetBooking returns one booking by ID.
func (e *Engine) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return e.ledger.Get(ctx, bookingID)
}

// GetBookings lists a resource's bookings, optionally filtered by status.
func (e *Engine) GetBookings(ctx context.Context, resourceID string, statuses ...models.BookingStatus) ([]models.Booking, error) {
	if _, err := e.loadResource(ctx, resourceID); err != nil {
		return nil, err
	}
	return e.ledger.ListForResource(ctx, resourceID, statuses...)
}

// RunCompletionSweep transitions every approved booking whose window
// has fully elapsed to completed, one resource at a time under that
// resource's lock. A resource whose lock is busy is skipped and caught
// by the next run. Returns the number of bookings completed.
func (e *Engine) RunCompletionSweep(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "skuld.engine", "RunCompletionSweep")
	defer span.End()

	now := e.clock.Now()
	resourceIDs, err := e.ledger.DueCompletionResources(ctx, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}

	total := 0
	for _, resourceID := range resourceIDs {
		if err := e.locks.acquire(ctx, resourceID, e.lockWait); err != nil {
			if errors.Is(err, ErrLockWait) {
				e.logger.Warn().Str("resource_id", resourceID).Msg("sweep skipping busy resource")
				continue
			}
			return total, err
		}

		done, err := e.ledger.SweepResourceCompletions(ctx, resourceID, now)
		e.locks.release(resourceID)
		if err != nil {
			telemetry.RecordError(span, err)
			return total, err
		}

		for _, booking := range done {
			e.index.Remove(resourceID, booking.ID)
			e.publish(events.EventBookingCompleted, events.Payload{
				"booking_id":  booking.ID,
				"resource_id": resourceID,
				"ends_at":     booking.EndsAt,
			})
		}
		total += len(done)
	}

	telemetry.SweepRunsTotal.Inc()
	telemetry.SweepCompletionsTotal.Add(float64(total))

	if total > 0 {
		e.publish(events.EventSweepCompleted, events.Payload{
			"completed": total,
			"swept_at":  now,
		})
		e.logger.Info().Int("completed", total).Msg("completion sweep finished")
	}
	return total, nil
}

// loadResource resolves a resource, reading through the cache when one
// is configured.
func (e *Engine) loadResource(ctx context.Context, resourceID string) (*models.Resource, error) {
	if e.cache != nil {
		if res, ok := e.cache.GetResource(ctx, resourceID); ok {
			return res, nil
		}
	}

	var res models.Resource
	err := e.db.WithContext(ctx).First(&res, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, &ledger.StorageError{Op: "resource lookup", Err: err}
	}

	if e.cache != nil {
		_ = e.cache.SetResource(ctx, &res)
	}
	return &res, nil
}

func (e *Engine) reject(resourceID, requesterID string, code RejectionCode, message string, conflicting []string) Decision {
	telemetry.BookingRequestsTotal.WithLabelValues("rejected").Inc()
	telemetry.BookingRejectionsTotal.WithLabelValues(string(code)).Inc()

	e.publish(events.EventBookingRejected, events.Payload{
		"resource_id":  resourceID,
		"requester_id": requesterID,
		"code":         string(code),
		"message":      message,
	})

	e.logger.Debug().
		Str("resource_id", resourceID).
		Str("requester_id", requesterID).
		Str("code", string(code)).
		Str("message", message).
		Msg("booking rejected")

	return Decision{
		Approved: false,
		Rejection: &Rejection{
			Code:           code,
			Message:        message,
			ConflictingIDs: conflicting,
		},
	}
}

func (e *Engine) publish(eventType events.EventType, payload events.Payload) {
	if e.bus == nil {
		return
	}
	payload["event"] = string(eventType)
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
	e.bus.Publish(eventType, payload)
}

func violationCode(kind policy.ViolationKind) RejectionCode {
	switch kind {
	case policy.ViolationAdvanceNotice:
		return RejectAdvanceNotice
	case policy.ViolationDuration:
		return RejectDuration
	case policy.ViolationOperatingHours:
		return RejectOperatingHours
	default:
		return RejectOperatingHours
	}
}
