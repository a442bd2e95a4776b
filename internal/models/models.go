package models

import (
	"time"

	"github.com/friendsincode/skuld/internal/interval"
	"github.com/friendsincode/skuld/internal/policy"
)

// BookingStatus is the closed set of booking lifecycle states. A
// booking is created approved; approved is the only non-terminal state.
type BookingStatus string

const (
	BookingApproved  BookingStatus = "approved"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Only approved -> cancelled and approved -> completed exist.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s != BookingApproved {
		return false
	}
	return next == BookingCancelled || next == BookingCompleted
}

// Valid reports whether s is one of the known states.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingApproved, BookingCancelled, BookingCompleted:
		return true
	}
	return false
}

// Booking is one reservation of a resource for a half-open UTC window.
// Bookings are never hard-deleted; cancelled and completed rows remain
// for history and audit.
type Booking struct {
	ID          string        `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceID  string        `gorm:"type:uuid;index:idx_bookings_resource;not null" json:"resource_id"`
	RequesterID string        `gorm:"type:uuid;index:idx_bookings_requester;not null" json:"requester_id"`
	StartsAt    time.Time     `gorm:"index:idx_bookings_window;not null" json:"starts_at"`
	EndsAt      time.Time     `gorm:"index:idx_bookings_window;not null" json:"ends_at"`
	Status      BookingStatus `gorm:"type:varchar(16);index:idx_bookings_status;not null" json:"status"`

	// Cancellation audit fields; empty unless Status is cancelled.
	CancelledBy  *string `gorm:"type:uuid" json:"cancelled_by,omitempty"`
	CancelReason string  `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Window returns the booking interval as a value type.
func (b *Booking) Window() interval.Window {
	return interval.Window{Start: b.StartsAt.UTC(), End: b.EndsAt.UTC()}
}

// Resource is a bookable asset. It owns its operating policy and the
// IANA time zone used for wall-clock hour checks.
type Resource struct {
	ID          string `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Timezone    string `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`

	// Operating policy. OpenHour/CloseHour are local wall-clock hours,
	// ignored when Open24Hours is set.
	OpenHour           int  `gorm:"not null;default:0" json:"open_hour"`
	CloseHour          int  `gorm:"not null;default:23" json:"close_hour"`
	Open24Hours        bool `gorm:"not null;default:false" json:"open_24_hours"`
	MinDurationMinutes int  `gorm:"not null;default:30" json:"min_duration_minutes"`
	MaxDurationHours   int  `gorm:"not null;default:8" json:"max_duration_hours"`
	MinAdvanceHours    int  `gorm:"not null;default:0" json:"min_advance_hours"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Policy materializes the resource's operating policy value.
func (r *Resource) Policy() policy.Policy {
	return policy.Policy{
		OpenHour:           r.OpenHour,
		CloseHour:          r.CloseHour,
		Open24Hours:        r.Open24Hours,
		MinDurationMinutes: r.MinDurationMinutes,
		MaxDurationHours:   r.MaxDurationHours,
		MinAdvanceHours:    r.MinAdvanceHours,
	}
}

// Location resolves the resource's time zone, falling back to UTC when
// unset or unknown.
func (r *Resource) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Actor identifies who performs a mutating operation. Authorization is
// assumed done upstream; the engine only checks ownership vs admin.
type Actor struct {
	ID    string `json:"id"`
	Admin bool   `json:"admin"`
}

// MayCancel reports whether the actor may cancel a booking requested
// by requesterID: the requester themselves, or any admin.
func (a Actor) MayCancel(requesterID string) bool {
	return a.Admin || (a.ID != "" && a.ID == requesterID)
}
