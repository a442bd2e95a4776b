/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package policy validates booking windows against per-resource
// operating rules. All checks are pure value computations: the caller
// injects the reference time and the resource's location, so results
// are fully deterministic and testable.
package policy

import (
	"fmt"
	"time"

	"github.com/friendsincode/skuld/internal/interval"
)

// ViolationKind enumerates the policy rules a window can break.
type ViolationKind string

const (
	ViolationAdvanceNotice  ViolationKind = "advance_notice"
	ViolationDuration       ViolationKind = "duration"
	ViolationOperatingHours ViolationKind = "operating_hours"
)

// Violation describes one broken rule with enough detail for the
// caller to render an actionable message.
type Violation struct {
	Kind    ViolationKind  `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", v.Kind, v.Message)
}

// Policy holds the operating rules for one resource. Hours are in the
// resource's local time zone; stored instants stay UTC and conversion
// happens only inside Validate.
type Policy struct {
	OpenHour           int  // 0-23, inclusive lower bound on local start
	CloseHour          int  // 0-23, window must end at or before this hour
	Open24Hours        bool // when true, hour bounds are ignored
	MinDurationMinutes int
	MaxDurationHours   int
	MinAdvanceHours    int
}

// Validate checks a window against the policy. It returns nil when the
// window is acceptable, or the first violation found, in the order:
// advance notice, duration, operating hours.
func (p Policy) Validate(w interval.Window, now time.Time, loc *time.Location) *Violation {
	if v := p.checkAdvanceNotice(w, now); v != nil {
		return v
	}
	if v := p.checkDuration(w); v != nil {
		return v
	}
	return p.checkOperatingHours(w, loc)
}

func (p Policy) checkAdvanceNotice(w interval.Window, now time.Time) *Violation {
	earliest := now.Add(time.Duration(p.MinAdvanceHours) * time.Hour)
	if w.Start.Before(earliest) {
		return &Violation{
			Kind: ViolationAdvanceNotice,
			Message: fmt.Sprintf("booking must start at least %d hours from now (earliest allowed start is %s)",
				p.MinAdvanceHours, earliest.UTC().Format(time.RFC3339)),
			Details: map[string]any{
				"min_advance_hours": p.MinAdvanceHours,
				"earliest_start":    earliest.UTC(),
				"requested_start":   w.Start,
			},
		}
	}
	return nil
}

func (p Policy) checkDuration(w interval.Window) *Violation {
	minutes := w.DurationMinutes()
	maxMinutes := p.MaxDurationHours * 60
	if minutes < p.MinDurationMinutes {
		return &Violation{
			Kind: ViolationDuration,
			Message: fmt.Sprintf("booking of %d minutes is shorter than the %d minute minimum",
				minutes, p.MinDurationMinutes),
			Details: map[string]any{
				"duration_minutes": minutes,
				"min_minutes":      p.MinDurationMinutes,
			},
		}
	}
	if maxMinutes > 0 && minutes > maxMinutes {
		return &Violation{
			Kind: ViolationDuration,
			Message: fmt.Sprintf("booking of %d minutes exceeds the %d hour maximum",
				minutes, p.MaxDurationHours),
			Details: map[string]any{
				"duration_minutes": minutes,
				"max_hours":        p.MaxDurationHours,
			},
		}
	}
	return nil
}

// checkOperatingHours converts the window endpoints to the resource's
// wall clock and requires the whole window inside [OpenHour, CloseHour].
// A window ending exactly at the close hour is allowed. A window that
// crosses local midnight cannot fit inside a same-day hour range, so it
// is rejected outright unless the resource is 24-hour.
func (p Policy) checkOperatingHours(w interval.Window, loc *time.Location) *Violation {
	if p.Open24Hours {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	localStart := w.Start.In(loc)
	localEnd := w.End.In(loc)

	if localStart.Year() != localEnd.Year() || localStart.YearDay() != localEnd.YearDay() {
		return p.hoursViolation(localStart, localEnd, "booking crosses midnight")
	}

	opens := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), p.OpenHour, 0, 0, 0, loc)
	closes := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), p.CloseHour, 0, 0, 0, loc)

	if localStart.Before(opens) {
		return p.hoursViolation(localStart, localEnd, "booking starts before opening time")
	}
	if localEnd.After(closes) {
		return p.hoursViolation(localStart, localEnd, "booking ends after closing time")
	}
	return nil
}

func (p Policy) hoursViolation(localStart, localEnd time.Time, reason string) *Violation {
	return &Violation{
		Kind: ViolationOperatingHours,
		Message: fmt.Sprintf("%s: resource operates %02d:00-%02d:00 local time, requested %s to %s",
			reason, p.OpenHour, p.CloseHour,
			localStart.Format("15:04"), localEnd.Format("15:04")),
		Details: map[string]any{
			"open_hour":   p.OpenHour,
			"close_hour":  p.CloseHour,
			"local_start": localStart.Format(time.RFC3339),
			"local_end":   localEnd.Format(time.RFC3339),
		},
	}
}
