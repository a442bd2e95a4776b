/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval provides the half-open time window value type used
// for all booking arithmetic.
package interval

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned when a window would be empty or inverted.
var ErrInvalidWindow = errors.New("invalid window: start must be before end")

// Window is a half-open UTC interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// New constructs a Window from two instants, normalized to UTC.
// Fails with ErrInvalidWindow unless start < end.
func New(start, end time.Time) (Window, error) {
	if !start.Before(end) {
		return Window{}, ErrInvalidWindow
	}
	return Window{Start: start.UTC(), End: end.UTC()}, nil
}

// Overlaps reports whether two half-open windows intersect.
// Touching endpoints do not overlap: [10:00, 11:00) and [11:00, 12:00)
// are disjoint.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether the instant t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// DurationMinutes returns the window length in whole minutes.
func (w Window) DurationMinutes() int {
	return int(w.Duration().Minutes())
}

// IsZero reports whether the window is the zero value.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// String renders the window in RFC 3339 for logs and messages.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
