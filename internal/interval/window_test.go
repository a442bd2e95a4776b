/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package interval

import (
	"errors"
	"testing"
	"time"
)

func mustWindow(t *testing.T, start, end time.Time) Window {
	t.Helper()
	w, err := New(start, end)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	return w
}

func TestNewRejectsInvertedAndEmptyWindows(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		valid bool
	}{
		{"start before end", base, base.Add(time.Hour), true},
		{"equal endpoints", base, base, false},
		{"inverted", base.Add(time.Hour), base, false},
		{"one second", base, base.Add(time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.start, tt.end)
			if tt.valid && err != nil {
				t.Fatalf("expected valid window, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidWindow) {
				t.Fatalf("expected ErrInvalidWindow, got %v", err)
			}
		})
	}
}

func TestNewNormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, loc)
	w := mustWindow(t, start, start.Add(time.Hour))
	if w.Start.Location() != time.UTC {
		t.Fatalf("expected UTC start, got %v", w.Start.Location())
	}
	if !w.Start.Equal(start) {
		t.Fatal("UTC normalization changed the instant")
	}
}

func TestOverlapsHalfOpenSemantics(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		name    string
		a, b    Window
		overlap bool
	}{
		{
			name:    "touching endpoints do not conflict",
			a:       mustWindow(t, at(10, 0), at(11, 0)),
			b:       mustWindow(t, at(11, 0), at(12, 0)),
			overlap: false,
		},
		{
			name:    "partial overlap",
			a:       mustWindow(t, at(10, 0), at(11, 0)),
			b:       mustWindow(t, at(10, 30), at(11, 30)),
			overlap: true,
		},
		{
			name:    "containment",
			a:       mustWindow(t, at(9, 0), at(12, 0)),
			b:       mustWindow(t, at(10, 0), at(11, 0)),
			overlap: true,
		},
		{
			name:    "identical windows",
			a:       mustWindow(t, at(10, 0), at(11, 0)),
			b:       mustWindow(t, at(10, 0), at(11, 0)),
			overlap: true,
		},
		{
			name:    "disjoint",
			a:       mustWindow(t, at(8, 0), at(9, 0)),
			b:       mustWindow(t, at(14, 0), at(15, 0)),
			overlap: false,
		},
		{
			name:    "one minute of overlap",
			a:       mustWindow(t, at(10, 0), at(11, 1)),
			b:       mustWindow(t, at(11, 0), at(12, 0)),
			overlap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.overlap {
				t.Fatalf("a.Overlaps(b) = %v, want %v", got, tt.overlap)
			}
			// Overlap is symmetric.
			if got := tt.b.Overlaps(tt.a); got != tt.overlap {
				t.Fatalf("b.Overlaps(a) = %v, want %v", got, tt.overlap)
			}
		})
	}
}

func TestDurationMinutes(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := mustWindow(t, start, start.Add(90*time.Minute))
	if got := w.DurationMinutes(); got != 90 {
		t.Fatalf("DurationMinutes() = %d, want 90", got)
	}
}

func TestContains(t *testing.T) {
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	w := mustWindow(t, start, start.Add(time.Hour))

	if !w.Contains(start) {
		t.Fatal("window should contain its start")
	}
	if w.Contains(start.Add(time.Hour)) {
		t.Fatal("window should not contain its exclusive end")
	}
	if !w.Contains(start.Add(59 * time.Minute)) {
		t.Fatal("window should contain interior instant")
	}
}
