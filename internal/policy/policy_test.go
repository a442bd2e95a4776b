/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package policy

import (
	"testing"
	"time"

	"github.com/friendsincode/skuld/internal/interval"
)

func window(t *testing.T, start, end time.Time) interval.Window {
	t.Helper()
	w, err := interval.New(start, end)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	return w
}

func standardPolicy() Policy {
	return Policy{
		OpenHour:           8,
		CloseHour:          22,
		MinDurationMinutes: 30,
		MaxDurationHours:   4,
		MinAdvanceHours:    2,
	}
}

func TestValidateAdvanceNotice(t *testing.T) {
	p := standardPolicy()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		want  ViolationKind
	}{
		{"starts in the past", now.Add(-time.Hour), ViolationAdvanceNotice},
		{"inside notice period", now.Add(time.Hour), ViolationAdvanceNotice},
		{"exactly at the boundary", now.Add(2 * time.Hour), ""},
		{"well in advance", now.Add(24 * time.Hour), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := window(t, tt.start, tt.start.Add(time.Hour))
			v := p.Validate(w, now, time.UTC)
			if tt.want == "" {
				if v != nil {
					t.Fatalf("expected no violation, got %v", v)
				}
				return
			}
			if v == nil || v.Kind != tt.want {
				t.Fatalf("expected %s violation, got %v", tt.want, v)
			}
		})
	}
}

func TestValidateDurationBounds(t *testing.T) {
	p := standardPolicy()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		duration time.Duration
		want     ViolationKind
	}{
		{"exactly minimum is accepted", 30 * time.Minute, ""},
		{"one minute under minimum", 29 * time.Minute, ViolationDuration},
		{"exactly maximum is accepted", 4 * time.Hour, ""},
		{"one minute over maximum", 4*time.Hour + time.Minute, ViolationDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := window(t, start, start.Add(tt.duration))
			v := p.Validate(w, now, time.UTC)
			if tt.want == "" {
				if v != nil {
					t.Fatalf("expected accepted, got %v", v)
				}
				return
			}
			if v == nil || v.Kind != tt.want {
				t.Fatalf("expected %s violation, got %v", tt.want, v)
			}
		})
	}
}

func TestValidateOperatingHours(t *testing.T) {
	p := standardPolicy()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  ViolationKind
	}{
		{"starts before opening", at(7, 0), at(8, 30), ViolationOperatingHours},
		{"inside hours", at(9, 0), at(10, 0), ""},
		{"starts exactly at opening", at(8, 0), at(9, 0), ""},
		{"ends exactly at close", at(21, 0), at(22, 0), ""},
		{"ends one minute past close", at(21, 0), at(22, 1), ViolationOperatingHours},
		{"crosses midnight", at(21, 0), at(25, 0), ViolationOperatingHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := window(t, tt.start, tt.end)
			v := p.Validate(w, now, time.UTC)
			if tt.want == "" {
				if v != nil {
					t.Fatalf("expected accepted, got %v", v)
				}
				return
			}
			if v == nil || v.Kind != tt.want {
				t.Fatalf("expected %s violation, got %v", tt.want, v)
			}
		})
	}
}

func TestValidateOperatingHoursUsesResourceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	p := standardPolicy()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// 13:00 UTC is 09:00 in New York during DST: inside 08:00-22:00 local
	// even though a UTC reading of the hour would still pass, the converse
	// case below only works with a real conversion.
	start := time.Date(2026, 6, 2, 13, 0, 0, 0, time.UTC)
	w := window(t, start, start.Add(time.Hour))
	if v := p.Validate(w, now, loc); v != nil {
		t.Fatalf("expected accepted in local hours, got %v", v)
	}

	// 10:00 UTC is 06:00 in New York: before local opening despite being
	// well inside 08:00-22:00 UTC.
	early := time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)
	w = window(t, early, early.Add(time.Hour))
	v := p.Validate(w, now, loc)
	if v == nil || v.Kind != ViolationOperatingHours {
		t.Fatalf("expected operating hours violation in local time, got %v", v)
	}
}

func TestValidate24HourResourceIgnoresHourBounds(t *testing.T) {
	p := standardPolicy()
	p.Open24Hours = true
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	// Crosses midnight and sits outside 08:00-22:00; fine for a 24h resource.
	start := time.Date(2026, 6, 2, 23, 0, 0, 0, time.UTC)
	w := window(t, start, start.Add(2*time.Hour))
	if v := p.Validate(w, now, time.UTC); v != nil {
		t.Fatalf("expected 24h resource to accept, got %v", v)
	}
}

func TestValidateChecksAdvanceNoticeBeforeHours(t *testing.T) {
	p := standardPolicy()
	now := time.Date(2026, 6, 2, 6, 45, 0, 0, time.UTC)

	// Both too soon and outside hours; advance notice is reported first.
	start := time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC)
	w := window(t, start, start.Add(time.Hour))
	v := p.Validate(w, now, time.UTC)
	if v == nil || v.Kind != ViolationAdvanceNotice {
		t.Fatalf("expected advance notice violation first, got %v", v)
	}
}
