// Package timers holds the user's timer collection and the active selection,
// and keeps the auto-generated holiday countdown current.
package timers

import (
	"time"
)

// Type discriminates timer records.
type Type string

const (
	Countdown  Type = "countdown"
	Stopwatch  Type = "stopwatch"
	WorldClock Type = "worldclock"
)

// DefaultID is the id of the auto-generated holiday countdown.
const DefaultID = "default"

// Record is one timer. Field names match the stored JSON document.
type Record struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            Type      `json:"type,omitempty"`
	Color           string    `json:"color,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	IsAutoGenerated bool      `json:"isAutoGenerated"`

	// countdown
	TargetDate *time.Time `json:"targetDate,omitempty"`

	// stopwatch
	StartTime *time.Time `json:"startTime,omitempty"`
	IsRunning bool       `json:"isRunning,omitempty"`

	// worldclock, timezone also set on the default countdown
	Timezone string `json:"timezone,omitempty"`
	City     string `json:"city,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Kind returns the record type, reading an absent type as countdown.
func (r Record) Kind() Type {
	if r.Type == "" {
		return Countdown
	}
	return r.Type
}

// IsCountdown reports whether r is a countdown.
func (r Record) IsCountdown() bool {
	return r.Kind() == Countdown
}

// FiresAfter reports whether r is a countdown whose target is after now.
func (r Record) FiresAfter(now time.Time) bool {
	return r.IsCountdown() && r.TargetDate != nil && r.TargetDate.After(now)
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Name       *string
	Type       *Type
	Color      *string
	TargetDate *time.Time
	StartTime  *time.Time
	IsRunning  *bool
	Timezone   *string
	City       *string
	Country    *string
}

func (p Patch) apply(r *Record) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Color != nil {
		r.Color = *p.Color
	}
	if p.TargetDate != nil {
		t := *p.TargetDate
		r.TargetDate = &t
	}
	if p.StartTime != nil {
		t := *p.StartTime
		r.StartTime = &t
	}
	if p.IsRunning != nil {
		r.IsRunning = *p.IsRunning
	}
	if p.Timezone != nil {
		r.Timezone = *p.Timezone
	}
	if p.City != nil {
		r.City = *p.City
	}
	if p.Country != nil {
		r.Country = *p.Country
	}
}

// Snapshot is the whole-document form pushed to and pulled from the remote store.
type Snapshot struct {
	Timers        []Record `json:"timers"`
	ActiveTimerID string   `json:"activeTimerId,omitempty"`
}
