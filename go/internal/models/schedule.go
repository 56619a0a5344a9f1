package models

import "github.com/google/uuid"

// ScheduleItem is one cue of an event's run of show. Owned by the schedule store.
type ScheduleItem struct {
	ID              int64     `json:"id"`
	EventID         uuid.UUID `json:"event_id"`
	Cue             string    `json:"cue"`
	Segment         string    `json:"segment_name,omitempty"`
	DurationHours   int       `json:"duration_hours"`
	DurationMinutes int       `json:"duration_minutes"`
	DurationSeconds int       `json:"duration_seconds"`
	Indented        bool      `json:"is_indented"`
	Day             int       `json:"day"`
}

// NominalSeconds normalizes the h/m/s duration to total seconds.
func (i ScheduleItem) NominalSeconds() int {
	total := i.DurationHours*3600 + i.DurationMinutes*60 + i.DurationSeconds
	if total < 0 {
		return 0
	}
	return total
}
