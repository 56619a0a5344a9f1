package controlapi

import "github.com/mcdev12/showclock/go/internal/models"

// EventRequest addresses a whole event: start, stop, reset and reads.
type EventRequest struct {
	EventID string       `json:"eventId"`
	Actor   models.Actor `json:"actor"`
}

type LoadCueRequest struct {
	EventID string       `json:"eventId"`
	ItemID  int64        `json:"itemId"`
	Actor   models.Actor `json:"actor"`
}

type AdjustDurationRequest struct {
	EventID      string       `json:"eventId"`
	DeltaSeconds int          `json:"deltaSeconds"`
	Actor        models.Actor `json:"actor"`
}

// StartSubTimerRequest starts a sub-timer. DurationSeconds <= 0 uses the
// cue's scheduled duration.
type StartSubTimerRequest struct {
	EventID         string       `json:"eventId"`
	ItemID          int64        `json:"itemId"`
	DurationSeconds int          `json:"durationSeconds"`
	Actor           models.Actor `json:"actor"`
}

// StopSubTimerRequest stops one sub-timer, or all of them when ItemID is nil.
type StopSubTimerRequest struct {
	EventID string       `json:"eventId"`
	ItemID  *int64       `json:"itemId,omitempty"`
	Actor   models.Actor `json:"actor"`
}

// ScheduleRequest reads the cues of one show day. Day 0 returns every day.
type ScheduleRequest struct {
	EventID string `json:"eventId"`
	Day     int    `json:"day"`
}

type TimerResponse struct {
	Timer models.TimerSnapshot `json:"timer"`
}

type SubTimerResponse struct {
	SubTimer models.SubCueTimerSnapshot `json:"subTimer"`
}

type SubTimersResponse struct {
	SubTimers []models.SubCueTimerSnapshot `json:"subTimers"`
}

type ScheduleResponse struct {
	Items []models.ScheduleItem `json:"items"`
}
