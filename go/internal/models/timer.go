package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerState defines the lifecycle state of an event's active timer.
type TimerState string

const (
	TimerStateIdle    TimerState = "IDLE"
	TimerStateLoaded  TimerState = "LOADED"
	TimerStateRunning TimerState = "RUNNING"
	TimerStateStopped TimerState = "STOPPED"
)

// Valid reports whether s is a known timer state.
func (s TimerState) Valid() bool {
	switch s {
	case TimerStateIdle, TimerStateLoaded, TimerStateRunning, TimerStateStopped:
		return true
	}
	return false
}

// Actor identifies who issued a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ActiveTimer is the single primary countdown of an event.
type ActiveTimer struct {
	EventID            uuid.UUID  `json:"event_id"`
	ItemID             *int64     `json:"item_id"`
	State              TimerState `json:"state"`
	DurationSeconds    int        `json:"duration_seconds"`
	StartedAt          *time.Time `json:"started_at"`
	AccumulatedSeconds float64    `json:"accumulated_seconds"`
	Version            int64      `json:"version"`
	LastModifiedBy     string     `json:"last_modified_by"`
	LastModifiedAt     time.Time  `json:"last_modified_at"`
}

// IdleTimer returns the zero state of an event that never loaded a cue.
func IdleTimer(eventID uuid.UUID) ActiveTimer {
	return ActiveTimer{
		EventID: eventID,
		State:   TimerStateIdle,
	}
}

// Elapsed returns the banked run time plus the current run segment.
func (t ActiveTimer) Elapsed(now time.Time) time.Duration {
	elapsed := time.Duration(t.AccumulatedSeconds * float64(time.Second))
	if t.State == TimerStateRunning && t.StartedAt != nil {
		if segment := now.Sub(*t.StartedAt); segment > 0 {
			elapsed += segment
		}
	}
	return elapsed
}

// Remaining returns the countdown value, clamped at zero.
func (t ActiveTimer) Remaining(now time.Time) time.Duration {
	remaining := time.Duration(t.DurationSeconds)*time.Second - t.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Overtime returns how far elapsed time has run past the duration.
func (t ActiveTimer) Overtime(now time.Time) time.Duration {
	over := t.Elapsed(now) - time.Duration(t.DurationSeconds)*time.Second
	if over < 0 {
		return 0
	}
	return over
}

// Snapshot projects the timer at now.
func (t ActiveTimer) Snapshot(now time.Time) TimerSnapshot {
	return TimerSnapshot{
		ActiveTimer:      t,
		ElapsedSeconds:   t.Elapsed(now).Seconds(),
		RemainingSeconds: t.Remaining(now).Seconds(),
		OvertimeSeconds:  t.Overtime(now).Seconds(),
		ServerTime:       now,
	}
}

// TimerSnapshot is an ActiveTimer together with its projection at ServerTime.
// It is the payload of every timerUpdated broadcast and control API reply.
type TimerSnapshot struct {
	ActiveTimer
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	OvertimeSeconds  float64   `json:"overtime_seconds"`
	ServerTime       time.Time `json:"server_time"`
}

// SubCueTimer is a secondary countdown attached to one cue.
type SubCueTimer struct {
	EventID         uuid.UUID  `json:"event_id"`
	ItemID          int64      `json:"item_id"`
	DurationSeconds int        `json:"duration_seconds"`
	IsRunning       bool       `json:"is_running"`
	IsActive        bool       `json:"is_active"`
	StartedAt       *time.Time `json:"started_at"`
	LastModifiedBy  string     `json:"last_modified_by"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Remaining returns the sub-timer countdown at now, clamped at zero.
func (s SubCueTimer) Remaining(now time.Time) time.Duration {
	total := time.Duration(s.DurationSeconds) * time.Second
	if !s.IsRunning || s.StartedAt == nil {
		return total
	}
	remaining := total - now.Sub(*s.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot projects the sub-timer at now.
func (s SubCueTimer) Snapshot(now time.Time) SubCueTimerSnapshot {
	return SubCueTimerSnapshot{
		SubCueTimer:      s,
		RemainingSeconds: s.Remaining(now).Seconds(),
		ServerTime:       now,
	}
}

// SubCueTimerSnapshot is the payload of subCueTimerUpdated broadcasts.
type SubCueTimerSnapshot struct {
	SubCueTimer
	RemainingSeconds float64   `json:"remaining_seconds"`
	ServerTime       time.Time `json:"server_time"`
}
