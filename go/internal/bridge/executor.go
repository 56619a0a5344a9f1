package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrNoEvent means a timer command arrived before /set-event.
var ErrNoEvent = errors.New("no event selected")

// OSCActor attributes bridge-originated changes in the change log.
var OSCActor = models.Actor{ID: "osc", Name: "OSC", Role: "OSC"}

// TimerController is the slice of the mutation coordinator the bridge drives.
type TimerController interface {
	LoadCue(ctx context.Context, eventID uuid.UUID, itemID int64, actor models.Actor) (*models.TimerSnapshot, error)
	Start(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	Stop(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	Reset(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error)
	AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.TimerSnapshot, error)
	StartSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64, durationSeconds int, actor models.Actor) (*models.SubCueTimerSnapshot, error)
	StopSubTimer(ctx context.Context, eventID uuid.UUID, itemID *int64, actor models.Actor) ([]models.SubCueTimerSnapshot, error)
}

// CueResolver maps a cue label to its schedule item.
type CueResolver interface {
	FindItemByCue(ctx context.Context, eventID uuid.UUID, day int, cue string) (*models.ScheduleItem, error)
}

// Executor applies decoded commands. Its only state is the current
// event and day selection.
type Executor struct {
	timers TimerController
	cues   CueResolver
	actor  models.Actor

	mu      sync.RWMutex
	eventID uuid.UUID
	day     int
}

// NewExecutor creates an Executor with day 1 selected and no event.
func NewExecutor(timers TimerController, cues CueResolver, actor models.Actor) *Executor {
	if actor.ID == "" {
		actor = OSCActor
	}
	return &Executor{
		timers: timers,
		cues:   cues,
		actor:  actor,
		day:    1,
	}
}

// Select sets the event selection directly, e.g. from configuration.
func (e *Executor) Select(eventID uuid.UUID, day int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventID = eventID
	if day > 0 {
		e.day = day
	}
}

// Selection returns the selected event and day.
func (e *Executor) Selection() (uuid.UUID, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.eventID, e.day
}

// Execute applies cmd to the selected event.
func (e *Executor) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case SetEvent:
		e.mu.Lock()
		e.eventID = c.EventID
		e.mu.Unlock()
		log.Info().Str("event_id", c.EventID.String()).Msg("bridge event selected")
		return nil
	case SetDay:
		e.mu.Lock()
		e.day = c.Day
		e.mu.Unlock()
		log.Info().Int("day", c.Day).Msg("bridge day selected")
		return nil
	}

	eventID, day := e.Selection()
	if eventID == uuid.Nil {
		return ErrNoEvent
	}

	var err error
	switch c := cmd.(type) {
	case LoadCue:
		var item *models.ScheduleItem
		if item, err = e.resolve(ctx, eventID, day, c.Label); err == nil {
			_, err = e.timers.LoadCue(ctx, eventID, item.ID, e.actor)
		}
	case LoadItem:
		_, err = e.timers.LoadCue(ctx, eventID, c.ItemID, e.actor)
	case StartTimer:
		_, err = e.timers.Start(ctx, eventID, e.actor)
	case StopTimer:
		_, err = e.timers.Stop(ctx, eventID, e.actor)
	case ResetTimer:
		_, err = e.timers.Reset(ctx, eventID, e.actor)
	case AdjustDuration:
		_, err = e.timers.AdjustDuration(ctx, eventID, c.DeltaSeconds, e.actor)
	case StartSubTimer:
		var item *models.ScheduleItem
		if item, err = e.resolve(ctx, eventID, day, c.Label); err == nil {
			_, err = e.timers.StartSubTimer(ctx, eventID, item.ID, 0, e.actor)
		}
	case StopSubTimer:
		var itemID *int64
		if c.Label != "" {
			item, rerr := e.resolve(ctx, eventID, day, c.Label)
			if rerr != nil {
				return rerr
			}
			itemID = &item.ID
		}
		_, err = e.timers.StopSubTimer(ctx, eventID, itemID, e.actor)
	default:
		return fmt.Errorf("%w: unsupported command %T", ErrValidation, cmd)
	}
	return err
}

func (e *Executor) resolve(ctx context.Context, eventID uuid.UUID, day int, label string) (*models.ScheduleItem, error) {
	item, err := e.cues.FindItemByCue(ctx, eventID, day, label)
	if err != nil {
		return nil, fmt.Errorf("resolve cue %q on day %d: %w", label, day, err)
	}
	return item, nil
}
