package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/mcdev12/showclock/go/internal/schedule"
	"github.com/rs/zerolog/log"
)

const (
	activeTimersTable = "active_timers"
	subCueTimersTable = "sub_cue_timers"

	// MaxAdjustSeconds bounds a single duration adjustment.
	MaxAdjustSeconds = 24 * 60 * 60
	// MaxDurationSeconds is the largest duration the timer store holds.
	MaxDurationSeconds = math.MaxInt32

	maxCommitAttempts = 3
)

// TimerRepository defines what the timer app needs from the timer store
type TimerRepository interface {
	GetTimer(ctx context.Context, eventID uuid.UUID) (*models.ActiveTimer, error)
	UpsertTimer(ctx context.Context, timer models.ActiveTimer) error
	GetSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64) (*models.SubCueTimer, error)
	UpsertSubTimer(ctx context.Context, sub models.SubCueTimer) error
	ListSubTimers(ctx context.Context, eventID uuid.UUID) ([]models.SubCueTimer, error)
}

// ScheduleReader defines what the timer app needs from the schedule store
type ScheduleReader interface {
	GetItem(ctx context.Context, eventID uuid.UUID, itemID int64) (*models.ScheduleItem, error)
}

// ChangeRecorder accepts committed changes for the audit trail. Append must
// not block on I/O.
type ChangeRecorder interface {
	Append(ctx context.Context, entry models.ChangeLogEntry) error
}

// EventLocker serializes mutations of one event across processes. Store
// calls made with the returned context run under the lock; release frees it.
type EventLocker interface {
	LockEvent(ctx context.Context, eventID uuid.UUID) (locked context.Context, release func(), err error)
}

// Broadcaster hands a committed snapshot to a fanout. Publish must not block.
type Broadcaster interface {
	Publish(eventID uuid.UUID, messageType models.MessageType, payload any)
}

// Broadcasters publishes to every member in order.
type Broadcasters []Broadcaster

func (bs Broadcasters) Publish(eventID uuid.UUID, messageType models.MessageType, payload any) {
	for _, b := range bs {
		b.Publish(eventID, messageType, payload)
	}
}

// App is the mutation coordinator. Every mutation of one event runs under
// that event's lock; different events proceed in parallel.
type App struct {
	repo        TimerRepository
	schedule    ScheduleReader
	recorder    ChangeRecorder
	broadcaster Broadcaster
	clock       clockwork.Clock
	locks       *keyedMutex
	locker      EventLocker
}

// NewApp creates a new timer App
func NewApp(repo TimerRepository, schedule ScheduleReader, recorder ChangeRecorder, broadcaster Broadcaster, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = Broadcasters{}
	}
	return &App{
		repo:        repo,
		schedule:    schedule,
		recorder:    recorder,
		broadcaster: broadcaster,
		clock:       clock,
		locks:       newKeyedMutex(),
	}
}

// WithLocker makes every mutation also hold locker's lock for the event, so
// several instances sharing one store do not interleave read-modify-writes.
func (a *App) WithLocker(locker EventLocker) *App {
	a.locker = locker
	return a
}

// transition computes the next timer from the current one. changed=false
// means the command was already satisfied and nothing is written.
type transition func(cur models.ActiveTimer, now time.Time) (next models.ActiveTimer, changed bool, err error)

// LoadCue loads a schedule item into the event's timer.
func (a *App) LoadCue(ctx context.Context, eventID uuid.UUID, itemID int64, actor models.Actor) (*models.TimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	item, err := a.lookupItem(ctx, eventID, itemID)
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("Loaded cue %s", displayCue(item))
	return a.commitTimer(ctx, eventID, actor, desc, func(cur models.ActiveTimer, now time.Time) (models.ActiveTimer, bool, error) {
		next := cur
		id := item.ID
		next.ItemID = &id
		next.State = models.TimerStateLoaded
		next.DurationSeconds = item.NominalSeconds()
		next.AccumulatedSeconds = 0
		next.StartedAt = nil
		return next, true, nil
	})
}

// Start runs the loaded timer. Starting a running timer is a no-op.
func (a *App) Start(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	return a.commitTimer(ctx, eventID, actor, "Started timer", func(cur models.ActiveTimer, now time.Time) (models.ActiveTimer, bool, error) {
		switch cur.State {
		case models.TimerStateRunning:
			return cur, false, nil
		case models.TimerStateIdle:
			return cur, false, fmt.Errorf("cannot start timer with no cue loaded: %w", ErrInvalidState)
		}
		next := cur
		started := now
		next.State = models.TimerStateRunning
		next.StartedAt = &started
		return next, true, nil
	})
}

// Stop banks the current run segment and pauses the timer.
func (a *App) Stop(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	return a.commitTimer(ctx, eventID, actor, "Stopped timer", func(cur models.ActiveTimer, now time.Time) (models.ActiveTimer, bool, error) {
		if cur.State != models.TimerStateRunning {
			return cur, false, fmt.Errorf("cannot stop timer in state %s: %w", cur.State, ErrInvalidState)
		}
		next := cur
		next.AccumulatedSeconds = cur.Elapsed(now).Seconds()
		next.State = models.TimerStateStopped
		next.StartedAt = nil
		return next, true, nil
	})
}

// Reset returns the timer to Idle from any state.
func (a *App) Reset(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.TimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	return a.commitTimer(ctx, eventID, actor, "Reset timer", func(cur models.ActiveTimer, now time.Time) (models.ActiveTimer, bool, error) {
		next := models.IdleTimer(cur.EventID)
		next.Version = cur.Version
		return next, true, nil
	})
}

// AdjustDuration adds deltaSeconds to the duration, clamped at zero.
func (a *App) AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.TimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	if deltaSeconds > MaxAdjustSeconds || deltaSeconds < -MaxAdjustSeconds {
		return nil, fmt.Errorf("adjustment of %ds exceeds %ds: %w", deltaSeconds, MaxAdjustSeconds, ErrValidation)
	}
	desc := fmt.Sprintf("Adjusted duration by %+ds", deltaSeconds)
	return a.commitTimer(ctx, eventID, actor, desc, func(cur models.ActiveTimer, now time.Time) (models.ActiveTimer, bool, error) {
		if cur.State == models.TimerStateIdle {
			return cur, false, fmt.Errorf("cannot adjust timer with no cue loaded: %w", ErrInvalidState)
		}
		total := int64(cur.DurationSeconds) + int64(deltaSeconds)
		if total > MaxDurationSeconds {
			return cur, false, fmt.Errorf("duration %ds exceeds %ds: %w", total, MaxDurationSeconds, ErrValidation)
		}
		next := cur
		next.DurationSeconds = int(max(0, total))
		if next.DurationSeconds == cur.DurationSeconds {
			return cur, false, nil
		}
		return next, true, nil
	})
}

// GetTimer returns the event's timer. An event that never had a timer is Idle.
func (a *App) GetTimer(ctx context.Context, eventID uuid.UUID) (*models.ActiveTimer, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("event id is required: %w", ErrValidation)
	}
	t, _, err := a.loadTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Snapshot returns the timer projected at the server's current time.
func (a *App) Snapshot(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error) {
	t, err := a.GetTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot(a.clock.Now())
	return &snap, nil
}

func (a *App) commitTimer(ctx context.Context, eventID uuid.UUID, actor models.Actor, description string, fn transition) (*models.TimerSnapshot, error) {
	ctx, unlock, err := a.lockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		snap, err := a.tryCommitTimer(ctx, eventID, actor, description, fn)
		if errors.Is(err, ErrVersionConflict) && attempt < maxCommitAttempts {
			log.Warn().
				Str("event_id", eventID.String()).
				Int("attempt", attempt).
				Msg("timer changed by another writer, reapplying")
			continue
		}
		return snap, err
	}
}

// tryCommitTimer applies fn to the stored timer once. The write only lands
// if nobody else committed since the read.
func (a *App) tryCommitTimer(ctx context.Context, eventID uuid.UUID, actor models.Actor, description string, fn transition) (*models.TimerSnapshot, error) {
	cur, exists, err := a.loadTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	next, changed, err := fn(cur, now)
	if err != nil {
		log.Debug().Err(err).Str("event_id", eventID.String()).Msg("timer command rejected")
		return nil, err
	}
	if !changed {
		snap := cur.Snapshot(now)
		return &snap, nil
	}

	next.EventID = eventID
	next.Version = cur.Version + 1
	next.LastModifiedBy = actor.ID
	next.LastModifiedAt = now

	if err := a.repo.UpsertTimer(ctx, next); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to persist timer")
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	var before any
	if exists {
		before = cur
	}
	a.record(ctx, newEntry(eventID, actor, exists, activeTimersTable, eventID.String(), description, before, next))

	snap := next.Snapshot(now)
	a.broadcaster.Publish(eventID, models.MessageTimerUpdated, snap)

	log.Info().
		Str("event_id", eventID.String()).
		Str("state", string(next.State)).
		Int64("version", next.Version).
		Str("actor", actor.ID).
		Msg(description)
	return &snap, nil
}

// lockEvent takes the in-process lock and then the shared one, if any.
// Store calls must use the returned context.
func (a *App) lockEvent(ctx context.Context, eventID uuid.UUID) (context.Context, func(), error) {
	unlock := a.locks.Lock(eventID)
	if a.locker == nil {
		return ctx, unlock, nil
	}
	locked, release, err := a.locker.LockEvent(ctx, eventID)
	if err != nil {
		unlock()
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to lock event")
		return nil, nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return locked, func() {
		release()
		unlock()
	}, nil
}

func (a *App) loadTimer(ctx context.Context, eventID uuid.UUID) (models.ActiveTimer, bool, error) {
	t, err := a.repo.GetTimer(ctx, eventID)
	if err != nil {
		if errors.Is(err, ErrTimerNotFound) {
			return models.IdleTimer(eventID), false, nil
		}
		return models.ActiveTimer{}, false, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return *t, true, nil
}

func (a *App) lookupItem(ctx context.Context, eventID uuid.UUID, itemID int64) (*models.ScheduleItem, error) {
	if itemID <= 0 {
		return nil, fmt.Errorf("item id must be positive: %w", ErrValidation)
	}
	item, err := a.schedule.GetItem(ctx, eventID, itemID)
	if err != nil {
		if errors.Is(err, schedule.ErrItemNotFound) {
			return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return item, nil
}

// record hands the entry to the recorder. A failed append never rolls back
// the committed write.
func (a *App) record(ctx context.Context, entry models.ChangeLogEntry) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.Append(ctx, entry); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", entry.EventID.String()).
			Str("table", entry.SubjectTable).
			Msg("failed to append change log entry")
	}
}

func newEntry(eventID uuid.UUID, actor models.Actor, exists bool, table, recordID, description string, before, after any) models.ChangeLogEntry {
	action := models.ChangeActionUpdate
	if !exists {
		action = models.ChangeActionCreate
	}
	return models.ChangeLogEntry{
		EventID:      eventID,
		ActorID:      actor.ID,
		ActorName:    actor.Name,
		ActorRole:    actor.Role,
		Action:       action,
		SubjectTable: table,
		SubjectID:    recordID,
		OldValue:     rawJSON(before),
		NewValue:     rawJSON(after),
		Description:  description,
	}
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func validateCommand(eventID uuid.UUID, actor models.Actor) error {
	if eventID == uuid.Nil {
		return fmt.Errorf("event id is required: %w", ErrValidation)
	}
	if actor.ID == "" {
		return fmt.Errorf("actor id is required: %w", ErrValidation)
	}
	return nil
}

func displayCue(item *models.ScheduleItem) string {
	if item.Cue != "" {
		return item.Cue
	}
	return "#" + strconv.FormatInt(item.ID, 10)
}
