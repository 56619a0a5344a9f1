package timer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StartSubTimer starts the secondary countdown attached to a cue. A
// non-positive duration falls back to the item's nominal duration.
func (a *App) StartSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64, durationSeconds int, actor models.Actor) (*models.SubCueTimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}
	item, err := a.lookupItem(ctx, eventID, itemID)
	if err != nil {
		return nil, err
	}
	if durationSeconds <= 0 {
		durationSeconds = item.NominalSeconds()
	}
	if durationSeconds > MaxDurationSeconds {
		return nil, fmt.Errorf("duration %ds exceeds %ds: %w", durationSeconds, MaxDurationSeconds, ErrValidation)
	}

	ctx, unlock, err := a.lockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, exists, err := a.loadSubTimer(ctx, eventID, itemID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	started := now
	next := models.SubCueTimer{
		EventID:         eventID,
		ItemID:          itemID,
		DurationSeconds: durationSeconds,
		IsRunning:       true,
		IsActive:        true,
		StartedAt:       &started,
		LastModifiedBy:  actor.ID,
		UpdatedAt:       now,
	}
	desc := fmt.Sprintf("Started sub-timer for cue %s", displayCue(item))
	return a.commitSubTimer(ctx, cur, exists, next, actor, desc)
}

// StopSubTimer stops one sub-timer, or every running sub-timer of the event
// when itemID is nil. Stopping a stopped sub-timer is a no-op.
func (a *App) StopSubTimer(ctx context.Context, eventID uuid.UUID, itemID *int64, actor models.Actor) ([]models.SubCueTimerSnapshot, error) {
	if err := validateCommand(eventID, actor); err != nil {
		return nil, err
	}

	ctx, unlock, err := a.lockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var targets []models.SubCueTimer
	if itemID != nil {
		cur, exists, err := a.loadSubTimer(ctx, eventID, *itemID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("sub-timer for item %d: %w", *itemID, ErrNotFound)
		}
		targets = append(targets, cur)
	} else {
		all, err := a.repo.ListSubTimers(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
		targets = all
	}

	now := a.clock.Now()
	out := make([]models.SubCueTimerSnapshot, 0, len(targets))
	for _, cur := range targets {
		if !cur.IsRunning && !cur.IsActive {
			if itemID != nil {
				out = append(out, cur.Snapshot(now))
			}
			continue
		}
		next := cur
		next.IsRunning = false
		next.IsActive = false
		next.StartedAt = nil
		next.LastModifiedBy = actor.ID
		next.UpdatedAt = now

		desc := fmt.Sprintf("Stopped sub-timer for item %d", cur.ItemID)
		snap, err := a.commitSubTimer(ctx, cur, true, next, actor, desc)
		if err != nil {
			return out, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

// ListSubTimers returns every sub-timer of the event.
func (a *App) ListSubTimers(ctx context.Context, eventID uuid.UUID) ([]models.SubCueTimer, error) {
	if eventID == uuid.Nil {
		return nil, fmt.Errorf("event id is required: %w", ErrValidation)
	}
	subs, err := a.repo.ListSubTimers(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return subs, nil
}

// commitSubTimer must be called with the event lock held.
func (a *App) commitSubTimer(ctx context.Context, cur models.SubCueTimer, exists bool, next models.SubCueTimer, actor models.Actor, description string) (*models.SubCueTimerSnapshot, error) {
	if err := a.repo.UpsertSubTimer(ctx, next); err != nil {
		log.Error().
			Err(err).
			Str("event_id", next.EventID.String()).
			Int64("item_id", next.ItemID).
			Msg("failed to persist sub-timer")
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	var before any
	if exists {
		before = cur
	}
	recordID := fmt.Sprintf("%s:%d", next.EventID, next.ItemID)
	a.record(ctx, newEntry(next.EventID, actor, exists, subCueTimersTable, recordID, description, before, next))

	snap := next.Snapshot(next.UpdatedAt)
	a.broadcaster.Publish(next.EventID, models.MessageSubCueTimerUpdated, snap)

	log.Info().
		Str("event_id", next.EventID.String()).
		Int64("item_id", next.ItemID).
		Bool("running", next.IsRunning).
		Str("actor", actor.ID).
		Msg(description)
	return &snap, nil
}

func (a *App) loadSubTimer(ctx context.Context, eventID uuid.UUID, itemID int64) (models.SubCueTimer, bool, error) {
	sub, err := a.repo.GetSubTimer(ctx, eventID, itemID)
	if err != nil {
		if errors.Is(err, ErrTimerNotFound) {
			return models.SubCueTimer{EventID: eventID, ItemID: itemID}, false, nil
		}
		return models.SubCueTimer{}, false, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return *sub, true, nil
}
