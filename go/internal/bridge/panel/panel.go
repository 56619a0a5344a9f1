// Package panel adapts a polling hardware control surface to the control
// API. It keeps a copy of the last polled timer and schedule day, and
// projects the timer forward between polls.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	MinPollInterval     = 5 * time.Second
	MaxPollInterval     = 600 * time.Second
	DefaultPollInterval = 5 * time.Second
)

var (
	// ErrUnsupportedAdjust is returned for adjust steps other than ±1 and ±5
	// minutes.
	ErrUnsupportedAdjust = errors.New("adjust must be ±1 or ±5 minutes")
	// ErrUnknownCue is returned when a cue label is not in the polled day.
	ErrUnknownCue = errors.New("cue not in schedule")
)

// Config configures a Panel
type Config struct {
	EventID        uuid.UUID
	Day            int
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Actor          models.Actor
}

// ClampPollInterval bounds d to [MinPollInterval, MaxPollInterval]; zero
// selects the default.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// Panel polls the authoritative timer and forwards button presses.
type Panel struct {
	client controlapi.TimerControlServiceClient
	config Config
	clock  clockwork.Clock

	mu       sync.RWMutex
	last     *models.TimerSnapshot
	polledAt time.Time
	items    []models.ScheduleItem
	lastErr  error
}

// New creates a Panel. The poll interval is clamped.
func New(client controlapi.TimerControlServiceClient, config Config, clock clockwork.Clock) *Panel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	config.PollInterval = ClampPollInterval(config.PollInterval)
	if config.Day <= 0 {
		config.Day = 1
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if config.Actor.ID == "" {
		config.Actor = models.Actor{ID: "panel", Name: "Control Panel", Role: "OPERATOR"}
	}
	return &Panel{client: client, config: config, clock: clock}
}

// PollInterval returns the effective poll interval.
func (p *Panel) PollInterval() time.Duration {
	return p.config.PollInterval
}

// Run polls immediately and then every PollInterval until ctx is done.
// Poll failures are logged and kept for Variables.
func (p *Panel) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			p.pollAndLog(ctx)
		}
	}
}

func (p *Panel) pollAndLog(ctx context.Context) {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("event_id", p.config.EventID.String()).Msg("panel poll failed")
	}
}

// Poll fetches the schedule day and the timer once.
func (p *Panel) Poll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	sched, err := p.client.ListScheduleItems(ctx, connect.NewRequest(&controlapi.ScheduleRequest{
		EventID: p.config.EventID.String(),
		Day:     p.config.Day,
	}))
	if err != nil {
		p.setError(err)
		return fmt.Errorf("poll schedule: %w", err)
	}
	p.mu.Lock()
	p.items = sched.Msg.Items
	p.mu.Unlock()

	resp, err := p.client.GetTimer(ctx, connect.NewRequest(&controlapi.EventRequest{
		EventID: p.config.EventID.String(),
	}))
	if err != nil {
		p.setError(err)
		return fmt.Errorf("poll timer: %w", err)
	}
	p.store(&resp.Msg.Timer)
	return nil
}

// Items returns the last polled schedule day in schedule order.
func (p *Panel) Items() []models.ScheduleItem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.ScheduleItem(nil), p.items...)
}

// LoadCueLabel loads the item whose cue label matches cue in the polled day.
func (p *Panel) LoadCueLabel(ctx context.Context, cue string) error {
	want := strings.ToUpper(strings.TrimSpace(cue))
	for _, item := range p.Items() {
		if strings.ToUpper(strings.TrimSpace(item.Cue)) == want {
			return p.LoadCue(ctx, item.ID)
		}
	}
	return fmt.Errorf("%w: %q on day %d", ErrUnknownCue, cue, p.config.Day)
}

// LoadCue loads a schedule item.
func (p *Panel) LoadCue(ctx context.Context, itemID int64) error {
	return p.do(ctx, "load cue", func(ctx context.Context) (*connect.Response[controlapi.TimerResponse], error) {
		return p.client.LoadCue(ctx, connect.NewRequest(&controlapi.LoadCueRequest{
			EventID: p.config.EventID.String(),
			ItemID:  itemID,
			Actor:   p.config.Actor,
		}))
	})
}

func (p *Panel) Start(ctx context.Context) error {
	return p.do(ctx, "start", func(ctx context.Context) (*connect.Response[controlapi.TimerResponse], error) {
		return p.client.StartTimer(ctx, connect.NewRequest(p.eventRequest()))
	})
}

func (p *Panel) Stop(ctx context.Context) error {
	return p.do(ctx, "stop", func(ctx context.Context) (*connect.Response[controlapi.TimerResponse], error) {
		return p.client.StopTimer(ctx, connect.NewRequest(p.eventRequest()))
	})
}

func (p *Panel) Reset(ctx context.Context) error {
	return p.do(ctx, "reset", func(ctx context.Context) (*connect.Response[controlapi.TimerResponse], error) {
		return p.client.ResetTimer(ctx, connect.NewRequest(p.eventRequest()))
	})
}

// AdjustMinutes nudges the loaded duration by ±1 or ±5 minutes.
func (p *Panel) AdjustMinutes(ctx context.Context, minutes int) error {
	switch minutes {
	case -5, -1, 1, 5:
	default:
		return fmt.Errorf("%w: got %d", ErrUnsupportedAdjust, minutes)
	}
	return p.do(ctx, "adjust", func(ctx context.Context) (*connect.Response[controlapi.TimerResponse], error) {
		return p.client.AdjustDuration(ctx, connect.NewRequest(&controlapi.AdjustDurationRequest{
			EventID:      p.config.EventID.String(),
			DeltaSeconds: minutes * 60,
			Actor:        p.config.Actor,
		}))
	})
}

func (p *Panel) eventRequest() *controlapi.EventRequest {
	return &controlapi.EventRequest{EventID: p.config.EventID.String(), Actor: p.config.Actor}
}

// do runs an action and adopts the returned timer so the panel does not wait
// for the next poll.
func (p *Panel) do(ctx context.Context, action string, call func(context.Context) (*connect.Response[controlapi.TimerResponse], error)) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	resp, err := call(ctx)
	if err != nil {
		log.Info().Err(err).Str("action", action).Msg("panel action rejected")
		return fmt.Errorf("%s: %w", action, err)
	}
	p.store(&resp.Msg.Timer)
	return nil
}

func (p *Panel) store(snap *models.TimerSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && snap.Version < p.last.Version {
		return
	}
	p.last = snap
	p.polledAt = p.clock.Now()
	p.lastErr = nil
}

func (p *Panel) setError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

// Timer returns the last known timer projected to now, or nil before the
// first successful poll. The projection runs on server time offset by how
// long ago the snapshot was taken, so local clock skew does not matter.
func (p *Panel) Timer() *models.TimerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	at := p.last.ServerTime.Add(p.clock.Since(p.polledAt))
	snap := p.last.ActiveTimer.Snapshot(at)
	return &snap
}

// Variables returns the values a control surface shows on its buttons.
func (p *Panel) Variables() map[string]string {
	p.mu.RLock()
	connected := p.lastErr == nil && p.last != nil
	items := p.items
	p.mu.RUnlock()

	vars := map[string]string{
		"connected":       yesNo(connected),
		"state":           string(models.TimerStateIdle),
		"current_cue":     "",
		"current_cue_id":  "",
		"current_segment": "",
		"next_cue":        "",
		"next_segment":    "",
		"cue_count":       strconv.Itoa(len(items)),
		"timer_running":   "No",
		"remaining":       formatClock(0),
		"elapsed":         formatClock(0),
		"overtime":        formatClock(0),
	}
	snap := p.Timer()
	if snap == nil {
		return vars
	}
	vars["state"] = string(snap.State)
	if snap.ItemID != nil {
		id := *snap.ItemID
		vars["current_cue_id"] = strconv.FormatInt(id, 10)
		vars["current_cue"] = vars["current_cue_id"]
		for i, item := range items {
			if item.ID != id {
				continue
			}
			if item.Cue != "" {
				vars["current_cue"] = item.Cue
			}
			vars["current_segment"] = item.Segment
			if i+1 < len(items) {
				vars["next_cue"] = items[i+1].Cue
				vars["next_segment"] = items[i+1].Segment
			}
			break
		}
	}
	vars["timer_running"] = yesNo(snap.State == models.TimerStateRunning)
	vars["remaining"] = formatClock(snap.RemainingSeconds)
	vars["elapsed"] = formatClock(snap.ElapsedSeconds)
	vars["overtime"] = formatClock(snap.OvertimeSeconds)
	return vars
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// formatClock renders whole seconds as HH:MM:SS.
func formatClock(seconds float64) string {
	s := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
