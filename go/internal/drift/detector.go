// Package drift keeps locally rendered countdowns honest. A surface counts
// time on its own ticks; the detector periodically compares that count with
// wall time and overwrites it with the server's value when they diverge or
// when too long has passed since the last sync.
package drift

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Key identifies a monitored timer. ItemID is 0 for an event's main timer.
type Key struct {
	EventID uuid.UUID
	ItemID  int64
}

// Reading is the authoritative state of a timer at the moment it was read.
type Reading struct {
	Elapsed  time.Duration
	Duration time.Duration
	Running  bool
	// Version orders readings; zero means unknown and is always accepted.
	Version int64
}

// Fetcher reads the authoritative timer for a key.
type Fetcher interface {
	Fetch(ctx context.Context, key Key) (Reading, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key Key) (Reading, error)

func (f FetcherFunc) Fetch(ctx context.Context, key Key) (Reading, error) {
	return f(ctx, key)
}

// SyncFunc receives every correction applied to a timer.
type SyncFunc func(key Key, reading Reading)

// Config holds detector tunables
type Config struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	MaxDrift      time.Duration `yaml:"max_drift"`
	ForceResync   time.Duration `yaml:"force_resync"`
	Tick          time.Duration `yaml:"tick"`
	ResyncTimeout time.Duration `yaml:"resync_timeout"`
	// MinDuration exempts shorter timers from monitoring. Zero monitors all.
	MinDuration time.Duration `yaml:"min_duration"`
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		MaxDrift:      30 * time.Second,
		ForceResync:   30 * time.Second,
		Tick:          250 * time.Millisecond,
		ResyncTimeout: 5 * time.Second,
	}
}

type monitored struct {
	// startedAt is rebased onto the local clock on every sync.
	startedAt    time.Time
	duration     time.Duration
	localElapsed time.Duration
	lastSyncAt   time.Time
	version      int64
	onSync       SyncFunc
}

// Detector monitors any number of timers for one surface.
type Detector struct {
	config  Config
	fetcher Fetcher
	clock   clockwork.Clock

	mu     sync.Mutex
	timers map[Key]*monitored

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDetector creates a detector. Zero config fields take their defaults.
func NewDetector(config Config, fetcher Fetcher, clock clockwork.Clock) *Detector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	defaults := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.MaxDrift <= 0 {
		config.MaxDrift = defaults.MaxDrift
	}
	if config.ForceResync <= 0 {
		config.ForceResync = defaults.ForceResync
	}
	if config.Tick <= 0 {
		config.Tick = defaults.Tick
	}
	if config.ResyncTimeout <= 0 {
		config.ResyncTimeout = defaults.ResyncTimeout
	}
	return &Detector{
		config:  config,
		fetcher: fetcher,
		clock:   clock,
		timers:  make(map[Key]*monitored),
	}
}

// Monitor starts tracking a running timer that started at startedAt. The
// local projection begins at the time already elapsed since then.
func (d *Detector) Monitor(key Key, startedAt time.Time, duration time.Duration, onSync SyncFunc) {
	if duration < d.config.MinDuration {
		log.Debug().
			Str("event_id", key.EventID.String()).
			Int64("item_id", key.ItemID).
			Dur("duration", duration).
			Msg("timer too short for drift monitoring")
		return
	}

	now := d.clock.Now()
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	d.mu.Lock()
	d.timers[key] = &monitored{
		startedAt:    startedAt,
		duration:     duration,
		localElapsed: elapsed,
		lastSyncAt:   now,
		onSync:       onSync,
	}
	d.mu.Unlock()

	log.Debug().
		Str("event_id", key.EventID.String()).
		Int64("item_id", key.ItemID).
		Msg("drift monitoring started")
}

// Unmonitor stops tracking key. No further fetches are made for it.
func (d *Detector) Unmonitor(key Key) {
	d.mu.Lock()
	delete(d.timers, key)
	d.mu.Unlock()
}

// Monitoring reports whether key is tracked.
func (d *Detector) Monitoring(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}

// Elapsed returns the local projection for key.
func (d *Detector) Elapsed(key Key) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.timers[key]
	if !ok {
		return 0, false
	}
	return m.localElapsed, true
}

// Push applies a value that arrived by broadcast. It takes effect at once
// and resets the forced-resync interval.
func (d *Detector) Push(key Key, reading Reading) {
	d.mu.Lock()
	m, ok := d.timers[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	applied := d.applyLocked(m, reading)
	onSync := m.onSync
	d.mu.Unlock()

	if applied && onSync != nil {
		onSync(key, reading)
	}
}

// applyLocked overwrites the local projection. It returns false for a
// reading older than the one already applied.
func (d *Detector) applyLocked(m *monitored, r Reading) bool {
	if r.Version != 0 && r.Version < m.version {
		return false
	}
	now := d.clock.Now()
	m.startedAt = now.Add(-r.Elapsed)
	m.localElapsed = r.Elapsed
	if r.Duration > 0 {
		m.duration = r.Duration
	}
	m.lastSyncAt = now
	if r.Version != 0 {
		m.version = r.Version
	}
	return true
}

// Start runs the tick and check loops until ctx is done or Stop is called.
func (d *Detector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.run(ctx)
	}()
}

// Stop halts the loops and waits for them to exit.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Detector) run(ctx context.Context) {
	tick := d.clock.NewTicker(d.config.Tick)
	defer tick.Stop()
	check := d.clock.NewTicker(d.config.CheckInterval)
	defer check.Stop()

	log.Debug().
		Dur("check_interval", d.config.CheckInterval).
		Dur("max_drift", d.config.MaxDrift).
		Msg("drift detector started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			d.tick()
		case <-check.Chan():
			d.check(ctx)
		}
	}
}

// tick advances every projection by one tick. Ticks that never arrive are
// never counted, which is exactly the drift the check corrects.
func (d *Detector) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.timers {
		m.localElapsed += d.config.Tick
	}
}

// check resyncs every timer whose projection has drifted past MaxDrift or
// whose last sync is older than ForceResync.
func (d *Detector) check(ctx context.Context) {
	now := d.clock.Now()

	var due []Key
	d.mu.Lock()
	for key, m := range d.timers {
		expected := now.Sub(m.startedAt)
		if absDur(expected-m.localElapsed) > d.config.MaxDrift || now.Sub(m.lastSyncAt) >= d.config.ForceResync {
			due = append(due, key)
		}
	}
	d.mu.Unlock()

	for _, key := range due {
		d.resync(ctx, key)
	}
}

// resync fetches the authoritative value for key. Failures leave the
// projection untouched and are retried on a later check.
func (d *Detector) resync(ctx context.Context, key Key) {
	d.mu.Lock()
	m, ok := d.timers[key]
	d.mu.Unlock()
	if !ok {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.config.ResyncTimeout)
	defer cancel()

	reading, err := d.fetcher.Fetch(fetchCtx, key)
	if err != nil {
		log.Debug().
			Err(err).
			Str("event_id", key.EventID.String()).
			Int64("item_id", key.ItemID).
			Msg("drift resync failed")
		return
	}

	d.mu.Lock()
	// Unmonitored or re-monitored while the fetch was in flight.
	if d.timers[key] != m {
		d.mu.Unlock()
		return
	}
	drift := absDur(reading.Elapsed - m.localElapsed)
	applied := d.applyLocked(m, reading)
	onSync := m.onSync
	d.mu.Unlock()

	if !applied {
		return
	}
	log.Debug().
		Str("event_id", key.EventID.String()).
		Int64("item_id", key.ItemID).
		Dur("drift", drift).
		Msg("timer resynced")
	if onSync != nil {
		onSync(key, reading)
	}
}

// Status describes one monitored timer
type Status struct {
	Key       Key           `json:"key"`
	Drift     time.Duration `json:"drift"`
	SinceSync time.Duration `json:"since_sync"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Status reports every monitored timer, ordered by event then item.
func (d *Detector) Status() []Status {
	now := d.clock.Now()
	d.mu.Lock()
	out := make([]Status, 0, len(d.timers))
	for key, m := range d.timers {
		remaining := m.duration - m.localElapsed
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Status{
			Key:       key,
			Drift:     absDur(now.Sub(m.startedAt) - m.localElapsed),
			SinceSync: now.Sub(m.lastSyncAt),
			Elapsed:   m.localElapsed,
			Remaining: remaining,
		})
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.EventID != b.EventID {
			return a.EventID.String() < b.EventID.String()
		}
		return a.ItemID < b.ItemID
	})
	return out
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
