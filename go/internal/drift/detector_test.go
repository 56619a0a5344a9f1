package drift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type fakeFetcher struct {
	mu      sync.Mutex
	reading Reading
	err     error
	calls   int
	// during runs inside Fetch, before the reading is returned.
	during func()
}

func (f *fakeFetcher) Fetch(_ context.Context, _ Key) (Reading, error) {
	f.mu.Lock()
	f.calls++
	reading, err, during := f.reading, f.err, f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return reading, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDetector(cfg Config) (*Detector, *fakeFetcher, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC))
	fetcher := &fakeFetcher{}
	return NewDetector(cfg, fetcher, clock), fetcher, clock
}

// ticks feeds n local ticks, as the run loop would.
func ticks(d *Detector, n int) {
	for i := 0; i < n; i++ {
		d.tick()
	}
}

func TestResyncWhenDriftExceedsThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceResync = time.Hour
	d, fetcher, clock := newTestDetector(cfg)
	key := Key{EventID: uuid.New()}

	var synced []Reading
	d.Monitor(key, clock.Now(), 10*time.Minute, func(_ Key, r Reading) { synced = append(synced, r) })

	// The surface was suspended: a minute passed with no ticks.
	clock.Advance(time.Minute)
	fetcher.reading = Reading{Elapsed: 61 * time.Second, Duration: 10 * time.Minute, Running: true, Version: 4}
	d.check(context.Background())

	if fetcher.callCount() != 1 {
		t.Fatalf("fetches = %d, want 1", fetcher.callCount())
	}
	if got, _ := d.Elapsed(key); got != 61*time.Second {
		t.Fatalf("elapsed after resync = %v, want 61s", got)
	}
	if len(synced) != 1 || synced[0].Version != 4 {
		t.Fatalf("synced = %+v", synced)
	}
}

func TestNoResyncWithinThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceResync = time.Hour
	d, fetcher, clock := newTestDetector(cfg)
	key := Key{EventID: uuid.New(), ItemID: 3}
	d.Monitor(key, clock.Now(), 10*time.Minute, nil)

	// Ten seconds of wall time but only two seconds of ticks: 8s of drift.
	clock.Advance(10 * time.Second)
	ticks(d, 8)
	d.check(context.Background())

	if fetcher.callCount() != 0 {
		t.Fatalf("fetches = %d, want 0", fetcher.callCount())
	}
	if got, _ := d.Elapsed(key); got != 2*time.Second {
		t.Fatalf("elapsed = %v, want 2s", got)
	}
}

func TestForcedResyncWithoutDrift(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}
	d.Monitor(key, clock.Now(), 10*time.Minute, nil)

	clock.Advance(29 * time.Second)
	ticks(d, 29*4)
	d.check(context.Background())
	if fetcher.callCount() != 0 {
		t.Fatal("resynced before the forced interval")
	}

	clock.Advance(time.Second)
	ticks(d, 4)
	fetcher.reading = Reading{Elapsed: 30 * time.Second, Running: true}
	d.check(context.Background())
	if fetcher.callCount() != 1 {
		t.Fatalf("fetches = %d, want 1", fetcher.callCount())
	}
}

func TestPushOverridesAndDefersPoll(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}

	var synced int
	d.Monitor(key, clock.Now(), 5*time.Minute, func(Key, Reading) { synced++ })

	clock.Advance(25 * time.Second)
	d.Push(key, Reading{Elapsed: 25 * time.Second, Duration: 6 * time.Minute, Version: 9})
	if got, _ := d.Elapsed(key); got != 25*time.Second {
		t.Fatalf("elapsed after push = %v", got)
	}

	// 25s after the push is still inside the forced interval.
	clock.Advance(25 * time.Second)
	ticks(d, 100)
	d.check(context.Background())
	if fetcher.callCount() != 0 {
		t.Fatalf("poll ran %d times right after a push", fetcher.callCount())
	}

	// An older version is ignored.
	d.Push(key, Reading{Elapsed: time.Second, Version: 8})
	if got, _ := d.Elapsed(key); got != 50*time.Second {
		t.Fatalf("stale push applied: elapsed = %v", got)
	}
	if synced != 1 {
		t.Fatalf("synced = %d, want 1", synced)
	}

	status := d.Status()
	if len(status) != 1 || status[0].Remaining != 310*time.Second {
		t.Fatalf("status = %+v", status)
	}
}

func TestResyncFailureLeavesProjection(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}
	d.Monitor(key, clock.Now(), time.Hour, nil)

	clock.Advance(time.Minute)
	ticks(d, 40)
	fetcher.err = errors.New("connection refused")
	d.check(context.Background())

	if got, _ := d.Elapsed(key); got != 10*time.Second {
		t.Fatalf("elapsed = %v, want untouched 10s", got)
	}
	if st := d.Status(); st[0].SinceSync != time.Minute || st[0].Drift != 50*time.Second {
		t.Fatalf("status = %+v", st)
	}
}

func TestUnmonitorStopsFetching(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}
	d.Monitor(key, clock.Now(), time.Hour, nil)
	d.Unmonitor(key)

	clock.Advance(time.Hour)
	d.check(context.Background())
	if fetcher.callCount() != 0 || d.Monitoring(key) {
		t.Fatal("unmonitored timer was fetched")
	}
}

func TestUnmonitorDuringFetchDiscardsResult(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}

	var synced int
	d.Monitor(key, clock.Now(), time.Hour, func(Key, Reading) { synced++ })
	fetcher.reading = Reading{Elapsed: time.Minute}
	fetcher.during = func() { d.Unmonitor(key) }

	clock.Advance(time.Minute)
	d.check(context.Background())
	if synced != 0 || d.Monitoring(key) {
		t.Fatalf("synced = %d after unmonitor", synced)
	}
}

func TestShortTimersExempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDuration = time.Minute
	d, _, clock := newTestDetector(cfg)
	key := Key{EventID: uuid.New()}

	d.Monitor(key, clock.Now(), 30*time.Second, nil)
	if d.Monitoring(key) {
		t.Fatal("short timer should not be monitored")
	}
}

func TestMonitorMidRun(t *testing.T) {
	d, _, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}

	d.Monitor(key, clock.Now().Add(-90*time.Second), 5*time.Minute, nil)
	if got, _ := d.Elapsed(key); got != 90*time.Second {
		t.Fatalf("elapsed = %v, want 90s", got)
	}
}

func TestRunLoopResyncs(t *testing.T) {
	d, fetcher, clock := newTestDetector(DefaultConfig())
	key := Key{EventID: uuid.New()}
	d.Monitor(key, clock.Now(), time.Hour, nil)
	fetcher.reading = Reading{Elapsed: 30 * time.Second, Running: true}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("tickers not started: %v", err)
	}
	clock.Advance(30 * time.Second)

	for fetcher.callCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("no resync within one check interval")
		case <-time.After(5 * time.Millisecond):
		}
	}
	d.Stop()
	// A tick buffered behind the check may still land after the resync.
	if got, _ := d.Elapsed(key); got < 30*time.Second || got > 30*time.Second+DefaultConfig().Tick {
		t.Fatalf("elapsed = %v, want 30s", got)
	}
}
