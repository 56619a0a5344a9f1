package display

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/mcdev12/showclock/go/internal/drift"
	"github.com/mcdev12/showclock/go/internal/gateway"
	"github.com/mcdev12/showclock/go/internal/models"
)

var t0 = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

type fakeControl struct {
	controlapi.TimerControlServiceHandler
	timer models.TimerSnapshot
	subs  []models.SubCueTimerSnapshot
}

func (f *fakeControl) GetTimer(context.Context, *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.TimerResponse], error) {
	return connect.NewResponse(&controlapi.TimerResponse{Timer: f.timer}), nil
}

func (f *fakeControl) ListSubTimers(context.Context, *connect.Request[controlapi.EventRequest]) (*connect.Response[controlapi.SubTimersResponse], error) {
	return connect.NewResponse(&controlapi.SubTimersResponse{SubTimers: f.subs}), nil
}

func runningTimer(eventID uuid.UUID, version int64, elapsed time.Duration) models.TimerSnapshot {
	item := int64(7)
	started := t0
	timer := models.ActiveTimer{
		EventID:         eventID,
		ItemID:          &item,
		State:           models.TimerStateRunning,
		DurationSeconds: 300,
		StartedAt:       &started,
		Version:         version,
	}
	return timer.Snapshot(t0.Add(elapsed))
}

func newTestServer(t *testing.T, control *fakeControl) (*httptest.Server, *gateway.ConnectionManager) {
	t.Helper()
	cm := gateway.NewConnectionManager(gateway.DefaultConfig(), nil, clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	mux := http.NewServeMux()
	gateway.NewHandler(cm).RegisterRoutes(mux)
	mux.Handle(controlapi.NewTimerControlServiceHandler(control))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, cm
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSurfaceFollowsPushes(t *testing.T) {
	eventID := uuid.New()
	srv, cm := newTestServer(t, &fakeControl{})
	clock := clockwork.NewFakeClockAt(t0.Add(-time.Hour))

	s := NewSurface(Config{BaseURL: srv.URL, EventID: eventID}, srv.Client(), clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	eventually(t, func() bool { return s.View().Connected })
	// The room join happens right after the upgrade; wait for it.
	eventually(t, func() bool { return cm.GetStats().Rooms[eventID.String()].Socket == 1 })

	cm.Publish(eventID, models.MessageTimerUpdated, runningTimer(eventID, 3, 60*time.Second))
	eventually(t, func() bool { return s.View().State == models.TimerStateRunning })

	v := s.View()
	if v.Elapsed != 60*time.Second || v.Remaining != 240*time.Second {
		t.Fatalf("view = %+v", v)
	}
	if !s.Detector().Monitoring(drift.Key{EventID: eventID}) {
		t.Fatal("running timer is not drift monitored")
	}
	if got := v.String(); !strings.Contains(got, "item 7 running  00:04:00 left") {
		t.Fatalf("render = %q", got)
	}

	// A stale snapshot must not roll the display back.
	cm.Publish(eventID, models.MessageTimerUpdated, runningTimer(eventID, 2, 5*time.Second))
	stopped := runningTimer(eventID, 4, 90*time.Second)
	stopped.State = models.TimerStateStopped
	cm.Publish(eventID, models.MessageTimerUpdated, stopped)

	eventually(t, func() bool { return s.View().State == models.TimerStateStopped })
	if v := s.View(); v.Elapsed != 90*time.Second {
		t.Fatalf("view after stop = %+v", v)
	}
	if s.Detector().Monitoring(drift.Key{EventID: eventID}) {
		t.Fatal("stopped timer is still monitored")
	}
}

func TestFetchUsesControlAPI(t *testing.T) {
	eventID := uuid.New()
	control := &fakeControl{
		timer: runningTimer(eventID, 5, 2*time.Minute),
		subs: []models.SubCueTimerSnapshot{{
			SubCueTimer:      models.SubCueTimer{EventID: eventID, ItemID: 8, DurationSeconds: 90, IsRunning: true, IsActive: true},
			RemainingSeconds: 30,
		}},
	}
	srv, _ := newTestServer(t, control)
	s := NewSurface(Config{BaseURL: srv.URL, EventID: eventID}, srv.Client(), clockwork.NewFakeClock())
	ctx := context.Background()

	r, err := s.fetch(ctx, drift.Key{EventID: eventID})
	if err != nil {
		t.Fatalf("fetch timer: %v", err)
	}
	if r.Elapsed != 2*time.Minute || r.Version != 5 || !r.Running {
		t.Fatalf("reading = %+v", r)
	}
	if v := s.View(); v.Remaining != 3*time.Minute {
		t.Fatalf("fetched timer not adopted: %+v", v)
	}

	sub, err := s.fetch(ctx, drift.Key{EventID: eventID, ItemID: 8})
	if err != nil {
		t.Fatalf("fetch sub: %v", err)
	}
	if sub.Elapsed != time.Minute || sub.Duration != 90*time.Second {
		t.Fatalf("sub reading = %+v", sub)
	}

	if _, err := s.fetch(ctx, drift.Key{EventID: eventID, ItemID: 99}); err == nil {
		t.Fatal("expected error for missing sub-timer")
	}
}

func TestSocketURL(t *testing.T) {
	eventID := uuid.New()
	tests := map[string]string{
		"http://localhost:8080":      "ws://localhost:8080/ws/events?event_id=" + eventID.String(),
		"https://clock.example.com/": "wss://clock.example.com/ws/events?event_id=" + eventID.String(),
	}
	for base, want := range tests {
		s := NewSurface(Config{BaseURL: base, EventID: eventID}, http.DefaultClient, clockwork.NewFakeClock())
		got, err := s.socketURL()
		if err != nil || got != want {
			t.Errorf("socketURL(%q) = %q, %v; want %q", base, got, err, want)
		}
	}
}
