package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/mcdev12/showclock/go/internal/timer"
)

type memoryTimers struct {
	mu     sync.Mutex
	timers map[uuid.UUID]models.ActiveTimer
}

func (m *memoryTimers) GetTimer(_ context.Context, eventID uuid.UUID) (*models.ActiveTimer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[eventID]
	if !ok {
		return nil, timer.ErrTimerNotFound
	}
	return &t, nil
}

func (m *memoryTimers) UpsertTimer(_ context.Context, t models.ActiveTimer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[t.EventID] = t
	return nil
}

func (m *memoryTimers) GetSubTimer(context.Context, uuid.UUID, int64) (*models.SubCueTimer, error) {
	return nil, timer.ErrTimerNotFound
}

func (m *memoryTimers) UpsertSubTimer(context.Context, models.SubCueTimer) error {
	return nil
}

func (m *memoryTimers) ListSubTimers(context.Context, uuid.UUID) ([]models.SubCueTimer, error) {
	return nil, nil
}

type fiveMinuteCues struct{}

func (fiveMinuteCues) GetItem(_ context.Context, eventID uuid.UUID, itemID int64) (*models.ScheduleItem, error) {
	return &models.ScheduleItem{ID: itemID, EventID: eventID, Cue: "1", DurationMinutes: 5, Day: 1}, nil
}

// listener collects the timer versions one surface received.
type listener struct {
	name string
	next func() (models.Envelope, error)
}

func (l listener) versionsUntil(t *testing.T, last int64) []int64 {
	t.Helper()
	var versions []int64
	for {
		env, err := l.next()
		if err != nil {
			t.Fatalf("%s: %v after versions %v", l.name, err, versions)
		}
		if env.Type != models.MessageTimerUpdated {
			continue
		}
		var snap models.TimerSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			t.Fatalf("%s: decode: %v", l.name, err)
		}
		versions = append(versions, snap.Version)
		if snap.Version >= last {
			return versions
		}
	}
}

func dialSocket(t *testing.T, base string, eventID uuid.UUID, name string) listener {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/ws/events?event_id=" + eventID.String()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return listener{name: name, next: func() (models.Envelope, error) {
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		var env models.Envelope
		err := ws.ReadJSON(&env)
		return env, err
	}}
}

func openStream(t *testing.T, base string, eventID uuid.UUID, name string) listener {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/events/"+eventID.String()+"/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	reader := bufio.NewReader(resp.Body)
	return listener{name: name, next: func() (models.Envelope, error) {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return models.Envelope{}, err
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var env models.Envelope
				err := json.Unmarshal([]byte(data), &env)
				return env, err
			}
		}
	}}
}

func TestEveryListenerSeesCommitOrder(t *testing.T) {
	var app *timer.App
	cm := NewConnectionManager(testConfig(), SnapshotFunc(func(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error) {
		return app.Snapshot(ctx, eventID)
	}), clockwork.NewRealClock())
	app = timer.NewApp(&memoryTimers{timers: make(map[uuid.UUID]models.ActiveTimer)}, fiveMinuteCues{}, nil, cm, clockwork.NewRealClock())
	srv := startServer(t, cm)
	eventID := uuid.New()
	actor := models.Actor{ID: "op-1", Name: "Stage Manager", Role: "OPERATOR"}

	listeners := []listener{
		dialSocket(t, srv.URL, eventID, "socket-1"),
		dialSocket(t, srv.URL, eventID, "socket-2"),
		openStream(t, srv.URL, eventID, "stream-1"),
		openStream(t, srv.URL, eventID, "stream-2"),
	}
	// Every surface has joined once it got its catch-up of the idle timer.
	for _, l := range listeners {
		if got := l.versionsUntil(t, 0); len(got) != 1 || got[0] != 0 {
			t.Fatalf("%s catch-up versions = %v", l.name, got)
		}
	}

	ctx := context.Background()
	if _, err := app.LoadCue(ctx, eventID, 7, actor); err != nil {
		t.Fatalf("load: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := app.Start(ctx, eventID, actor); err != nil && !errors.Is(err, timer.ErrInvalidState) {
				t.Errorf("start: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := app.AdjustDuration(ctx, eventID, 1, actor); err != nil {
				t.Errorf("adjust: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := app.GetTimer(ctx, eventID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, l := range listeners {
		got := l.versionsUntil(t, final.Version)
		if int64(len(got)) != final.Version {
			t.Fatalf("%s received %d timers for %d commits: %v", l.name, len(got), final.Version, got)
		}
		for i, v := range got {
			if v != int64(i+1) {
				t.Fatalf("%s received versions out of order: %v", l.name, got)
			}
		}
	}
}
