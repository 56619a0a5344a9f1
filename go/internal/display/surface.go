// Package display is a read-only countdown surface. It follows one event
// over the socket fanout and keeps its rendering honest with a drift
// detector that falls back to the control API.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/controlapi"
	"github.com/mcdev12/showclock/go/internal/drift"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config configures a Surface
type Config struct {
	BaseURL        string
	EventID        uuid.UUID
	Drift          drift.Config
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

// Surface renders one event's timers.
type Surface struct {
	config   Config
	client   controlapi.TimerControlServiceClient
	detector *drift.Detector
	clock    clockwork.Clock
	dialer   *websocket.Dialer

	mu        sync.RWMutex
	timer     *models.TimerSnapshot
	subs      map[int64]models.SubCueTimerSnapshot
	connected bool
}

// NewSurface creates a surface that talks to the server at config.BaseURL.
func NewSurface(config Config, httpClient connect.HTTPClient, clock clockwork.Clock) *Surface {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnect <= 0 {
		config.MaxReconnect = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	s := &Surface{
		config: config,
		client: controlapi.NewTimerControlServiceClient(httpClient, config.BaseURL),
		clock:  clock,
		dialer: websocket.DefaultDialer,
		subs:   make(map[int64]models.SubCueTimerSnapshot),
	}
	s.detector = drift.NewDetector(config.Drift, drift.FetcherFunc(s.fetch), clock)
	return s
}

// Detector exposes the drift detector, e.g. for status output.
func (s *Surface) Detector() *drift.Detector {
	return s.detector
}

// Run follows the event until ctx is done, reconnecting with backoff.
func (s *Surface) Run(ctx context.Context) error {
	s.detector.Start(ctx)
	defer s.detector.Stop()

	delay := s.config.ReconnectDelay
	for {
		err := s.follow(ctx)
		s.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", delay).Msg("display disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnect {
			delay = s.config.MaxReconnect
		}
	}
}

func (s *Surface) socketURL() (string, error) {
	u, err := url.Parse(s.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	u.RawQuery = url.Values{"event_id": {s.config.EventID.String()}}.Encode()
	return u.String(), nil
}

// follow holds one socket session. The server sends a catch-up snapshot on
// join, so nothing needs to be fetched here.
func (s *Surface) follow(ctx context.Context) error {
	target, err := s.socketURL()
	if err != nil {
		return err
	}
	ws, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	s.setConnected(true)
	log.Info().Str("event_id", s.config.EventID.String()).Msg("display connected")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(data)
	}
}

func (s *Surface) handleMessage(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed message")
		return
	}
	if env.EventID != s.config.EventID {
		return
	}

	switch env.Type {
	case models.MessageTimerUpdated:
		var snap models.TimerSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			log.Warn().Err(err).Msg("bad timer payload")
			return
		}
		s.applyTimer(snap)
	case models.MessageSubCueTimerUpdated:
		var sub models.SubCueTimerSnapshot
		if err := json.Unmarshal(env.Data, &sub); err != nil {
			log.Warn().Err(err).Msg("bad sub-timer payload")
			return
		}
		s.applySubTimer(sub)
	case models.MessageCompletedCuesUpdated, models.MessageRunOfShowDataUpdated:
		log.Debug().Str("type", string(env.Type)).Msg("schedule changed")
	}
}

// applyTimer adopts a pushed main timer. Snapshots older than the current
// one are ignored, which covers a catch-up that lost a race with a newer
// broadcast.
func (s *Surface) applyTimer(snap models.TimerSnapshot) {
	s.mu.Lock()
	if s.timer != nil && snap.Version < s.timer.Version {
		s.mu.Unlock()
		return
	}
	s.timer = &snap
	s.mu.Unlock()

	key := drift.Key{EventID: snap.EventID}
	if snap.State != models.TimerStateRunning {
		s.detector.Unmonitor(key)
		return
	}
	s.track(key, timerReading(snap))
}

func (s *Surface) applySubTimer(sub models.SubCueTimerSnapshot) {
	s.mu.Lock()
	s.subs[sub.ItemID] = sub
	s.mu.Unlock()

	key := drift.Key{EventID: sub.EventID, ItemID: sub.ItemID}
	if !sub.IsRunning {
		s.detector.Unmonitor(key)
		return
	}
	s.track(key, subReading(sub))
}

// track starts monitoring key or, when it is already monitored, corrects it
// with the pushed reading.
func (s *Surface) track(key drift.Key, r drift.Reading) {
	if !s.detector.Monitoring(key) {
		startedAt := s.clock.Now().Add(-r.Elapsed)
		s.detector.Monitor(key, startedAt, r.Duration, s.onSync)
	}
	s.detector.Push(key, r)
}

func (s *Surface) onSync(key drift.Key, r drift.Reading) {
	if !r.Running {
		s.detector.Unmonitor(key)
	}
}

// fetch is the detector's poll path.
func (s *Surface) fetch(ctx context.Context, key drift.Key) (drift.Reading, error) {
	if key.ItemID == 0 {
		resp, err := s.client.GetTimer(ctx, connect.NewRequest(&controlapi.EventRequest{EventID: key.EventID.String()}))
		if err != nil {
			return drift.Reading{}, err
		}
		snap := resp.Msg.Timer
		s.mu.Lock()
		if s.timer == nil || snap.Version >= s.timer.Version {
			s.timer = &snap
		}
		s.mu.Unlock()
		return timerReading(snap), nil
	}

	resp, err := s.client.ListSubTimers(ctx, connect.NewRequest(&controlapi.EventRequest{EventID: key.EventID.String()}))
	if err != nil {
		return drift.Reading{}, err
	}
	for _, sub := range resp.Msg.SubTimers {
		if sub.ItemID == key.ItemID {
			s.mu.Lock()
			s.subs[sub.ItemID] = sub
			s.mu.Unlock()
			return subReading(sub), nil
		}
	}
	return drift.Reading{}, errors.New("sub-timer no longer exists")
}

func timerReading(snap models.TimerSnapshot) drift.Reading {
	return drift.Reading{
		Elapsed:  seconds(snap.ElapsedSeconds),
		Duration: time.Duration(snap.DurationSeconds) * time.Second,
		Running:  snap.State == models.TimerStateRunning,
		Version:  snap.Version,
	}
}

func subReading(sub models.SubCueTimerSnapshot) drift.Reading {
	duration := time.Duration(sub.DurationSeconds) * time.Second
	return drift.Reading{
		Elapsed:  duration - seconds(sub.RemainingSeconds),
		Duration: duration,
		Running:  sub.IsRunning,
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func (s *Surface) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
