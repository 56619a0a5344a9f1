package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string        `yaml:"-"`
	NotifyChannel string        `yaml:"notify_channel"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "showclock_relay",
		PingInterval:  90 * time.Second,
		LoadTimeout:   5 * time.Second,
	}
}

// PayloadLoader fills in the data of a notification that arrived without it.
// NOTIFY payloads are capped at 8000 bytes, so large schedules are sent as a
// bare reference and loaded here.
type PayloadLoader interface {
	LoadPayload(ctx context.Context, eventID uuid.UUID, messageType models.MessageType) (any, error)
}

// notification is the JSON payload written by pg_notify on the relay channel.
type notification struct {
	EventID uuid.UUID          `json:"event_id"`
	Type    models.MessageType `json:"type"`
	Data    json.RawMessage    `json:"data,omitempty"`
}

func parseNotification(extra string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return n, fmt.Errorf("invalid notification payload: %w", err)
	}
	if n.EventID == uuid.Nil {
		return n, fmt.Errorf("notification has no event_id")
	}
	switch n.Type {
	case models.MessageRunOfShowDataUpdated, models.MessageCompletedCuesUpdated:
	default:
		// Timer messages only come from the coordinator.
		return n, fmt.Errorf("notification has unsupported type %q", n.Type)
	}
	if string(n.Data) == "null" {
		n.Data = nil
	}
	return n, nil
}

// listenerConn is the part of pq.Listener the loop uses.
type listenerConn interface {
	Ping() error
	Close() error
}

// PGListener turns Postgres notifications about schedule data and completed
// cues into fanout messages. Those changes are written outside this service.
type PGListener struct {
	conn   listenerConn
	notify <-chan *pq.Notification
	sink   Sink
	loader PayloadLoader
	cfg    ListenerConfig
	clock  clockwork.Clock
}

func NewPGListener(cfg ListenerConfig, sink Sink, loader PayloadLoader, clock clockwork.Clock) (*PGListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return newPGListener(l, l.Notify, cfg, sink, loader, clock), nil
}

func newPGListener(conn listenerConn, notify <-chan *pq.Notification, cfg ListenerConfig, sink Sink, loader PayloadLoader, clock clockwork.Clock) *PGListener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultListenerConfig().PingInterval
	}
	return &PGListener{
		conn:   conn,
		notify: notify,
		sink:   sink,
		loader: loader,
		cfg:    cfg,
		clock:  clock,
	}
}

func (l *PGListener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("listener started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.notify:
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.Chan():
			if err := l.conn.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *PGListener) Stop() error {
	return l.conn.Close()
}

func (l *PGListener) handleNotification(ctx context.Context, extra string) error {
	n, err := parseNotification(extra)
	if err != nil {
		return err
	}
	return relayNotification(ctx, n, l.sink, l.loader, l.cfg.LoadTimeout)
}

func relayNotification(ctx context.Context, n notification, sink Sink, loader PayloadLoader, timeout time.Duration) error {
	if n.Data != nil {
		sink.Publish(n.EventID, n.Type, n.Data)
		return nil
	}
	if loader == nil {
		return fmt.Errorf("notification for event %s has no data and no loader", n.EventID)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	payload, err := loader.LoadPayload(ctx, n.EventID, n.Type)
	if err != nil {
		return fmt.Errorf("failed to load %s payload: %w", n.Type, err)
	}
	sink.Publish(n.EventID, n.Type, payload)

	log.Debug().
		Str("event_id", n.EventID.String()).
		Str("type", string(n.Type)).
		Msg("relayed notification")
	return nil
}
