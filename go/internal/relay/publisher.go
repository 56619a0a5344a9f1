package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxAge          time.Duration `yaml:"max_age"` // How long to keep messages
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	QueueSize       int           `yaml:"queue_size"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "SHOWCLOCK_EVENTS",
		SubjectPrefix:   "showclock.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		QueueSize:       1024,
		PublishTimeout:  5 * time.Second,
	}
}

// msgPublisher is the part of jetstream.JetStream the publisher uses.
type msgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type pending struct {
	eventID     uuid.UUID
	messageType models.MessageType
	payload     any
	at          time.Time
}

// Publisher forwards committed changes to JetStream. Publish only enqueues;
// Run sends in enqueue order.
type Publisher struct {
	nc     *nats.Conn
	js     msgPublisher
	config JetStreamConfig
	origin string
	clock  clockwork.Clock

	queue   chan pending
	dropped atomic.Int64
}

func connect(cfg JetStreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewJetStreamPublisher connects and makes sure the stream exists. origin
// identifies this instance so its own messages can be skipped on the way back.
func NewJetStreamPublisher(cfg JetStreamConfig, origin string) (*Publisher, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := ensureStream(context.Background(), js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	p := newPublisher(js, cfg, origin, clockwork.NewRealClock())
	p.nc = nc
	return p, nil
}

func newPublisher(js msgPublisher, cfg JetStreamConfig, origin string, clock clockwork.Clock) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultJetStreamConfig().QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultJetStreamConfig().PublishTimeout
	}
	return &Publisher{
		js:     js,
		config: cfg,
		origin: origin,
		clock:  clock,
		queue:  make(chan pending, cfg.QueueSize),
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Committed showclock timer changes",
		Subjects:    []string{fmt.Sprintf("%s.>", cfg.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", cfg.StreamName).Msg("JetStream stream ready")
	return nil
}

// Publish enqueues a committed change. It never blocks; when the queue is
// full the message is dropped and remote surfaces recover by drift resync.
func (p *Publisher) Publish(eventID uuid.UUID, messageType models.MessageType, payload any) {
	select {
	case p.queue <- pending{eventID: eventID, messageType: messageType, payload: payload, at: p.clock.Now()}:
	default:
		p.dropped.Add(1)
		log.Warn().
			Str("event_id", eventID.String()).
			Str("type", string(messageType)).
			Msg("relay queue full, dropping message")
	}
}

// Run sends queued messages until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.send(ctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("event_id", msg.eventID.String()).
					Str("type", string(msg.messageType)).
					Msg("failed to relay message")
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg pending) error {
	data, err := json.Marshal(msg.payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	wire := Message{
		ID:        uuid.New(),
		Origin:    p.origin,
		Type:      msg.messageType,
		EventID:   msg.eventID,
		Data:      data,
		Timestamp: msg.at.UTC(),
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: Subject(p.config.SubjectPrefix, msg.eventID, msg.messageType),
		Data:    body,
		Header: nats.Header{
			HeaderOrigin: []string{p.origin},
			HeaderType:   []string{string(msg.messageType)},
		},
	},
		jetstream.WithMsgID(wire.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("event_id", msg.eventID.String()).
		Str("type", string(msg.messageType)).
		Uint64("sequence", ack.Sequence).
		Msg("relayed to JetStream")
	return nil
}

// Dropped returns how many messages were dropped on a full queue.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Drain()
	}
	return nil
}
