package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/bridge"
	"github.com/mcdev12/showclock/go/internal/changelog"
	"github.com/mcdev12/showclock/go/internal/gateway"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/mcdev12/showclock/go/internal/relay"
	"github.com/mcdev12/showclock/go/internal/schedule"
	"github.com/mcdev12/showclock/go/internal/timer"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Timers    *timer.App
	Control   *timer.Service
	Recorder  *changelog.Recorder
	ChangeLog *changelog.Handler
	Fanout    *gateway.ConnectionManager
	OSC       *bridge.OSCRouter

	// Optional relays, nil when disabled.
	Publisher *relay.Publisher
	Consumer  *relay.Consumer
	Listener  *relay.PGListener
}

func setupServices(cfg *Config, dbs *Databases, clock clockwork.Clock) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer

	scheduleRepo := schedule.NewRepository(dbs.SQL)
	timerRepo := timer.NewRepository(dbs.Pool)
	changeRepo := changelog.NewRepository(dbs.SQL)

	recorder := changelog.NewRecorder(changeRepo, cfg.Recorder, clock)

	// The fanout asks the app for catch-up snapshots; the app publishes to
	// the fanout. app is assigned before anything can join.
	var app *timer.App
	fanout := gateway.NewConnectionManager(cfg.Fanout, gateway.SnapshotFunc(
		func(ctx context.Context, eventID uuid.UUID) (*models.TimerSnapshot, error) {
			return app.Snapshot(ctx, eventID)
		},
	), clock)

	services := &Services{
		Recorder:  recorder,
		ChangeLog: changelog.NewHandler(changeRepo),
		Fanout:    fanout,
	}

	broadcasters := timer.Broadcasters{fanout}
	if cfg.Relay.JetStream {
		publisher, err := relay.NewJetStreamPublisher(cfg.Relay.NATS, cfg.Relay.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay publisher: %w", err)
		}
		consumer, err := relay.NewJetStreamConsumer(cfg.Relay.NATS, cfg.Relay.InstanceID, fanout)
		if err != nil {
			publisher.Close()
			return nil, fmt.Errorf("failed to create relay consumer: %w", err)
		}
		services.Publisher = publisher
		services.Consumer = consumer
		broadcasters = append(broadcasters, publisher)
	}

	app = timer.NewApp(timerRepo, scheduleRepo, recorder, broadcasters, clock).WithLocker(timerRepo)
	services.Timers = app
	services.Control = timer.NewService(app, scheduleRepo, clock, cfg.Server.RequestTimeout)

	if cfg.Relay.Notify {
		// Schedule edits reach this instance by NOTIFY; peers get the same
		// notification, so these are not forwarded over JetStream.
		listener, err := relay.NewPGListener(cfg.Relay.Listener, fanout, scheduleRepo, clock)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to create notify listener: %w", err)
		}
		services.Listener = listener
	}

	if cfg.Bridge.OSCAddr != "" {
		executor := bridge.NewExecutor(app, scheduleRepo, bridge.OSCActor)
		if cfg.Bridge.EventID != "" {
			executor.Select(uuid.MustParse(cfg.Bridge.EventID), cfg.Bridge.Day)
		}
		services.OSC = bridge.NewOSCRouter(executor, cfg.Bridge.CommandTimeout)
	}

	log.Info().
		Bool("jetstream", services.Publisher != nil).
		Bool("notify", services.Listener != nil).
		Bool("osc", services.OSC != nil).
		Str("instance_id", cfg.Relay.InstanceID).
		Msg("services ready")
	return services, nil
}

// Close releases relay connections. Background loops stop with their context.
func (s *Services) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Consumer != nil {
		s.Consumer.Close()
	}
}
