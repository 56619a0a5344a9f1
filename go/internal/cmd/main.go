package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig(os.Getenv("SHOWCLOCK_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbs, err := setupDatabase(ctx, cfg.Database, cfg.Server.Migrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer dbs.Close()

	clock := clockwork.NewRealClock()
	services, err := setupServices(cfg, dbs, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup services")
	}
	defer services.Close()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", name).Msg("component stopped")
			}
		}()
	}

	run("fanout", func(ctx context.Context) error {
		services.Fanout.Start(ctx)
		return nil
	})
	if err := services.Recorder.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start change log recorder")
	}
	if services.Publisher != nil {
		run("relay-publisher", func(ctx context.Context) error {
			services.Publisher.Run(ctx)
			return nil
		})
		run("relay-consumer", services.Consumer.Start)
	}
	if services.Listener != nil {
		run("notify-listener", services.Listener.Start)
	}
	if services.OSC != nil {
		run("osc", func(ctx context.Context) error {
			return services.OSC.ListenAndServe(ctx, cfg.Bridge.OSCAddr)
		})
	}

	server := setupServer(cfg, services)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("osc_addr", cfg.Bridge.OSCAddr).
			Msg("showclock server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Closing the fanout ends open streams, which Shutdown would otherwise
	// wait on. The recorder is stopped last so in-flight commands are logged.
	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	wg.Wait()

	if err := services.Recorder.Stop(); err != nil {
		log.Error().Err(err).Msg("change log recorder stopped with pending entries")
	}

	log.Info().Msg("showclock shutdown complete")
}
