package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/showclock/go/internal/display"
	"github.com/mcdev12/showclock/go/internal/drift"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Logs go to stderr so the countdown line on stdout stays clean.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	driftCfg, err := loadDriftConfig(os.Getenv("SHOWCLOCK_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	baseURL := flag.String("server", getEnv("SHOWCLOCK_URL", "http://localhost:8080"), "showclock server base URL")
	event := flag.String("event", os.Getenv("SHOWCLOCK_EVENT_ID"), "event id to follow")
	refresh := flag.Duration("refresh", 200*time.Millisecond, "render interval")
	flag.DurationVar(&driftCfg.CheckInterval, "drift-check", driftCfg.CheckInterval, "drift check interval")
	flag.DurationVar(&driftCfg.MaxDrift, "max-drift", driftCfg.MaxDrift, "drift threshold before resync")
	flag.Parse()

	eventID, err := uuid.Parse(*event)
	if err != nil {
		log.Fatal().Err(err).Str("event", *event).Msg("a valid -event is required")
	}

	clock := clockwork.NewRealClock()
	surface := display.NewSurface(display.Config{
		BaseURL: *baseURL,
		EventID: eventID,
		Drift:   driftCfg,
	}, &http.Client{Timeout: 10 * time.Second}, clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := surface.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("display stopped")
		}
	}()

	ticker := clock.NewTicker(*refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.Chan():
			fmt.Printf("\r\033[K%s", surface.View())
		}
	}
}

// loadDriftConfig reads the drift section of the shared YAML config.
func loadDriftConfig(path string) (drift.Config, error) {
	file := struct {
		Drift drift.Config `yaml:"drift"`
	}{Drift: drift.DefaultConfig()}

	if path == "" {
		return file.Drift, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return file.Drift, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file.Drift, fmt.Errorf("failed to parse config: %w", err)
	}
	return file.Drift, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
